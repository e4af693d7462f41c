package service

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrLanesClosed = errors.New("lanes are shut down")

// Lanes runs jobs of one chat strictly in arrival order while different
// chats proceed concurrently, bounded by a shared semaphore. A lane's
// goroutine exits after it has been idle for Idle.
type Lanes struct {
	Idle time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	sem    chan struct{}

	mu    sync.Mutex
	lanes map[int64]*lane
	wg    sync.WaitGroup
}

type lane struct {
	jobs    chan job
	pending int
}

type job struct {
	ctx  context.Context
	fn   func(context.Context)
	done chan struct{}
}

func NewLanes(concurrency int, idle time.Duration) *Lanes {
	if concurrency <= 0 {
		concurrency = 16
	}
	if idle <= 0 {
		idle = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Lanes{
		Idle:   idle,
		ctx:    ctx,
		cancel: cancel,
		sem:    make(chan struct{}, concurrency),
		lanes:  make(map[int64]*lane),
	}
}

// Do queues fn on the chat's lane and waits until it ran. If ctx ends
// first Do returns ctx.Err(); fn still runs in order, with ctx.
func (l *Lanes) Do(ctx context.Context, chatID int64, fn func(context.Context)) error {
	if l.ctx.Err() != nil {
		return ErrLanesClosed
	}
	j := job{ctx: ctx, fn: fn, done: make(chan struct{})}

	l.mu.Lock()
	ln, found := l.lanes[chatID]
	if !found {
		ln = &lane{jobs: make(chan job, 32)}
		l.lanes[chatID] = ln
		l.wg.Add(1)
		go l.run(chatID, ln)
	}
	ln.pending++
	l.mu.Unlock()

	select {
	case ln.jobs <- j:
	case <-ctx.Done():
		l.mu.Lock()
		ln.pending--
		l.mu.Unlock()
		return ctx.Err()
	case <-l.ctx.Done():
		return ErrLanesClosed
	}

	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.ctx.Done():
		return ErrLanesClosed
	}
}

func (l *Lanes) run(chatID int64, ln *lane) {
	defer l.wg.Done()
	timer := time.NewTimer(l.Idle)
	defer timer.Stop()
	for {
		select {
		case <-l.ctx.Done():
			return
		case j := <-ln.jobs:
			l.mu.Lock()
			ln.pending--
			l.mu.Unlock()
			l.exec(j)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(l.Idle)
		case <-timer.C:
			l.mu.Lock()
			if ln.pending == 0 {
				delete(l.lanes, chatID)
				l.mu.Unlock()
				return
			}
			l.mu.Unlock()
			timer.Reset(l.Idle)
		}
	}
}

func (l *Lanes) exec(j job) {
	defer close(j.done)
	select {
	case l.sem <- struct{}{}:
	case <-l.ctx.Done():
		return
	}
	defer func() { <-l.sem }()
	j.fn(j.ctx)
}

// Active returns the number of chats that currently have a lane.
func (l *Lanes) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lanes)
}

// Close stops accepting work and waits for running jobs to finish.
func (l *Lanes) Close() {
	l.cancel()
	l.wg.Wait()
}

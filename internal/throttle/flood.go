package throttle

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type visitor struct {
	limiter    *rate.Limiter
	lastSeen   time.Time
	mutedUntil time.Time
}

// FloodGuard gives every chat a token bucket. A chat that empties its
// bucket is muted for the configured period.
type FloodGuard struct {
	rps   rate.Limit
	burst int
	mute  time.Duration
	ttl   time.Duration
	now   func() time.Time

	mu       sync.Mutex
	visitors map[int64]*visitor
	cleanupN uint64
}

func NewFloodGuard(rps float64, burst int, mute time.Duration) *FloodGuard {
	if burst <= 0 {
		burst = 1
	}
	return &FloodGuard{
		rps:      rate.Limit(rps),
		burst:    burst,
		mute:     mute,
		ttl:      time.Hour,
		now:      time.Now,
		visitors: make(map[int64]*visitor),
	}
}

// Allow reports whether a message from chatID should be processed.
func (g *FloodGuard) Allow(chatID int64) bool {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	g.cleanupN++
	if g.cleanupN >= 5000 {
		for k, v := range g.visitors {
			if now.Sub(v.lastSeen) >= g.ttl && now.After(v.mutedUntil) {
				delete(g.visitors, k)
			}
		}
		g.cleanupN = 0
	}

	v, ok := g.visitors[chatID]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(g.rps, g.burst)}
		g.visitors[chatID] = v
	}
	v.lastSeen = now
	if now.Before(v.mutedUntil) {
		return false
	}
	if v.limiter.AllowN(now, 1) {
		return true
	}
	v.mutedUntil = now.Add(g.mute)
	return false
}

// Muted reports whether chatID is currently muted.
func (g *FloodGuard) Muted(chatID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.visitors[chatID]
	return ok && g.now().Before(v.mutedUntil)
}

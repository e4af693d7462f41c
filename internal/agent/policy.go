package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/servicedesk_bot/backend/internal/ai"
	"github.com/servicedesk_bot/backend/internal/metrics"
	"github.com/servicedesk_bot/backend/internal/retry"
)

// ErrModelUnavailable means every allowed model attempt failed.
var ErrModelUnavailable = errors.New("language model unavailable")

// InvokePolicy decides how one model invocation is retried:
//
//   - a rate-limit error skips straight to the fallback provider
//   - any other error retries the primary once after Backoff, with the
//     error text appended to the instructions
//   - the fallback is tried once, also with the error text appended
//
// With no fallback configured a rate-limited primary is retried once
// after its Retry-After delay, capped at MaxWait.
type InvokePolicy struct {
	Primary  ai.Client
	Fallback ai.Client
	Backoff  time.Duration
	MaxWait  time.Duration
	Timeout  time.Duration
	Logger   zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func (p *InvokePolicy) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	return retry.Wait(ctx, d)
}

func (p *InvokePolicy) call(ctx context.Context, c ai.Client, req ai.Request, attempt string) (ai.Response, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	start := time.Now()
	resp, err := c.Complete(ctx, req)
	d := time.Since(start)
	metrics.ObserveModel(c.Name(), d, err, ai.IsRateLimit(err))
	if err != nil {
		p.Logger.Warn().Err(err).Str("provider", c.Name()).Str("attempt", attempt).Dur("took", d).Msg("model invocation failed")
	}
	return resp, err
}

// Invoke runs req under the policy. Context cancellation is returned as is;
// exhaustion is reported as ErrModelUnavailable.
func (p *InvokePolicy) Invoke(ctx context.Context, req ai.Request) (ai.Response, error) {
	if p.Primary == nil {
		return ai.Response{}, fmt.Errorf("%w: no primary model configured", ErrModelUnavailable)
	}
	resp, err := p.call(ctx, p.Primary, req, "primary")
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return ai.Response{}, ctx.Err()
	}

	lastErr := err
	if !ai.IsRateLimit(err) || p.Fallback == nil {
		delay := p.Backoff
		var rl ai.RateLimitError
		var rlp *ai.RateLimitError
		switch {
		case errors.As(err, &rl):
			delay = p.capWait(rl.RetryAfter)
		case errors.As(err, &rlp):
			delay = p.capWait(rlp.RetryAfter)
		}
		if werr := p.wait(ctx, delay); werr != nil {
			return ai.Response{}, werr
		}
		resp, err = p.call(ctx, p.Primary, withErrorNote(req, lastErr), "retry")
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return ai.Response{}, ctx.Err()
		}
		lastErr = err
	}

	if p.Fallback != nil {
		resp, err = p.call(ctx, p.Fallback, withErrorNote(req, lastErr), "fallback")
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return ai.Response{}, ctx.Err()
		}
		lastErr = err
	}
	return ai.Response{}, fmt.Errorf("%w: %v", ErrModelUnavailable, lastErr)
}

func (p *InvokePolicy) capWait(d time.Duration) time.Duration {
	if d < p.Backoff {
		d = p.Backoff
	}
	if p.MaxWait > 0 && d > p.MaxWait {
		d = p.MaxWait
	}
	return d
}

// withErrorNote returns a copy of req whose instructions mention the
// previous failure.
func withErrorNote(req ai.Request, err error) ai.Request {
	note := "Предыдущая попытка ответа завершилась ошибкой: " + err.Error() + ". Учти это и ответь заново."
	msgs := make([]ai.Message, len(req.Messages))
	copy(msgs, req.Messages)
	if len(msgs) > 0 && msgs[0].Role == ai.RoleSystem {
		msgs[0].Content += "\n\n" + note
	} else {
		msgs = append([]ai.Message{{Role: ai.RoleSystem, Content: note}}, msgs...)
	}
	return ai.Request{Messages: msgs, Tools: req.Tools}
}

package geocode

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Chain tries providers in order and returns the first success.
type Chain struct {
	Providers []Provider
	Timeout   time.Duration
	Logger    zerolog.Logger
}

func NewChain(logger zerolog.Logger, timeout time.Duration, providers ...Provider) *Chain {
	return &Chain{Providers: providers, Timeout: timeout, Logger: logger}
}

// Geocode normalizes the address and resolves it to coordinates.
func (c *Chain) Geocode(ctx context.Context, address string) (Result, error) {
	query := NormalizeAddress(address)
	if query == "" {
		return Result{}, &GeocodeError{Op: "geocode", Query: address, Failures: []ProviderFailure{{Provider: "input", Err: ErrNotFound}}}
	}
	return c.run(ctx, "geocode", query, func(ctx context.Context, p Provider) (Result, error) {
		return p.Geocode(ctx, query)
	})
}

func (c *Chain) Reverse(ctx context.Context, lat, lon float64) (Result, error) {
	query := strconv.FormatFloat(lat, 'f', 6, 64) + "," + strconv.FormatFloat(lon, 'f', 6, 64)
	res, err := c.run(ctx, "reverse", query, func(ctx context.Context, p Provider) (Result, error) {
		return p.Reverse(ctx, lat, lon)
	})
	if err != nil {
		return Result{}, err
	}
	// Keep the customer's exact point rather than the matched object's.
	res.Lat, res.Lon = lat, lon
	return res, nil
}

func (c *Chain) run(ctx context.Context, op, query string, call func(context.Context, Provider) (Result, error)) (Result, error) {
	gerr := &GeocodeError{Op: op, Query: query}
	for _, p := range c.Providers {
		if err := ctx.Err(); err != nil {
			gerr.Failures = append(gerr.Failures, ProviderFailure{Provider: "context", Err: err})
			break
		}
		res, err := c.callWithTimeout(ctx, p, call)
		if err == nil {
			return res, nil
		}
		c.Logger.Warn().Err(err).Str("provider", p.Name()).Str("op", op).Str("query", query).Msg("geocoding provider failed")
		gerr.Failures = append(gerr.Failures, ProviderFailure{Provider: p.Name(), Err: err})
	}
	return Result{}, gerr
}

func (c *Chain) callWithTimeout(ctx context.Context, p Provider, call func(context.Context, Provider) (Result, error)) (Result, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	return call(ctx, p)
}

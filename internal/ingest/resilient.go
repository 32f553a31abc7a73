package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/matteolongo/swing-screener-sub001/internal/models"
)

// Resilient wraps an event provider with a circuit breaker and a token-bucket
// rate limit, so one flaky upstream cannot stall or hammer a run. Used around
// network-backed providers; the multi-gateway treats a tripped breaker as an
// ordinary partial failure.
type Resilient struct {
	inner   NamedGateway
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// ResilientConfig tunes the decorator.
type ResilientConfig struct {
	FailureThreshold uint32        // consecutive failures to trip the breaker
	OpenTimeout      time.Duration // how long the breaker stays open
	RPS              float64       // sustained request rate
	Burst            int
}

// DefaultResilientConfig returns conservative defaults for third-party feeds.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		FailureThreshold: 5,
		OpenTimeout:      2 * time.Minute,
		RPS:              2,
		Burst:            4,
	}
}

// NewResilient wraps inner.
func NewResilient(inner NamedGateway, cfg ResilientConfig) *Resilient {
	settings := gobreaker.Settings{
		Name:    inner.Name(),
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("provider", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("event provider breaker state change")
		},
	}
	return &Resilient{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
	}
}

// Name implements NamedGateway.
func (r *Resilient) Name() string { return r.inner.Name() }

// FetchEvents implements Gateway.
func (r *Resilient) FetchEvents(ctx context.Context, symbols []string, start, end time.Time) ([]models.Event, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	out, err := r.breaker.Execute(func() (interface{}, error) {
		return r.inner.FetchEvents(ctx, symbols, start, end)
	})
	if err != nil {
		return nil, err
	}
	return out.([]models.Event), nil
}

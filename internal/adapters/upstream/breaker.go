package upstream

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/okian/assignml/pkg/logger"
	"github.com/okian/assignml/pkg/metrics"
)

// BreakerSettings configure the breaker in front of a live capability.
type BreakerSettings struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// DefaultBreakerSettings mirrors the configuration defaults.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{FailureThreshold: 5, OpenTimeout: 30 * time.Second}
}

// Breaker decides per call whether the live or the degraded implementation answers.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker[any]
	log  logger.Logger
}

// NewBreaker creates a closed breaker for the capability name.
func NewBreaker(name string, s BreakerSettings) *Breaker {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = DefaultBreakerSettings().FailureThreshold
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = DefaultBreakerSettings().OpenTimeout
	}
	b := &Breaker{name: name, log: logger.Named("upstream").With(logger.String("capability", name))}
	metrics.UpdateBreakerState(name, stateValue(gobreaker.StateClosed))
	b.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= s.FailureThreshold
		},
		// A missing entity is an answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.log.Warn(context.Background(), "circuit breaker state changed",
				logger.String("from", from.String()), logger.String("to", to.String()))
			metrics.UpdateBreakerState(name, stateValue(to))
		},
	})
	return b
}

// Name returns the capability name.
func (b *Breaker) Name() string { return b.name }

// Open reports whether calls currently go straight to the degraded implementation.
func (b *Breaker) Open() bool { return b.cb.State() == gobreaker.StateOpen }

// State returns "closed", "half-open" or "open".
func (b *Breaker) State() string { return b.cb.State().String() }

func stateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// guard runs live through b. When the breaker rejects the call or live fails
// with anything but ErrNotFound, fallback answers and the capability is noted
// as degraded on ctx. A nil live function always degrades.
func guard[V any](ctx context.Context, b *Breaker, live, fallback func(context.Context) (V, error)) (V, error) {
	if live != nil {
		out, err := b.cb.Execute(func() (any, error) {
			return live(ctx)
		})
		if err == nil {
			v, _ := out.(V)
			return v, nil
		}
		if errors.Is(err, ErrNotFound) || ctx.Err() != nil {
			var zero V
			return zero, err
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			b.log.Debug(ctx, "breaker rejected call")
		} else {
			b.log.Warn(ctx, "live call failed, answering degraded", logger.Error(err))
		}
	}
	Note(ctx, b.name)
	metrics.RecordScorerDegraded(b.name)
	return fallback(ctx)
}

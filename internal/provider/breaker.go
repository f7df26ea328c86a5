package provider

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/albapepper/scoracle-relay/internal/metrics"
)

// BreakerSettings configures a provider circuit breaker.
type BreakerSettings struct {
	Name string
	// MinRequests before the failure ratio is considered.
	MinRequests uint32
	// FailureRatio in [0,1] that opens the circuit.
	FailureRatio float64
	// Interval resets counts while closed; Timeout is how long the circuit
	// stays open before probing.
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultBreakerSettings returns defaults tuned for a poll every few minutes:
// a handful of calls per cycle, recovery retried after two cycles.
func DefaultBreakerSettings(name string) BreakerSettings {
	return BreakerSettings{
		Name:         name,
		MinRequests:  5,
		FailureRatio: 0.6,
		Interval:     10 * time.Minute,
		Timeout:      5 * time.Minute,
	}
}

// Breaker guards calls to one provider. An open circuit surfaces as an
// ordinary error so callers need no special handling.
type Breaker struct {
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

// NewBreaker creates a breaker that logs and exports its state transitions.
func NewBreaker(s BreakerSettings, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	metrics.CircuitBreakerState.WithLabelValues(s.Name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= s.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	return &Breaker{cb: cb, name: s.Name}
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.name }

// State returns the current breaker state as a string.
func (b *Breaker) State() string { return b.cb.State().String() }

// Do runs fn through the breaker. A nil breaker calls fn directly.
func Do[T any](b *Breaker, fn func() (T, error)) (T, error) {
	if b == nil {
		return fn()
	}
	out, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%s: %w", b.name, err)
		}
		return zero, err
	}
	typed, ok := out.(T)
	if !ok && out != nil {
		var zero T
		return zero, fmt.Errorf("%s: unexpected result type %T", b.name, out)
	}
	return typed, nil
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

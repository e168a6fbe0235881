// Package resilience wraps calls to backing stores in circuit breakers.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/auth-platform/savecache-service/internal/save"
)

// BreakerConfig configures one circuit breaker.
type BreakerConfig struct {
	MaxRequests      uint32        `mapstructure:"max_requests" validate:"min=1"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout" validate:"min=1ms"`
	MinRequests      uint32        `mapstructure:"min_requests" validate:"min=1"`
	FailureThreshold float64       `mapstructure:"failure_threshold" validate:"gt=0,lte=1"`
}

// DefaultBreakerConfig returns the default breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		MinRequests:      5,
		FailureThreshold: 0.6,
	}
}

// Breaker guards a backing store. Errors that describe the data rather than
// the store (not found, conflicts, invalid input) do not count as failures.
type Breaker struct {
	cb     *gobreaker.CircuitBreaker
	logger *slog.Logger
}

// NewBreaker creates a named breaker.
func NewBreaker(name string, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 1
	}
	b := &Breaker{logger: logger.With(slog.String("breaker", name))}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("circuit breaker state changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
		IsSuccessful: isSuccessful,
	})
	return b
}

// Execute runs fn through the breaker. An open breaker yields an error coded
// save.CodeUnavailable.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.logger.WarnContext(ctx, "call rejected by open circuit")
		return save.WrapError(save.ErrUnavailable, "circuit open", err)
	}
	return err
}

// State returns the breaker state name.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

func isSuccessful(err error) bool {
	if err == nil {
		return true
	}
	switch save.CodeOf(err) {
	case save.CodeNotFound, save.CodeAlreadyExists, save.CodeInvalidArgument, save.CodeForbidden:
		return true
	}
	return errors.Is(err, context.Canceled)
}

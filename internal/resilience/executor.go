// Package resilience wraps provider calls with bounded retries and a circuit
// breaker. Only transient failures are retried; validation and rate-limit
// errors fail fast.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// Config tunes retry and breaker behavior.
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BreakerEnabled bool
	// BreakerFailures is the consecutive-failure count that opens the breaker.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

func (c Config) normalize() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
	return c
}

// Retryable reports whether an error class is worth another attempt.
type Retryable func(err error) bool

// Executor runs operations with retry and an optional circuit breaker.
type Executor struct {
	cfg     Config
	breaker *gobreaker.CircuitBreaker[any]
	logger  *zap.Logger
}

// New creates an Executor. name labels the breaker in logs.
func New(name string, cfg Config, logger *zap.Logger) *Executor {
	cfg = cfg.normalize()
	e := &Executor{cfg: cfg, logger: logger}

	if cfg.BreakerEnabled {
		e.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:    name,
			Timeout: cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.BreakerFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("Circuit breaker state change",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		})
	}

	return e
}

// Execute runs fn with retries; when the breaker is open it fails immediately.
func (e *Executor) Execute(ctx context.Context, op string, fn func(context.Context) error, retryable Retryable) error {
	if e.breaker == nil {
		return e.executeWithRetry(ctx, op, fn, retryable)
	}

	_, err := e.breaker.Execute(func() (any, error) {
		return nil, e.executeWithRetry(ctx, op, fn, retryable)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: circuit open: %w", op, err)
	}
	return err
}

func (e *Executor) executeWithRetry(ctx context.Context, op string, fn func(context.Context) error, retryable Retryable) error {
	backoff := e.cfg.InitialBackoff

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt >= e.cfg.MaxAttempts {
			return err
		}

		e.logger.Warn("Retrying operation",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", e.cfg.MaxAttempts),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > e.cfg.MaxBackoff {
			backoff = e.cfg.MaxBackoff
		}
	}
}

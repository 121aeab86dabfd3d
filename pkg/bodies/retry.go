package bodies

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryConfig configures flush retry behavior
type RetryConfig struct {
	MaxAttempts       int           `json:"max_attempts" yaml:"max_attempts"`
	BaseDelay         time.Duration `json:"base_delay" yaml:"base_delay"`
	MaxDelay          time.Duration `json:"max_delay" yaml:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier" yaml:"backoff_multiplier"`
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BaseDelay:         1 * time.Second,
		MaxDelay:          1 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// RetryPolicy runs a backend operation with exponential backoff.
//
// A RetryPolicy is safe for concurrent use.
type RetryPolicy struct {
	config RetryConfig
	logger logrus.FieldLogger

	// sleep waits for d or until ctx is done.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy creates a new retry policy. Zero fields of config fall back
// to DefaultRetryConfig.
func NewRetryPolicy(config RetryConfig, logger logrus.FieldLogger) *RetryPolicy {
	defaults := DefaultRetryConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = defaults.BaseDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = defaults.MaxDelay
	}
	if config.BackoffMultiplier <= 1.0 {
		config.BackoffMultiplier = defaults.BackoffMultiplier
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &RetryPolicy{
		config: config,
		logger: logger,
		sleep:  sleepContext,
	}
}

// Config returns the effective configuration.
func (p *RetryPolicy) Config() RetryConfig {
	return p.config
}

// NextRetryDelay calculates the delay after the given failed attempt.
func (p *RetryPolicy) NextRetryDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return p.config.BaseDelay
	}

	// delay = base * multiplier^(attempt-1)
	delay := float64(p.config.BaseDelay) * math.Pow(p.config.BackoffMultiplier, float64(attempt-1))
	if delay > float64(p.config.MaxDelay) {
		return p.config.MaxDelay
	}

	return time.Duration(delay)
}

// Do calls fn until it succeeds, the attempts are used up, or ctx is done.
//
// No attempt is started once ctx is done; the context error is returned
// as is. When every attempt fails the result wraps both ErrRetriesExhausted
// and the last error.
func (p *RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%s interrupted after %d attempts: %w", op, attempt-1, lastErr)
			}
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == p.config.MaxAttempts {
			break
		}

		delay := p.NextRetryDelay(attempt)
		p.logger.WithFields(logrus.Fields{
			"operation":    op,
			"attempt":      attempt,
			"max_attempts": p.config.MaxAttempts,
			"retry_in":     delay.String(),
		}).WithError(lastErr).Warn("body flush attempt failed, retrying")

		if err := p.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s interrupted after %d attempts: %w", op, attempt, lastErr)
		}
	}

	return fmt.Errorf("%w: %s failed after %d attempts: %w", ErrRetriesExhausted, op, p.config.MaxAttempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Package retry provides bounded exponential backoff for record synchronization
// and for establishing backend connections.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
)

// Config holds configuration for retry logic
type Config struct {
	MaxRetries    uint64 // retries after the first attempt
	BaseDelay     time.Duration
	MaxDelay      time.Duration // zero disables the cap
	JitterPercent uint64
	Sleeper       Sleeper // nil uses a timer
}

// RecordDefaults returns the per-record sync policy: 4 attempts waiting 1s, 2s and 4s
func RecordDefaults() *Config {
	return &Config{
		MaxRetries: 3,
		BaseDelay:  time.Second,
	}
}

// PostgreSQLDefaults returns sensible defaults for PostgreSQL connections
func PostgreSQLDefaults() *Config {
	return &Config{
		MaxRetries:    10,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		JitterPercent: 10,
	}
}

// EtcdDefaults returns sensible defaults for etcd connections
func EtcdDefaults() *Config {
	return &Config{
		MaxRetries:    15, // etcd can take longer to recover
		BaseDelay:     200 * time.Millisecond,
		MaxDelay:      1 * time.Minute,
		JitterPercent: 15,
	}
}

// CreateBackoff creates a fresh backoff schedule from config
func (c *Config) CreateBackoff() retry.Backoff {
	backoff := retry.NewExponential(c.BaseDelay)
	backoff = retry.WithMaxRetries(c.MaxRetries, backoff)
	if c.MaxDelay > 0 {
		backoff = retry.WithCappedDuration(c.MaxDelay, backoff)
	}
	if c.JitterPercent > 0 {
		backoff = retry.WithJitterPercent(c.JitterPercent, backoff)
	}
	return backoff
}

func (c *Config) sleeper() Sleeper {
	if c.Sleeper != nil {
		return c.Sleeper
	}
	return SleeperFunc(sleepWithContext)
}

// IsRetryable reports whether another attempt may succeed. Errors opt out by
// implementing Retryable() bool; everything else is retried.
func IsRetryable(err error) bool {
	var classified interface{ Retryable() bool }
	if errors.As(err, &classified) {
		return classified.Retryable()
	}
	return true
}

// Do runs operation until it succeeds, fails with a non-retryable error or
// the retries are exhausted. The last error is returned in the latter cases.
func Do(ctx context.Context, config *Config, operationName string, operation func(ctx context.Context) error) error {
	backoff := config.CreateBackoff()
	sleeper := config.sleeper()

	for attempt := 1; ; attempt++ {
		err := operation(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		delay, stop := backoff.Next()
		if stop {
			return fmt.Errorf("failed after %d attempts: %w", attempt, err)
		}
		logrus.WithError(err).WithFields(logrus.Fields{
			"operation": operationName,
			"attempt":   attempt,
			"delay":     delay,
		}).Warn("Operation failed, retrying")
		if err := sleeper.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// WithOperation retries a connection-style operation until it succeeds or the backoff gives up
func WithOperation(ctx context.Context, config *Config, operation func() error, operationName string) error {
	return retry.Do(ctx, config.CreateBackoff(), func(ctx context.Context) error {
		err := operation()
		if err != nil {
			logrus.WithError(err).
				WithField("operation", operationName).
				Warn("Operation failed, retrying...")
			return retry.RetryableError(err)
		}
		return nil
	})
}

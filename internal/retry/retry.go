// Package retry runs an operation again after fixed delays while its error looks
// transient.
package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// DefaultDelays are the waits before the second, third and fourth attempts.
var DefaultDelays = []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

// Permanent marks an error that must not be retried.
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string { return p.Err.Error() }

func (p *Permanent) Unwrap() error { return p.Err }

// Transient marks an error that must be retried.
type Transient struct {
	Err error
}

func (t *Transient) Error() string { return t.Err.Error() }

func (t *Transient) Unwrap() error { return t.Err }

// IsRetryable reports whether err is a transient postgres or network failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var permanent *Permanent
	if errors.As(err, &permanent) {
		return false
	}
	var transient *Transient
	if errors.As(err, &transient) {
		return true
	}

	// Check if the error is a PostgreSQL error
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgerrcode.UniqueViolation || pgErr.Code == pgerrcode.SerializationFailure {
			return true
		}
		if pgerrcode.IsConnectionException(pgErr.Code) {
			return true
		}
		return false
	}

	// Check any network errors
	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "network is unreachable") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "connection reset by peer")
}

// Do calls op, then once more after each delay as long as the error is retryable.
func Do(ctx context.Context, delays []time.Duration, logger *zap.SugaredLogger, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= len(delays); attempt++ {
		if attempt > 0 {
			delay := delays[attempt-1]
			logger.Debugw("retrying", "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w (last error: %w)", ctx.Err(), lastErr)
			case <-time.After(delay):
			}
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", len(delays)+1, lastErr)
}

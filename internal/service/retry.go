package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"atomic-ledger/internal/errors"
)

// RetryPolicy bounds how often an aborted ledger batch is re-validated and
// re-applied before the caller sees a conflict.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     100 * time.Millisecond,
	}
}

// run calls fn until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent. Only errors.ErrAborted is retried.
func (p RetryPolicy) run(ctx context.Context, logger *slog.Logger, op string, fn func() error) error {
	maxAttempts := max(p.MaxAttempts, 1)

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.InitialInterval),
		backoff.WithMaxInterval(p.MaxInterval),
		backoff.WithMaxElapsedTime(0),
	)

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		err := fn()
		if err == nil {
			return nil
		}
		if errors.AsAppError(err).Retryable() {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxAttempts-1)), ctx), func(err error, next time.Duration) {
		logger.Warn("Ledger batch aborted, retrying", "op", op, "attempt", attempts, "backoff", next, "error", err)
	})

	if err == nil {
		return nil
	}

	appErr := errors.AsAppError(err)
	if appErr.Retryable() {
		logger.Error("Retry budget exhausted", "op", op, "attempts", attempts, "error", err)
		return errors.ErrConflict.WithDetails(fmt.Sprintf("gave up after %d attempts: %s", attempts, appErr.Details))
	}
	return appErr
}

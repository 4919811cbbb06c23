package service

import (
	"context"
	"errors"
	"time"

	appErrors "github.com/attendly/attendly-api/pkg/errors"
)

// defaultOpTimeout bounds persistence calls when no timeout is configured.
const defaultOpTimeout = 5 * time.Second

// opContext derives a bounded context for a persistence call.
func opContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// storageError maps persistence failures onto the API taxonomy: deadline and
// cancellation become a retryable UNAVAILABLE, everything else an internal
// error.
func storageError(err error, message string) *appErrors.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, message)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

package sync

import (
	"context"
	"errors"
)

// ErrCancelled is the terminal error of a run stopped by the observer or
// by the caller's context.
var ErrCancelled = errors.New("sync cancelled")

// withRetry executes op, re-attempting up to the policy's retry bound on
// failure. Each failure that will be retried is reported to the observer;
// the observer may set Cancel on the record to stop retrying and cancel
// the run instead. Cancellation observed at any point takes precedence
// over retrying. When attempts are exhausted, the last error is returned.
func (e *Engine) withRetry(ctx context.Context, path string, op func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return ErrCancelled
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return ErrCancelled
		}
		if attempt > e.policy.MaxRetries {
			return err
		}

		rec := &ErrorRecord{Err: err, Attempt: attempt, Path: path}
		e.obs.OnError(rec)
		if rec.Cancel {
			return ErrCancelled
		}
	}
}

package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	obs := &recordingObserver{}
	engine := New(Policy{MaxRetries: 3}, DefaultMethods(), obs)

	calls := 0
	err := engine.withRetry(context.Background(), "x", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	// One record per retried failure, attempt numbers counting up.
	require.Len(t, obs.errors, 2)
	assert.Equal(t, 1, obs.errors[0].Attempt)
	assert.Equal(t, 2, obs.errors[1].Attempt)
	for _, rec := range obs.errors {
		assert.False(t, rec.Final)
	}
}

func TestWithRetry_ExhaustsExactlyMaxRetriesPlusOne(t *testing.T) {
	cases := []struct {
		name       string
		maxRetries int
	}{
		{name: "no retries", maxRetries: 0},
		{name: "three retries", maxRetries: 3},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			obs := &recordingObserver{}
			engine := New(Policy{MaxRetries: tc.maxRetries}, DefaultMethods(), obs)

			boom := errors.New("persistent")
			calls := 0
			err := engine.withRetry(context.Background(), "x", func(ctx context.Context) error {
				calls++
				return boom
			})
			require.ErrorIs(t, err, boom)
			assert.Equal(t, tc.maxRetries+1, calls)
			assert.Len(t, obs.errors, tc.maxRetries)
		})
	}
}

func TestWithRetry_ObserverCancelStopsRetrying(t *testing.T) {
	obs := &recordingObserver{}
	obs.onError = func(rec *ErrorRecord) {
		rec.Cancel = true
	}
	engine := New(Policy{MaxRetries: 5}, DefaultMethods(), obs)

	calls := 0
	err := engine.withRetry(context.Background(), "x", func(ctx context.Context) error {
		calls++
		return errors.New("fault")
	})
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_ContextCancelNotRetried(t *testing.T) {
	obs := &recordingObserver{}
	engine := New(Policy{MaxRetries: 5}, DefaultMethods(), obs)

	calls := 0
	err := engine.withRetry(context.Background(), "x", func(ctx context.Context) error {
		calls++
		return context.Canceled
	})
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, 1, calls)
	assert.Empty(t, obs.errors)
}

func TestWithRetry_CancelledContextShortCircuits(t *testing.T) {
	engine := New(Policy{MaxRetries: 5}, DefaultMethods(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := engine.withRetry(ctx, "x", func(ctx context.Context) error {
		calls++
		return nil
	})
	require.ErrorIs(t, err, ErrCancelled)
	assert.Zero(t, calls)
}

func TestEscalate_FinalRecordAndContinue(t *testing.T) {
	obs := &recordingObserver{}
	obs.onError = func(rec *ErrorRecord) {
		if rec.Final {
			rec.Continue = true
		}
	}
	engine := New(Policy{MaxRetries: 2}, DefaultMethods(), obs)

	boom := errors.New("permanent")
	err := engine.escalate(boom, "some/path")
	require.ErrorIs(t, err, errSkipItem)

	require.Len(t, obs.errors, 1)
	rec := obs.errors[0]
	assert.True(t, rec.Final)
	assert.Equal(t, 3, rec.Attempt)
	assert.Equal(t, "some/path", rec.Path)
}

func TestEscalate_NilPassesThrough(t *testing.T) {
	obs := &recordingObserver{}
	engine := New(Policy{MaxRetries: 2}, DefaultMethods(), obs)
	require.NoError(t, engine.escalate(nil, "x"))
	assert.Empty(t, obs.errors)
}

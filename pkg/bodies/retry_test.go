package bodies

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPolicy(config RetryConfig) (*RetryPolicy, *test.Hook, *[]time.Duration) {
	logger, hook := test.NewNullLogger()
	policy := NewRetryPolicy(config, logger)

	delays := &[]time.Duration{}
	policy.sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
	return policy, hook, delays
}

func TestNewRetryPolicy_Defaults(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{}, nil)
	assert.Equal(t, DefaultRetryConfig(), policy.Config())
}

func TestRetryPolicy_NextRetryDelay(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{BaseDelay: time.Second, MaxDelay: 5 * time.Second}, nil)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, policy.NextRetryDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRetryPolicy_Do(t *testing.T) {
	t.Run("succeeds after two failures", func(t *testing.T) {
		policy, hook, delays := newTestPolicy(RetryConfig{MaxAttempts: 3, BaseDelay: time.Second})

		calls := 0
		err := policy.Do(context.Background(), "upsert", func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("connection reset")
			}
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *delays)

		warnings := 0
		for _, e := range hook.AllEntries() {
			if e.Level == logrus.WarnLevel {
				warnings++
				assert.Equal(t, "upsert", e.Data["operation"])
			}
		}
		assert.Equal(t, 2, warnings)
	})

	t.Run("exhausted", func(t *testing.T) {
		policy, hook, delays := newTestPolicy(RetryConfig{MaxAttempts: 3, BaseDelay: time.Second})
		cause := errors.New("permission denied")

		calls := 0
		err := policy.Do(context.Background(), "upsert", func(context.Context) error {
			calls++
			return cause
		})

		assert.ErrorIs(t, err, ErrRetriesExhausted)
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, 3, calls)
		assert.Len(t, *delays, 2)
		assert.Len(t, hook.AllEntries(), 2, "no warning for the final attempt")
	})

	t.Run("no attempt on canceled context", func(t *testing.T) {
		policy, _, _ := newTestPolicy(RetryConfig{MaxAttempts: 3})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		calls := 0
		err := policy.Do(ctx, "upsert", func(context.Context) error {
			calls++
			return nil
		})

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, calls)
	})

	t.Run("cancel during backoff stops retrying", func(t *testing.T) {
		policy, _, _ := newTestPolicy(RetryConfig{MaxAttempts: 5})
		ctx, cancel := context.WithCancel(context.Background())
		cause := errors.New("timeout")

		calls := 0
		err := policy.Do(ctx, "put object", func(context.Context) error {
			calls++
			cancel()
			return cause
		})

		assert.ErrorIs(t, err, cause)
		assert.NotErrorIs(t, err, ErrRetriesExhausted)
		assert.Equal(t, 1, calls)
	})
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}

package purge

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingPurger struct {
	calls  atomic.Int32
	purged int64
	err    error
	block  chan struct{}
	lastAt atomic.Value
}

func (p *countingPurger) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	p.calls.Add(1)
	p.lastAt.Store(now)
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return p.purged, p.err
}

func TestNewScheduler_InvalidSchedule(t *testing.T) {
	_, err := NewScheduler(&countingPurger{}, "not a schedule", time.Minute, nil)
	assert.ErrorContains(t, err, "failed to schedule purge")
}

func TestRunOnce(t *testing.T) {
	logger, hook := test.NewNullLogger()
	purger := &countingPurger{purged: 7}

	s, err := NewScheduler(purger, "@every 1h", time.Minute, logger)
	require.NoError(t, err)
	fixed := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	purged, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), purged)
	assert.Equal(t, fixed, purger.lastAt.Load())

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "Expired bodies purged", entry.Message)
	assert.Equal(t, int64(7), entry.Data["purged"])
	assert.Equal(t, "body-purge", entry.Data["component"])
}

func TestRunOnce_Error(t *testing.T) {
	purger := &countingPurger{err: errors.New("db down")}
	s, err := NewScheduler(purger, "@every 1h", time.Minute, nil)
	require.NoError(t, err)

	_, err = s.RunOnce(context.Background())
	assert.EqualError(t, err, "db down")
}

func TestRunOnce_Timeout(t *testing.T) {
	purger := &countingPurger{block: make(chan struct{})}
	s, err := NewScheduler(purger, "@every 1h", 20*time.Millisecond, nil)
	require.NoError(t, err)

	_, err = s.RunOnce(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScheduler_RunsOnSchedule(t *testing.T) {
	logger, hook := test.NewNullLogger()
	purger := &countingPurger{err: errors.New("db down")}

	s, err := NewScheduler(purger, "@every 1s", time.Minute, logger)
	require.NoError(t, err)
	s.Start()

	assert.Eventually(t, func() bool { return purger.calls.Load() >= 1 }, 5*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	var failures int
	for _, entry := range hook.AllEntries() {
		if entry.Message == "Body purge failed" {
			assert.Equal(t, logrus.ErrorLevel, entry.Level)
			failures++
		}
	}
	assert.GreaterOrEqual(t, failures, 1)
}

func TestScheduler_StopDeadline(t *testing.T) {
	purger := &countingPurger{block: make(chan struct{})}
	defer close(purger.block)

	s, err := NewScheduler(purger, "@every 1s", time.Minute, nil)
	require.NoError(t, err)
	s.Start()
	require.Eventually(t, func() bool { return purger.calls.Load() == 1 }, 5*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Stop(ctx), context.DeadlineExceeded)
}

func TestFields(t *testing.T) {
	assert.Equal(t, logrus.Fields{"entry": 1, "next": "x"}, fields([]interface{}{"entry", 1, "next", "x", "dangling"}))
}

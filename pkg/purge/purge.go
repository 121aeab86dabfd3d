// Package purge deletes expired bodies on a cron schedule.
package purge

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Purger deletes bodies that expired before now and reports how many.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Scheduler runs a Purger on a cron schedule. Runs never overlap; a run
// that is still going when the next one is due causes that one to be
// skipped.
type Scheduler struct {
	cron    *cron.Cron
	purger  Purger
	logger  logrus.FieldLogger
	timeout time.Duration
	now     func() time.Time
}

// NewScheduler validates schedule and prepares a stopped scheduler. Each
// run is bounded by timeout.
func NewScheduler(purger Purger, schedule string, timeout time.Duration, logger logrus.FieldLogger) (*Scheduler, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	logger = logger.WithField("component", "body-purge")
	clog := cronLogger{logger}

	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(clog),
			cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
		),
		purger:  purger,
		logger:  logger,
		timeout: timeout,
		now:     time.Now,
	}

	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("failed to schedule purge %q: %w", schedule, err)
	}
	logger.WithField("schedule", schedule).Info("Body purge scheduled")
	return s, nil
}

// Start begins running the schedule in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running purge to finish or for
// ctx to be done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("purge still running at shutdown: %w", ctx.Err())
	}
}

// RunOnce purges immediately.
func (s *Scheduler) RunOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	purged, err := s.purger.PurgeExpired(ctx, s.now())
	if err != nil {
		return purged, err
	}

	s.logger.WithFields(logrus.Fields{
		"purged":      purged,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Expired bodies purged")
	return purged, nil
}

func (s *Scheduler) run() {
	if _, err := s.RunOnce(context.Background()); err != nil {
		s.logger.WithError(err).Error("Body purge failed")
	}
}

// cronLogger adapts logrus to cron's logger interface.
type cronLogger struct {
	logger logrus.FieldLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).WithFields(fields(keysAndValues)).Error(msg)
}

func fields(keysAndValues []interface{}) logrus.Fields {
	out := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return out
}

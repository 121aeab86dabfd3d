package bodies

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/bodystore/pkg/observability"
)

// Config holds the tunables of the write pipeline.
type Config struct {
	// BatchSize is the maximum number of bodies flushed together.
	BatchSize int `yaml:"batch_size"`
	// ParallelWriters is the number of concurrent flush goroutines.
	ParallelWriters int `yaml:"parallel_writers"`
	// BatchTimeout bounds how long a partial batch waits for more bodies.
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	// IngressCapacity bounds the number of bodies buffered ahead of the assembler.
	IngressCapacity int `yaml:"ingress_capacity"`
	// BacklogWarnThreshold is the ingress backlog above which writers warn.
	BacklogWarnThreshold int `yaml:"backlog_warn_threshold"`
	// WarnInterval is the minimum spacing between two warnings of one kind.
	WarnInterval time.Duration `yaml:"warn_interval"`
}

// DefaultConfig returns the default pipeline configuration
func DefaultConfig() Config {
	return Config{
		BatchSize:            100,
		ParallelWriters:      4,
		BatchTimeout:         500 * time.Millisecond,
		IngressCapacity:      10000,
		BacklogWarnThreshold: 5000,
		WarnInterval:         10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.ParallelWriters <= 0 {
		c.ParallelWriters = d.ParallelWriters
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = d.BatchTimeout
	}
	if c.IngressCapacity <= 0 {
		c.IngressCapacity = d.IngressCapacity
	}
	if c.BacklogWarnThreshold <= 0 {
		c.BacklogWarnThreshold = d.BacklogWarnThreshold
	}
	if c.WarnInterval <= 0 {
		c.WarnInterval = d.WarnInterval
	}
	return c
}

// State is the lifecycle phase of an Engine.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Stats is a point-in-time snapshot of an Engine.
type Stats struct {
	State          State `json:"state"`
	ItemsWritten   int64 `json:"items_written"`
	Backlog        int   `json:"backlog"`
	PendingBatches int   `json:"pending_batches"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The engine adds its own component field.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics records pipeline metrics labelled with the backend name.
func WithMetrics(metrics *observability.Metrics, backend string) Option {
	return func(e *Engine) {
		e.metrics = metrics
		if backend != "" {
			e.backend = backend
		}
	}
}

// Engine batches body writes and flushes them to a Flusher from a bounded
// pool of writer goroutines.
//
// Bodies flow producer -> ingress -> assembler -> batches -> writers -> Flusher.
// Both queues are bounded: a full ingress queue blocks Write, a full batch
// queue blocks the assembler.
type Engine struct {
	flusher Flusher
	config  Config
	logger  logrus.FieldLogger
	metrics *observability.Metrics
	backend string

	ingress chan *WriteItem
	batches chan []*WriteItem

	// admit fences Write against the final drain. Writers hold the read
	// lock while sending; requestStop takes the write lock to flip stopping.
	admit         sync.RWMutex
	stopping      bool
	stopRequested chan struct{}
	stopOnce      sync.Once

	acceptCtx    context.Context
	acceptCancel context.CancelFunc
	flushCtx     context.Context
	flushCancel  context.CancelFunc

	lifecycle sync.Mutex
	started   bool
	done      chan struct{}
	doneOnce  sync.Once

	state   atomic.Int32
	written atomic.Int64

	pressureWarn *warnThrottle
	backlogWarn  *warnThrottle
}

// NewEngine creates an Engine flushing to flusher. Zero fields of config
// fall back to DefaultConfig. The engine accepts writes immediately but does
// not flush until Start.
func NewEngine(flusher Flusher, config Config, opts ...Option) (*Engine, error) {
	if flusher == nil {
		return nil, fmt.Errorf("bodies: flusher is required")
	}
	config = config.withDefaults()

	e := &Engine{
		flusher:       flusher,
		config:        config,
		logger:        logrus.StandardLogger(),
		backend:       "unknown",
		ingress:       make(chan *WriteItem, config.IngressCapacity),
		batches:       make(chan []*WriteItem, config.ParallelWriters),
		stopRequested: make(chan struct{}),
		done:          make(chan struct{}),
		pressureWarn:  newWarnThrottle(config.WarnInterval),
		backlogWarn:   newWarnThrottle(config.WarnInterval),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithField("component", "body-writer")
	e.acceptCtx, e.acceptCancel = context.WithCancel(context.Background())
	e.state.Store(int32(StateStarting))

	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Start launches the assembler and the writer pool. Canceling ctx has the
// same effect as calling Stop without a deadline; values carried by ctx are
// inherited by flushes but its cancellation is not.
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if e.started {
		return ErrAlreadyStarted
	}
	if e.isStopRequested() {
		return ErrEngineStopped
	}
	e.started = true

	e.flushCtx, e.flushCancel = context.WithCancel(context.WithoutCancel(ctx))
	e.advance(StateRunning)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.assemble()
	}()
	for i := 0; i < e.config.ParallelWriters; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			e.work(id)
		}(i)
	}

	go func() {
		wg.Wait()
		e.flushCancel()
		e.finish()
	}()

	go func() {
		select {
		case <-ctx.Done():
			e.requestStop()
		case <-e.stopRequested:
		}
	}()

	e.logger.WithFields(logrus.Fields{
		"batch_size":       e.config.BatchSize,
		"parallel_writers": e.config.ParallelWriters,
		"ingress_capacity": e.config.IngressCapacity,
		"backend":          e.backend,
	}).Info("body writer started")

	return nil
}

// Write enqueues a body for persistence.
//
// It returns as soon as the body is admitted to the ingress queue. When the
// queue is full Write blocks until space frees up, ctx is done, or the
// engine is stopped. A nil error does not mean the body was persisted.
func (e *Engine) Write(ctx context.Context, id, contentType string, body []byte, expiresAt time.Time) error {
	item, err := NewWriteItem(id, contentType, body, expiresAt)
	if err != nil {
		return err
	}

	e.admit.RLock()
	defer e.admit.RUnlock()

	if e.stopping {
		return ErrEngineStopped
	}

	select {
	case e.ingress <- item:
		return nil
	default:
	}

	e.metrics.WriteBlocked()
	if e.pressureWarn.Allow() {
		e.logger.WithFields(logrus.Fields{
			"backlog":  len(e.ingress),
			"capacity": cap(e.ingress),
		}).Warn("body ingress queue is full, writes are blocking")
	}

	select {
	case e.ingress <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopRequested:
		return ErrEngineStopped
	}
}

// Stop stops accepting writes, flushes everything already admitted and
// waits for the writers to finish.
//
// If ctx expires first, in-flight flushes are canceled and ctx's error is
// returned; bodies not yet flushed are then lost.
func (e *Engine) Stop(ctx context.Context) error {
	e.lifecycle.Lock()
	if !e.started {
		e.requestStop()
		if n := len(e.ingress); n > 0 {
			e.logger.WithField("discarded", n).Warn("body writer stopped before start, buffered bodies discarded")
		}
		e.finish()
		e.lifecycle.Unlock()
		return nil
	}
	e.lifecycle.Unlock()

	e.requestStop()
	e.logger.Info("body writer stopping, draining buffered bodies")

	select {
	case <-e.done:
		e.logger.WithField("items_written", e.written.Load()).Info("body writer stopped")
		return nil
	case <-ctx.Done():
		e.flushCancel()
		e.logger.WithFields(logrus.Fields{
			"backlog":         len(e.ingress),
			"pending_batches": len(e.batches),
		}).Error("body writer stop deadline exceeded, abandoning in-flight flushes")
		return fmt.Errorf("body writer drain: %w", ctx.Err())
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Done is closed once the engine reaches StateStopped.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		State:          e.State(),
		ItemsWritten:   e.written.Load(),
		Backlog:        len(e.ingress),
		PendingBatches: len(e.batches),
	}
}

func (e *Engine) requestStop() {
	e.stopOnce.Do(func() {
		// Unblock writers waiting on a full queue before taking the fence,
		// they hold the read lock.
		close(e.stopRequested)

		e.admit.Lock()
		e.stopping = true
		e.admit.Unlock()

		e.advance(StateStopping)
		e.acceptCancel()
	})
}

func (e *Engine) isStopRequested() bool {
	select {
	case <-e.stopRequested:
		return true
	default:
		return false
	}
}

func (e *Engine) finish() {
	e.doneOnce.Do(func() {
		e.advance(StateStopped)
		close(e.done)
	})
}

// advance moves the state forward to next. Earlier states are never
// revisited.
func (e *Engine) advance(next State) {
	for {
		cur := e.state.Load()
		if cur >= int32(next) {
			return
		}
		if e.state.CompareAndSwap(cur, int32(next)) {
			return
		}
	}
}

// assemble groups ingress bodies into batches. It is the only sender on
// e.batches and closes it on return.
func (e *Engine) assemble() {
	defer close(e.batches)
	defer observability.RecoverPanic(e.logger, "body batch assembler")

	for {
		var first *WriteItem
		select {
		case first = <-e.ingress:
		case <-e.acceptCtx.Done():
			e.drainIngress()
			return
		}

		batch := make([]*WriteItem, 0, e.config.BatchSize)
		batch = e.fill(append(batch, first))
		if len(batch) < e.config.BatchSize {
			batch = e.await(batch)
		}

		e.batches <- batch
		e.metrics.SetBacklog(len(e.ingress))
	}
}

// fill appends buffered bodies without waiting.
func (e *Engine) fill(batch []*WriteItem) []*WriteItem {
	for len(batch) < e.config.BatchSize {
		select {
		case item := <-e.ingress:
			batch = append(batch, item)
		default:
			return batch
		}
	}
	return batch
}

// await waits up to BatchTimeout for the batch to fill. It returns early
// when the batch is full or a stop is requested.
func (e *Engine) await(batch []*WriteItem) []*WriteItem {
	timer := time.NewTimer(e.config.BatchTimeout)
	defer timer.Stop()

	for len(batch) < e.config.BatchSize {
		select {
		case item := <-e.ingress:
			batch = e.fill(append(batch, item))
		case <-timer.C:
			return batch
		case <-e.acceptCtx.Done():
			return batch
		}
	}
	return batch
}

// drainIngress hands every buffered body to the writers in full batches.
// Callers must hold no admission: after acceptCtx is done no Write can add
// to e.ingress.
func (e *Engine) drainIngress() {
	drained := 0
	for {
		batch := e.fill(make([]*WriteItem, 0, e.config.BatchSize))
		if len(batch) == 0 {
			break
		}
		drained += len(batch)
		e.batches <- batch
	}
	e.metrics.SetBacklog(0)
	if drained > 0 {
		e.logger.WithField("drained", drained).Info("body ingress drained")
	}
}

// work runs one writer goroutine.
func (e *Engine) work(id int) {
	logger := e.logger.WithField("writer", id)

	for {
		select {
		case batch, ok := <-e.batches:
			if !ok {
				return
			}
			e.flush(logger, batch)
		case <-e.acceptCtx.Done():
			for batch := range e.batches {
				e.flush(logger, batch)
			}
			return
		}
	}
}

func (e *Engine) flush(logger logrus.FieldLogger, batch []*WriteItem) {
	ctx, span := observability.Tracer().Start(e.flushCtx, "bodies.flush",
		trace.WithAttributes(
			attribute.String("backend", e.backend),
			attribute.Int("batch_size", len(batch)),
		),
	)
	defer span.End()

	start := time.Now()
	err := e.safeFlush(ctx, logger, batch)
	e.metrics.ObserveFlush(e.backend, len(batch), time.Since(start), err)

	backlog := len(e.ingress)
	e.metrics.SetBacklog(backlog)
	e.warnBacklog(logger, backlog)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		entry := logger.WithFields(logrus.Fields{
			"batch_size": len(batch),
			"backlog":    backlog,
		}).WithError(err)
		if e.flushCtx.Err() != nil {
			entry.Error("body batch abandoned, shutdown deadline exceeded")
		} else {
			entry.Error("unrecoverable flush failure, body batch dropped")
		}
		return
	}

	total := e.written.Add(int64(len(batch)))
	logger.WithFields(logrus.Fields{
		"batch_size":    len(batch),
		"backlog":       backlog,
		"items_written": total,
	}).Debug("body batch flushed")
}

// warnBacklog reports a deep ingress queue whether or not the last flush
// succeeded.
func (e *Engine) warnBacklog(logger logrus.FieldLogger, backlog int) {
	if backlog > e.config.BacklogWarnThreshold && e.backlogWarn.Allow() {
		logger.WithFields(logrus.Fields{
			"backlog":   backlog,
			"threshold": e.config.BacklogWarnThreshold,
		}).Warn("body ingress backlog above threshold, storage is falling behind")
	}
}

// safeFlush turns a panicking flusher into an error so that sibling writers
// keep draining.
func (e *Engine) safeFlush(ctx context.Context, logger logrus.FieldLogger, batch []*WriteItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(logrus.Fields{
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("PANIC recovered in body flush")
			err = observability.MustRecover(r)
		}
	}()

	return e.flusher.Flush(ctx, batch)
}

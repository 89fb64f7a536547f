package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"dropwatch/internal/config"
	"dropwatch/internal/logging"
	"dropwatch/internal/snapshot"
	"dropwatch/internal/tracking"
	"dropwatch/internal/watch"
)

// Store is the subset of the status store the engine reads and writes.
type Store interface {
	Settings(ctx context.Context) (tracking.Settings, error)
	GetFile(ctx context.Context, name string) (*tracking.File, error)
	ListFiles(ctx context.Context, statuses ...tracking.Status) ([]tracking.File, error)
	UpsertFile(ctx context.Context, file *tracking.File) error
}

// Remarker produces the failure remark for a file name.
type Remarker interface {
	Remark(name string) string
}

// Options configures an Engine.
type Options struct {
	Store       Store
	Snapshotter *snapshot.Snapshotter
	Remarks     Remarker
	GraceWindow time.Duration
	QueueSize   int
	Logger      *slog.Logger
	Registerer  prometheus.Registerer
}

// Engine applies the status rules to watch events and snapshots.
type Engine struct {
	store   Store
	snap    *snapshot.Snapshotter
	remarks Remarker
	grace   time.Duration
	logger  *slog.Logger
	queue   *queue
	metrics *metrics
	now     func() time.Time
	limitOf func(tracking.Settings) time.Duration
	// retryFire spaces out redelivery of timer firings that met a full queue.
	retryFire time.Duration

	observers []Observer

	latestMu sync.Mutex
	latest   *snapshot.Set

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Worker-owned state.
	settings    tracking.Settings
	timeouts    *timerSet
	graces      *timerSet
	knownImport map[string]struct{}
	knownFailed map[string]struct{}
}

// New builds an engine. Call Start before submitting work.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil || opts.Snapshotter == nil {
		return nil, errors.New("reconcile engine requires a store and a snapshotter")
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	e := &Engine{
		store:       opts.Store,
		snap:        opts.Snapshotter,
		remarks:     opts.Remarks,
		grace:       opts.GraceWindow,
		logger:      logging.NewComponentLogger(opts.Logger, "reconcile"),
		queue:       newQueue(opts.QueueSize),
		now:         time.Now,
		limitOf:     func(s tracking.Settings) time.Duration { return s.ProcessingTimeout.Duration() },
		retryFire:   250 * time.Millisecond,
		timeouts:    newTimerSet(),
		graces:      newTimerSet(),
		knownImport: make(map[string]struct{}),
		knownFailed: make(map[string]struct{}),
	}
	e.metrics = newMetrics(opts.Registerer, e.queue.depth)
	return e, nil
}

// AddObserver registers o for committed transitions. Call before Start.
func (e *Engine) AddObserver(o Observer) {
	if o != nil {
		e.observers = append(e.observers, o)
	}
}

// Start loads settings and existing records, rearms timeouts for records
// still processing, and launches the worker.
func (e *Engine) Start(ctx context.Context) error {
	if e.running.Load() {
		return nil
	}
	settings, err := e.store.Settings(ctx)
	if err != nil {
		return err
	}
	records, err := e.store.ListFiles(ctx, tracking.StatusProcessing, tracking.StatusTimedOut, tracking.StatusFailed)
	if err != nil {
		return err
	}

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	e.settings = settings
	e.running.Store(true)
	for _, rec := range records {
		switch rec.Status {
		case tracking.StatusProcessing:
			e.knownImport[rec.Name] = struct{}{}
			e.ensureTimeout(rec)
		case tracking.StatusTimedOut:
			e.knownImport[rec.Name] = struct{}{}
		case tracking.StatusFailed:
			e.knownFailed[rec.Name] = struct{}{}
		}
	}
	e.metrics.timers.Set(float64(e.timeouts.len()))

	e.wg.Add(1)
	go e.run(workerCtx)

	e.logger.Info("reconciliation engine started",
		logging.Int("rearmed_timers", e.timeouts.len()),
		logging.Duration("grace_window", e.grace),
		logging.String(logging.FieldEventType, "engine_started"),
	)
	return nil
}

// Stop halts the worker and cancels every pending timer. Items still queued
// are discarded; the next resync after a restart recovers them.
func (e *Engine) Stop() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	e.cancel()
	e.wg.Wait()
	e.logger.Info("reconciliation engine stopped", logging.String(logging.FieldEventType, "engine_stopped"))
}

// Submit queues a single watch event.
func (e *Engine) Submit(ev watch.Event) {
	it := item{name: ev.Name, loc: ev.Location}
	switch {
	case ev.Location.Role == config.RoleFailed && ev.Kind == watch.Added:
		it.action = actionFailedAdded
	case ev.Location.Role == config.RoleFailed:
		it.action = actionFailedRemoved
	case ev.Kind == watch.Added:
		it.action = actionImportAdded
	default:
		it.action = actionImportRemoved
	}
	e.enqueue(it)
}

// Resync queues a full snapshot. When a resync is already waiting, the
// waiting one is replaced by set.
func (e *Engine) Resync(set snapshot.Set) {
	e.latestMu.Lock()
	e.latest = &set
	e.latestMu.Unlock()
	e.enqueue(item{action: actionResync})
}

// Flush blocks until every item queued before the call has been processed.
func (e *Engine) Flush(ctx context.Context) error {
	if !e.running.Load() {
		return errors.New("reconcile engine is not running")
	}
	done := make(chan struct{})
	select {
	case e.queue.ch <- item{action: actionBarrier, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueDepth returns the number of items waiting.
func (e *Engine) QueueDepth() int {
	return e.queue.depth()
}

func (e *Engine) enqueue(it item) bool {
	return e.offer(it) == enqueued
}

func (e *Engine) offer(it item) enqueueResult {
	if !e.running.Load() {
		return stopped
	}
	res := e.queue.push(it)
	switch res {
	case duplicate:
		e.metrics.dropped.WithLabelValues("duplicate").Inc()
	case full:
		e.metrics.dropped.WithLabelValues("queue_full").Inc()
		logging.WarnWithContext(e.logger, "reconciliation queue full; dropping event", "queue_full",
			logging.File(it.name),
			logging.String("action", it.action.String()),
			logging.String(logging.FieldErrorHint, "raise monitoring.queue_size if this repeats"),
			logging.String(logging.FieldImpact, "state is corrected by the next resync"),
		)
	}
	return res
}

// fire delivers a timer firing. The timer stays registered until the worker
// takes it, so a firing lost to a full queue would block every later re-arm
// for that name; it is retried until it lands or the engine stops.
func (e *Engine) fire(it item) {
	if e.offer(it) == full {
		time.AfterFunc(e.retryFire, func() { e.fire(it) })
	}
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()
	defer e.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-e.queue.ch:
			e.queue.release(it)
			e.dispatch(ctx, it)
			e.metrics.timers.Set(float64(e.timeouts.len()))
		}
	}
}

func (e *Engine) shutdown() {
	e.timeouts.stopAll()
	e.graces.stopAll()
	e.metrics.timers.Set(0)
	for {
		select {
		case it := <-e.queue.ch:
			if it.done != nil {
				close(it.done)
			}
		default:
			return
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, it item) {
	switch it.action {
	case actionResync:
		if set := e.takeLatest(); set != nil {
			e.applySnapshot(ctx, *set)
		}
	case actionImportAdded:
		e.importAdded(ctx, it.name, it.loc)
	case actionImportRemoved:
		e.importRemoved(it.name)
	case actionFailedAdded:
		e.failedAdded(ctx, it.name, it.loc)
	case actionFailedRemoved:
		delete(e.knownFailed, it.name)
	case actionSettle:
		e.settle(ctx, it.name, it.gen)
	case actionTimeout:
		e.timeout(ctx, it.name, it.gen)
	case actionBarrier:
		close(it.done)
	}
}

func (e *Engine) takeLatest() *snapshot.Set {
	e.latestMu.Lock()
	defer e.latestMu.Unlock()
	set := e.latest
	e.latest = nil
	return set
}

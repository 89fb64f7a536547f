// Package sweeper runs the periodic cleanup rules: the timeout safety net,
// status record retention, and failed-location file retention.
package sweeper

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"dropwatch/internal/logging"
	"dropwatch/internal/reconcile"
	"dropwatch/internal/snapshot"
	"dropwatch/internal/tracking"
)

// Store is the subset of the status store the sweeper uses.
type Store interface {
	Settings(ctx context.Context) (tracking.Settings, error)
	ProcessingOlderThan(ctx context.Context, cutoff time.Time) ([]tracking.File, error)
	MarkTimedOut(ctx context.Context, name string, cutoff time.Time, remark string) (bool, error)
	DeleteFilesOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Result summarizes one sweep.
type Result struct {
	TimedOut       int           `json:"timed_out"`
	RecordsDeleted int64         `json:"records_deleted"`
	FilesDeleted   int           `json:"files_deleted"`
	Errors         int           `json:"errors"`
	Skipped        bool          `json:"skipped"`
	Duration       time.Duration `json:"duration"`
}

type metrics struct {
	runs           *prometheus.CounterVec
	timedOut       prometheus.Counter
	recordsDeleted prometheus.Counter
	filesDeleted   prometheus.Counter
	duration       prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &metrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dropwatch_sweeps_total",
			Help: "Sweeper runs by outcome.",
		}, []string{"outcome"}),
		timedOut: factory.NewCounter(prometheus.CounterOpts{
			Name: "dropwatch_sweep_timed_out_total",
			Help: "Processing records flagged as timed-out by the sweeper.",
		}),
		recordsDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "dropwatch_sweep_records_deleted_total",
			Help: "Status records removed by the retention rule.",
		}),
		filesDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "dropwatch_sweep_files_deleted_total",
			Help: "Files removed from the failed location by the retention rule.",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dropwatch_sweep_duration_seconds",
			Help:    "Sweeper run duration.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
	}
}

// Sweeper applies the cleanup rules on its own interval.
type Sweeper struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics
	observer reconcile.Observer
	now      func() time.Time

	running sync.Mutex

	lastMu sync.Mutex
	last   Result
	lastAt time.Time

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

// New builds a sweeper. observer, when set, receives timed-out transitions.
func New(store Store, interval time.Duration, logger *slog.Logger, reg prometheus.Registerer, observer reconcile.Observer) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logging.NewComponentLogger(logger, "sweeper"),
		metrics:  newMetrics(reg),
		observer: observer,
		now:      time.Now,
	}
}

// Start runs the sweeper in the background until Stop or ctx cancellation.
func (s *Sweeper) Start(ctx context.Context) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(runCtx, s.done)
	s.logger.Info("sweeper started",
		logging.Duration("interval", s.interval),
		logging.String(logging.FieldEventType, "sweeper_started"),
	)
}

// Stop halts the background loop and waits for an in-flight run.
func (s *Sweeper) Stop() {
	s.lifecycle.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.lifecycle.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce applies every enabled rule. A call made while another run is in
// flight returns immediately with Skipped set.
func (s *Sweeper) RunOnce(ctx context.Context) Result {
	if !s.running.TryLock() {
		s.metrics.runs.WithLabelValues("skipped").Inc()
		s.logger.Debug("sweep already running; skipping")
		return Result{Skipped: true}
	}
	defer s.running.Unlock()

	started := s.now()
	var result Result
	defer func() {
		result.Duration = time.Since(started)
		s.metrics.duration.Observe(result.Duration.Seconds())
		s.lastMu.Lock()
		s.last, s.lastAt = result, started.Add(result.Duration)
		s.lastMu.Unlock()
	}()

	settings, err := s.store.Settings(ctx)
	if err != nil {
		s.metrics.runs.WithLabelValues("error").Inc()
		logging.WarnWithContext(s.logger, "sweep skipped; settings unavailable", "sweep_settings_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the state database"),
		)
		result.Errors++
		return result
	}

	s.flagTimedOut(ctx, settings, started, &result)
	s.expireRecords(ctx, settings, started, &result)
	s.expireFailedFiles(settings, started, &result)

	s.metrics.runs.WithLabelValues("ok").Inc()
	if result.TimedOut+result.FilesDeleted+result.Errors > 0 || result.RecordsDeleted > 0 {
		s.logger.Info("sweep finished",
			logging.Int("timed_out", result.TimedOut),
			logging.Int64("records_deleted", result.RecordsDeleted),
			logging.Int("files_deleted", result.FilesDeleted),
			logging.Int("errors", result.Errors),
			logging.String(logging.FieldEventType, "sweep_completed"),
		)
	}
	return result
}

// Last returns the most recent completed run and when it finished.
func (s *Sweeper) Last() (Result, time.Time, bool) {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return s.last, s.lastAt, !s.lastAt.IsZero()
}

// flagTimedOut is the safety net for the per-file timers. The status change
// is conditional in the store, so a timer firing at the same moment cannot
// produce a second transition.
func (s *Sweeper) flagTimedOut(ctx context.Context, settings tracking.Settings, now time.Time, result *Result) {
	limit := settings.ProcessingTimeout.Duration()
	if limit <= 0 {
		return
	}
	cutoff := now.Add(-limit)
	stale, err := s.store.ProcessingOlderThan(ctx, cutoff)
	if err != nil {
		result.Errors++
		s.logger.Warn("list stale processing records failed", logging.Error(err), logging.String(logging.FieldEventType, "sweep_timeout_failed"))
		return
	}
	remark := tracking.TimeoutRemark(settings.ProcessingTimeout)
	for _, rec := range stale {
		if !inAnyImport(settings, rec.Name) {
			// Gone from import; publication is decided by the engine.
			continue
		}
		changed, err := s.store.MarkTimedOut(ctx, rec.Name, cutoff, remark)
		if err != nil {
			result.Errors++
			s.logger.Warn("flag timed-out failed",
				logging.File(rec.Name),
				logging.Error(err),
				logging.String(logging.FieldEventType, "sweep_timeout_failed"),
			)
			continue
		}
		if !changed {
			continue
		}
		result.TimedOut++
		s.metrics.timedOut.Inc()
		s.logger.Info("file status changed",
			logging.File(rec.Name),
			logging.Status(string(tracking.StatusTimedOut)),
			logging.String("from", string(rec.Status)),
			logging.String(logging.FieldEventType, "status_transition"),
		)
		if s.observer != nil {
			s.observer.ObserveTransition(reconcile.Transition{
				Name:    rec.Name,
				From:    rec.Status,
				To:      tracking.StatusTimedOut,
				Source:  rec.Source,
				Remarks: tracking.MergeRemark(rec.Remarks, remark),
				At:      s.now(),
			})
		}
	}
}

func (s *Sweeper) expireRecords(ctx context.Context, settings tracking.Settings, now time.Time, result *Result) {
	retention := settings.StatusRetention.Duration()
	if retention <= 0 {
		return
	}
	deleted, err := s.store.DeleteFilesOlderThan(ctx, now.Add(-retention))
	if err != nil {
		result.Errors++
		s.logger.Warn("expire status records failed", logging.Error(err), logging.String(logging.FieldEventType, "sweep_records_failed"))
		return
	}
	result.RecordsDeleted = deleted
	s.metrics.recordsDeleted.Add(float64(deleted))
}

// expireFailedFiles removes old files from the failed location only.
func (s *Sweeper) expireFailedFiles(settings tracking.Settings, now time.Time, result *Result) {
	retention := settings.FileRetention.Duration()
	if retention <= 0 {
		return
	}
	failed, ok := settings.FailedLocation()
	if !ok {
		return
	}
	entries, err := os.ReadDir(failed.Path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			result.Errors++
			s.logger.Warn("read failed location", logging.String("path", failed.Path), logging.Error(err))
		}
		return
	}
	cutoff := now.Add(-retention)
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(failed.Path, entry.Name())
		if err := os.Remove(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			result.Errors++
			logging.WarnWithContext(s.logger, "failed to remove expired file", "sweep_file_failed",
				logging.File(entry.Name()),
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check failed location permissions"),
				logging.String(logging.FieldImpact, "file is retried on the next sweep"),
			)
			continue
		}
		result.FilesDeleted++
		s.metrics.filesDeleted.Inc()
		s.logger.Info("removed expired failed file",
			logging.File(entry.Name()),
			logging.Duration("age", now.Sub(info.ModTime())),
			logging.String(logging.FieldEventType, "sweep_file_removed"),
		)
	}
}

func inAnyImport(settings tracking.Settings, name string) bool {
	for _, loc := range settings.ImportLocations() {
		if snapshot.Exists(loc.Path, name) {
			return true
		}
	}
	return false
}

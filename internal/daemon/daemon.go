package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"dropwatch/internal/config"
	"dropwatch/internal/fileutil"
	"dropwatch/internal/logging"
	"dropwatch/internal/notifications"
	"dropwatch/internal/preflight"
	"dropwatch/internal/reconcile"
	"dropwatch/internal/snapshot"
	"dropwatch/internal/sweeper"
	"dropwatch/internal/tracking"
	"dropwatch/internal/validation"
	"dropwatch/internal/watch"
)

var (
	// ErrNotInFailed is returned when a retry targets a file that is not in
	// the failed location.
	ErrNotInFailed = errors.New("file is not in the failed location")
	// ErrTargetExists is returned when a retry would overwrite an import file.
	ErrTargetExists = errors.New("a file with that name already exists in the import location")
	// ErrInvalidName is returned for names that are empty or not a plain base name.
	ErrInvalidName = errors.New("invalid file name")
)

// Daemon coordinates the background services and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *tracking.Store
	registry *prometheus.Registry
	logPath  string

	engine   *reconcile.Engine
	monitor  *watch.Monitor
	sweeper  *sweeper.Sweeper
	observer *notifications.Observer
	notifier notifications.Service
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	// moves serializes retry and rename so two requests for one name
	// cannot race on the destination check.
	moves sync.Mutex

	lifecycle sync.Mutex
	running   atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedAt time.Time
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Mode         string
	QueueDepth   int
	StartedAt    time.Time
	DBPath       string
	LockFilePath string
	Counts       map[tracking.Status]int
	Checks       []preflight.Result
	LastSweep    *sweeper.Result
	LastSweepAt  time.Time
}

// New constructs a daemon with initialized dependencies. logPath is the
// current run's log file and may be empty.
func New(cfg *config.Config, store *tracking.Store, logger *slog.Logger, logPath string) (*Daemon, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	remarks, err := validation.New(cfg.Validation)
	if err != nil {
		return nil, fmt.Errorf("filename validation: %w", err)
	}

	snap := snapshot.New(cfg.QuietPeriod(), logger)
	engine, err := reconcile.New(reconcile.Options{
		Store:       store,
		Snapshotter: snap,
		Remarks:     remarks,
		GraceWindow: cfg.GraceWindow(),
		QueueSize:   cfg.Monitoring.QueueSize,
		Logger:      logger,
		Registerer:  registry,
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile engine: %w", err)
	}

	notifier := notifications.NewService(cfg)
	observer := notifications.NewObserver(notifier, cfg.Notifications, logger)
	engine.AddObserver(observer)

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		registry: registry,
		logPath:  logPath,
		engine:   engine,
		monitor:  watch.NewMonitor(cfg, store, snap, engine, logger),
		sweeper:  sweeper.New(store, cfg.CleanupInterval(), logger, registry, observer),
		observer: observer,
		notifier: notifier,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg.Paths.APIBind, cfg.Paths.APIToken, d, logger)
	return d, nil
}

// Start acquires the daemon lock and launches the engine, the event source,
// and the sweeper.
func (d *Daemon) Start(ctx context.Context) error {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another dropwatch daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.engine.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start engine: %w", err)
	}

	if err := d.api.start(runCtx); err != nil {
		d.engine.Stop()
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	d.cancel = cancel
	d.startedAt = time.Now()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.monitor.Run(runCtx); err != nil {
			d.logger.Error("event source stopped", logging.Error(err), logging.String(logging.FieldEventType, "event_source_failed"))
		}
	}()
	d.sweeper.Start(runCtx)

	d.running.Store(true)
	d.logger.Info("dropwatch daemon started",
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Stop halts background processing and releases the daemon lock. A stopped
// daemon cannot be started again.
func (d *Daemon) Stop() {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()
	if !d.running.Load() {
		return
	}

	d.cancel()
	d.api.stop()
	d.wg.Wait()
	d.sweeper.Stop()
	d.engine.Stop()
	d.observer.Close()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("dropwatch daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	d.observer.Close()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// APIAddr returns the address the HTTP API is bound to, or "" when it is
// disabled or not started.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// Registry returns the Prometheus registry the daemon's components report into.
func (d *Daemon) Registry() *prometheus.Registry {
	return d.registry
}

// ListFiles returns records newest first, optionally filtered by status.
func (d *Daemon) ListFiles(ctx context.Context, statuses []tracking.Status) ([]tracking.File, error) {
	return d.store.ListFiles(ctx, statuses...)
}

// GetFile returns the record for name or tracking.ErrNotFound.
func (d *Daemon) GetFile(ctx context.Context, name string) (*tracking.File, error) {
	file, err := d.store.GetFile(ctx, name)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, tracking.ErrNotFound
	}
	return file, nil
}

// Stats returns record counts by status.
func (d *Daemon) Stats(ctx context.Context) (map[tracking.Status]int, error) {
	return d.store.Stats(ctx)
}

// Clear removes every record. Files on disk are untouched and are not
// re-tracked until they next appear.
func (d *Daemon) Clear(ctx context.Context) (int64, error) {
	removed, err := d.store.Clear(ctx)
	if err != nil {
		return 0, err
	}
	d.logger.Info("records cleared",
		logging.Int64("removed", removed),
		logging.String(logging.FieldEventType, "records_cleared"),
	)
	return removed, nil
}

// Settings returns the stored settings.
func (d *Daemon) Settings(ctx context.Context) (tracking.Settings, error) {
	return d.store.Settings(ctx)
}

// Retry moves name from the failed location back into the first import
// location. The engine picks the move up as an ordinary re-import.
func (d *Daemon) Retry(ctx context.Context, name string) (string, error) {
	return d.moveToImport(ctx, name, name)
}

// Rename moves name from the failed location into the first import location
// under newName.
func (d *Daemon) Rename(ctx context.Context, name, newName string) (string, error) {
	target, err := SanitizeName(newName)
	if err != nil {
		return "", err
	}
	return d.moveToImport(ctx, name, target)
}

func (d *Daemon) moveToImport(ctx context.Context, name, target string) (string, error) {
	if clean, err := SanitizeName(name); err != nil || clean != name {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	settings, err := d.store.Settings(ctx)
	if err != nil {
		return "", fmt.Errorf("load settings: %w", err)
	}
	failed, ok := settings.FailedLocation()
	if !ok {
		return "", errors.New("no failed location configured")
	}
	imports := settings.ImportLocations()
	if len(imports) == 0 {
		return "", errors.New("no import location configured")
	}

	d.moves.Lock()
	defer d.moves.Unlock()

	src := filepath.Join(failed.Path, name)
	if !snapshot.Exists(failed.Path, name) {
		return "", fmt.Errorf("%w: %s", ErrNotInFailed, name)
	}
	for _, loc := range imports {
		if _, err := os.Lstat(filepath.Join(loc.Path, target)); err == nil {
			return "", fmt.Errorf("%w: %s", ErrTargetExists, target)
		}
	}
	dst := filepath.Join(imports[0].Path, target)
	if err := fileutil.MoveFile(src, dst); err != nil {
		if errors.Is(err, fileutil.ErrExists) {
			return "", fmt.Errorf("%w: %s", ErrTargetExists, target)
		}
		return "", fmt.Errorf("move %s to %s: %w", src, dst, err)
	}

	d.logger.Info("file moved back to import",
		logging.File(name),
		logging.String("target", target),
		logging.Location(imports[0].Label()),
		logging.String(logging.FieldEventType, "file_retried"),
	)
	d.monitor.Trigger()
	return target, nil
}

// SanitizeName trims value and checks that it is a plain file name.
func SanitizeName(value string) (string, error) {
	name := strings.TrimSpace(value)
	switch {
	case name == "", name == ".", name == "..":
		return "", fmt.Errorf("%w: %q", ErrInvalidName, value)
	case strings.ContainsAny(name, `/\`):
		return "", fmt.Errorf("%w: %q must not contain path separators", ErrInvalidName, value)
	case strings.HasPrefix(name, "."):
		return "", fmt.Errorf("%w: %q must not start with a dot", ErrInvalidName, value)
	case strings.IndexFunc(name, unicode.IsControl) >= 0:
		return "", fmt.Errorf("%w: %q contains control characters", ErrInvalidName, value)
	}
	return name, nil
}

// Sweep runs the cleanup rules now.
func (d *Daemon) Sweep(ctx context.Context) sweeper.Result {
	return d.sweeper.RunOnce(ctx)
}

// Resync requests an immediate full snapshot of every location.
func (d *Daemon) Resync() {
	d.monitor.Trigger()
}

// TestNotification sends a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// Checks runs the preflight checks against the stored locations.
func (d *Daemon) Checks(ctx context.Context) []preflight.Result {
	settings, err := d.store.Settings(ctx)
	if err != nil {
		return []preflight.Result{{Name: "Settings", Detail: err.Error()}}
	}
	return preflight.RunAll(ctx, d.cfg, settings)
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Mode:         d.monitor.Mode(),
		QueueDepth:   d.engine.QueueDepth(),
		DBPath:       d.store.Path(),
		LockFilePath: d.lockPath,
		Checks:       d.Checks(ctx),
	}
	if status.Running {
		d.lifecycle.Lock()
		status.StartedAt = d.startedAt
		d.lifecycle.Unlock()
	}
	if counts, err := d.store.Stats(ctx); err == nil {
		status.Counts = counts
	}
	if result, at, ok := d.sweeper.Last(); ok {
		status.LastSweep = &result
		status.LastSweepAt = at
	}
	return status
}

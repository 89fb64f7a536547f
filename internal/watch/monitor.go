package watch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"dropwatch/internal/config"
	"dropwatch/internal/logging"
	"dropwatch/internal/snapshot"
	"dropwatch/internal/tracking"
)

// Monitor runs the event source selected by the monitoring mode.
type Monitor struct {
	mode             string
	pollInterval     time.Duration
	fallbackInterval time.Duration
	reader           SettingsReader
	snap             *snapshot.Snapshotter
	sink             Sink
	logger           *slog.Logger

	mu        sync.Mutex
	poller    *Poller
	effective string
}

// NewMonitor builds a monitor from the monitoring section of cfg.
func NewMonitor(cfg *config.Config, reader SettingsReader, snap *snapshot.Snapshotter, sink Sink, logger *slog.Logger) *Monitor {
	return &Monitor{
		mode:             cfg.Monitoring.Mode,
		pollInterval:     cfg.PollInterval(),
		fallbackInterval: cfg.FallbackInterval(),
		reader:           reader,
		snap:             snap,
		sink:             sink,
		logger:           logging.NewComponentLogger(logger, "monitor"),
	}
}

// Run blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	if m.wantsPush(ctx) {
		notifier, err := NewNotifier(m.snap, m.sink, m.logger)
		if err == nil {
			return m.runPush(ctx, notifier)
		}
		logging.WarnWithContext(m.logger, "push notifications unavailable; falling back to polling", "push_unavailable",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "raise fs.inotify.max_user_instances or set monitoring.mode = \"poll\""),
			logging.String(logging.FieldImpact, "changes are detected every poll interval"),
		)
	}
	return m.runPoll(ctx)
}

// Trigger requests an immediate full resync.
func (m *Monitor) Trigger() {
	m.mu.Lock()
	p := m.poller
	m.mu.Unlock()
	if p != nil {
		p.Trigger()
	}
}

// Mode returns the strategy actually in use, or "" before Run.
func (m *Monitor) Mode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.effective
}

// wantsPush decides push vs poll. Auto mode polls when any location is a
// network share, since remote changes raise no local notifications.
func (m *Monitor) wantsPush(ctx context.Context) bool {
	switch m.mode {
	case config.ModePush:
		return true
	case config.ModeAuto:
		settings, err := m.reader.Settings(ctx)
		if err != nil {
			return false
		}
		for _, loc := range settings.Locations {
			if loc.Type == config.TypeNetwork {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func (m *Monitor) runPush(ctx context.Context, notifier *Notifier) error {
	poller := NewPoller(m.reader, m.snap, m.sink, m.fallbackInterval, m.logger, func(s tracking.Settings) {
		notifier.Watch(s)
	})
	notifier.OnOverflow(poller.Trigger)
	m.setActive(poller, config.ModePush)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = notifier.Run(ctx)
	}()
	err := poller.Run(ctx)
	wg.Wait()
	return err
}

func (m *Monitor) runPoll(ctx context.Context) error {
	poller := NewPoller(m.reader, m.snap, m.sink, m.pollInterval, m.logger, nil)
	m.setActive(poller, config.ModePoll)
	return poller.Run(ctx)
}

func (m *Monitor) setActive(p *Poller, mode string) {
	m.mu.Lock()
	m.poller = p
	m.effective = mode
	m.mu.Unlock()
	m.logger.Info("event source started",
		logging.String("mode", mode),
		logging.String(logging.FieldEventType, "event_source_started"),
	)
}

package watch

import (
	"context"
	"log/slog"
	"time"

	"dropwatch/internal/logging"
	"dropwatch/internal/snapshot"
	"dropwatch/internal/tracking"
)

// Poller captures every location on an interval and submits the capture as a
// resync.
type Poller struct {
	reader     SettingsReader
	snap       *snapshot.Snapshotter
	sink       Sink
	interval   time.Duration
	logger     *slog.Logger
	onSettings func(tracking.Settings)
	trigger    chan struct{}

	last    snapshot.Set
	hasLast bool
}

// NewPoller builds a poller. onSettings, when set, is called with the
// settings read at the start of every pass.
func NewPoller(reader SettingsReader, snap *snapshot.Snapshotter, sink Sink, interval time.Duration, logger *slog.Logger, onSettings func(tracking.Settings)) *Poller {
	return &Poller{
		reader:     reader,
		snap:       snap,
		sink:       sink,
		interval:   interval,
		logger:     logging.NewComponentLogger(logger, "poller"),
		onSettings: onSettings,
		trigger:    make(chan struct{}, 1),
	}
}

// Trigger requests an immediate pass. Requests made while one is already
// pending are merged.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled. The first pass runs immediately.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started",
		logging.Duration("interval", p.interval),
		logging.String(logging.FieldEventType, "poller_started"),
	)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-p.trigger:
		}
		p.Poll(ctx)
	}
}

// Poll runs a single pass and returns the capture that was submitted.
func (p *Poller) Poll(ctx context.Context) (snapshot.Set, bool) {
	settings, err := p.reader.Settings(ctx)
	if err != nil {
		logging.WarnWithContext(p.logger, "read settings failed; skipping poll", "poll_settings_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the state database"),
			logging.String(logging.FieldImpact, "directory changes are picked up on the next pass"),
		)
		return snapshot.Set{}, false
	}
	if p.onSettings != nil {
		p.onSettings(settings)
	}

	set := p.snap.Capture(ctx, settings)
	if ctx.Err() != nil {
		return snapshot.Set{}, false
	}
	if p.hasLast {
		for _, ev := range Diff(p.last, set) {
			p.logger.Debug("poll observed change",
				logging.File(ev.Name),
				logging.Location(ev.Location.Label()),
				logging.String("change", ev.Kind.String()),
			)
		}
	}
	p.last, p.hasLast = set, true
	p.sink.Resync(set)
	return set, true
}

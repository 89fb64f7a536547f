package reconcile

import (
	"context"
	"os"
	"sort"
	"time"

	"dropwatch/internal/logging"
	"dropwatch/internal/snapshot"
	"dropwatch/internal/tracking"
)

// applySnapshot runs every rule against a full capture. Applying the same
// capture twice writes nothing the second time.
func (e *Engine) applySnapshot(ctx context.Context, set snapshot.Set) {
	started := time.Now()
	defer func() { e.metrics.resyncDuration.Observe(time.Since(started).Seconds()) }()

	e.settings = set.Settings
	records, err := e.store.ListFiles(ctx)
	if err != nil {
		e.storeFailed("list", "", err)
		return
	}
	byName := make(map[string]*tracking.File, len(records))
	for i := range records {
		byName[records[i].Name] = &records[i]
	}

	// Timers for records that stopped processing outside the engine, such
	// as a clear or a sweeper timeout.
	for _, name := range e.timeouts.names() {
		if rec := byName[name]; rec == nil || rec.Status != tracking.StatusProcessing {
			e.timeouts.cancel(name)
		}
	}

	// Failed location first: it outranks everything else.
	nextFailed := make(map[string]struct{})
	for _, name := range set.Failed.Names() {
		rec := byName[name]
		_, known := e.knownFailed[name]
		switch {
		case rec != nil && rec.Status == tracking.StatusFailed:
			nextFailed[name] = struct{}{}
		case rec == nil && known:
			// Record expired or was cleared while the file stayed put.
			nextFailed[name] = struct{}{}
		default:
			if e.markFailed(ctx, name, rec, set.Failed.Location) == nil {
				nextFailed[name] = struct{}{}
			}
		}
	}
	if set.Failed.Available {
		e.knownFailed = nextFailed
	} else {
		for name := range nextFailed {
			e.knownFailed[name] = struct{}{}
		}
	}

	nextImport := make(map[string]struct{})
	importsComplete := true
	for _, listing := range set.Imports {
		if !listing.Available {
			importsComplete = false
			continue
		}
		for _, name := range sortedNames(listing.Stable) {
			if set.Failed.Seen(name) {
				continue
			}
			if _, done := nextImport[name]; done {
				continue
			}
			if e.applyImport(ctx, name, listing.Location, byName[name]) {
				nextImport[name] = struct{}{}
			}
		}
		for name := range listing.Pending {
			if _, known := e.knownImport[name]; known {
				nextImport[name] = struct{}{}
			}
		}
	}
	if importsComplete {
		e.knownImport = nextImport
	} else {
		for name := range nextImport {
			e.knownImport[name] = struct{}{}
		}
	}

	for _, rec := range records {
		if rec.Status != tracking.StatusProcessing || set.Failed.Seen(rec.Name) {
			continue
		}
		if set.SeenInImport(rec.Name) {
			e.ensureTimeout(rec)
			continue
		}
		// Absence only counts when every location was readable.
		if set.Complete() {
			e.graces.cancel(rec.Name)
			_ = e.publish(ctx, &rec)
		}
	}
}

// applyImport handles a stable name in an import location and reports
// whether the name is now known to be in import.
func (e *Engine) applyImport(ctx context.Context, name string, loc tracking.Location, rec *tracking.File) bool {
	_, known := e.knownImport[name]
	switch {
	case rec != nil && rec.Status == tracking.StatusProcessing:
		e.knownImport[name] = struct{}{}
		e.ensureTimeout(*rec)
		return true
	case known:
		return true
	default:
		return e.startProcessing(ctx, name, loc, rec) == nil
	}
}

func (e *Engine) importAdded(ctx context.Context, name string, loc tracking.Location) {
	if !e.settings.Tracks(name) {
		return
	}
	switch e.snap.Probe(loc.Path, name) {
	case snapshot.Absent:
		return
	case snapshot.Pending:
		e.later(e.snap.QuietPeriod(), item{action: actionImportAdded, name: name, loc: loc})
		return
	}
	e.graces.cancel(name)

	rec, err := e.store.GetFile(ctx, name)
	if err != nil {
		e.storeFailed("get", name, err)
		return
	}
	if failed, ok := e.settings.FailedLocation(); ok && snapshot.Exists(failed.Path, name) {
		if rec == nil || rec.Status != tracking.StatusFailed {
			_ = e.markFailed(ctx, name, rec, failed)
		}
		return
	}
	e.applyImport(ctx, name, loc, rec)
}

func (e *Engine) importRemoved(name string) {
	if !e.settings.Tracks(name) {
		return
	}
	if !e.inAnyImport(name) {
		delete(e.knownImport, name)
	}
	e.armSettle(name, e.grace)
}

// settle decides a removal once the grace window has passed.
func (e *Engine) settle(ctx context.Context, name string, gen uint64) {
	if !e.graces.take(name, gen) {
		return
	}
	rec, err := e.store.GetFile(ctx, name)
	if err != nil {
		e.storeFailed("get", name, err)
		return
	}
	if rec == nil || rec.Status != tracking.StatusProcessing {
		return
	}
	failed, ok := e.settings.FailedLocation()
	if ok && snapshot.Exists(failed.Path, name) {
		_ = e.markFailed(ctx, name, rec, failed)
		return
	}
	if e.inAnyImport(name) || !e.locationsReachable() {
		return
	}
	_ = e.publish(ctx, rec)
}

func (e *Engine) failedAdded(ctx context.Context, name string, loc tracking.Location) {
	if !e.settings.Tracks(name) || !snapshot.Exists(loc.Path, name) {
		return
	}
	rec, err := e.store.GetFile(ctx, name)
	if err != nil {
		e.storeFailed("get", name, err)
		return
	}
	if rec != nil && rec.Status == tracking.StatusFailed {
		e.knownFailed[name] = struct{}{}
		return
	}
	_ = e.markFailed(ctx, name, rec, loc)
}

// timeout handles a firing of the per-file timer.
func (e *Engine) timeout(ctx context.Context, name string, gen uint64) {
	if !e.timeouts.take(name, gen) {
		return
	}
	rule := e.settings.ProcessingTimeout
	limit := e.limitOf(e.settings)
	if limit <= 0 {
		return
	}
	rec, err := e.store.GetFile(ctx, name)
	if err != nil {
		e.storeFailed("get", name, err)
		return
	}
	if rec == nil || rec.Status != tracking.StatusProcessing {
		return
	}
	if remaining := rec.LastUpdated.Add(limit).Sub(e.now()); remaining > 0 {
		// The rule was raised after this timer was armed.
		e.armTimeout(name, remaining)
		return
	}
	if !e.inAnyImport(name) {
		// Left import just before the timer fired; the removal rules decide.
		e.armSettle(name, 0)
		return
	}
	file := &tracking.File{
		Name:    name,
		Status:  tracking.StatusTimedOut,
		Source:  rec.Source,
		Remarks: tracking.MergeRemark(rec.Remarks, tracking.TimeoutRemark(rule)),
	}
	_ = e.write(ctx, file, rec.Status)
}

func (e *Engine) startProcessing(ctx context.Context, name string, loc tracking.Location, rec *tracking.File) error {
	file := &tracking.File{Name: name, Status: tracking.StatusProcessing, Source: loc.Label()}
	if err := e.write(ctx, file, statusOf(rec)); err != nil {
		return err
	}
	e.knownImport[name] = struct{}{}
	e.graces.cancel(name)
	if limit := e.limitOf(e.settings); limit > 0 {
		e.armTimeout(name, limit)
	} else {
		e.timeouts.cancel(name)
	}
	return nil
}

func (e *Engine) markFailed(ctx context.Context, name string, rec *tracking.File, loc tracking.Location) error {
	remark := ""
	if e.remarks != nil {
		remark = e.remarks.Remark(name)
	}
	var previous string
	if rec != nil {
		previous = rec.Remarks
	}
	file := &tracking.File{
		Name:    name,
		Status:  tracking.StatusFailed,
		Source:  loc.Label(),
		Remarks: tracking.MergeRemark(previous, remark),
	}
	if err := e.write(ctx, file, statusOf(rec)); err != nil {
		return err
	}
	e.timeouts.cancel(name)
	e.graces.cancel(name)
	delete(e.knownImport, name)
	e.knownFailed[name] = struct{}{}
	return nil
}

func (e *Engine) publish(ctx context.Context, rec *tracking.File) error {
	file := &tracking.File{
		Name:    rec.Name,
		Status:  tracking.StatusPublished,
		Source:  rec.Source,
		Remarks: rec.Remarks,
	}
	if err := e.write(ctx, file, rec.Status); err != nil {
		return err
	}
	e.timeouts.cancel(rec.Name)
	delete(e.knownImport, rec.Name)
	return nil
}

// write upserts file and notifies observers. Store failures are logged and
// returned; callers drop the event and leave recovery to the next resync.
func (e *Engine) write(ctx context.Context, file *tracking.File, from tracking.Status) error {
	file.LastUpdated = e.now()
	if err := e.store.UpsertFile(ctx, file); err != nil {
		e.storeFailed("upsert", file.Name, err)
		return err
	}
	e.metrics.transitions.WithLabelValues(string(file.Status)).Inc()
	e.logger.Info("file status changed",
		logging.File(file.Name),
		logging.Status(string(file.Status)),
		logging.String("from", string(from)),
		logging.Location(file.Source),
		logging.String(logging.FieldEventType, "status_transition"),
	)
	t := Transition{
		Name:    file.Name,
		From:    from,
		To:      file.Status,
		Source:  file.Source,
		Remarks: file.Remarks,
		At:      file.LastUpdated,
	}
	for _, o := range e.observers {
		o.ObserveTransition(t)
	}
	return nil
}

func (e *Engine) storeFailed(op, name string, err error) {
	e.metrics.storeErrors.WithLabelValues(op).Inc()
	logging.ErrorWithContext(e.logger, "status store operation failed; event dropped", "store_write_failed",
		logging.File(name),
		logging.String("op", op),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check the state database; the next resync reapplies the change"),
	)
}

// ensureTimeout arms the timer for a processing record that has none, using
// the time left from its last update.
func (e *Engine) ensureTimeout(rec tracking.File) {
	if e.timeouts.has(rec.Name) {
		return
	}
	limit := e.limitOf(e.settings)
	if limit <= 0 {
		return
	}
	e.armTimeout(rec.Name, rec.LastUpdated.Add(limit).Sub(e.now()))
}

func (e *Engine) armTimeout(name string, d time.Duration) {
	e.timeouts.arm(name, d, func(gen uint64) {
		e.fire(item{action: actionTimeout, name: name, gen: gen})
	})
}

func (e *Engine) armSettle(name string, d time.Duration) {
	e.graces.arm(name, d, func(gen uint64) {
		e.fire(item{action: actionSettle, name: name, gen: gen})
	})
}

// later re-queues it after d without registering a timer.
func (e *Engine) later(d time.Duration, it item) {
	time.AfterFunc(d, func() { e.enqueue(it) })
}

func (e *Engine) inAnyImport(name string) bool {
	for _, loc := range e.settings.ImportLocations() {
		if snapshot.Exists(loc.Path, name) {
			return true
		}
	}
	return false
}

// locationsReachable reports whether every watched directory can be read,
// so that an absence means the file is really gone.
func (e *Engine) locationsReachable() bool {
	for _, loc := range e.settings.Locations {
		info, err := os.Stat(loc.Path)
		if err != nil || !info.IsDir() {
			return false
		}
	}
	return true
}

func statusOf(rec *tracking.File) tracking.Status {
	if rec == nil {
		return ""
	}
	return rec.Status
}

func sortedNames(entries map[string]snapshot.Entry) []string {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

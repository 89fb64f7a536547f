package snapshot

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"dropwatch/internal/logging"
	"dropwatch/internal/tracking"
)

const (
	observationCacheSize = 65536
	minObservationTTL    = 10 * time.Minute
)

// Presence is the result of probing a single name in a directory.
type Presence int

const (
	Absent Presence = iota
	Pending
	Stable
)

func (p Presence) String() string {
	switch p {
	case Pending:
		return "pending"
	case Stable:
		return "stable"
	default:
		return "absent"
	}
}

// Entry is one regular file at the top level of a location.
type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Listing is the content of one location at capture time.
type Listing struct {
	Location  tracking.Location
	Stable    map[string]Entry
	Pending   map[string]Entry
	Available bool
	Err       error
}

// Has reports whether name is present and stable.
func (l Listing) Has(name string) bool {
	_, ok := l.Stable[name]
	return ok
}

// Seen reports whether name is present, stable or not.
func (l Listing) Seen(name string) bool {
	if l.Has(name) {
		return true
	}
	_, ok := l.Pending[name]
	return ok
}

// Names returns every present name in sorted order.
func (l Listing) Names() []string {
	names := make([]string, 0, len(l.Stable)+len(l.Pending))
	for name := range l.Stable {
		names = append(names, name)
	}
	for name := range l.Pending {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Set is a capture of every watched location. Imports are listed before the
// failed location, so a file moved from import to failed during the capture
// is seen in at least one of them.
type Set struct {
	Imports  []Listing
	Failed   Listing
	Settings tracking.Settings
	TakenAt  time.Time
}

// Complete reports whether every location was readable.
func (s Set) Complete() bool {
	if !s.Failed.Available {
		return false
	}
	for _, l := range s.Imports {
		if !l.Available {
			return false
		}
	}
	return true
}

// StableImport returns the first import listing holding name as stable.
func (s Set) StableImport(name string) (Listing, bool) {
	for _, l := range s.Imports {
		if l.Has(name) {
			return l, true
		}
	}
	return Listing{}, false
}

// SeenInImport reports whether any import location holds name.
func (s Set) SeenInImport(name string) bool {
	for _, l := range s.Imports {
		if l.Seen(name) {
			return true
		}
	}
	return false
}

// Names returns the union of names across all locations.
func (s Set) Names() []string {
	seen := make(map[string]struct{})
	for _, l := range append(append([]Listing{}, s.Imports...), s.Failed) {
		for _, name := range l.Names() {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type observation struct {
	size      int64
	modTime   time.Time
	firstSeen time.Time
}

// Snapshotter lists locations and tracks file stability between calls.
type Snapshotter struct {
	quiet        time.Duration
	logger       *slog.Logger
	observations *expirable.LRU[string, observation]
	now          func() time.Time

	mu      sync.Mutex
	failing map[string]string
}

// New builds a Snapshotter. A quiet period of zero treats every file as stable.
func New(quiet time.Duration, logger *slog.Logger) *Snapshotter {
	ttl := 10 * quiet
	if ttl < minObservationTTL {
		ttl = minObservationTTL
	}
	return &Snapshotter{
		quiet:        quiet,
		logger:       logging.NewComponentLogger(logger, "snapshot"),
		observations: expirable.NewLRU[string, observation](observationCacheSize, nil, ttl),
		now:          time.Now,
		failing:      make(map[string]string),
	}
}

// QuietPeriod returns the configured stability window.
func (s *Snapshotter) QuietPeriod() time.Duration {
	return s.quiet
}

// Capture lists every import location and then the failed location.
func (s *Snapshotter) Capture(ctx context.Context, settings tracking.Settings) Set {
	set := Set{Settings: settings, TakenAt: s.now()}
	for _, loc := range settings.ImportLocations() {
		if ctx.Err() != nil {
			set.Imports = append(set.Imports, Listing{Location: loc, Err: ctx.Err()})
			continue
		}
		set.Imports = append(set.Imports, s.List(loc, settings.Tracks))
	}
	failed, ok := settings.FailedLocation()
	switch {
	case !ok:
		set.Failed = Listing{Err: errors.New("no failed location configured")}
	case ctx.Err() != nil:
		set.Failed = Listing{Location: failed, Err: ctx.Err()}
	default:
		set.Failed = s.List(failed, settings.Tracks)
	}
	return set
}

// List reads the top level of loc. Subdirectories, dot-files, and names
// rejected by filter are skipped. A nil filter accepts every name.
func (s *Snapshotter) List(loc tracking.Location, filter func(string) bool) Listing {
	listing := Listing{
		Location: loc,
		Stable:   make(map[string]Entry),
		Pending:  make(map[string]Entry),
	}
	entries, err := os.ReadDir(loc.Path)
	if err != nil {
		listing.Err = err
		s.reportFailure(loc, err)
		return listing
	}
	s.reportRecovery(loc)
	listing.Available = true

	now := s.now()
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || strings.HasPrefix(name, ".") {
			continue
		}
		if filter != nil && !filter(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		e := Entry{Name: name, Size: info.Size(), ModTime: info.ModTime()}
		if s.observe(filepath.Join(loc.Path, name), e, now) {
			listing.Stable[name] = e
		} else {
			listing.Pending[name] = e
		}
	}
	return listing
}

// Probe checks a single name in dir and applies the stability rule.
func (s *Snapshotter) Probe(dir, name string) Presence {
	path := filepath.Join(dir, name)
	info, err := os.Lstat(path)
	if err != nil || !info.Mode().IsRegular() {
		return Absent
	}
	if s.observe(path, Entry{Name: name, Size: info.Size(), ModTime: info.ModTime()}, s.now()) {
		return Stable
	}
	return Pending
}

// Exists reports whether dir holds a regular file called name.
func Exists(dir, name string) bool {
	info, err := os.Lstat(filepath.Join(dir, name))
	return err == nil && info.Mode().IsRegular()
}

// observe records e and reports whether it has been stable for the quiet
// period. A file whose mtime is already older than the quiet period counts
// as stable on first sight unless it changed since the previous look.
func (s *Snapshotter) observe(path string, e Entry, now time.Time) bool {
	if s.quiet <= 0 {
		return true
	}
	prev, seen := s.observations.Get(path)
	if seen && prev.size == e.Size && prev.modTime.Equal(e.ModTime) {
		return now.Sub(prev.firstSeen) >= s.quiet || now.Sub(e.ModTime) >= s.quiet
	}
	s.observations.Add(path, observation{size: e.Size, modTime: e.ModTime, firstSeen: now})
	if seen {
		return false
	}
	return now.Sub(e.ModTime) >= s.quiet
}

func (s *Snapshotter) reportFailure(loc tracking.Location, err error) {
	msg := err.Error()
	s.mu.Lock()
	prev, failing := s.failing[loc.Path]
	s.failing[loc.Path] = msg
	s.mu.Unlock()

	attrs := []logging.Attr{
		logging.Location(loc.Label()),
		logging.String("path", loc.Path),
		logging.Error(err),
	}
	if failing && prev == msg {
		s.logger.Debug("location still unavailable", logging.Args(attrs...)...)
		return
	}
	hint := "check that the directory exists and is readable"
	if errors.Is(err, fs.ErrNotExist) {
		hint = "create the directory or mount the share"
	}
	logging.WarnWithContext(s.logger, "location unavailable; treating as empty", "location_unavailable",
		append(attrs,
			logging.String(logging.FieldErrorHint, hint),
			logging.String(logging.FieldImpact, "files in this location are not tracked until it recovers"),
		)...,
	)
}

func (s *Snapshotter) reportRecovery(loc tracking.Location) {
	s.mu.Lock()
	_, failing := s.failing[loc.Path]
	delete(s.failing, loc.Path)
	s.mu.Unlock()
	if failing {
		s.logger.Info("location available again",
			logging.Location(loc.Label()),
			logging.String("path", loc.Path),
			logging.String(logging.FieldEventType, "location_recovered"),
		)
	}
}

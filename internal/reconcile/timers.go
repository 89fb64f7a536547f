package reconcile

import (
	"sort"
	"time"
)

type timerEntry struct {
	timer *time.Timer
	gen   uint64
}

// timerSet maps names to one pending timer each. Only the worker calls its
// methods; the timer callbacks only receive the generation they were armed
// with.
type timerSet struct {
	entries map[string]timerEntry
	gen     uint64
}

func newTimerSet() *timerSet {
	return &timerSet{entries: make(map[string]timerEntry)}
}

// arm replaces any timer for name. fire runs on the timer goroutine.
func (s *timerSet) arm(name string, d time.Duration, fire func(gen uint64)) {
	s.cancel(name)
	if d < 0 {
		d = 0
	}
	s.gen++
	gen := s.gen
	s.entries[name] = timerEntry{
		timer: time.AfterFunc(d, func() { fire(gen) }),
		gen:   gen,
	}
}

func (s *timerSet) cancel(name string) {
	if entry, ok := s.entries[name]; ok {
		entry.timer.Stop()
		delete(s.entries, name)
	}
}

func (s *timerSet) has(name string) bool {
	_, ok := s.entries[name]
	return ok
}

// take unregisters name if gen is its current generation and reports
// whether it did. A false result means the firing is stale.
func (s *timerSet) take(name string, gen uint64) bool {
	entry, ok := s.entries[name]
	if !ok || entry.gen != gen {
		return false
	}
	delete(s.entries, name)
	return true
}

func (s *timerSet) names() []string {
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *timerSet) len() int {
	return len(s.entries)
}

func (s *timerSet) stopAll() {
	for name, entry := range s.entries {
		entry.timer.Stop()
		delete(s.entries, name)
	}
}

package watch

import (
	"context"

	"dropwatch/internal/snapshot"
	"dropwatch/internal/tracking"
)

// Kind is the type of change observed.
type Kind int

const (
	Added Kind = iota
	Removed
)

func (k Kind) String() string {
	if k == Removed {
		return "removed"
	}
	return "added"
}

// Event is one observed change to a top-level entry of a location.
type Event struct {
	Kind     Kind
	Location tracking.Location
	Name     string
}

// Sink consumes events and full snapshots.
type Sink interface {
	Submit(Event)
	Resync(snapshot.Set)
}

// SettingsReader supplies the current locations and filters.
type SettingsReader interface {
	Settings(ctx context.Context) (tracking.Settings, error)
}

// Diff compares two captures of the same locations and returns the events
// that would turn prev into next. Only stable entries count as present.
func Diff(prev, next snapshot.Set) []Event {
	var events []Event
	prevByPath := make(map[string]snapshot.Listing)
	for _, l := range append(append([]snapshot.Listing{}, prev.Imports...), prev.Failed) {
		prevByPath[l.Location.Path] = l
	}
	for _, l := range append(append([]snapshot.Listing{}, next.Imports...), next.Failed) {
		if !l.Available {
			continue
		}
		old, ok := prevByPath[l.Location.Path]
		if !ok || !old.Available {
			continue
		}
		for name := range l.Stable {
			if !old.Has(name) {
				events = append(events, Event{Kind: Added, Location: l.Location, Name: name})
			}
		}
		for name := range old.Stable {
			if !l.Seen(name) {
				events = append(events, Event{Kind: Removed, Location: l.Location, Name: name})
			}
		}
	}
	return events
}

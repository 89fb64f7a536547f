package reconcile

import (
	"time"

	"dropwatch/internal/tracking"
)

// Transition is a committed status change. From is empty for a new record.
type Transition struct {
	Name    string
	From    tracking.Status
	To      tracking.Status
	Source  string
	Remarks string
	At      time.Time
}

// Observer receives committed transitions on the engine worker. It must not
// block.
type Observer interface {
	ObserveTransition(Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Transition)

func (f ObserverFunc) ObserveTransition(t Transition) { f(t) }

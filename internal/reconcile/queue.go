package reconcile

import (
	"sync"

	"dropwatch/internal/tracking"
)

type action int

const (
	actionResync action = iota
	actionImportAdded
	actionImportRemoved
	actionFailedAdded
	actionFailedRemoved
	actionSettle
	actionTimeout
	actionBarrier
)

func (a action) String() string {
	switch a {
	case actionResync:
		return "resync"
	case actionImportAdded:
		return "import_added"
	case actionImportRemoved:
		return "import_removed"
	case actionFailedAdded:
		return "failed_added"
	case actionFailedRemoved:
		return "failed_removed"
	case actionSettle:
		return "settle"
	case actionTimeout:
		return "timeout"
	default:
		return "barrier"
	}
}

type item struct {
	action action
	name   string
	loc    tracking.Location
	gen    uint64
	done   chan struct{}
}

type itemKey struct {
	action action
	name   string
	gen    uint64
}

func (it item) key() itemKey {
	return itemKey{action: it.action, name: it.name, gen: it.gen}
}

// queue is a bounded channel plus the set of keys currently waiting in it.
// An item whose key is already waiting is dropped as a duplicate.
type queue struct {
	ch chan item

	mu      sync.Mutex
	pending map[itemKey]struct{}
}

func newQueue(size int) *queue {
	if size <= 0 {
		size = 1
	}
	return &queue{
		ch:      make(chan item, size),
		pending: make(map[itemKey]struct{}),
	}
}

type enqueueResult int

const (
	enqueued enqueueResult = iota
	duplicate
	full
	stopped
)

func (q *queue) push(it item) enqueueResult {
	key := it.key()
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.pending[key]; ok {
		return duplicate
	}
	select {
	case q.ch <- it:
		q.pending[key] = struct{}{}
		return enqueued
	default:
		return full
	}
}

// release marks it as taken so an identical item can be queued again.
func (q *queue) release(it item) {
	if it.action == actionBarrier {
		return
	}
	q.mu.Lock()
	delete(q.pending, it.key())
	q.mu.Unlock()
}

func (q *queue) depth() int {
	return len(q.ch)
}

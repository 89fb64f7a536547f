package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"dropwatch/internal/config"
	"dropwatch/internal/logging"
	"dropwatch/internal/reconcile"
	"dropwatch/internal/tracking"
)

const observerBacklog = 64

type delivery struct {
	event   Event
	payload Payload
}

// Observer turns transitions into notifications. Deliveries happen on a
// background goroutine; when the backlog is full new ones are dropped.
type Observer struct {
	svc      Service
	failed   bool
	timedOut bool
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	closed bool
	queue  chan delivery
	wg     sync.WaitGroup
}

// NewObserver starts the delivery goroutine. Call Close to drain it.
func NewObserver(svc Service, cfg config.Notifications, logger *slog.Logger) *Observer {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	o := &Observer{
		svc:      svc,
		failed:   cfg.Failed,
		timedOut: cfg.TimedOut,
		timeout:  timeout,
		logger:   logging.NewComponentLogger(logger, "notifications"),
		queue:    make(chan delivery, observerBacklog),
	}
	o.wg.Add(1)
	go o.deliver()
	return o
}

// ObserveTransition implements reconcile.Observer.
func (o *Observer) ObserveTransition(tr reconcile.Transition) {
	var event Event
	switch {
	case tr.To == tracking.StatusFailed && o.failed:
		event = EventFileFailed
	case tr.To == tracking.StatusTimedOut && o.timedOut:
		event = EventFileTimedOut
	default:
		return
	}
	d := delivery{event: event, payload: Payload{
		"file":     tr.Name,
		"location": tr.Source,
		"remarks":  tr.Remarks,
	}}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	select {
	case o.queue <- d:
	default:
		o.logger.Warn("notification backlog full; dropping",
			logging.File(tr.Name),
			logging.String("event", string(event)),
			logging.String(logging.FieldEventType, "notification_dropped"),
		)
	}
}

// Close stops accepting transitions and waits for queued deliveries.
func (o *Observer) Close() {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.queue)
	}
	o.mu.Unlock()
	o.wg.Wait()
}

func (o *Observer) deliver() {
	defer o.wg.Done()
	for d := range o.queue {
		ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
		err := o.svc.Publish(ctx, d.event, d.payload)
		cancel()
		if err != nil {
			logging.WarnWithContext(o.logger, "notification delivery failed", "notification_failed",
				logging.File(payloadString(d.payload, "file")),
				logging.String("event", string(d.event)),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network reachability"),
			)
		}
	}
}

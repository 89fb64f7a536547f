package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dropwatch/internal/config"
)

const (
	userAgent     = "dropwatch/0.1.0"
	defaultServer = "https://ntfy.sh/"
)

// Event identifies a notification kind.
type Event string

const (
	EventFileFailed   Event = "file_failed"
	EventFileTimedOut Event = "file_timed_out"
	EventTest         Event = "test"
)

// Payload carries event fields. Recognized keys are "file", "location",
// and "remarks".
type Payload map[string]any

// Service publishes notifications.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned. A bare
// topic name is published to ntfy.sh.
func NewService(cfg *config.Config) Service {
	topic := TopicURL(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

// TopicURL returns the publish URL for a configured topic, or "" when none
// is set.
func TopicURL(topic string) string {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return ""
	}
	if !strings.Contains(topic, "://") {
		return defaultServer + strings.TrimPrefix(topic, "/")
	}
	return topic
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

func format(event Event, payload Payload) (message, error) {
	file := payloadString(payload, "file")
	location := payloadString(payload, "location")
	remarks := payloadString(payload, "remarks")

	switch event {
	case EventFileFailed:
		body := fmt.Sprintf("❌ Rejected: %s", file)
		if remarks != "" {
			body += "\n" + remarks
		}
		return message{
			title:    "Dropwatch - File Failed",
			body:     body,
			tags:     []string{"dropwatch", "failed"},
			priority: "high",
		}, nil
	case EventFileTimedOut:
		body := fmt.Sprintf("⏳ Stuck in processing: %s", file)
		if location != "" {
			body += fmt.Sprintf(" (%s)", location)
		}
		if remarks != "" {
			body += "\n" + remarks
		}
		return message{
			title: "Dropwatch - Timed Out",
			body:  body,
			tags:  []string{"dropwatch", "timeout"},
		}, nil
	case EventTest:
		return message{
			title:    "Dropwatch - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"dropwatch", "test"},
			priority: "low",
		}, nil
	default:
		return message{}, fmt.Errorf("unknown notification event %q", event)
	}
}

func payloadString(payload Payload, key string) string {
	if payload == nil {
		return ""
	}
	value, ok := payload[key]
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, err := format(event, payload)
	if err != nil {
		return err
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }

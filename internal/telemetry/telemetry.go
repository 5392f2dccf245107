// Package telemetry sends product analytics events for interviews.
package telemetry

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/posthog/posthog-go"
)

// Event names.
const (
	EventTurn      = "interview_turn"
	EventCompleted = "interview_completed"
	EventFailed    = "interview_failed"
	EventClaimed   = "allocation_claimed"
)

// Properties is a type alias for event properties.
type Properties = map[string]any

// Tracker records analytics events. Track must not block.
type Tracker interface {
	Track(distinctID, event string, properties Properties)
	Close() error
}

// enqueuer is the subset of the PostHog client we use.
type enqueuer interface {
	io.Closer
	Enqueue(msg posthog.Message) error
}

// Config configures the PostHog tracker.
type Config struct {
	APIKey   string
	Endpoint string
	Service  string
	Logger   *slog.Logger
}

// PostHogTracker wraps the PostHog SDK.
type PostHogTracker struct {
	client  enqueuer
	service string
	logger  *slog.Logger
	mu      sync.RWMutex
	closed  bool
}

// New returns a PostHog tracker, or a NoopTracker when no API key is set.
func New(cfg Config) (Tracker, error) {
	if cfg.APIKey == "" {
		return NoopTracker{}, nil
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	phConfig := posthog.Config{
		BatchSize: 50,
		Interval:  5 * time.Second,
		Logger:    slogAdapter{cfg.Logger},
	}
	if cfg.Endpoint != "" {
		phConfig.Endpoint = cfg.Endpoint
	}

	client, err := posthog.NewWithConfig(cfg.APIKey, phConfig)
	if err != nil {
		return nil, fmt.Errorf("create posthog client: %w", err)
	}
	return newWithEnqueuer(client, cfg.Service, cfg.Logger), nil
}

func newWithEnqueuer(enq enqueuer, service string, logger *slog.Logger) *PostHogTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostHogTracker{client: enq, service: service, logger: logger}
}

// Track enqueues an event. The PostHog client dispatches in the background.
func (t *PostHogTracker) Track(distinctID, event string, properties Properties) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}

	props := posthog.NewProperties()
	for k, v := range properties {
		props.Set(k, v)
	}
	if t.service != "" {
		props.Set("service", t.service)
	}
	// Anonymous visitors only; no person profiles.
	props.Set("$process_person_profile", false)

	if err := t.client.Enqueue(posthog.Capture{
		DistinctId: distinctID,
		Event:      event,
		Properties: props,
	}); err != nil {
		t.logger.Debug("Telemetry enqueue failed", "event", event, "error", err)
	}
}

// Close flushes pending events.
func (t *PostHogTracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.client.Close()
}

// NoopTracker drops every event.
type NoopTracker struct{}

// Track is a no-op.
func (NoopTracker) Track(string, string, Properties) {}

// Close is a no-op.
func (NoopTracker) Close() error { return nil }

// slogAdapter routes PostHog SDK logs into slog at debug level so transport
// noise stays out of normal output.
type slogAdapter struct{ logger *slog.Logger }

func (a slogAdapter) Debugf(format string, args ...interface{}) {
	a.logger.Debug(fmt.Sprintf(format, args...), "component", "posthog")
}

func (a slogAdapter) Logf(format string, args ...interface{}) {
	a.logger.Debug(fmt.Sprintf(format, args...), "component", "posthog")
}

func (a slogAdapter) Warnf(format string, args ...interface{}) {
	a.logger.Debug(fmt.Sprintf(format, args...), "component", "posthog", "level", "warn")
}

func (a slogAdapter) Errorf(format string, args ...interface{}) {
	a.logger.Warn(fmt.Sprintf(format, args...), "component", "posthog")
}

package telemetry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/groundworkhq/groundwork/pkg/engine"
)

// Event severity levels used on engine events.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// Bus is an in-process event bus that fans engine events out to
// channel subscribers. It implements engine.EventPublisher. Slow
// subscribers never block publishers; events that do not fit in a
// subscriber's buffer are dropped and counted.
type Bus struct {
	config EventsConfig

	mu      sync.RWMutex
	subs    map[string]*subscription
	closed  bool
	dropped atomic.Uint64
}

type subscription struct {
	id     string
	filter engine.EventFilter
	ch     chan engine.Event
	stop   chan struct{}
}

// NewBus creates a new event bus with the given configuration.
func NewBus(cfg EventsConfig) (*Bus, error) {
	if cfg.Enabled && cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("event buffer size must be positive, got: %d", cfg.BufferSize)
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = 64
	}

	return &Bus{
		config: cfg,
		subs:   make(map[string]*subscription),
	}, nil
}

// Publish delivers an event to all matching subscribers.
func (b *Bus) Publish(ctx context.Context, event *engine.Event) error {
	if !b.config.Enabled || event == nil {
		return nil
	}

	// Set ID and timestamp if not already set
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("event bus stopped")
	}

	for _, sub := range b.subs {
		if !matchesFilter(sub.filter, event) {
			continue
		}
		select {
		case sub.ch <- *event:
		default:
			// Subscriber buffer full, drop rather than block the publisher
			b.dropped.Add(1)
		}
	}

	return nil
}

// Subscribe registers a subscriber for events matching the filter.
// The returned channel is closed when the context is cancelled or the
// bus shuts down.
func (b *Bus) Subscribe(ctx context.Context, filter engine.EventFilter) (<-chan engine.Event, error) {
	_, ch, err := b.SubscribeWithID(ctx, filter)
	return ch, err
}

// SubscribeWithID registers a subscriber and returns its subscription ID
// for explicit removal via Unsubscribe.
func (b *Bus) SubscribeWithID(ctx context.Context, filter engine.EventFilter) (string, <-chan engine.Event, error) {
	if !b.config.Enabled {
		return "", nil, fmt.Errorf("event bus disabled")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", nil, fmt.Errorf("event bus stopped")
	}

	sub := &subscription{
		id:     uuid.New().String(),
		filter: filter,
		ch:     make(chan engine.Event, b.config.SubscriberBuffer),
		stop:   make(chan struct{}),
	}
	b.subs[sub.id] = sub

	// Remove the subscription when the caller's context ends
	go func() {
		select {
		case <-ctx.Done():
			_ = b.Unsubscribe(context.Background(), sub.id)
		case <-sub.stop:
		}
	}()

	return sub.id, sub.ch, nil
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(ctx context.Context, subscriptionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[subscriptionID]
	if !ok {
		return fmt.Errorf("unknown subscription: %s", subscriptionID)
	}

	delete(b.subs, subscriptionID)
	close(sub.stop)
	close(sub.ch)
	return nil
}

// Dropped returns the number of events dropped due to full subscriber buffers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Shutdown closes all subscriptions and stops the bus.
func (b *Bus) Shutdown(ctx context.Context) error {
	if !b.config.Enabled {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.stop)
		close(sub.ch)
	}

	return nil
}

// matchesFilter reports whether an event passes a subscription filter.
// A zero filter matches every event.
func matchesFilter(filter engine.EventFilter, event *engine.Event) bool {
	if filter.RunID != "" && filter.RunID != event.RunID {
		return false
	}
	if filter.ResourceID != "" && filter.ResourceID != event.ResourceID {
		return false
	}
	if len(filter.Types) > 0 {
		found := false
		for _, t := range filter.Types {
			if t == event.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.MinLevel != "" && levelValue(event.Level) < levelValue(filter.MinLevel) {
		return false
	}
	return true
}

// levelValue orders event levels for minimum-level filtering.
func levelValue(level string) int {
	switch level {
	case EventLevelWarning:
		return 1
	case EventLevelError:
		return 2
	default:
		return 0
	}
}

// NewRunEvent builds an event for a run-scoped occurrence.
func NewRunEvent(eventType engine.EventType, runID, message string) *engine.Event {
	return &engine.Event{
		Type:    eventType,
		RunID:   runID,
		Message: message,
		Level:   EventLevelInfo,
	}
}

// NewResourceEvent builds an event for a resource-scoped occurrence.
func NewResourceEvent(eventType engine.EventType, runID, resourceID, message string) *engine.Event {
	return &engine.Event{
		Type:       eventType,
		RunID:      runID,
		ResourceID: resourceID,
		Message:    message,
		Level:      EventLevelInfo,
	}
}

// NewDriftEvent builds a warning event for a detected drift.
func NewDriftEvent(resourceID string, changeCount int) *engine.Event {
	return &engine.Event{
		Type:       engine.EventTypeDriftDetected,
		ResourceID: resourceID,
		Message:    fmt.Sprintf("drift detected on resource %s (%d changes)", resourceID, changeCount),
		Level:      EventLevelWarning,
		Details: map[string]interface{}{
			"change_count": changeCount,
		},
	}
}

// NewErrorEvent builds an error event for a run.
func NewErrorEvent(runID, message string) *engine.Event {
	return &engine.Event{
		Type:    engine.EventTypeError,
		RunID:   runID,
		Message: message,
		Level:   EventLevelError,
	}
}

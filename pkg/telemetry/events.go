package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event in the knot system.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// ActorID is the user who initiated the operation, if applicable.
	ActorID string `json:"actor_id,omitempty"`

	// SubjectID is the other side of the edge, if applicable.
	SubjectID string `json:"subject_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for edge lifecycle events.
const (
	EventTypeRequestSent        = "request.sent"
	EventTypeRequestCanceled    = "request.canceled"
	EventTypeRequestAccepted    = "request.accepted"
	EventTypeRequestRejected    = "request.rejected"
	EventTypeConnectionRemoved  = "connection.removed"
	EventTypeMutualRequest      = "request.mutual_accept"
	EventTypeEdgeRepaired       = "edge.repaired"
	EventTypePartialWrite       = "edge.partial_write"
	EventTypePolicyDenied       = "policy.denied"
	EventTypeOnboardingComplete = "onboarding.completed"
	EventTypeError              = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishRequestSent publishes a request sent event.
func (ep *EventPublisher) PublishRequestSent(requesterID, counterpartID string) error {
	return ep.Publish(Event{
		Type:      EventTypeRequestSent,
		Source:    "relation-engine",
		ActorID:   requesterID,
		SubjectID: counterpartID,
		Message:   fmt.Sprintf("Connection request sent from %s to %s", requesterID, counterpartID),
		Level:     EventLevelInfo,
	})
}

// PublishRequestCanceled publishes a request canceled event.
func (ep *EventPublisher) PublishRequestCanceled(requesterID, counterpartID string) error {
	return ep.Publish(Event{
		Type:      EventTypeRequestCanceled,
		Source:    "relation-engine",
		ActorID:   requesterID,
		SubjectID: counterpartID,
		Message:   fmt.Sprintf("Connection request from %s to %s canceled", requesterID, counterpartID),
		Level:     EventLevelInfo,
	})
}

// PublishRequestAccepted publishes a request accepted event.
func (ep *EventPublisher) PublishRequestAccepted(accepterID, requesterID string) error {
	return ep.Publish(Event{
		Type:      EventTypeRequestAccepted,
		Source:    "relation-engine",
		ActorID:   accepterID,
		SubjectID: requesterID,
		Message:   fmt.Sprintf("%s accepted the connection request from %s", accepterID, requesterID),
		Level:     EventLevelInfo,
	})
}

// PublishRequestRejected publishes a request rejected event.
func (ep *EventPublisher) PublishRequestRejected(rejecterID, requesterID string) error {
	return ep.Publish(Event{
		Type:      EventTypeRequestRejected,
		Source:    "relation-engine",
		ActorID:   rejecterID,
		SubjectID: requesterID,
		Message:   fmt.Sprintf("%s rejected the connection request from %s", rejecterID, requesterID),
		Level:     EventLevelInfo,
	})
}

// PublishConnectionRemoved publishes a connection removed event.
func (ep *EventPublisher) PublishConnectionRemoved(initiatorID, otherID string) error {
	return ep.Publish(Event{
		Type:      EventTypeConnectionRemoved,
		Source:    "relation-engine",
		ActorID:   initiatorID,
		SubjectID: otherID,
		Message:   fmt.Sprintf("Connection between %s and %s removed", initiatorID, otherID),
		Level:     EventLevelInfo,
	})
}

// PublishMutualRequest publishes an implicit mutual accept event.
func (ep *EventPublisher) PublishMutualRequest(requesterID, counterpartID string) error {
	return ep.Publish(Event{
		Type:      EventTypeMutualRequest,
		Source:    "relation-engine",
		ActorID:   requesterID,
		SubjectID: counterpartID,
		Message:   fmt.Sprintf("Crossed requests between %s and %s resolved as connection", requesterID, counterpartID),
		Level:     EventLevelInfo,
	})
}

// PublishEdgeRepaired publishes a read-time reconciliation event.
func (ep *EventPublisher) PublishEdgeRepaired(userID, otherID, invariant string) error {
	return ep.Publish(Event{
		Type:      EventTypeEdgeRepaired,
		Source:    "reconciler",
		ActorID:   userID,
		SubjectID: otherID,
		Message:   fmt.Sprintf("Dangling edge half between %s and %s pruned (%s)", userID, otherID, invariant),
		Level:     EventLevelWarning,
		Data: map[string]interface{}{
			"invariant": invariant,
		},
	})
}

// PublishPartialWrite publishes a partial dual-write event.
func (ep *EventPublisher) PublishPartialWrite(operation, requesterID, counterpartID string) error {
	return ep.Publish(Event{
		Type:      EventTypePartialWrite,
		Source:    "relation-engine",
		ActorID:   requesterID,
		SubjectID: counterpartID,
		Message:   fmt.Sprintf("Operation %s committed only one half for pair (%s, %s)", operation, requesterID, counterpartID),
		Level:     EventLevelWarning,
		Data: map[string]interface{}{
			"operation": operation,
		},
	})
}

// PublishPolicyDenied publishes a policy denial event.
func (ep *EventPublisher) PublishPolicyDenied(requesterID, counterpartID, policy, reason string) error {
	return ep.Publish(Event{
		Type:      EventTypePolicyDenied,
		Source:    "policy-engine",
		ActorID:   requesterID,
		SubjectID: counterpartID,
		Message:   fmt.Sprintf("Operation denied by policy %s: %s", policy, reason),
		Level:     EventLevelWarning,
		Data: map[string]interface{}{
			"policy": policy,
			"reason": reason,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)

			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			// Flush remaining events before shutting down
			if len(batch) > 0 {
				ep.flushBatch(batch)
			}
			return
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		go entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByActorID creates a filter that only allows events initiated by a specific user.
func FilterByActorID(actorID string) EventFilter {
	return func(event Event) bool {
		return event.ActorID == actorID
	}
}

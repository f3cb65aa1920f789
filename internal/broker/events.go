package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"reservation-service/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing reservation lifecycle events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishSessionStarted publishes SessionStarted event
func (ep *EventPublisher) PublishSessionStarted(ctx context.Context, event *models.SessionStartedEvent) error {
	return ep.producer.PublishEvent(ctx, sessionKey(event.SessionID), event)
}

// PublishReservationCreated publishes ReservationCreated event
func (ep *EventPublisher) PublishReservationCreated(ctx context.Context, event *models.ReservationCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, sessionKey(event.SessionID), event)
}

// PublishSessionExtended publishes SessionExtended event
func (ep *EventPublisher) PublishSessionExtended(ctx context.Context, event *models.SessionExtendedEvent) error {
	return ep.producer.PublishEvent(ctx, sessionKey(event.SessionID), event)
}

// PublishSessionCommitted publishes SessionCommitted event
func (ep *EventPublisher) PublishSessionCommitted(ctx context.Context, event *models.SessionCommittedEvent) error {
	return ep.producer.PublishEvent(ctx, sessionKey(event.SessionID), event)
}

// PublishSessionReleased publishes SessionReleased event
func (ep *EventPublisher) PublishSessionReleased(ctx context.Context, event *models.SessionReleasedEvent) error {
	return ep.producer.PublishEvent(ctx, sessionKey(event.SessionID), event)
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session-%s", sessionID)
}

// EventHandler routes incoming reservation events to registered handlers.
// Collaborators (order placement, notifications) subscribe through it.
type EventHandler struct {
	onSessionCommitted func(context.Context, *models.SessionCommittedEvent) error
	onSessionReleased  func(context.Context, *models.SessionReleasedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnSessionCommitted registers a handler for SessionCommitted events
func (eh *EventHandler) OnSessionCommitted(handler func(context.Context, *models.SessionCommittedEvent) error) {
	eh.onSessionCommitted = handler
}

// OnSessionReleased registers a handler for SessionReleased events
func (eh *EventHandler) OnSessionReleased(handler func(context.Context, *models.SessionReleasedEvent) error) {
	eh.onSessionReleased = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	log.Printf("Handling event: type=%s, id=%s", baseEvent.EventType, baseEvent.EventID)

	switch baseEvent.EventType {
	case models.EventTypeSessionCommitted:
		if eh.onSessionCommitted != nil {
			var event models.SessionCommittedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal SessionCommitted event: %w", err)
			}
			return eh.onSessionCommitted(ctx, &event)
		}

	case models.EventTypeSessionReleased:
		if eh.onSessionReleased != nil {
			var event models.SessionReleasedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal SessionReleased event: %w", err)
			}
			return eh.onSessionReleased(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}

package notifier

import (
	"context"
	"log"

	"reservation-service/internal/broker"
	"reservation-service/internal/models"
	"reservation-service/internal/util"

	"go.uber.org/zap"
)

// Notifier consumes reservation lifecycle events and surfaces the two
// shopper-facing outcomes: "your reservation expired, please check out
// again" and order confirmation hand-off. Delivery channels (email, push)
// hang off this hook; the default sink is the structured log.
type Notifier struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// New creates a notifier bound to a consumer
func New(consumer *broker.Consumer) *Notifier {
	n := &Notifier{
		consumer: consumer,
		logger:   util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnSessionReleased(n.handleSessionReleased)
	eventHandler.OnSessionCommitted(n.handleSessionCommitted)
	n.eventHandler = eventHandler

	return n
}

// Start starts consuming events
func (n *Notifier) Start(ctx context.Context) error {
	log.Println("Starting reservation notifier...")
	return n.consumer.StartConsuming(ctx, n.eventHandler.HandleMessage)
}

// Stop stops the notifier
func (n *Notifier) Stop() error {
	log.Println("Stopping reservation notifier...")
	return n.consumer.Close()
}

func (n *Notifier) handleSessionReleased(_ context.Context, event *models.SessionReleasedEvent) error {
	n.logger.Info("Notifying shopper of released session",
		zap.String("session_id", event.SessionID),
		zap.String("reason", event.Reason))
	return nil
}

func (n *Notifier) handleSessionCommitted(_ context.Context, event *models.SessionCommittedEvent) error {
	n.logger.Info("Handing committed session to order placement",
		zap.String("session_id", event.SessionID),
		zap.String("owner_id", event.OwnerID),
		zap.String("order_ref", event.OrderRef),
		zap.Int("items", len(event.Items)))
	return nil
}

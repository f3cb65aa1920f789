package service

import (
	"context"
	"time"

	"reservation-service/internal/models"
	"reservation-service/internal/util"

	"go.uber.org/zap"
)

// CheckoutService is the client-facing façade: it bundles a shopper's
// selected items into one reservation batch with one shared countdown and
// delegates the rest of the lifecycle to the ReservationManager.
type CheckoutService struct {
	manager *ReservationManager
	events  EventSink
	logger  *zap.Logger
}

// NewCheckoutService creates the checkout façade. events may be nil.
func NewCheckoutService(manager *ReservationManager, events EventSink) *CheckoutService {
	return &CheckoutService{
		manager: manager,
		events:  events,
		logger:  util.GetLogger(),
	}
}

// CheckoutItem is one requested line of a checkout
type CheckoutItem struct {
	SkuID string `json:"sku_id" binding:"required"`
	Qty   int    `json:"qty" binding:"required,min=1"`
}

// BeginCheckoutRequest starts a checkout session
type BeginCheckoutRequest struct {
	OwnerID string         `json:"owner_id" binding:"required"`
	Items   []CheckoutItem `json:"items" binding:"required,min=1,dive"`
}

// BeginCheckout reserves every requested item under a fresh session. If
// any item cannot be held, the ones already held are released and the
// failure is returned; no partial holds survive a failed begin.
func (cs *CheckoutService) BeginCheckout(ctx context.Context, req *BeginCheckoutRequest) (*models.CheckoutSession, []models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.BeginCheckout")
	defer span.End()

	if len(req.Items) == 0 {
		return nil, nil, ErrEmptyCheckout
	}

	session, err := cs.manager.StartSession(ctx, req.OwnerID)
	if err != nil {
		return nil, nil, err
	}

	reservations := make([]models.Reservation, 0, len(req.Items))
	for _, item := range req.Items {
		res, err := cs.manager.Reserve(ctx, session.SessionID, item.SkuID, item.Qty)
		if err != nil {
			if relErr := cs.manager.ReleaseSession(ctx, session.SessionID, models.ReleaseReasonFailed); relErr != nil {
				cs.logger.Error("Failed to roll back partial checkout",
					zap.String("session_id", session.SessionID),
					zap.Error(relErr))
			}
			return nil, nil, err
		}
		reservations = append(reservations, *res)
	}

	cs.publishSessionStarted(ctx, session, reservations)
	return session, reservations, nil
}

// Extend delegates to the manager's single-use extension
func (cs *CheckoutService) Extend(ctx context.Context, sessionID string) (time.Time, error) {
	return cs.manager.ExtendSession(ctx, sessionID)
}

// Commit delegates to the manager's all-or-nothing commit
func (cs *CheckoutService) Commit(ctx context.Context, sessionID string) (*CommitResult, error) {
	return cs.manager.CommitSession(ctx, sessionID)
}

// Abandon releases the session's holds. The client calls it on cancel or
// navigation-away as a best-effort optimization; the sweeper remains the
// authoritative backstop either way.
func (cs *CheckoutService) Abandon(ctx context.Context, sessionID string) error {
	return cs.manager.ReleaseSession(ctx, sessionID, models.ReleaseReasonAbandoned)
}

func (cs *CheckoutService) publishSessionStarted(ctx context.Context, session *models.CheckoutSession, reservations []models.Reservation) {
	if cs.events == nil {
		return
	}
	items := make([]models.ReservationItemData, 0, len(reservations))
	for _, r := range reservations {
		items = append(items, models.ReservationItemData{
			ReservationID: r.ReservationID,
			SkuID:         r.SkuID,
			Qty:           r.Qty,
		})
	}
	event := &models.SessionStartedEvent{
		BaseEvent: newBaseEvent(models.EventTypeSessionStarted),
		SessionID: session.SessionID,
		OwnerID:   session.OwnerID,
		ExpiresAt: session.ExpiresAt,
		Items:     items,
	}
	if err := cs.events.PublishSessionStarted(ctx, event); err != nil {
		cs.logger.Error("Failed to publish SessionStarted event", zap.Error(err))
	}
}

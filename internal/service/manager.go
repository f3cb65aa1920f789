package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reservation-service/internal/models"
	"reservation-service/internal/store"
	"reservation-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventSink receives reservation lifecycle events. *broker.EventPublisher
// implements it; tests substitute a capture stub.
type EventSink interface {
	PublishSessionStarted(ctx context.Context, event *models.SessionStartedEvent) error
	PublishReservationCreated(ctx context.Context, event *models.ReservationCreatedEvent) error
	PublishSessionExtended(ctx context.Context, event *models.SessionExtendedEvent) error
	PublishSessionCommitted(ctx context.Context, event *models.SessionCommittedEvent) error
	PublishSessionReleased(ctx context.Context, event *models.SessionReleasedEvent) error
}

// ReservationManager orchestrates the reservation lifecycle. It is the
// only caller of the inventory mutators; UI code and collaborators reach
// stock exclusively through it.
type ReservationManager struct {
	store          store.Store
	inventory      *Inventory
	events         EventSink
	logger         *zap.Logger
	sessionTTL     time.Duration
	extendDuration time.Duration
}

// NewReservationManager creates a new reservation manager. events may be
// nil when no broker is wired (tests, local runs).
func NewReservationManager(
	st store.Store,
	inventory *Inventory,
	events EventSink,
	sessionTTL time.Duration,
	extendDuration time.Duration,
) *ReservationManager {
	return &ReservationManager{
		store:          st,
		inventory:      inventory,
		events:         events,
		logger:         util.GetLogger(),
		sessionTTL:     sessionTTL,
		extendDuration: extendDuration,
	}
}

// StartSession opens a new checkout session with the configured TTL
func (m *ReservationManager) StartSession(ctx context.Context, ownerID string) (*models.CheckoutSession, error) {
	session := &models.CheckoutSession{
		SessionID: uuid.New().String(),
		OwnerID:   ownerID,
		ExpiresAt: time.Now().Add(m.sessionTTL),
	}

	if err := m.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	util.SessionsCreatedTotal.Inc()
	m.logger.Info("Checkout session started",
		zap.String("session_id", session.SessionID),
		zap.String("owner_id", ownerID),
		zap.Time("expires_at", session.ExpiresAt))
	return session, nil
}

// Reserve holds qty units of a SKU for a session. The new reservation
// inherits the session deadline so the whole session expires together.
func (m *ReservationManager) Reserve(ctx context.Context, sessionID, skuID string, qty int) (*models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "ReservationManager.Reserve")
	defer span.End()

	start := time.Now()
	defer func() {
		util.ReserveLatency.Observe(time.Since(start).Seconds())
	}()

	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}

	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if time.Now().After(session.ExpiresAt) {
		util.ReservationsFailedTotal.WithLabelValues("session_expired").Inc()
		return nil, ErrSessionExpired
	}

	existing, err := m.store.SessionReservations(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	closed := len(existing) > 0
	for _, r := range existing {
		if !models.IsTerminalStatus(r.Status) {
			closed = false
			break
		}
	}
	if closed {
		util.ReservationsFailedTotal.WithLabelValues("session_closed").Inc()
		return nil, ErrSessionClosed
	}

	if err := m.inventory.TryReserve(ctx, skuID, qty); err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			util.ReservationsFailedTotal.WithLabelValues("insufficient_stock").Inc()
		} else {
			util.ReservationsFailedTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	res := &models.Reservation{
		ReservationID: uuid.New().String(),
		SessionID:     sessionID,
		SkuID:         skuID,
		Qty:           qty,
		Status:        models.ReservationStatusActive,
		ExpiresAt:     session.ExpiresAt,
	}

	if err := m.store.CreateReservation(ctx, res); err != nil {
		// The hold is already taken; give it back before failing.
		if relErr := m.inventory.Release(ctx, skuID, qty); relErr != nil {
			m.logger.Error("Failed to roll back hold after ledger write failure",
				zap.String("sku_id", skuID),
				zap.Error(relErr))
		}
		util.ReservationsFailedTotal.WithLabelValues("ledger_error").Inc()
		return nil, fmt.Errorf("failed to record reservation: %w", err)
	}

	util.ReservationsGrantedTotal.Inc()
	m.logger.Info("Reservation granted",
		zap.String("reservation_id", res.ReservationID),
		zap.String("session_id", sessionID),
		zap.String("sku_id", skuID),
		zap.Int("qty", qty))

	m.publishReservationCreated(ctx, res)
	return res, nil
}

// ExtendSession consumes the single allowed extension and returns the new
// deadline. A second call returns store.ErrAlreadyExtended and leaves the
// deadline unchanged.
func (m *ReservationManager) ExtendSession(ctx context.Context, sessionID string) (time.Time, error) {
	ctx, span := util.StartSpan(ctx, "ReservationManager.ExtendSession")
	defer span.End()

	newExpiry := time.Now().Add(m.extendDuration)
	if err := m.store.ExtendSession(ctx, sessionID, newExpiry); err != nil {
		return time.Time{}, err
	}

	util.SessionsExtendedTotal.Inc()
	m.logger.Info("Session extended",
		zap.String("session_id", sessionID),
		zap.Time("expires_at", newExpiry))

	if m.events != nil {
		event := &models.SessionExtendedEvent{
			BaseEvent: newBaseEvent(models.EventTypeSessionExtended),
			SessionID: sessionID,
			ExpiresAt: newExpiry,
		}
		if err := m.events.PublishSessionExtended(ctx, event); err != nil {
			m.logger.Error("Failed to publish SessionExtended event", zap.Error(err))
		}
	}
	return newExpiry, nil
}

// CommitResult is returned by a successful CommitSession
type CommitResult struct {
	OrderRef  string               `json:"order_ref"`
	Committed []models.Reservation `json:"committed"`
}

// CommitSession converts every reservation in the session into a
// permanent stock decrement, all or nothing. If any reservation expired
// or was reclaimed mid-flow, nothing commits, remaining holds are
// released, and ErrSessionExpired is returned.
func (m *ReservationManager) CommitSession(ctx context.Context, sessionID string) (*CommitResult, error) {
	ctx, span := util.StartSpan(ctx, "ReservationManager.CommitSession")
	defer span.End()

	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	outcome, err := m.store.CommitSessionTx(ctx, sessionID, time.Now())
	if err != nil {
		return nil, err
	}

	if outcome.Expired {
		// The sweeper may already have released everything; only report
		// releases this call actually performed.
		if len(outcome.Released) > 0 {
			m.inventory.MirrorReleased(ctx, outcome.Released)
			util.ReservationsReleasedTotal.WithLabelValues(models.ReleaseReasonExpired).
				Add(float64(len(outcome.Released)))
			m.publishSessionReleased(ctx, sessionID, models.ReleaseReasonExpired)
		}
		m.logger.Warn("Commit aborted, session expired",
			zap.String("session_id", sessionID),
			zap.Int("released", len(outcome.Released)))
		return nil, ErrSessionExpired
	}

	m.inventory.MirrorCommitted(ctx, outcome.Committed)
	util.ReservationsCommittedTotal.Add(float64(len(outcome.Committed)))
	util.SessionsCommittedTotal.Inc()

	result := &CommitResult{
		OrderRef:  uuid.New().String(),
		Committed: outcome.Committed,
	}

	m.logger.Info("Session committed",
		zap.String("session_id", sessionID),
		zap.String("order_ref", result.OrderRef),
		zap.Int("reservations", len(outcome.Committed)))

	if m.events != nil {
		items := make([]models.ReservationItemData, 0, len(outcome.Committed))
		for _, r := range outcome.Committed {
			items = append(items, models.ReservationItemData{
				ReservationID: r.ReservationID,
				SkuID:         r.SkuID,
				Qty:           r.Qty,
			})
		}
		event := &models.SessionCommittedEvent{
			BaseEvent: newBaseEvent(models.EventTypeSessionCommitted),
			SessionID: sessionID,
			OwnerID:   session.OwnerID,
			OrderRef:  result.OrderRef,
			Items:     items,
		}
		if err := m.events.PublishSessionCommitted(ctx, event); err != nil {
			m.logger.Error("Failed to publish SessionCommitted event", zap.Error(err))
		}
	}
	return result, nil
}

// ReleaseSession returns every still-ACTIVE hold of the session to the
// pool. Safe to call repeatedly and safe to race against a commit: each
// reservation transitions at most once.
func (m *ReservationManager) ReleaseSession(ctx context.Context, sessionID, reason string) error {
	ctx, span := util.StartSpan(ctx, "ReservationManager.ReleaseSession")
	defer span.End()

	released, err := m.store.ReleaseSessionTx(ctx, sessionID)
	if err != nil {
		return err
	}
	m.recordRelease(ctx, sessionID, reason, released)
	return nil
}

// ReleaseExpiredSession reclaims a session's holds only if its deadline is
// still in the past when the release takes effect. The deadline is
// rechecked inside the store transaction, so an extension granted after
// the sweeper's scan keeps the holds alive.
func (m *ReservationManager) ReleaseExpiredSession(ctx context.Context, sessionID string) error {
	ctx, span := util.StartSpan(ctx, "ReservationManager.ReleaseExpiredSession")
	defer span.End()

	released, err := m.store.ReleaseExpiredSessionTx(ctx, sessionID, time.Now())
	if err != nil {
		return err
	}
	m.recordRelease(ctx, sessionID, models.ReleaseReasonExpired, released)
	return nil
}

func (m *ReservationManager) recordRelease(ctx context.Context, sessionID, reason string, released []models.Reservation) {
	if len(released) == 0 {
		return
	}

	m.inventory.MirrorReleased(ctx, released)
	util.ReservationsReleasedTotal.WithLabelValues(reason).Add(float64(len(released)))
	m.logger.Info("Session released",
		zap.String("session_id", sessionID),
		zap.String("reason", reason),
		zap.Int("reservations", len(released)))

	m.publishSessionReleased(ctx, sessionID, reason)
}

// GetSessionState returns a session and its reservations; the client
// derives its countdown from the returned expires_at.
func (m *ReservationManager) GetSessionState(ctx context.Context, sessionID string) (*models.CheckoutSession, []models.Reservation, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	reservations, err := m.store.SessionReservations(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return session, reservations, nil
}

func (m *ReservationManager) publishReservationCreated(ctx context.Context, res *models.Reservation) {
	if m.events == nil {
		return
	}
	event := &models.ReservationCreatedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeReservationCreated),
		SessionID:     res.SessionID,
		ReservationID: res.ReservationID,
		SkuID:         res.SkuID,
		Qty:           res.Qty,
		ExpiresAt:     res.ExpiresAt,
	}
	if err := m.events.PublishReservationCreated(ctx, event); err != nil {
		m.logger.Error("Failed to publish ReservationCreated event", zap.Error(err))
	}
}

func (m *ReservationManager) publishSessionReleased(ctx context.Context, sessionID, reason string) {
	if m.events == nil {
		return
	}
	event := &models.SessionReleasedEvent{
		BaseEvent: newBaseEvent(models.EventTypeSessionReleased),
		SessionID: sessionID,
		Reason:    reason,
	}
	if err := m.events.PublishSessionReleased(ctx, event); err != nil {
		m.logger.Error("Failed to publish SessionReleased event", zap.Error(err))
	}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"reservation-service/internal/models"
	"reservation-service/internal/util"

	"go.uber.org/zap"
)

// MemoryStore implements Store with in-memory maps. It backs unit tests
// and local development; the semantics mirror PostgresStore, with the
// mutex standing in for row locks.
type MemoryStore struct {
	mu           sync.RWMutex
	inventory    map[string]*models.SkuInventory
	sessions     map[string]*models.CheckoutSession
	reservations map[string]*models.Reservation
	logger       *zap.Logger
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		inventory:    make(map[string]*models.SkuInventory),
		sessions:     make(map[string]*models.CheckoutSession),
		reservations: make(map[string]*models.Reservation),
		logger:       util.GetLogger(),
	}
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error {
	return nil
}

// UpsertInventory sets on-hand stock for a SKU
func (s *MemoryStore) UpsertInventory(_ context.Context, skuID string, onHandQty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.inventory[skuID]
	if !ok {
		s.inventory[skuID] = &models.SkuInventory{
			SkuID:     skuID,
			OnHandQty: onHandQty,
			Version:   1,
			UpdatedAt: time.Now(),
		}
		return nil
	}
	inv.OnHandQty = onHandQty
	inv.Version++
	inv.UpdatedAt = time.Now()
	return nil
}

// GetInventory returns a copy of the counters for a SKU
func (s *MemoryStore) GetInventory(_ context.Context, skuID string) (*models.SkuInventory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.inventory[skuID]
	if !ok {
		return nil, ErrSkuNotFound
	}
	cp := *inv
	return &cp, nil
}

// ListInventory returns a copy of the counters for all SKUs
func (s *MemoryStore) ListInventory(_ context.Context) ([]models.SkuInventory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.SkuInventory, 0, len(s.inventory))
	for _, inv := range s.inventory {
		out = append(out, *inv)
	}
	return out, nil
}

// TryReserve checks and increments reserved_qty under one lock hold
func (s *MemoryStore) TryReserve(_ context.Context, skuID string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.inventory[skuID]
	if !ok {
		return ErrSkuNotFound
	}
	if inv.Available() < qty {
		return ErrInsufficientStock
	}
	inv.ReservedQty += qty
	inv.Version++
	inv.UpdatedAt = time.Now()
	return nil
}

// ReleaseStock returns reserved units to the pool, flooring at zero
func (s *MemoryStore) ReleaseStock(_ context.Context, skuID string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.inventory[skuID]
	if !ok {
		return ErrSkuNotFound
	}
	if inv.ReservedQty < qty {
		s.logger.Error("Release would drive reserved_qty negative, clamping",
			zap.String("sku_id", skuID),
			zap.Int("qty", qty))
		util.InvariantViolationsTotal.WithLabelValues("release_negative").Inc()
		inv.ReservedQty = 0
	} else {
		inv.ReservedQty -= qty
	}
	inv.Version++
	inv.UpdatedAt = time.Now()
	return nil
}

// CreateSession persists a new checkout session
func (s *MemoryStore) CreateSession(_ context.Context, session *models.CheckoutSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session.CreatedAt = time.Now()
	cp := *session
	s.sessions[session.SessionID] = &cp
	return nil
}

// GetSession retrieves a checkout session by ID
func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (*models.CheckoutSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *session
	return &cp, nil
}

// ExtendSession consumes the single allowed extension
func (s *MemoryStore) ExtendSession(_ context.Context, sessionID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if session.Extended {
		return ErrAlreadyExtended
	}
	session.Extended = true
	session.ExpiresAt = expiresAt

	for _, res := range s.reservations {
		if res.SessionID == sessionID && res.Status == models.ReservationStatusActive {
			res.ExpiresAt = expiresAt
		}
	}
	return nil
}

// CreateReservation appends a reservation row to the ledger
func (s *MemoryStore) CreateReservation(_ context.Context, res *models.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res.CreatedAt = time.Now()
	cp := *res
	s.reservations[res.ReservationID] = &cp
	return nil
}

// SessionReservations retrieves all reservations owned by a session
func (s *MemoryStore) SessionReservations(_ context.Context, sessionID string) ([]models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Reservation
	for _, res := range s.reservations {
		if res.SessionID == sessionID {
			out = append(out, *res)
		}
	}
	return out, nil
}

// CommitSessionTx commits or releases a whole session under one lock hold
func (s *MemoryStore) CommitSessionTx(_ context.Context, sessionID string, now time.Time) (*SessionCommitOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	reservations := s.sessionReservationsLocked(sessionID)

	allCommitted := len(reservations) > 0
	commitable := len(reservations) > 0 && !now.After(session.ExpiresAt)
	for _, r := range reservations {
		if r.Status != models.ReservationStatusCommitted {
			allCommitted = false
		}
		if r.Status != models.ReservationStatusActive || now.After(r.ExpiresAt) {
			commitable = false
		}
	}

	if allCommitted {
		return &SessionCommitOutcome{Committed: copyReservations(reservations)}, nil
	}

	if !commitable {
		return &SessionCommitOutcome{Released: s.releaseActiveLocked(reservations), Expired: true}, nil
	}

	for _, r := range reservations {
		inv := s.inventory[r.SkuID]
		if inv == nil || inv.ReservedQty < r.Qty || inv.OnHandQty < r.Qty {
			util.InvariantViolationsTotal.WithLabelValues("commit_unbacked").Inc()
			return nil, fmt.Errorf("commit of %d units for sku %s not backed by reserved stock", r.Qty, r.SkuID)
		}
	}
	for _, r := range reservations {
		inv := s.inventory[r.SkuID]
		inv.OnHandQty -= r.Qty
		inv.ReservedQty -= r.Qty
		inv.Version++
		inv.UpdatedAt = time.Now()
		r.Status = models.ReservationStatusCommitted
	}
	return &SessionCommitOutcome{Committed: copyReservations(reservations)}, nil
}

// ReleaseSessionTx releases every ACTIVE reservation of a session
func (s *MemoryStore) ReleaseSessionTx(_ context.Context, sessionID string) ([]models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return nil, ErrSessionNotFound
	}
	return s.releaseActiveLocked(s.sessionReservationsLocked(sessionID)), nil
}

// ReleaseExpiredSessionTx releases after rechecking the deadline under the
// lock, so an extension granted after the caller's scan wins.
func (s *MemoryStore) ReleaseExpiredSessionTx(_ context.Context, sessionID string, now time.Time) ([]models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if now.Before(session.ExpiresAt) {
		return nil, nil
	}
	return s.releaseActiveLocked(s.sessionReservationsLocked(sessionID)), nil
}

func (s *MemoryStore) sessionReservationsLocked(sessionID string) []*models.Reservation {
	var out []*models.Reservation
	for _, res := range s.reservations {
		if res.SessionID == sessionID {
			out = append(out, res)
		}
	}
	return out
}

func (s *MemoryStore) releaseActiveLocked(reservations []*models.Reservation) []models.Reservation {
	// SKU order, matching the SQL release path.
	sorted := make([]*models.Reservation, len(reservations))
	copy(sorted, reservations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SkuID < sorted[j].SkuID })

	var released []models.Reservation
	for _, r := range sorted {
		if r.Status != models.ReservationStatusActive {
			continue
		}
		r.Status = models.ReservationStatusReleased

		inv := s.inventory[r.SkuID]
		if inv != nil {
			if inv.ReservedQty < r.Qty {
				s.logger.Error("Release would drive reserved_qty negative, clamping",
					zap.String("sku_id", r.SkuID),
					zap.Int("qty", r.Qty))
				util.InvariantViolationsTotal.WithLabelValues("release_negative").Inc()
				inv.ReservedQty = 0
			} else {
				inv.ReservedQty -= r.Qty
			}
			inv.Version++
			inv.UpdatedAt = time.Now()
		}
		released = append(released, *r)
	}
	return released
}

func copyReservations(reservations []*models.Reservation) []models.Reservation {
	out := make([]models.Reservation, 0, len(reservations))
	for _, r := range reservations {
		out = append(out, *r)
	}
	return out
}

// ExpiredSessionIDs lists sessions past their deadline with ACTIVE reservations
func (s *MemoryStore) ExpiredSessionIDs(_ context.Context, cutoff time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var ids []string
	for _, res := range s.reservations {
		if res.Status != models.ReservationStatusActive {
			continue
		}
		session, ok := s.sessions[res.SessionID]
		if !ok || !session.ExpiresAt.Before(cutoff) || seen[res.SessionID] {
			continue
		}
		seen[res.SessionID] = true
		ids = append(ids, res.SessionID)
		if len(ids) >= limit {
			break
		}
	}
	return ids, nil
}

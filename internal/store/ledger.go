package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"reservation-service/internal/models"
	"reservation-service/internal/util"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// CreateSession persists a new checkout session
func (s *PostgresStore) CreateSession(ctx context.Context, session *models.CheckoutSession) error {
	query := `
		INSERT INTO checkout_sessions (session_id, owner_id, expires_at, extended)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	return s.db.GetContext(ctx, &session.CreatedAt, query,
		session.SessionID, session.OwnerID, session.ExpiresAt, session.Extended)
}

// GetSession retrieves a checkout session by ID
func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*models.CheckoutSession, error) {
	var session models.CheckoutSession
	err := s.db.GetContext(ctx, &session,
		"SELECT * FROM checkout_sessions WHERE session_id = $1", sessionID)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// ExtendSession consumes the single allowed extension, moving the session
// deadline and every ACTIVE reservation deadline in one transaction.
func (s *PostgresStore) ExtendSession(ctx context.Context, sessionID string, expiresAt time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE checkout_sessions
		SET expires_at = $2, extended = TRUE
		WHERE session_id = $1 AND extended = FALSE`,
		sessionID, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to extend session: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		var extended bool
		err := tx.GetContext(ctx, &extended,
			"SELECT extended FROM checkout_sessions WHERE session_id = $1", sessionID)
		if err == sql.ErrNoRows {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		return ErrAlreadyExtended
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE reservations
		SET expires_at = $2
		WHERE session_id = $1 AND status = $3`,
		sessionID, expiresAt, models.ReservationStatusActive)
	if err != nil {
		return fmt.Errorf("failed to extend reservations: %w", err)
	}

	return tx.Commit()
}

// CreateReservation appends a reservation row to the ledger
func (s *PostgresStore) CreateReservation(ctx context.Context, res *models.Reservation) error {
	query := `
		INSERT INTO reservations (reservation_id, session_id, sku_id, qty, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	return s.db.GetContext(ctx, &res.CreatedAt, query,
		res.ReservationID, res.SessionID, res.SkuID, res.Qty, res.Status, res.ExpiresAt)
}

// SessionReservations retrieves all reservations owned by a session
func (s *PostgresStore) SessionReservations(ctx context.Context, sessionID string) ([]models.Reservation, error) {
	var reservations []models.Reservation
	err := s.db.SelectContext(ctx, &reservations,
		"SELECT * FROM reservations WHERE session_id = $1 ORDER BY created_at", sessionID)
	return reservations, err
}

// CommitSessionTx commits all of a session's reservations in one
// transaction, or releases them if the session cannot be committed.
// Row locks on the session and its reservations serialize this against
// concurrent sweeps of the same session.
func (s *PostgresStore) CommitSessionTx(ctx context.Context, sessionID string, now time.Time) (*SessionCommitOutcome, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	session, reservations, err := s.lockSession(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}

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

	// Repeated commit of an already-committed session is a no-op success.
	if allCommitted {
		return &SessionCommitOutcome{Committed: reservations}, tx.Commit()
	}

	if !commitable {
		released, err := s.releaseActiveTx(ctx, tx, reservations)
		if err != nil {
			return nil, err
		}
		return &SessionCommitOutcome{Released: released, Expired: true}, tx.Commit()
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE reservations
		SET status = $2
		WHERE session_id = $1 AND status = $3`,
		sessionID, models.ReservationStatusCommitted, models.ReservationStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to mark reservations committed: %w", err)
	}

	// SKU order keeps lock acquisition consistent across sessions.
	sorted := make([]models.Reservation, len(reservations))
	copy(sorted, reservations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SkuID < sorted[j].SkuID })

	for _, r := range sorted {
		res, err := tx.ExecContext(ctx, `
			UPDATE sku_inventory
			SET on_hand_qty = on_hand_qty - $2, reserved_qty = reserved_qty - $2,
			    version = version + 1, updated_at = NOW()
			WHERE sku_id = $1 AND reserved_qty >= $2 AND on_hand_qty >= $2`,
			r.SkuID, r.Qty)
		if err != nil {
			return nil, fmt.Errorf("failed to commit stock for sku %s: %w", r.SkuID, err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if rows == 0 {
			util.InvariantViolationsTotal.WithLabelValues("commit_unbacked").Inc()
			return nil, fmt.Errorf("commit of %d units for sku %s not backed by reserved stock", r.Qty, r.SkuID)
		}
	}

	for i := range reservations {
		reservations[i].Status = models.ReservationStatusCommitted
	}
	return &SessionCommitOutcome{Committed: reservations}, tx.Commit()
}

// ReleaseSessionTx releases every ACTIVE reservation of a session in one
// transaction. Safe to call repeatedly; terminal reservations stay put.
func (s *PostgresStore) ReleaseSessionTx(ctx context.Context, sessionID string) ([]models.Reservation, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, reservations, err := s.lockSession(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}

	released, err := s.releaseActiveTx(ctx, tx, reservations)
	if err != nil {
		return nil, err
	}
	return released, tx.Commit()
}

// ReleaseExpiredSessionTx releases a session's ACTIVE reservations after
// rechecking the deadline under the session lock. The scan that nominated
// the session ran in an earlier transaction; an extension granted in
// between moves the deadline forward and must win over the reclaim.
func (s *PostgresStore) ReleaseExpiredSessionTx(ctx context.Context, sessionID string, now time.Time) ([]models.Reservation, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	session, reservations, err := s.lockSession(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}
	if now.Before(session.ExpiresAt) {
		return nil, tx.Commit()
	}

	released, err := s.releaseActiveTx(ctx, tx, reservations)
	if err != nil {
		return nil, err
	}
	return released, tx.Commit()
}

// ExpiredSessionIDs lists sessions past their deadline that still hold
// ACTIVE reservations. The partial index on the reservations table
// keeps this cheap even with a large ledger.
func (s *PostgresStore) ExpiredSessionIDs(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	var sessionIDs []string
	err := s.db.SelectContext(ctx, &sessionIDs, `
		SELECT DISTINCT r.session_id
		FROM reservations r
		JOIN checkout_sessions cs ON cs.session_id = r.session_id
		WHERE r.status = $1 AND cs.expires_at < $2
		LIMIT $3`,
		models.ReservationStatusActive, cutoff, limit)
	return sessionIDs, err
}

// lockSession locks the session row and its reservations for the duration
// of the surrounding transaction.
func (s *PostgresStore) lockSession(ctx context.Context, tx *sqlx.Tx, sessionID string) (*models.CheckoutSession, []models.Reservation, error) {
	var session models.CheckoutSession
	err := tx.GetContext(ctx, &session,
		"SELECT * FROM checkout_sessions WHERE session_id = $1 FOR UPDATE", sessionID)
	if err == sql.ErrNoRows {
		return nil, nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	var reservations []models.Reservation
	err = tx.SelectContext(ctx, &reservations, `
		SELECT * FROM reservations
		WHERE session_id = $1 ORDER BY created_at FOR UPDATE`,
		sessionID)
	if err != nil {
		return nil, nil, err
	}
	return &session, reservations, nil
}

func (s *PostgresStore) releaseActiveTx(ctx context.Context, tx *sqlx.Tx, reservations []models.Reservation) ([]models.Reservation, error) {
	// Same SKU lock order as the commit path, so a release and a commit on
	// overlapping SKUs cannot deadlock each other.
	sorted := make([]models.Reservation, len(reservations))
	copy(sorted, reservations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SkuID < sorted[j].SkuID })

	var released []models.Reservation
	for _, r := range sorted {
		if r.Status != models.ReservationStatusActive {
			continue
		}

		_, err := tx.ExecContext(ctx, `
			UPDATE reservations SET status = $2 WHERE reservation_id = $1`,
			r.ReservationID, models.ReservationStatusReleased)
		if err != nil {
			return nil, fmt.Errorf("failed to mark reservation released: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE sku_inventory
			SET reserved_qty = reserved_qty - $2, version = version + 1, updated_at = NOW()
			WHERE sku_id = $1 AND reserved_qty >= $2`,
			r.SkuID, r.Qty)
		if err != nil {
			return nil, fmt.Errorf("failed to release stock for sku %s: %w", r.SkuID, err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if rows == 0 {
			s.logger.Error("Release would drive reserved_qty negative, clamping",
				zap.String("sku_id", r.SkuID),
				zap.Int("qty", r.Qty))
			util.InvariantViolationsTotal.WithLabelValues("release_negative").Inc()
			_, err = tx.ExecContext(ctx, `
				UPDATE sku_inventory
				SET reserved_qty = 0, version = version + 1, updated_at = NOW()
				WHERE sku_id = $1`,
				r.SkuID)
			if err != nil {
				return nil, err
			}
		}

		r.Status = models.ReservationStatusReleased
		released = append(released, r)
	}
	return released, nil
}

package store

import (
	"context"
	"errors"
	"time"

	"reservation-service/internal/models"
)

// Common errors returned by the store
var (
	ErrSkuNotFound       = errors.New("sku not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrSessionNotFound   = errors.New("session not found")
	ErrAlreadyExtended   = errors.New("session already extended")
)

// SessionCommitOutcome reports what a commit attempt did. When the
// session was expired (or already lost a reservation to the sweeper),
// Expired is true and Released lists the holds returned to the pool;
// otherwise Committed lists the reservations turned into sales.
type SessionCommitOutcome struct {
	Committed []models.Reservation
	Released  []models.Reservation
	Expired   bool
}

// Store is the persistence boundary for the reservation engine: the
// inventory counters and the reservation ledger. PostgresStore is the
// authoritative implementation; MemoryStore backs tests and local runs.
type Store interface {
	// UpsertInventory sets the on-hand stock for a SKU, creating the row
	// if needed (restock/publish path).
	UpsertInventory(ctx context.Context, skuID string, onHandQty int) error

	// GetInventory returns the counters for a SKU.
	GetInventory(ctx context.Context, skuID string) (*models.SkuInventory, error)

	// ListInventory returns counters for every SKU (cache warm-up, admin views).
	ListInventory(ctx context.Context) ([]models.SkuInventory, error)

	// TryReserve atomically checks available >= qty and increments
	// reserved_qty. Returns ErrInsufficientStock without mutating anything
	// when the check fails. This is the only admission decision point;
	// callers must never pre-check availability and write back separately.
	TryReserve(ctx context.Context, skuID string, qty int) error

	// ReleaseStock decrements reserved_qty, flooring at zero. A release
	// that would go negative indicates a caller bug and is reported as an
	// invariant violation, not an error.
	ReleaseStock(ctx context.Context, skuID string, qty int) error

	// CreateSession persists a new checkout session.
	CreateSession(ctx context.Context, session *models.CheckoutSession) error

	// GetSession returns a session by ID, or ErrSessionNotFound.
	GetSession(ctx context.Context, sessionID string) (*models.CheckoutSession, error)

	// ExtendSession marks the session extended and moves its deadline and
	// the deadline of all its ACTIVE reservations to expiresAt, atomically.
	// Returns ErrAlreadyExtended if the one allowed extension was used.
	ExtendSession(ctx context.Context, sessionID string, expiresAt time.Time) error

	// CreateReservation appends a reservation row to the ledger.
	CreateReservation(ctx context.Context, res *models.Reservation) error

	// SessionReservations returns all reservations owned by a session.
	SessionReservations(ctx context.Context, sessionID string) ([]models.Reservation, error)

	// CommitSessionTx atomically commits a whole session: if every
	// reservation is still ACTIVE and unexpired at now, all of them become
	// COMMITTED and the inventory counters are decremented in the same
	// transaction. If the session is expired or a reservation already left
	// ACTIVE, nothing is committed, remaining ACTIVE holds are released,
	// and the outcome reports Expired. A session whose reservations are
	// all COMMITTED already is returned as a committed no-op.
	CommitSessionTx(ctx context.Context, sessionID string, now time.Time) (*SessionCommitOutcome, error)

	// ReleaseSessionTx releases every ACTIVE reservation of a session and
	// returns the released ones. Reservations already terminal are left
	// untouched, so repeated calls are no-ops; racing a commit is safe
	// because whichever transition lands first wins per reservation.
	ReleaseSessionTx(ctx context.Context, sessionID string) ([]models.Reservation, error)

	// ReleaseExpiredSessionTx releases a session's ACTIVE reservations only
	// if the session deadline is still in the past at now, rechecked under
	// the same locks as the release itself. A session whose deadline was
	// pushed forward after the caller scanned it is left untouched.
	ReleaseExpiredSessionTx(ctx context.Context, sessionID string, now time.Time) ([]models.Reservation, error)

	// ExpiredSessionIDs lists sessions whose deadline passed before cutoff
	// and which still hold ACTIVE reservations.
	ExpiredSessionIDs(ctx context.Context, cutoff time.Time, limit int) ([]string, error)

	// Close releases underlying resources.
	Close() error
}

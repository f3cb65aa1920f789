package models

import "time"

// SkuInventory holds the authoritative stock counters for one SKU.
// available = on_hand_qty - reserved_qty; the store maintains
// 0 <= reserved_qty <= on_hand_qty at all times.
type SkuInventory struct {
	SkuID       string    `db:"sku_id" json:"sku_id"`
	OnHandQty   int       `db:"on_hand_qty" json:"on_hand_qty"`
	ReservedQty int       `db:"reserved_qty" json:"reserved_qty"`
	Version     int64     `db:"version" json:"version"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Available returns the quantity still open for reservation.
func (i *SkuInventory) Available() int {
	return i.OnHandQty - i.ReservedQty
}

// Reservation is a time-bounded hold on a quantity of a SKU,
// owned by one checkout session.
type Reservation struct {
	ReservationID string    `db:"reservation_id" json:"reservation_id"`
	SessionID     string    `db:"session_id" json:"session_id"`
	SkuID         string    `db:"sku_id" json:"sku_id"`
	Qty           int       `db:"qty" json:"qty"`
	Status        string    `db:"status" json:"status"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	ExpiresAt     time.Time `db:"expires_at" json:"expires_at"`
}

// CheckoutSession groups the reservations created together for one
// shopper's checkout attempt. All of them share one deadline and
// transition together.
type CheckoutSession struct {
	SessionID string    `db:"session_id" json:"session_id"`
	OwnerID   string    `db:"owner_id" json:"owner_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	Extended  bool      `db:"extended" json:"extended"`
}

// Reservation statuses. ACTIVE is the only non-terminal state; a
// reservation transitions exactly once to COMMITTED or RELEASED and
// terminal states are never revisited.
const (
	ReservationStatusActive    = "ACTIVE"
	ReservationStatusCommitted = "COMMITTED"
	ReservationStatusReleased  = "RELEASED"
)

// IsTerminalStatus reports whether a status admits no further transition.
func IsTerminalStatus(status string) bool {
	return status == ReservationStatusCommitted || status == ReservationStatusReleased
}

// Release reasons, recorded on release events and metrics.
const (
	ReleaseReasonExpired   = "EXPIRED"
	ReleaseReasonAbandoned = "ABANDONED"
	ReleaseReasonFailed    = "FAILED"
)

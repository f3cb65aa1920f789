package models

import "time"

// Event types
const (
	EventTypeReservationCreated = "RESERVATION_CREATED"
	EventTypeSessionStarted     = "SESSION_STARTED"
	EventTypeSessionExtended    = "SESSION_EXTENDED"
	EventTypeSessionCommitted   = "SESSION_COMMITTED"
	EventTypeSessionReleased    = "SESSION_RELEASED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// ReservationItemData represents one reserved line in events
type ReservationItemData struct {
	ReservationID string `json:"reservation_id"`
	SkuID         string `json:"sku_id"`
	Qty           int    `json:"qty"`
}

// SessionStartedEvent published when a checkout session begins
type SessionStartedEvent struct {
	BaseEvent
	SessionID string                `json:"session_id"`
	OwnerID   string                `json:"owner_id"`
	ExpiresAt time.Time             `json:"expires_at"`
	Items     []ReservationItemData `json:"items"`
}

// ReservationCreatedEvent published when stock is held for a session
type ReservationCreatedEvent struct {
	BaseEvent
	SessionID     string    `json:"session_id"`
	ReservationID string    `json:"reservation_id"`
	SkuID         string    `json:"sku_id"`
	Qty           int       `json:"qty"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// SessionExtendedEvent published when a session's deadline is pushed forward
type SessionExtendedEvent struct {
	BaseEvent
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionCommittedEvent published when all of a session's reservations
// become permanent stock decrements; the order-placement flow consumes it.
type SessionCommittedEvent struct {
	BaseEvent
	SessionID string                `json:"session_id"`
	OwnerID   string                `json:"owner_id"`
	OrderRef  string                `json:"order_ref"`
	Items     []ReservationItemData `json:"items"`
}

// SessionReleasedEvent published when a session's holds return to the pool
type SessionReleasedEvent struct {
	BaseEvent
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

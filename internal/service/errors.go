package service

import "errors"

var (
	// ErrSessionExpired is returned when a session's deadline passed before
	// the operation could take effect; the shopper restarts checkout.
	ErrSessionExpired = errors.New("checkout session expired")

	// ErrEmptyCheckout is returned when checkout begins with no items.
	ErrEmptyCheckout = errors.New("checkout has no items, nothing to reserve")

	// ErrSessionClosed is returned when a reservation targets a session
	// whose holds have all reached a terminal state.
	ErrSessionClosed = errors.New("checkout session already completed")

	// ErrInvalidQuantity is returned for non-positive reservation quantities.
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

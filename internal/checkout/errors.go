package checkout

import "errors"

var (
	// ErrSessionNotFound is returned when a checkout session id does not exist.
	ErrSessionNotFound = errors.New("checkout session not found")

	// ErrOrderNotFound is returned when an order lookup by id/txn/session misses.
	ErrOrderNotFound = errors.New("order not found")

	// ErrEmptyCart is returned when DraftOrder creation is attempted with no line items.
	ErrEmptyCart = errors.New("cart is empty")

	// ErrMissingIdempotencyKey is returned when Initiate is called without one.
	ErrMissingIdempotencyKey = errors.New("idempotency key is required")

	// ErrConflict signals a unique-key race that could not be resolved to an
	// existing winner (spec §4.4 "genuinely ambiguous" case, surfaced as 409).
	ErrConflict = errors.New("order conflict could not be resolved")

	// ErrStaleSnapshot is returned when a cart snapshot no longer matches
	// live stock availability (spec §4.3 "validated against live product
	// prices and stock").
	ErrStaleSnapshot = errors.New("cart snapshot is stale against live stock")
)

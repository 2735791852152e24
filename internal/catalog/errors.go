package catalog

import "errors"

var (
	// ErrNoIndependentPricing signals that this repo has no pricing system
	// separate from the price already captured in a cart snapshot.
	ErrNoIndependentPricing = errors.New("catalog: no independent pricing system configured")

	// ErrStaleSnapshot is returned when a cart snapshot's line items no
	// longer match live stock availability.
	ErrStaleSnapshot = errors.New("catalog: cart snapshot is stale against live stock")
)

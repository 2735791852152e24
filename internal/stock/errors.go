package stock

import "errors"

var (
	// ErrOutOfStock is returned by Reserve when stock-reserved < qty (§4.1).
	ErrOutOfStock = errors.New("insufficient stock available")

	// ErrNotFound is returned when the (productId,size) row does not exist.
	ErrNotFound = errors.New("product stock not found")

	// ErrConfirmMismatch is returned by Confirm when the reserved/stock
	// counters do not support the requested deduction — this should never
	// happen for a qty that was actually reserved first; surfacing it lets
	// the caller treat it as an invariant violation (§7) rather than retry.
	ErrConfirmMismatch = errors.New("reserved/stock counters do not support confirm")
)

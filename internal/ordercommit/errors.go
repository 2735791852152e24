package ordercommit

import "errors"

var (
	// ErrOrderNotFound mirrors checkout.ErrOrderNotFound for callers that
	// only import this package.
	ErrOrderNotFound = errors.New("order not found")

	// ErrAlreadyCommitted is the idempotent short-circuit of spec §4.5
	// ("If paymentStatus = PAID, return already_committed").
	ErrAlreadyCommitted = errors.New("order already committed")

	// ErrNotCommittable is returned when an order's status is not
	// DRAFT/PENDING (spec §4.5 preconditions).
	ErrNotCommittable = errors.New("order is not in a committable state")

	// ErrEmptyCart is the invariant violation of spec §4.5 step 1.
	ErrEmptyCart = errors.New("order has no line items to commit")

	// ErrPendingReview is returned when commit ultimately fails even after
	// rollback and the order is pushed to manual review (spec §4.5 last
	// bullet). It is not a transient error: callers should not retry.
	ErrPendingReview = errors.New("order moved to pending review after failed commit")
)

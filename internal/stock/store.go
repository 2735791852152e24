// Package stock implements the Stock Store (C1): atomic per-(productId,size)
// reserve/confirm/release primitives. Every mutation is a single
// conditional UPDATE whose WHERE clause embeds the availability predicate —
// never a read-then-write — grounded on the teacher's
// internal/repository/coupon_repository.go DecrementStock/GetCouponForUpdate
// atomic-UPDATE idiom (generalized from "decrement by 1" to "decrement by
// qty under three distinct predicates").
//
// There is no emergency direct-stock-decrement path anywhere in this
// package: the only way from unreserved to deducted is Reserve followed by
// Confirm (spec §4.1 rule 4, §9).
package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fairyhunter13/checkout-payment-core/internal/model"
	"github.com/fairyhunter13/checkout-payment-core/pkg/database"
)

// Store provides atomic stock operations against Postgres.
type Store struct {
	pool database.TxQuerier
}

// NewStore creates a Store bound to the pool-level querier. Callers that
// need to compose Reserve/Confirm/Release with other statements in one
// transaction should use WithTx instead.
func NewStore(pool database.TxQuerier) *Store {
	return &Store{pool: pool}
}

// WithTx returns a Store bound to an open transaction.
func (s *Store) WithTx(tx pgx.Tx) *Store {
	return &Store{pool: tx}
}

// Get returns the current counters for (productId,size).
func (s *Store) Get(ctx context.Context, productID, size string) (model.ProductStock, error) {
	var ps model.ProductStock
	err := s.pool.QueryRow(ctx,
		`SELECT product_id, size, stock, reserved FROM product_stock WHERE product_id = $1 AND size = $2`,
		productID, size,
	).Scan(&ps.ProductID, &ps.Size, &ps.Stock, &ps.Reserved)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ProductStock{}, ErrNotFound
		}
		return model.ProductStock{}, fmt.Errorf("get product stock %s/%s: %w", productID, size, err)
	}
	return ps, nil
}

// Reserve atomically increments `reserved` by qty iff stock-reserved >= qty
// (spec §4.1). No pre-read: the availability predicate lives in the WHERE
// clause of the same UPDATE.
func (s *Store) Reserve(ctx context.Context, productID, size string, qty int) (model.StockResult, error) {
	res := model.StockResult{ProductID: productID, Size: size, Quantity: qty}
	if qty <= 0 {
		res.Reason = "invalid quantity"
		return res, fmt.Errorf("reserve: quantity must be positive, got %d", qty)
	}

	var newReserved int
	err := s.pool.QueryRow(ctx, `
		UPDATE product_stock
		SET reserved = reserved + $1
		WHERE product_id = $2 AND size = $3 AND stock - reserved >= $1
		RETURNING reserved
	`, qty, productID, size).Scan(&newReserved)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the row doesn't exist, or availability was insufficient.
			// Disambiguate with a cheap existence check for a clearer error
			// (not a pre-read that the conditional update depends on).
			if _, getErr := s.Get(ctx, productID, size); errors.Is(getErr, ErrNotFound) {
				res.Reason = "not found"
				return res, ErrNotFound
			}
			res.Reason = "out of stock"
			return res, ErrOutOfStock
		}
		return res, fmt.Errorf("reserve %s/%s qty=%d: %w", productID, size, qty, err)
	}

	res.OK = true
	return res, nil
}

// Confirm atomically deducts qty from both `reserved` and `stock` iff both
// counters can support it (spec §4.1). Used exclusively by the Order
// Commit Service (C5) after a prior Reserve.
func (s *Store) Confirm(ctx context.Context, productID, size string, qty int) (model.StockResult, error) {
	res := model.StockResult{ProductID: productID, Size: size, Quantity: qty}
	if qty <= 0 {
		res.Reason = "invalid quantity"
		return res, fmt.Errorf("confirm: quantity must be positive, got %d", qty)
	}

	var newStock int
	err := s.pool.QueryRow(ctx, `
		UPDATE product_stock
		SET reserved = reserved - $1, stock = stock - $1
		WHERE product_id = $2 AND size = $3 AND reserved >= $1 AND stock >= $1
		RETURNING stock
	`, qty, productID, size).Scan(&newStock)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			res.Reason = "reserved/stock mismatch"
			return res, ErrConfirmMismatch
		}
		return res, fmt.Errorf("confirm %s/%s qty=%d: %w", productID, size, qty, err)
	}

	res.OK = true
	return res, nil
}

// RollbackConfirm undoes a just-performed Confirm within the same
// request/transaction by incrementing `stock` back. It deliberately does
// NOT re-increment `reserved`, because the reservation was already
// consumed by Confirm — re-adding it would resurrect a hold nobody owns
// (spec §4.5 step 3).
func (s *Store) RollbackConfirm(ctx context.Context, productID, size string, qty int) error {
	if qty <= 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE product_stock SET stock = stock + $1 WHERE product_id = $2 AND size = $3
	`, qty, productID, size)
	if err != nil {
		return fmt.Errorf("rollback confirm %s/%s qty=%d: %w", productID, size, qty, err)
	}
	return nil
}

// Release atomically undoes a reservation: reserved = max(0, reserved-qty).
// Idempotent under repetition up to the clamp (spec §4.1) — callers must
// track whether a logical release has already happened so Release is not
// invoked twice for the same hold (the clamp only protects the counter
// from going negative, it does not make double-release a no-op from the
// ledger's point of view).
func (s *Store) Release(ctx context.Context, productID, size string, qty int) error {
	if qty <= 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE product_stock
		SET reserved = GREATEST(reserved - $1, 0)
		WHERE product_id = $2 AND size = $3
	`, qty, productID, size)
	if err != nil {
		return fmt.Errorf("release %s/%s qty=%d: %w", productID, size, qty, err)
	}
	return nil
}

// ResetDrift resets `reserved` to 0 for a product/size (the "safety
// reconciler" of §4.10); it does not re-check holds itself, its callers
// pass it ListDrifted's candidates (no active ledger hold and no active
// session). It never touches `stock`.
func (s *Store) ResetDrift(ctx context.Context, productID, size string) error {
	_, err := s.pool.Exec(ctx, `UPDATE product_stock SET reserved = 0 WHERE product_id = $1 AND size = $2`, productID, size)
	if err != nil {
		return fmt.Errorf("reset drift %s/%s: %w", productID, size, err)
	}
	return nil
}

// ListDrifted finds (productId, size) pairs carrying reserved > 0 with no
// active reservation and no pending/awaiting-payment checkout session
// holding them — candidates for ResetDrift (spec §4.10 "products whose
// reserved > 0 but have no active ledger reservation... may have their
// reserved reset to 0"). The anti-joins walk each reservation's and
// session's JSONB items array rather than requiring a separate per-product
// index, since both are keyed by session, not product.
func (s *Store) ListDrifted(ctx context.Context) ([]model.ProductStock, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ps.product_id, ps.size, ps.stock, ps.reserved
		FROM product_stock ps
		WHERE ps.reserved > 0
		AND NOT EXISTS (
			SELECT 1 FROM reservations r, jsonb_array_elements(r.items) item
			WHERE r.status = $1
			AND item->>'productId' = ps.product_id
			AND item->>'size' = ps.size
		)
		AND NOT EXISTS (
			SELECT 1 FROM checkout_sessions cs, jsonb_array_elements(cs.items) item
			WHERE cs.status IN ($2, $3)
			AND item->>'productId' = ps.product_id
			AND item->>'size' = ps.size
		)
	`, model.ReservationActive, model.SessionPending, model.SessionAwaitingPayment)
	if err != nil {
		return nil, fmt.Errorf("list drifted stock: %w", err)
	}
	defer rows.Close()

	var out []model.ProductStock
	for rows.Next() {
		var ps model.ProductStock
		if err := rows.Scan(&ps.ProductID, &ps.Size, &ps.Stock, &ps.Reserved); err != nil {
			return nil, fmt.Errorf("scan drifted stock: %w", err)
		}
		out = append(out, ps)
	}
	return out, rows.Err()
}

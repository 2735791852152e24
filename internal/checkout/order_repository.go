package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fairyhunter13/checkout-payment-core/internal/model"
	"github.com/fairyhunter13/checkout-payment-core/pkg/database"
)

// OrderRepository persists Order rows (C4), including DraftOrder creation
// and the C5/C7 status transitions that follow. Grounded on the teacher's
// CouponRepository.Insert unique-violation-as-sentinel pattern
// (pgErr.Code == "23505"), generalized from one unique column to three
// independent sparse unique indexes (idempotencyKey, gatewayTxnId,
// checkoutSessionId — spec §4.4 rule 3).
type OrderRepository struct {
	pool database.TxQuerier
}

// NewOrderRepository creates an OrderRepository bound to the given querier.
func NewOrderRepository(pool database.TxQuerier) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Insert creates a new DRAFT order row. Returns ErrConflict (wrapping the
// underlying unique violation) if a concurrent insert already claimed one
// of the three sparse unique keys; callers resolve this by fetching the
// winner (spec §4.4 step "duplicate-key error... → treat as success").
func (r *OrderRepository) Insert(ctx context.Context, o *model.Order) error {
	cartJSON, err := json.Marshal(o.CartItems)
	if err != nil {
		return fmt.Errorf("marshal cart items: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO orders (
			order_id, gateway_txn_id, checkout_session_id, idempotency_key,
			status, payment_status, cart_items, subtotal, shipping_cost, total,
			user_email, user_name, shipping_info, stock_reserved, stock_confirmed,
			draft_created_at, requires_manual_processing
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`,
		o.OrderID, o.GatewayTxnID, o.CheckoutSessionID, o.IdempotencyKey,
		o.Status, o.PaymentStatus, cartJSON, o.Totals.Subtotal, o.Totals.ShippingCost, o.Totals.Total,
		o.UserInfo.Email, o.UserInfo.Name, mustMarshal(o.ShippingInfo), o.StockReserved, o.StockConfirmed,
		o.DraftCreatedAt, o.RequiresManualProcessing,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetByID loads an order by its human-short order id.
func (r *OrderRepository) GetByID(ctx context.Context, orderID string) (*model.Order, error) {
	return r.scanOne(ctx, `
		SELECT order_id, gateway_txn_id, checkout_session_id, idempotency_key,
			status, payment_status, cart_items, subtotal, shipping_cost, total,
			user_email, user_name, shipping_info, stock_reserved, stock_confirmed,
			draft_created_at, confirmed_at, paid_at, cancelled_at, cancellation_reason,
			provider_payload, stock_commit_results, requires_manual_processing
		FROM orders WHERE order_id = $1
	`, orderID)
}

// GetByIDForUpdate is GetByID with a row lock, used by Order Commit (§4.5).
func (r *OrderRepository) GetByIDForUpdate(ctx context.Context, orderID string) (*model.Order, error) {
	return r.scanOne(ctx, `
		SELECT order_id, gateway_txn_id, checkout_session_id, idempotency_key,
			status, payment_status, cart_items, subtotal, shipping_cost, total,
			user_email, user_name, shipping_info, stock_reserved, stock_confirmed,
			draft_created_at, confirmed_at, paid_at, cancelled_at, cancellation_reason,
			provider_payload, stock_commit_results, requires_manual_processing
		FROM orders WHERE order_id = $1 FOR UPDATE
	`, orderID)
}

// GetByIdempotencyKey looks up the existing winner for a retried
// payment-initiate call (spec §4.4 step 1).
func (r *OrderRepository) GetByIdempotencyKey(ctx context.Context, key string) (*model.Order, error) {
	return r.scanOne(ctx, `
		SELECT order_id, gateway_txn_id, checkout_session_id, idempotency_key,
			status, payment_status, cart_items, subtotal, shipping_cost, total,
			user_email, user_name, shipping_info, stock_reserved, stock_confirmed,
			draft_created_at, confirmed_at, paid_at, cancelled_at, cancellation_reason,
			provider_payload, stock_commit_results, requires_manual_processing
		FROM orders WHERE idempotency_key = $1
	`, key)
}

// GetByGatewayTxnID looks up an order by the gateway's transaction id; used
// by the by-txn redirect lookup. Per the Open Question decision in DESIGN.md, emergency
// orders (RequiresManualProcessing=true) are excluded here — callers that
// need them regardless should use GetByID.
func (r *OrderRepository) GetByGatewayTxnID(ctx context.Context, txnID string) (*model.Order, error) {
	o, err := r.scanOne(ctx, `
		SELECT order_id, gateway_txn_id, checkout_session_id, idempotency_key,
			status, payment_status, cart_items, subtotal, shipping_cost, total,
			user_email, user_name, shipping_info, stock_reserved, stock_confirmed,
			draft_created_at, confirmed_at, paid_at, cancelled_at, cancellation_reason,
			provider_payload, stock_commit_results, requires_manual_processing
		FROM orders WHERE gateway_txn_id = $1
	`, txnID)
	if err != nil {
		return nil, err
	}
	if o.RequiresManualProcessing {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

// GetByGatewayTxnIDAny is GetByGatewayTxnID without the emergency-order
// exclusion, used internally by the Webhook Processor (which must still
// find emergency orders to avoid re-creating them).
func (r *OrderRepository) GetByGatewayTxnIDAny(ctx context.Context, txnID string) (*model.Order, error) {
	return r.scanOne(ctx, `
		SELECT order_id, gateway_txn_id, checkout_session_id, idempotency_key,
			status, payment_status, cart_items, subtotal, shipping_cost, total,
			user_email, user_name, shipping_info, stock_reserved, stock_confirmed,
			draft_created_at, confirmed_at, paid_at, cancelled_at, cancellation_reason,
			provider_payload, stock_commit_results, requires_manual_processing
		FROM orders WHERE gateway_txn_id = $1
	`, txnID)
}

// GetByCheckoutSessionID looks up the order bound to a checkout session.
func (r *OrderRepository) GetByCheckoutSessionID(ctx context.Context, sessionID string) (*model.Order, error) {
	return r.scanOne(ctx, `
		SELECT order_id, gateway_txn_id, checkout_session_id, idempotency_key,
			status, payment_status, cart_items, subtotal, shipping_cost, total,
			user_email, user_name, shipping_info, stock_reserved, stock_confirmed,
			draft_created_at, confirmed_at, paid_at, cancelled_at, cancellation_reason,
			provider_payload, stock_commit_results, requires_manual_processing
		FROM orders WHERE checkout_session_id = $1
	`, sessionID)
}

// ListStuckDrafts returns DRAFT/PENDING orders with a known gateway txn id
// whose draftCreatedAt falls inside [windowStart, olderThan] — the
// candidate set for the Reconciliation Loop's "stuck drafts" and "missing
// webhooks" passes (spec §4.9 passes 1-2), which both start from the same
// query and differ only in what the caller does with the gateway status
// response.
func (r *OrderRepository) ListStuckDrafts(ctx context.Context, olderThan, windowStart time.Time, limit int) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT order_id, gateway_txn_id, checkout_session_id, idempotency_key,
			status, payment_status, cart_items, subtotal, shipping_cost, total,
			user_email, user_name, shipping_info, stock_reserved, stock_confirmed,
			draft_created_at, confirmed_at, paid_at, cancelled_at, cancellation_reason,
			provider_payload, stock_commit_results, requires_manual_processing
		FROM orders
		WHERE status IN ($1, $2) AND gateway_txn_id IS NOT NULL
			AND draft_created_at <= $3 AND draft_created_at >= $4
		ORDER BY draft_created_at ASC LIMIT $5
	`, model.OrderDraft, model.OrderPending, olderThan, windowStart, limit)
	if err != nil {
		return nil, fmt.Errorf("list stuck drafts: %w", err)
	}
	defer rows.Close()

	var out []model.Order
	for rows.Next() {
		var o model.Order
		var cartJSON, shippingJSON, payloadJSON, commitJSON []byte
		if err := rows.Scan(
			&o.OrderID, &o.GatewayTxnID, &o.CheckoutSessionID, &o.IdempotencyKey,
			&o.Status, &o.PaymentStatus, &cartJSON, &o.Totals.Subtotal, &o.Totals.ShippingCost, &o.Totals.Total,
			&o.UserInfo.Email, &o.UserInfo.Name, &shippingJSON, &o.StockReserved, &o.StockConfirmed,
			&o.DraftCreatedAt, &o.ConfirmedAt, &o.PaidAt, &o.CancelledAt, &o.CancellationReason,
			&payloadJSON, &commitJSON, &o.RequiresManualProcessing,
		); err != nil {
			return nil, fmt.Errorf("scan stuck draft: %w", err)
		}
		if len(cartJSON) > 0 {
			_ = json.Unmarshal(cartJSON, &o.CartItems)
		}
		if len(shippingJSON) > 0 {
			_ = json.Unmarshal(shippingJSON, &o.ShippingInfo)
		}
		if len(payloadJSON) > 0 {
			o.ProviderPayload = payloadJSON
		}
		if len(commitJSON) > 0 {
			_ = json.Unmarshal(commitJSON, &o.StockCommitResults)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *OrderRepository) scanOne(ctx context.Context, query, arg string) (*model.Order, error) {
	var o model.Order
	var cartJSON, shippingJSON, payloadJSON, commitJSON []byte
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&o.OrderID, &o.GatewayTxnID, &o.CheckoutSessionID, &o.IdempotencyKey,
		&o.Status, &o.PaymentStatus, &cartJSON, &o.Totals.Subtotal, &o.Totals.ShippingCost, &o.Totals.Total,
		&o.UserInfo.Email, &o.UserInfo.Name, &shippingJSON, &o.StockReserved, &o.StockConfirmed,
		&o.DraftCreatedAt, &o.ConfirmedAt, &o.PaidAt, &o.CancelledAt, &o.CancellationReason,
		&payloadJSON, &commitJSON, &o.RequiresManualProcessing,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	if len(cartJSON) > 0 {
		if err := json.Unmarshal(cartJSON, &o.CartItems); err != nil {
			return nil, fmt.Errorf("unmarshal cart items: %w", err)
		}
		o.CartItemsRaw = cartJSON
	}
	if len(shippingJSON) > 0 {
		if err := json.Unmarshal(shippingJSON, &o.ShippingInfo); err != nil {
			return nil, fmt.Errorf("unmarshal shipping info: %w", err)
		}
	}
	if len(payloadJSON) > 0 {
		o.ProviderPayload = payloadJSON
	}
	if len(commitJSON) > 0 {
		if err := json.Unmarshal(commitJSON, &o.StockCommitResults); err != nil {
			return nil, fmt.Errorf("unmarshal stock commit results: %w", err)
		}
	}
	return &o, nil
}

// MarkConfirmed persists the C5 commit outcome in one statement.
func (r *OrderRepository) MarkConfirmed(ctx context.Context, orderID string, results []model.StockResult, providerPayload json.RawMessage, now time.Time) error {
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal commit results: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE orders SET
			status = $1, payment_status = $2, stock_confirmed = true,
			confirmed_at = $3, paid_at = $3, stock_commit_results = $4, provider_payload = $5
		WHERE order_id = $6
	`, model.OrderConfirmed, model.PaymentPaid, now, resultsJSON, []byte(providerPayload), orderID)
	if err != nil {
		return fmt.Errorf("mark order confirmed %s: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// MarkPendingReview moves an order into the manual-intervention state
// (spec §4.5 "cannot be committed cleanly even after rollback").
func (r *OrderRepository) MarkPendingReview(ctx context.Context, orderID, reason string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE orders SET status = $1, cancellation_reason = $2 WHERE order_id = $3
	`, model.OrderPendingReview, reason, orderID)
	if err != nil {
		return fmt.Errorf("mark order pending review %s: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// MarkCancelled persists a CANCELLED/FAILED transition (payment failure or
// explicit cancellation, spec §4.7 "PAYMENT_FAILED events").
func (r *OrderRepository) MarkCancelled(ctx context.Context, orderID, reason string, now time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE orders SET status = $1, payment_status = $2, cancelled_at = $3, cancellation_reason = $4
		WHERE order_id = $5
	`, model.OrderCancelled, model.PaymentFailed, now, reason, orderID)
	if err != nil {
		return fmt.Errorf("mark order cancelled %s: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

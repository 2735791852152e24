package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fairyhunter13/checkout-payment-core/internal/model"
	"github.com/fairyhunter13/checkout-payment-core/pkg/database"
)

// ErrPaymentSessionNotFound is returned when no PaymentSession snapshot
// exists for a gateway transaction id.
var ErrPaymentSessionNotFound = errors.New("payment session not found")

// PaymentSessionRepository persists the lightweight snapshot consulted by
// the Webhook Processor's "Create from PaymentSession" resolution step
// (spec §4.7 step 3).
type PaymentSessionRepository struct {
	pool database.TxQuerier
}

// NewPaymentSessionRepository creates a PaymentSessionRepository bound to
// the given querier.
func NewPaymentSessionRepository(pool database.TxQuerier) *PaymentSessionRepository {
	return &PaymentSessionRepository{pool: pool}
}

// Insert persists a payment session snapshot, typically written alongside
// DraftOrder creation so it survives even if the order row itself is
// later lost to an operational mistake.
func (r *PaymentSessionRepository) Insert(ctx context.Context, ps *model.PaymentSession) error {
	cartJSON, err := json.Marshal(ps.CartItems)
	if err != nil {
		return fmt.Errorf("marshal payment session cart items: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO payment_sessions (
			gateway_txn_id, checkout_session_id, cart_items, subtotal, shipping_cost, total,
			user_email, user_name, shipping_info, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (gateway_txn_id) DO NOTHING
	`, ps.GatewayTxnID, ps.CheckoutSessionID, cartJSON, ps.Totals.Subtotal, ps.Totals.ShippingCost, ps.Totals.Total,
		ps.UserInfo.Email, ps.UserInfo.Name, mustMarshal(ps.ShippingInfo), ps.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment session: %w", err)
	}
	return nil
}

// GetByGatewayTxnID loads the payment session snapshot for a transaction.
func (r *PaymentSessionRepository) GetByGatewayTxnID(ctx context.Context, txnID string) (*model.PaymentSession, error) {
	var ps model.PaymentSession
	var cartJSON, shippingJSON []byte
	err := r.pool.QueryRow(ctx, `
		SELECT gateway_txn_id, checkout_session_id, cart_items, subtotal, shipping_cost, total,
			user_email, user_name, shipping_info, created_at
		FROM payment_sessions WHERE gateway_txn_id = $1
	`, txnID).Scan(
		&ps.GatewayTxnID, &ps.CheckoutSessionID, &cartJSON, &ps.Totals.Subtotal, &ps.Totals.ShippingCost, &ps.Totals.Total,
		&ps.UserInfo.Email, &ps.UserInfo.Name, &shippingJSON, &ps.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentSessionNotFound
		}
		return nil, fmt.Errorf("get payment session %s: %w", txnID, err)
	}
	if len(cartJSON) > 0 {
		if err := json.Unmarshal(cartJSON, &ps.CartItems); err != nil {
			return nil, fmt.Errorf("unmarshal payment session cart items: %w", err)
		}
	}
	if len(shippingJSON) > 0 {
		if err := json.Unmarshal(shippingJSON, &ps.ShippingInfo); err != nil {
			return nil, fmt.Errorf("unmarshal payment session shipping info: %w", err)
		}
	}
	return &ps, nil
}

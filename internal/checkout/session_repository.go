package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fairyhunter13/checkout-payment-core/internal/model"
	"github.com/fairyhunter13/checkout-payment-core/pkg/database"
)

// SessionRepository persists CheckoutSession snapshots (C3). Grounded on
// the teacher's CouponRepository shape (PoolInterface + pgx.ErrNoRows
// translation), generalized from a single flat row to one carrying a JSONB
// line-item snapshot.
type SessionRepository struct {
	pool database.TxQuerier
}

// NewSessionRepository creates a SessionRepository bound to the given querier.
func NewSessionRepository(pool database.TxQuerier) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Insert persists a new checkout session. The session snapshot is
// immutable once written except for Status/StockReserved transitions.
func (r *SessionRepository) Insert(ctx context.Context, session *model.CheckoutSession) error {
	itemsJSON, err := json.Marshal(session.Items)
	if err != nil {
		return fmt.Errorf("marshal session items: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO checkout_sessions (
			session_id, user_email, items, subtotal, shipping_cost, total,
			shipping_info, status, stock_reserved, gateway_txn_id, expires_at, timeout_at, source, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`,
		session.SessionID, session.UserEmail, itemsJSON,
		session.Totals.Subtotal, session.Totals.ShippingCost, session.Totals.Total,
		mustMarshal(session.ShippingInfo), session.Status, session.StockReserved, session.GatewayTxnID,
		session.ExpiresAt, session.TimeoutAt, session.Source, session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert checkout session: %w", err)
	}
	return nil
}

// Get loads a checkout session by id.
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*model.CheckoutSession, error) {
	return r.getWhere(ctx, "session_id = $1", sessionID)
}

// GetByGatewayTxnID loads the checkout session that payment was initiated
// against for the given gateway transaction id. Consulted by the Webhook
// Processor when neither a DraftOrder nor a PaymentSession resolved the
// event (§4.7 step 4).
func (r *SessionRepository) GetByGatewayTxnID(ctx context.Context, txnID string) (*model.CheckoutSession, error) {
	return r.getWhere(ctx, "gateway_txn_id = $1", txnID)
}

func (r *SessionRepository) getWhere(ctx context.Context, predicate string, arg string) (*model.CheckoutSession, error) {
	var s model.CheckoutSession
	var itemsJSON, shippingJSON []byte
	err := r.pool.QueryRow(ctx, `
		SELECT session_id, user_email, items, subtotal, shipping_cost, total,
			shipping_info, status, stock_reserved, gateway_txn_id, expires_at, timeout_at, source, created_at
		FROM checkout_sessions WHERE `+predicate, arg).Scan(
		&s.SessionID, &s.UserEmail, &itemsJSON, &s.Totals.Subtotal, &s.Totals.ShippingCost, &s.Totals.Total,
		&shippingJSON, &s.Status, &s.StockReserved, &s.GatewayTxnID, &s.ExpiresAt, &s.TimeoutAt, &s.Source, &s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get checkout session: %w", err)
	}
	if err := json.Unmarshal(itemsJSON, &s.Items); err != nil {
		return nil, fmt.Errorf("unmarshal session items: %w", err)
	}
	if err := json.Unmarshal(shippingJSON, &s.ShippingInfo); err != nil {
		return nil, fmt.Errorf("unmarshal session shipping info: %w", err)
	}
	return &s, nil
}

// SetGatewayTxnID records the gateway transaction id that payment was
// initiated against for this session, before the DraftOrder/PaymentSession
// rows are guaranteed to exist — a durable join key the Webhook Processor
// can recover the cart from if those writes never land.
func (r *SessionRepository) SetGatewayTxnID(ctx context.Context, sessionID, gatewayTxnID string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE checkout_sessions SET gateway_txn_id = $1 WHERE session_id = $2`, gatewayTxnID, sessionID)
	if err != nil {
		return fmt.Errorf("set checkout session gateway txn id %s: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// UpdateStatus transitions a checkout session's status.
func (r *SessionRepository) UpdateStatus(ctx context.Context, sessionID string, status model.CheckoutSessionStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE checkout_sessions SET status = $1 WHERE session_id = $2`, status, sessionID)
	if err != nil {
		return fmt.Errorf("update checkout session status %s: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// ListAbandoned returns sessions still pending/awaiting-payment whose
// timeout has passed — the candidate set for the Expiry Worker's
// CheckoutSession sweep (spec §4.10 "sweep abandoned CheckoutSessions").
func (r *SessionRepository) ListAbandoned(ctx context.Context, asOf time.Time, limit int) ([]model.CheckoutSession, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT session_id, user_email, items, subtotal, shipping_cost, total,
			shipping_info, status, stock_reserved, expires_at, timeout_at, source, created_at
		FROM checkout_sessions
		WHERE status IN ($1, $2) AND timeout_at < $3
		ORDER BY timeout_at ASC LIMIT $4
	`, model.SessionPending, model.SessionAwaitingPayment, asOf, limit)
	if err != nil {
		return nil, fmt.Errorf("list abandoned checkout sessions: %w", err)
	}
	defer rows.Close()

	var out []model.CheckoutSession
	for rows.Next() {
		var s model.CheckoutSession
		var itemsJSON, shippingJSON []byte
		if err := rows.Scan(
			&s.SessionID, &s.UserEmail, &itemsJSON, &s.Totals.Subtotal, &s.Totals.ShippingCost, &s.Totals.Total,
			&shippingJSON, &s.Status, &s.StockReserved, &s.ExpiresAt, &s.TimeoutAt, &s.Source, &s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan abandoned checkout session: %w", err)
		}
		if len(itemsJSON) > 0 {
			_ = json.Unmarshal(itemsJSON, &s.Items)
		}
		if len(shippingJSON) > 0 {
			_ = json.Unmarshal(shippingJSON, &s.ShippingInfo)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// ShippingInfo/UserInfo are plain value structs; marshal failure
		// here would indicate a programming error, not a runtime condition.
		panic(fmt.Sprintf("checkout: marshal %T: %v", v, err))
	}
	return b
}

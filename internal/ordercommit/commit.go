// Package ordercommit implements the Order Commit Service (C5): the single
// place in the system allowed to transition an order from DRAFT/PENDING to
// CONFIRMED and deduct physical stock. Grounded on the teacher's
// CouponService.ClaimCoupon transaction shape (Begin -> lock row -> act ->
// Commit, with a deferred Rollback-is-a-no-op-after-commit guard),
// generalized from "claim one slot" to "confirm N line items with
// per-item rollback on partial failure" (spec §4.5).
package ordercommit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/checkout-payment-core/internal/checkout"
	"github.com/fairyhunter13/checkout-payment-core/internal/model"
	"github.com/fairyhunter13/checkout-payment-core/internal/notify"
	"github.com/fairyhunter13/checkout-payment-core/internal/stock"
)

// TxBeginner is implemented by *pgxpool.Pool; tests substitute a fake.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// OrderRepositoryInterface is the subset of checkout.OrderRepository the
// commit service needs, tx-scoped.
type OrderRepositoryInterface interface {
	GetByIDForUpdate(ctx context.Context, orderID string) (*model.Order, error)
	MarkConfirmed(ctx context.Context, orderID string, results []model.StockResult, providerPayload json.RawMessage, now time.Time) error
	MarkPendingReview(ctx context.Context, orderID, reason string) error
}

// PaymentInfo is the provider payload persisted alongside a successful commit.
type PaymentInfo struct {
	GatewayTxnID string
	AmountMinor  int64
	Raw          json.RawMessage
}

// Service implements Commit(orderId, paymentInfo).
type Service struct {
	pool          TxBeginner
	orders        OrderRepositoryInterface
	st            *stock.Store
	alerts        notify.AlertSink
	newOrdersWithTx func(tx pgx.Tx) OrderRepositoryInterface
}

// NewService wires a Service against a real pgxpool.Pool.
func NewService(pool *pgxpool.Pool, orders OrderRepositoryInterface, st *stock.Store, alerts notify.AlertSink) *Service {
	return &Service{
		pool:   pool,
		orders: orders,
		st:     st,
		alerts: alerts,
		newOrdersWithTx: func(tx pgx.Tx) OrderRepositoryInterface {
			return checkout.NewOrderRepository(tx)
		},
	}
}

// NewServiceForTest allows tests to substitute fakes for every collaborator.
func NewServiceForTest(pool TxBeginner, orders OrderRepositoryInterface, st *stock.Store, alerts notify.AlertSink, newOrdersWithTx func(tx pgx.Tx) OrderRepositoryInterface) *Service {
	return &Service{pool: pool, orders: orders, st: st, alerts: alerts, newOrdersWithTx: newOrdersWithTx}
}

// Commit implements spec §4.5. It loads the order, confirms stock for
// every cart item, and on full success marks the order CONFIRMED/PAID. A
// partial failure rolls back every prior successful Confirm in the same
// transaction before returning; if the order still cannot be committed
// after rollback it moves to PENDING_REVIEW and a critical alert fires.
func (s *Service) Commit(ctx context.Context, orderID string, info PaymentInfo) (*model.Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin commit tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	txOrders := s.newOrdersWithTx(tx)
	order, err := txOrders.GetByIDForUpdate(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.AlreadyCommitted() {
		return order, ErrAlreadyCommitted
	}
	if !order.CanCommit() {
		return nil, ErrNotCommittable
	}

	items := normalizeCartItems(order)
	if len(items) == 0 {
		s.alerts.Critical(ctx, "order_commit_empty_cart", map[string]any{"orderId": orderID})
		_ = txOrders.MarkPendingReview(ctx, orderID, "empty cart at commit")
		_ = tx.Commit(ctx)
		return nil, ErrEmptyCart
	}

	txStore := s.st.WithTx(tx)
	results := make([]model.StockResult, 0, len(items))
	var firstFailure error
	for i, item := range items {
		res, cerr := txStore.Confirm(ctx, item.ProductID, item.Size, item.Quantity)
		if cerr != nil {
			firstFailure = fmt.Errorf("confirm %s/%s: %w", item.ProductID, item.Size, cerr)
			results = append(results, res)
			s.rollback(ctx, txStore, items[:i])
			break
		}
		results = append(results, res)
	}

	if firstFailure != nil {
		log.Error().Err(firstFailure).Str("order_id", orderID).Msg("order commit failed, rolled back partial confirms")
		if markErr := txOrders.MarkPendingReview(ctx, orderID, firstFailure.Error()); markErr != nil {
			log.Error().Err(markErr).Str("order_id", orderID).Msg("failed to mark order pending review")
		}
		s.alerts.Critical(ctx, "order_commit_failed", map[string]any{"orderId": orderID, "error": firstFailure.Error()})
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit pending-review transition: %w", err)
		}
		return nil, ErrPendingReview
	}

	now := time.Now()
	if err := txOrders.MarkConfirmed(ctx, orderID, results, info.Raw, now); err != nil {
		return nil, fmt.Errorf("mark order confirmed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit order commit tx: %w", err)
	}

	order.Status = model.OrderConfirmed
	order.PaymentStatus = model.PaymentPaid
	order.StockConfirmed = true
	order.StockCommitResults = results
	order.ConfirmedAt = &now
	order.PaidAt = &now
	return order, nil
}

// rollback undoes every already-successful Confirm by incrementing stock
// back, without re-incrementing reserved (spec §4.5 step 3). Rollback
// failures are logged, not escalated, since the order is already headed
// to PENDING_REVIEW regardless.
func (s *Service) rollback(ctx context.Context, txStore *stock.Store, committed []model.LineItem) {
	for _, item := range committed {
		if err := txStore.RollbackConfirm(ctx, item.ProductID, item.Size, item.Quantity); err != nil {
			log.Error().Err(err).Str("product_id", item.ProductID).Str("size", item.Size).Msg("failed to roll back stock confirm")
		}
	}
}

// normalizeCartItems returns order.CartItems, recovering any line item
// whose ProductID came back empty from the typed JSONB decode. A row
// written under a legacy field name (product_id/sku/itemId instead of
// productId) unmarshals that way; CartItemsRaw still carries the original
// bytes, so ResolveProductID can resolve the id per §4.5's "first
// non-empty of several historical field names" rule before Confirm runs.
func normalizeCartItems(order *model.Order) []model.LineItem {
	items := order.CartItems
	if len(order.CartItemsRaw) == 0 {
		return items
	}

	needsRecovery := false
	for _, item := range items {
		if item.ProductID == "" {
			needsRecovery = true
			break
		}
	}
	if !needsRecovery {
		return items
	}

	var rawItems []json.RawMessage
	if err := json.Unmarshal(order.CartItemsRaw, &rawItems); err != nil || len(rawItems) != len(items) {
		return items
	}
	for i := range items {
		if items[i].ProductID != "" {
			continue
		}
		items[i].ProductID = ResolveProductID(rawItems[i])
	}
	return items
}

// Package webhook implements the Webhook Intake (C6), Processor (C7), and
// Queue Manager (C8). Grounded on the teacher's pack companion
// duclm31099-bookstore-backend's cart/job/auto_release_reservation.go for
// the "load -> check preconditions -> act -> log and continue on partial
// failure" task-handler shape, generalized from order-auto-cancel to the
// PAYMENT_SUCCESS/PAYMENT_FAILED resolution order of spec §4.7.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/checkout-payment-core/internal/checkout"
	"github.com/fairyhunter13/checkout-payment-core/internal/config"
	"github.com/fairyhunter13/checkout-payment-core/internal/idgen"
	"github.com/fairyhunter13/checkout-payment-core/internal/model"
	"github.com/fairyhunter13/checkout-payment-core/internal/money"
	"github.com/fairyhunter13/checkout-payment-core/internal/notify"
	"github.com/fairyhunter13/checkout-payment-core/internal/ordercommit"
)

// CommitterInterface is the subset of ordercommit.Service the processor needs.
type CommitterInterface interface {
	Commit(ctx context.Context, orderID string, info ordercommit.PaymentInfo) (*model.Order, error)
}

// LedgerReleaser is the subset of reservation.Ledger the processor needs
// for PAYMENT_FAILED handling.
type LedgerReleaser interface {
	ReleaseBySession(ctx context.Context, sessionID string) error
}

// OrdersInterface is the subset of checkout.OrderRepository the processor needs.
type OrdersInterface interface {
	Insert(ctx context.Context, o *model.Order) error
	GetByGatewayTxnIDAny(ctx context.Context, txnID string) (*model.Order, error)
	MarkCancelled(ctx context.Context, orderID, reason string, now time.Time) error
}

// PaymentSessionsInterface is the subset of checkout.PaymentSessionRepository
// the processor needs.
type PaymentSessionsInterface interface {
	GetByGatewayTxnID(ctx context.Context, txnID string) (*model.PaymentSession, error)
}

// SessionsInterface is the subset of checkout.SessionRepository the
// processor needs.
type SessionsInterface interface {
	GetByGatewayTxnID(ctx context.Context, txnID string) (*model.CheckoutSession, error)
}

// Processor implements the resolution order of spec §4.7.
type Processor struct {
	orders          OrdersInterface
	paymentSessions PaymentSessionsInterface
	sessions        SessionsInterface
	commit          CommitterInterface
	ledger          LedgerReleaser
	emergencyCfg    config.EmergencyConfig
	alerts          notify.AlertSink
}

// NewProcessor wires a Processor.
func NewProcessor(
	orders OrdersInterface,
	paymentSessions PaymentSessionsInterface,
	sessions SessionsInterface,
	commit CommitterInterface,
	ledger LedgerReleaser,
	emergencyCfg config.EmergencyConfig,
	alerts notify.AlertSink,
) *Processor {
	return &Processor{
		orders: orders, paymentSessions: paymentSessions, sessions: sessions,
		commit: commit, ledger: ledger, emergencyCfg: emergencyCfg, alerts: alerts,
	}
}

// Result is the outcome string persisted on the RawWebhook row.
const (
	ResultAlreadyProcessed = "already_processed"
	ResultConfirmed        = "confirmed"
	ResultCancelled        = "cancelled"
	ResultEmergencyCreated = "emergency_created"
	ResultIgnored          = "ignored"
)

// Process dispatches a normalized gateway event through the §4.7
// resolution order and returns the result string to persist.
func (p *Processor) Process(ctx context.Context, event model.GatewayEvent) (string, error) {
	switch event.State {
	case model.GatewayStateSuccess:
		return p.processSuccess(ctx, event)
	case model.GatewayStateFailure:
		return p.processFailure(ctx, event)
	default:
		return ResultIgnored, nil
	}
}

func (p *Processor) processSuccess(ctx context.Context, event model.GatewayEvent) (string, error) {
	paymentInfo := ordercommit.PaymentInfo{GatewayTxnID: event.GatewayTxnID, AmountMinor: event.AmountMinor}

	// Step 1/2: existing order for this txn — either confirm a draft or
	// recognize an already-confirmed one.
	order, err := p.orders.GetByGatewayTxnIDAny(ctx, event.GatewayTxnID)
	if err == nil {
		if order.AlreadyCommitted() {
			return ResultAlreadyProcessed, nil
		}
		if !order.CanCommit() {
			// Status is e.g. CANCELLED/SHIPPED: nothing more to do, and not
			// an error — a stale success notification after the fact.
			return ResultIgnored, nil
		}
		if _, cerr := p.commit.Commit(ctx, order.OrderID, paymentInfo); cerr != nil {
			if errors.Is(cerr, ordercommit.ErrAlreadyCommitted) {
				return ResultAlreadyProcessed, nil
			}
			return "", fmt.Errorf("commit draft order %s: %w", order.OrderID, cerr)
		}
		return ResultConfirmed, nil
	}
	if !errors.Is(err, checkout.ErrOrderNotFound) {
		return "", fmt.Errorf("lookup order by gateway txn: %w", err)
	}

	// Step 3: synthesize from a PaymentSession snapshot.
	if ps, psErr := p.paymentSessions.GetByGatewayTxnID(ctx, event.GatewayTxnID); psErr == nil {
		return p.createAndCommitFromSnapshot(ctx, event, paymentInfo, ps.CheckoutSessionID, ps.CartItems, ps.Totals, ps.UserInfo, ps.ShippingInfo)
	} else if !errors.Is(psErr, checkout.ErrPaymentSessionNotFound) {
		return "", fmt.Errorf("lookup payment session: %w", psErr)
	}

	// Step 4: one level further back — a checkout session that never got a
	// DraftOrder or PaymentSession recorded against it.
	if sess, sErr := p.sessions.GetByGatewayTxnID(ctx, event.GatewayTxnID); sErr == nil {
		return p.createAndCommitFromSnapshot(ctx, event, paymentInfo, sess.SessionID, sess.Items, sess.Totals, model.UserInfo{Email: sess.UserEmail}, sess.ShippingInfo)
	} else if !errors.Is(sErr, checkout.ErrSessionNotFound) {
		return "", fmt.Errorf("lookup checkout session: %w", sErr)
	}

	// Step 5: last resort.
	return p.createEmergencyOrder(ctx, event)
}

func (p *Processor) createAndCommitFromSnapshot(
	ctx context.Context,
	event model.GatewayEvent,
	paymentInfo ordercommit.PaymentInfo,
	sessionID string,
	items []model.LineItem,
	totals model.Totals,
	userInfo model.UserInfo,
	shippingInfo model.ShippingInfo,
) (string, error) {
	gatewayTxnID := event.GatewayTxnID
	order := &model.Order{
		OrderID:           idgen.NewOrderID(),
		GatewayTxnID:      &gatewayTxnID,
		CheckoutSessionID: &sessionID,
		Status:            model.OrderDraft,
		PaymentStatus:     model.PaymentPending,
		CartItems:         items,
		Totals:            totals,
		UserInfo:          userInfo,
		ShippingInfo:      shippingInfo,
		StockReserved:     true,
		DraftCreatedAt:    time.Now(),
	}

	if err := p.orders.Insert(ctx, order); err != nil {
		if errors.Is(err, checkout.ErrConflict) {
			// Another delivery of the same webhook (or a concurrent
			// reconciliation pass) already synthesized this order.
			existing, lookupErr := p.orders.GetByGatewayTxnIDAny(ctx, gatewayTxnID)
			if lookupErr != nil {
				return "", fmt.Errorf("lookup order after conflict: %w", lookupErr)
			}
			if existing.AlreadyCommitted() {
				return ResultAlreadyProcessed, nil
			}
			order = existing
		} else {
			return "", fmt.Errorf("insert synthesized draft order: %w", err)
		}
	}

	if _, err := p.commit.Commit(ctx, order.OrderID, paymentInfo); err != nil {
		if errors.Is(err, ordercommit.ErrAlreadyCommitted) {
			return ResultAlreadyProcessed, nil
		}
		return "", fmt.Errorf("commit synthesized order %s: %w", order.OrderID, err)
	}
	return ResultConfirmed, nil
}

// createEmergencyOrder is permitted only when every guard in spec §4.7
// passes: signature already verified by intake before this is ever
// called, state indicates success (checked by the caller dispatch),
// amount > 0, and amount <= the configured sanity ceiling.
func (p *Processor) createEmergencyOrder(ctx context.Context, event model.GatewayEvent) (string, error) {
	if event.AmountMinor <= 0 || event.AmountMinor > p.emergencyCfg.AmountCeilingMinor {
		return "", ErrEmergencyGuardFailed
	}

	gatewayTxnID := event.GatewayTxnID
	amount := money.FromMinorUnits(event.AmountMinor)
	order := &model.Order{
		OrderID:                  idgen.NewOrderID(),
		GatewayTxnID:             &gatewayTxnID,
		Status:                   model.OrderConfirmed,
		PaymentStatus:            model.PaymentPaid,
		CartItems:                nil,
		Totals:                   model.Totals{Total: amount},
		StockReserved:            false,
		StockConfirmed:           false,
		DraftCreatedAt:           time.Now(),
		RequiresManualProcessing: true,
	}
	now := time.Now()
	order.ConfirmedAt = &now
	order.PaidAt = &now

	if err := p.orders.Insert(ctx, order); err != nil {
		if errors.Is(err, checkout.ErrConflict) {
			return ResultAlreadyProcessed, nil
		}
		return "", fmt.Errorf("insert emergency order: %w", err)
	}

	log.Error().Str("gateway_txn_id", event.GatewayTxnID).Int64("amount_minor", event.AmountMinor).
		Msg("emergency order created: no matching order/session for successful payment")
	p.alerts.Critical(ctx, "emergency_order_created", map[string]any{
		"gatewayTxnId": event.GatewayTxnID,
		"amountMinor":  event.AmountMinor,
		"orderId":      order.OrderID,
	})
	return ResultEmergencyCreated, nil
}

func (p *Processor) processFailure(ctx context.Context, event model.GatewayEvent) (string, error) {
	order, err := p.orders.GetByGatewayTxnIDAny(ctx, event.GatewayTxnID)
	if err != nil {
		if errors.Is(err, checkout.ErrOrderNotFound) {
			log.Info().Str("gateway_txn_id", event.GatewayTxnID).Msg("payment failure for unknown order, ignoring")
			return ResultIgnored, nil
		}
		return "", fmt.Errorf("lookup order for failure event: %w", err)
	}

	if !order.Status.IsDraftLike() {
		return ResultIgnored, nil
	}

	if err := p.orders.MarkCancelled(ctx, order.OrderID, "payment failed at gateway", time.Now()); err != nil {
		return "", fmt.Errorf("cancel order %s: %w", order.OrderID, err)
	}

	if order.CheckoutSessionID != nil {
		if err := p.ledger.ReleaseBySession(ctx, *order.CheckoutSessionID); err != nil {
			log.Error().Err(err).Str("order_id", order.OrderID).Msg("failed to release reservation after payment failure")
		}
	}

	return ResultCancelled, nil
}

package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fairyhunter13/checkout-payment-core/internal/idgen"
	"github.com/fairyhunter13/checkout-payment-core/internal/model"
)

// SessionGetter is the subset of SessionService the DraftOrderService needs.
type SessionGetter interface {
	Get(ctx context.Context, sessionID string) (*model.CheckoutSession, error)
	MarkAwaitingPayment(ctx context.Context, sessionID string) error
	SetGatewayTxnID(ctx context.Context, sessionID, gatewayTxnID string) error
}

// PaymentSessionsInserter is the subset of PaymentSessionRepository the
// DraftOrderService needs to capture a crash-recovery snapshot.
type PaymentSessionsInserter interface {
	Insert(ctx context.Context, ps *model.PaymentSession) error
}

// DraftOrderService implements C4: idempotent DraftOrder creation bound to
// a checkout session, with the ownership transfer from session to order
// (spec §4.3/§4.4).
type DraftOrderService struct {
	orders          *OrderRepository
	session         SessionGetter
	paymentSessions PaymentSessionsInserter
}

// NewDraftOrderService wires a DraftOrderService.
func NewDraftOrderService(orders *OrderRepository, session SessionGetter, paymentSessions PaymentSessionsInserter) *DraftOrderService {
	return &DraftOrderService{orders: orders, session: session, paymentSessions: paymentSessions}
}

// InitiateInput is the validated payment-initiate request (spec §6
// "POST /payment/initiate").
type InitiateInput struct {
	SessionID      string
	IdempotencyKey string
	GatewayTxnID   string
}

// Initiate creates (or returns the existing) DraftOrder for the given
// idempotency key, binding it to the checkout session's cart snapshot.
// Contract (spec §4.4):
//  1. a non-cancelled order already exists for idempotencyKey -> return it.
//  2. otherwise create DRAFT/PENDING with stockReserved=true,
//     stockConfirmed=false, draftCreatedAt=now.
//  3. a unique-key race on any of the three sparse indexes resolves to the
//     existing winner rather than propagating as an error.
func (s *DraftOrderService) Initiate(ctx context.Context, in InitiateInput) (*model.Order, error) {
	if in.IdempotencyKey == "" {
		return nil, ErrMissingIdempotencyKey
	}

	if existing, err := s.orders.GetByIdempotencyKey(ctx, in.IdempotencyKey); err == nil {
		if existing.Status != model.OrderCancelled {
			return existing, nil
		}
	} else if !errors.Is(err, ErrOrderNotFound) {
		return nil, fmt.Errorf("lookup order by idempotency key: %w", err)
	}

	sess, err := s.session.Get(ctx, in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("lookup checkout session: %w", err)
	}
	if len(sess.Items) == 0 {
		return nil, ErrEmptyCart
	}

	now := time.Now()
	sessionID := in.SessionID

	// Write the crash-recovery snapshot before the DraftOrder row itself:
	// if the order insert below fails after these succeed, a webhook that
	// later arrives for in.GatewayTxnID can still resolve the cart via the
	// PaymentSession row or, failing that, the session's own gateway txn
	// id (§4.7 steps 3/4).
	if in.GatewayTxnID != "" {
		if err := s.session.SetGatewayTxnID(ctx, in.SessionID, in.GatewayTxnID); err != nil {
			return nil, fmt.Errorf("record session gateway txn id: %w", err)
		}
		snapshot := &model.PaymentSession{
			GatewayTxnID:      in.GatewayTxnID,
			CheckoutSessionID: in.SessionID,
			CartItems:         sess.Items,
			Totals:            sess.Totals,
			UserInfo:          model.UserInfo{Email: sess.UserEmail},
			ShippingInfo:      sess.ShippingInfo,
			CreatedAt:         now,
		}
		if err := s.paymentSessions.Insert(ctx, snapshot); err != nil {
			return nil, fmt.Errorf("insert payment session snapshot: %w", err)
		}
	}

	order := &model.Order{
		OrderID:           idgen.NewOrderID(),
		GatewayTxnID:      stringPtrOrNil(in.GatewayTxnID),
		CheckoutSessionID: &sessionID,
		IdempotencyKey:    &in.IdempotencyKey,
		Status:            model.OrderDraft,
		PaymentStatus:     model.PaymentPending,
		CartItems:         sess.Items,
		Totals:            sess.Totals,
		UserInfo:          model.UserInfo{Email: sess.UserEmail},
		ShippingInfo:      sess.ShippingInfo,
		StockReserved:     true,
		StockConfirmed:    false,
		DraftCreatedAt:    now,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		if errors.Is(err, ErrConflict) {
			// Lost a race on one of the three sparse unique indexes; the
			// winner is the authoritative order (spec §4.4 failure modes).
			winner, lookupErr := s.orders.GetByIdempotencyKey(ctx, in.IdempotencyKey)
			if lookupErr == nil {
				return winner, nil
			}
			if bySession, sessErr := s.orders.GetByCheckoutSessionID(ctx, in.SessionID); sessErr == nil {
				return bySession, nil
			}
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("insert draft order: %w", err)
	}

	if err := s.session.MarkAwaitingPayment(ctx, in.SessionID); err != nil {
		return nil, fmt.Errorf("mark session awaiting payment: %w", err)
	}

	return order, nil
}

// GetByID looks up an order by its order id.
func (s *DraftOrderService) GetByID(ctx context.Context, orderID string) (*model.Order, error) {
	return s.orders.GetByID(ctx, orderID)
}

// GetByGatewayTxnID looks up an order by gateway transaction id for the
// redirect-callback endpoint; emergency orders are excluded (see
// OrderRepository.GetByGatewayTxnID).
func (s *DraftOrderService) GetByGatewayTxnID(ctx context.Context, txnID string) (*model.Order, error) {
	return s.orders.GetByGatewayTxnID(ctx, txnID)
}

func stringPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

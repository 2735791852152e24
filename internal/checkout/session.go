package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/fairyhunter13/checkout-payment-core/internal/idgen"
	"github.com/fairyhunter13/checkout-payment-core/internal/model"
)

// LedgerInterface is the subset of reservation.Ledger the session service
// depends on.
type LedgerInterface interface {
	Create(ctx context.Context, sessionID string, items []model.LineItem, ttl time.Duration) (*model.Reservation, error)
}

// PriceLookup is the catalog.PriceLookup shape, duplicated here as a
// narrow interface so this package doesn't import internal/catalog just
// for one method signature.
type PriceLookup interface {
	Available(ctx context.Context, productID, size string, qty int) (bool, error)
}

// SessionService implements C3: it builds an immutable CheckoutSession
// snapshot and reserves stock for it via the Reservation Ledger (C2) in
// the same logical operation, so a session is never persisted without a
// matching stock hold (or vice versa).
type SessionService struct {
	repo          *SessionRepository
	ledger        LedgerInterface
	catalog       PriceLookup
	ttl           time.Duration
	paymentWindow time.Duration
}

// NewSessionService wires a SessionService.
func NewSessionService(repo *SessionRepository, ledger LedgerInterface, catalog PriceLookup, ttl, paymentWindow time.Duration) *SessionService {
	return &SessionService{repo: repo, ledger: ledger, catalog: catalog, ttl: ttl, paymentWindow: paymentWindow}
}

// CreateInput is the validated request for starting a checkout session.
type CreateInput struct {
	UserEmail    string
	Items        []model.LineItem
	ShippingCost string
	ShippingInfo model.ShippingInfo
	Source       model.CheckoutSessionSource
}

// Create reserves stock for every line item and persists the session
// snapshot (spec §4.3). Reservation failure (out of stock) aborts before
// any session row is written.
func (s *SessionService) Create(ctx context.Context, in CreateInput) (*model.CheckoutSession, error) {
	if len(in.Items) == 0 {
		return nil, ErrEmptyCart
	}

	if s.catalog != nil {
		for _, item := range in.Items {
			ok, err := s.catalog.Available(ctx, item.ProductID, item.Size, item.Quantity)
			if err != nil {
				return nil, fmt.Errorf("validate live availability: %w", err)
			}
			if !ok {
				return nil, ErrStaleSnapshot
			}
		}
	}

	sessionID := idgen.NewUUID()
	if _, err := s.ledger.Create(ctx, sessionID, in.Items, s.ttl); err != nil {
		return nil, fmt.Errorf("reserve stock for session: %w", err)
	}

	now := time.Now()
	subtotal := model.SumLineItems(in.Items)
	session := &model.CheckoutSession{
		SessionID:    sessionID,
		UserEmail:    in.UserEmail,
		Items:        in.Items,
		ShippingInfo: in.ShippingInfo,
		Status:       model.SessionPending,
		StockReserved: true,
		ExpiresAt:    now.Add(s.ttl),
		TimeoutAt:    now.Add(s.paymentWindow),
		Source:       in.Source,
		CreatedAt:    now,
	}
	session.Totals.Subtotal = subtotal
	session.Totals.Total = subtotal.Add(session.Totals.ShippingCost)

	if err := s.repo.Insert(ctx, session); err != nil {
		return nil, fmt.Errorf("insert checkout session: %w", err)
	}
	return session, nil
}

// Get loads a session by id.
func (s *SessionService) Get(ctx context.Context, sessionID string) (*model.CheckoutSession, error) {
	return s.repo.Get(ctx, sessionID)
}

// MarkAwaitingPayment transitions a session once a DraftOrder references
// it (spec §4.3 ownership transfer begins here).
func (s *SessionService) MarkAwaitingPayment(ctx context.Context, sessionID string) error {
	return s.repo.UpdateStatus(ctx, sessionID, model.SessionAwaitingPayment)
}

// SetGatewayTxnID records the gateway transaction id payment was initiated
// against for this session.
func (s *SessionService) SetGatewayTxnID(ctx context.Context, sessionID, gatewayTxnID string) error {
	return s.repo.SetGatewayTxnID(ctx, sessionID, gatewayTxnID)
}

package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/checkout-payment-core/internal/checkout"
	"github.com/fairyhunter13/checkout-payment-core/internal/config"
	"github.com/fairyhunter13/checkout-payment-core/internal/model"
	"github.com/fairyhunter13/checkout-payment-core/internal/ordercommit"
)

type fakeOrders struct {
	byTxn     map[string]*model.Order
	inserted  []*model.Order
	insertErr error
	cancelled []string
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{byTxn: map[string]*model.Order{}}
}

func (f *fakeOrders) Insert(ctx context.Context, o *model.Order) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	if o.GatewayTxnID != nil {
		if _, exists := f.byTxn[*o.GatewayTxnID]; exists {
			return checkout.ErrConflict
		}
		f.byTxn[*o.GatewayTxnID] = o
	}
	f.inserted = append(f.inserted, o)
	return nil
}

func (f *fakeOrders) GetByGatewayTxnIDAny(ctx context.Context, txnID string) (*model.Order, error) {
	o, ok := f.byTxn[txnID]
	if !ok {
		return nil, checkout.ErrOrderNotFound
	}
	return o, nil
}

func (f *fakeOrders) MarkCancelled(ctx context.Context, orderID, reason string, now time.Time) error {
	f.cancelled = append(f.cancelled, orderID)
	for _, o := range f.byTxn {
		if o.OrderID == orderID {
			o.Status = model.OrderCancelled
		}
	}
	return nil
}

type fakePaymentSessions struct {
	byTxn map[string]*model.PaymentSession
}

func (f *fakePaymentSessions) GetByGatewayTxnID(ctx context.Context, txnID string) (*model.PaymentSession, error) {
	ps, ok := f.byTxn[txnID]
	if !ok {
		return nil, checkout.ErrPaymentSessionNotFound
	}
	return ps, nil
}

type fakeSessions struct {
	byID map[string]*model.CheckoutSession
}

func (f *fakeSessions) GetByGatewayTxnID(ctx context.Context, txnID string) (*model.CheckoutSession, error) {
	s, ok := f.byID[txnID]
	if !ok {
		return nil, checkout.ErrSessionNotFound
	}
	return s, nil
}

type fakeCommitter struct {
	committed []string
	err       error
}

func (f *fakeCommitter) Commit(ctx context.Context, orderID string, info ordercommit.PaymentInfo) (*model.Order, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.committed = append(f.committed, orderID)
	return &model.Order{OrderID: orderID, PaymentStatus: model.PaymentPaid}, nil
}

type fakeLedger struct {
	released []string
}

func (f *fakeLedger) ReleaseBySession(ctx context.Context, sessionID string) error {
	f.released = append(f.released, sessionID)
	return nil
}

type fakeAlerts struct {
	events []string
}

func (f *fakeAlerts) Critical(ctx context.Context, event string, fields map[string]any) {
	f.events = append(f.events, event)
}

func newTestProcessor(orders *fakeOrders, ps *fakePaymentSessions, sess *fakeSessions, committer *fakeCommitter, ledger *fakeLedger, alerts *fakeAlerts) *Processor {
	return NewProcessor(orders, ps, sess, committer, ledger, config.EmergencyConfig{AmountCeilingMinor: 1_000_000}, alerts)
}

func TestProcessor_Success_ConfirmsExistingDraft(t *testing.T) {
	orders := newFakeOrders()
	gatewayTxnID := "txn-1"
	orders.byTxn["txn-1"] = &model.Order{OrderID: "ORD-1", GatewayTxnID: &gatewayTxnID, Status: model.OrderDraft, PaymentStatus: model.PaymentPending}
	committer := &fakeCommitter{}
	p := newTestProcessor(orders, &fakePaymentSessions{byTxn: map[string]*model.PaymentSession{}}, &fakeSessions{byID: map[string]*model.CheckoutSession{}}, committer, &fakeLedger{}, &fakeAlerts{})

	result, err := p.Process(context.Background(), model.GatewayEvent{GatewayTxnID: "txn-1", State: model.GatewayStateSuccess, AmountMinor: 500})
	require.NoError(t, err)
	assert.Equal(t, ResultConfirmed, result)
	assert.Equal(t, []string{"ORD-1"}, committer.committed)
}

func TestProcessor_Success_AlreadyCommittedIsIdempotent(t *testing.T) {
	orders := newFakeOrders()
	gatewayTxnID := "txn-1"
	orders.byTxn["txn-1"] = &model.Order{OrderID: "ORD-1", GatewayTxnID: &gatewayTxnID, Status: model.OrderConfirmed, PaymentStatus: model.PaymentPaid}
	committer := &fakeCommitter{}
	p := newTestProcessor(orders, &fakePaymentSessions{byTxn: map[string]*model.PaymentSession{}}, &fakeSessions{byID: map[string]*model.CheckoutSession{}}, committer, &fakeLedger{}, &fakeAlerts{})

	result, err := p.Process(context.Background(), model.GatewayEvent{GatewayTxnID: "txn-1", State: model.GatewayStateSuccess, AmountMinor: 500})
	require.NoError(t, err)
	assert.Equal(t, ResultAlreadyProcessed, result)
	assert.Empty(t, committer.committed)
}

func TestProcessor_Success_CreatesFromPaymentSession(t *testing.T) {
	orders := newFakeOrders()
	ps := &fakePaymentSessions{byTxn: map[string]*model.PaymentSession{
		"txn-2": {GatewayTxnID: "txn-2", CheckoutSessionID: "sess-2", CartItems: []model.LineItem{{ProductID: "SKU1", Size: "M", Quantity: 1}}},
	}}
	committer := &fakeCommitter{}
	p := newTestProcessor(orders, ps, &fakeSessions{byID: map[string]*model.CheckoutSession{}}, committer, &fakeLedger{}, &fakeAlerts{})

	result, err := p.Process(context.Background(), model.GatewayEvent{GatewayTxnID: "txn-2", State: model.GatewayStateSuccess, AmountMinor: 500})
	require.NoError(t, err)
	assert.Equal(t, ResultConfirmed, result)
	require.Len(t, orders.inserted, 1)
	assert.Equal(t, "sess-2", *orders.inserted[0].CheckoutSessionID)
}

func TestProcessor_Success_CreatesFromCheckoutSession(t *testing.T) {
	orders := newFakeOrders()
	sessions := &fakeSessions{byID: map[string]*model.CheckoutSession{
		"txn-3": {SessionID: "txn-3", UserEmail: "a@b.com", Items: []model.LineItem{{ProductID: "SKU1", Size: "M", Quantity: 1}}},
	}}
	committer := &fakeCommitter{}
	p := newTestProcessor(orders, &fakePaymentSessions{byTxn: map[string]*model.PaymentSession{}}, sessions, committer, &fakeLedger{}, &fakeAlerts{})

	result, err := p.Process(context.Background(), model.GatewayEvent{GatewayTxnID: "txn-3", State: model.GatewayStateSuccess, AmountMinor: 500})
	require.NoError(t, err)
	assert.Equal(t, ResultConfirmed, result)
	require.Len(t, orders.inserted, 1)
}

func TestProcessor_Success_EmergencyOrderWithinCeiling(t *testing.T) {
	orders := newFakeOrders()
	alerts := &fakeAlerts{}
	p := newTestProcessor(orders, &fakePaymentSessions{byTxn: map[string]*model.PaymentSession{}}, &fakeSessions{byID: map[string]*model.CheckoutSession{}}, &fakeCommitter{}, &fakeLedger{}, alerts)

	result, err := p.Process(context.Background(), model.GatewayEvent{GatewayTxnID: "txn-4", State: model.GatewayStateSuccess, AmountMinor: 999})
	require.NoError(t, err)
	assert.Equal(t, ResultEmergencyCreated, result)
	require.Len(t, orders.inserted, 1)
	assert.True(t, orders.inserted[0].RequiresManualProcessing)
	assert.Equal(t, []string{"emergency_order_created"}, alerts.events)
}

func TestProcessor_Success_EmergencyOrderOverCeilingFails(t *testing.T) {
	orders := newFakeOrders()
	p := newTestProcessor(orders, &fakePaymentSessions{byTxn: map[string]*model.PaymentSession{}}, &fakeSessions{byID: map[string]*model.CheckoutSession{}}, &fakeCommitter{}, &fakeLedger{}, &fakeAlerts{})

	_, err := p.Process(context.Background(), model.GatewayEvent{GatewayTxnID: "txn-5", State: model.GatewayStateSuccess, AmountMinor: 5_000_000})
	assert.ErrorIs(t, err, ErrEmergencyGuardFailed)
	assert.Empty(t, orders.inserted)
}

func TestProcessor_Failure_CancelsDraftAndReleasesReservation(t *testing.T) {
	orders := newFakeOrders()
	gatewayTxnID := "txn-6"
	sessionID := "sess-6"
	orders.byTxn["txn-6"] = &model.Order{OrderID: "ORD-6", GatewayTxnID: &gatewayTxnID, CheckoutSessionID: &sessionID, Status: model.OrderDraft, PaymentStatus: model.PaymentPending}
	ledger := &fakeLedger{}
	p := newTestProcessor(orders, &fakePaymentSessions{byTxn: map[string]*model.PaymentSession{}}, &fakeSessions{byID: map[string]*model.CheckoutSession{}}, &fakeCommitter{}, ledger, &fakeAlerts{})

	result, err := p.Process(context.Background(), model.GatewayEvent{GatewayTxnID: "txn-6", State: model.GatewayStateFailure})
	require.NoError(t, err)
	assert.Equal(t, ResultCancelled, result)
	assert.Equal(t, []string{"ORD-6"}, orders.cancelled)
	assert.Equal(t, []string{"sess-6"}, ledger.released)
}

func TestProcessor_Failure_UnknownOrderIgnored(t *testing.T) {
	orders := newFakeOrders()
	p := newTestProcessor(orders, &fakePaymentSessions{byTxn: map[string]*model.PaymentSession{}}, &fakeSessions{byID: map[string]*model.CheckoutSession{}}, &fakeCommitter{}, &fakeLedger{}, &fakeAlerts{})

	result, err := p.Process(context.Background(), model.GatewayEvent{GatewayTxnID: "txn-ghost", State: model.GatewayStateFailure})
	require.NoError(t, err)
	assert.Equal(t, ResultIgnored, result)
}

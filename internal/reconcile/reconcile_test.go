package reconcile

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/checkout-payment-core/internal/checkout"
	"github.com/fairyhunter13/checkout-payment-core/internal/config"
	"github.com/fairyhunter13/checkout-payment-core/internal/model"
)

type fakeGateway struct {
	byTxn map[string]model.GatewayStatus
}

func (f *fakeGateway) GetStatus(ctx context.Context, gatewayTxnID string) (model.GatewayStatus, error) {
	status, ok := f.byTxn[gatewayTxnID]
	if !ok {
		return model.GatewayStatus{State: model.GatewayStateIgnored}, nil
	}
	return status, nil
}

type fakeOrders struct {
	stuckDrafts []model.Order
	byTxn       map[string]*model.Order
}

func (f *fakeOrders) ListStuckDrafts(ctx context.Context, olderThan, windowStart time.Time, limit int) ([]model.Order, error) {
	return f.stuckDrafts, nil
}

func (f *fakeOrders) GetByGatewayTxnIDAny(ctx context.Context, txnID string) (*model.Order, error) {
	o, ok := f.byTxn[txnID]
	if !ok {
		return nil, checkout.ErrOrderNotFound
	}
	return o, nil
}

type fakeWebhooks struct {
	processed []model.RawWebhook
}

func (f *fakeWebhooks) ListProcessedInWindow(ctx context.Context, since time.Time, limit int) ([]model.RawWebhook, error) {
	return f.processed, nil
}

type fakeProcessor struct {
	calls []model.GatewayEvent
}

func (f *fakeProcessor) Process(ctx context.Context, event model.GatewayEvent) (string, error) {
	f.calls = append(f.calls, event)
	return "confirmed", nil
}

func testReconcileCfg() config.ReconcileConfig {
	return config.ReconcileConfig{IntervalSeconds: 300, WindowHours: 24}
}

func strPtr(s string) *string { return &s }

func TestWorker_ResolvesStuckDraftViaGatewayStatus(t *testing.T) {
	gateway := &fakeGateway{byTxn: map[string]model.GatewayStatus{
		"txn-1": {State: model.GatewayStateSuccess, AmountMinor: 1000},
	}}
	orders := &fakeOrders{
		stuckDrafts: []model.Order{{OrderID: "order-1", GatewayTxnID: strPtr("txn-1")}},
		byTxn:       map[string]*model.Order{},
	}
	webhooks := &fakeWebhooks{}
	processor := &fakeProcessor{}

	w := NewWorker(gateway, orders, webhooks, processor, testReconcileCfg())
	result, err := w.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.DraftsChecked)
	assert.Equal(t, 1, result.DraftsResolved)
	require.Len(t, processor.calls, 1)
	assert.Equal(t, "txn-1", processor.calls[0].GatewayTxnID)
}

func TestWorker_LeavesDraftAloneWhenGatewayStillUndecided(t *testing.T) {
	gateway := &fakeGateway{byTxn: map[string]model.GatewayStatus{}}
	orders := &fakeOrders{
		stuckDrafts: []model.Order{{OrderID: "order-2", GatewayTxnID: strPtr("txn-2")}},
		byTxn:       map[string]*model.Order{},
	}
	webhooks := &fakeWebhooks{}
	processor := &fakeProcessor{}

	w := NewWorker(gateway, orders, webhooks, processor, testReconcileCfg())
	result, err := w.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.DraftsChecked)
	assert.Equal(t, 0, result.DraftsResolved)
	assert.Empty(t, processor.calls)
}

func TestWorker_RecoversOrphanPayment(t *testing.T) {
	body, err := json.Marshal(map[string]any{"event": "payment.update", "orderId": "txn-3", "state": "COMPLETED", "amount": 500})
	require.NoError(t, err)

	gateway := &fakeGateway{}
	orders := &fakeOrders{byTxn: map[string]*model.Order{}}
	webhooks := &fakeWebhooks{processed: []model.RawWebhook{
		{ID: "wh-1", OrderID: "txn-3", RawBody: body, Processed: true},
	}}
	processor := &fakeProcessor{}

	w := NewWorker(gateway, orders, webhooks, processor, testReconcileCfg())
	result, err := w.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.OrphansChecked)
	assert.Equal(t, 1, result.OrphansRecovered)
	require.Len(t, processor.calls, 1)
	assert.Equal(t, "txn-3", processor.calls[0].GatewayTxnID)
}

func TestWorker_SkipsOrphanAlreadyResolvedToOrder(t *testing.T) {
	body, _ := json.Marshal(map[string]any{"event": "payment.update", "orderId": "txn-4", "state": "COMPLETED", "amount": 500})

	gateway := &fakeGateway{}
	orders := &fakeOrders{byTxn: map[string]*model.Order{"txn-4": {OrderID: "order-4"}}}
	webhooks := &fakeWebhooks{processed: []model.RawWebhook{
		{ID: "wh-2", OrderID: "txn-4", RawBody: body, Processed: true},
	}}
	processor := &fakeProcessor{}

	w := NewWorker(gateway, orders, webhooks, processor, testReconcileCfg())
	result, err := w.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.OrphansChecked)
	assert.Equal(t, 0, result.OrphansRecovered)
	assert.Empty(t, processor.calls)
}

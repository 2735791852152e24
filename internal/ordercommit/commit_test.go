package ordercommit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/checkout-payment-core/internal/model"
	"github.com/fairyhunter13/checkout-payment-core/internal/stock"
)

type fakeTx struct {
	pgx.Tx
	querier *fakeQuerier
}

func (f *fakeTx) Commit(ctx context.Context) error   { return nil }
func (f *fakeTx) Rollback(ctx context.Context) error { return nil }
func (f *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return f.querier.Exec(ctx, sql, args...)
}
func (f *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return f.querier.QueryRow(ctx, sql, args...)
}
func (f *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return f.querier.Query(ctx, sql, args...)
}

type fakeQuerier struct {
	queryRowFn func(ctx context.Context, sql string, args ...any) pgx.Row
	execFn     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (q *fakeQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if q.execFn != nil {
		return q.execFn(ctx, sql, args...)
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}
func (q *fakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if q.queryRowFn != nil {
		return q.queryRowFn(ctx, sql, args...)
	}
	return &fakeRow{}
}
func (q *fakeQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}

type fakeRow struct {
	scanFn func(dest ...any) error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return nil
}

type fakeBeginner struct {
	querier *fakeQuerier
}

func (b *fakeBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	return &fakeTx{querier: b.querier}, nil
}

type fakeOrderRepo struct {
	order             *model.Order
	confirmed         bool
	pendingReviewErr  error
	pendingReviewHit  bool
}

func (f *fakeOrderRepo) GetByIDForUpdate(ctx context.Context, orderID string) (*model.Order, error) {
	if f.order == nil {
		return nil, ErrOrderNotFound
	}
	cp := *f.order
	return &cp, nil
}

func (f *fakeOrderRepo) MarkConfirmed(ctx context.Context, orderID string, results []model.StockResult, providerPayload json.RawMessage, now time.Time) error {
	f.confirmed = true
	return nil
}

func (f *fakeOrderRepo) MarkPendingReview(ctx context.Context, orderID, reason string) error {
	f.pendingReviewHit = true
	return f.pendingReviewErr
}

func (f *fakeOrderRepo) reset() {}

type nopAlertSink struct{ hits int }

func (n *nopAlertSink) Critical(ctx context.Context, event string, fields map[string]any) {
	n.hits++
}

func TestCommit_Success(t *testing.T) {
	order := &model.Order{
		OrderID: "ORD-1", Status: model.OrderDraft, PaymentStatus: model.PaymentPending,
		CartItems: []model.LineItem{{ProductID: "SKU1", Size: "M", Quantity: 2}},
	}
	repo := &fakeOrderRepo{order: order}
	q := &fakeQuerier{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return &fakeRow{scanFn: func(dest ...any) error {
				*(dest[0].(*int)) = 0
				return nil
			}}
		},
	}
	st := stock.NewStore(q)
	alerts := &nopAlertSink{}
	svc := NewServiceForTest(&fakeBeginner{querier: q}, repo, st, alerts, func(tx pgx.Tx) OrderRepositoryInterface { return repo })

	result, err := svc.Commit(context.Background(), "ORD-1", PaymentInfo{GatewayTxnID: "T1", AmountMinor: 200})
	require.NoError(t, err)
	assert.Equal(t, model.OrderConfirmed, result.Status)
	assert.Equal(t, model.PaymentPaid, result.PaymentStatus)
	assert.True(t, repo.confirmed)
	assert.Equal(t, 0, alerts.hits)
}

func TestCommit_AlreadyCommitted(t *testing.T) {
	order := &model.Order{OrderID: "ORD-2", Status: model.OrderConfirmed, PaymentStatus: model.PaymentPaid}
	repo := &fakeOrderRepo{order: order}
	q := &fakeQuerier{}
	st := stock.NewStore(q)
	svc := NewServiceForTest(&fakeBeginner{querier: q}, repo, st, &nopAlertSink{}, func(tx pgx.Tx) OrderRepositoryInterface { return repo })

	_, err := svc.Commit(context.Background(), "ORD-2", PaymentInfo{})
	assert.ErrorIs(t, err, ErrAlreadyCommitted)
}

func TestCommit_EmptyCartGoesToPendingReview(t *testing.T) {
	order := &model.Order{OrderID: "ORD-3", Status: model.OrderDraft, PaymentStatus: model.PaymentPending}
	repo := &fakeOrderRepo{order: order}
	q := &fakeQuerier{}
	st := stock.NewStore(q)
	alerts := &nopAlertSink{}
	svc := NewServiceForTest(&fakeBeginner{querier: q}, repo, st, alerts, func(tx pgx.Tx) OrderRepositoryInterface { return repo })

	_, err := svc.Commit(context.Background(), "ORD-3", PaymentInfo{})
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.True(t, repo.pendingReviewHit)
	assert.Equal(t, 1, alerts.hits)
}

func TestCommit_PartialFailureRollsBackAndReviews(t *testing.T) {
	order := &model.Order{
		OrderID: "ORD-4", Status: model.OrderDraft, PaymentStatus: model.PaymentPending,
		CartItems: []model.LineItem{
			{ProductID: "SKU1", Size: "M", Quantity: 1},
			{ProductID: "SKU2", Size: "L", Quantity: 1},
		},
	}
	repo := &fakeOrderRepo{order: order}
	calls := 0
	var rollbackSQL string
	q := &fakeQuerier{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			calls++
			if calls == 1 {
				return &fakeRow{scanFn: func(dest ...any) error {
					*(dest[0].(*int)) = 0
					return nil
				}}
			}
			return &fakeRow{scanFn: func(dest ...any) error { return pgx.ErrNoRows }}
		},
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			rollbackSQL = sql
			return pgconn.NewCommandTag("UPDATE 1"), nil
		},
	}
	st := stock.NewStore(q)
	alerts := &nopAlertSink{}
	svc := NewServiceForTest(&fakeBeginner{querier: q}, repo, st, alerts, func(tx pgx.Tx) OrderRepositoryInterface { return repo })

	_, err := svc.Commit(context.Background(), "ORD-4", PaymentInfo{})
	assert.ErrorIs(t, err, ErrPendingReview)
	assert.True(t, repo.pendingReviewHit)
	assert.False(t, repo.confirmed)
	assert.Contains(t, rollbackSQL, "stock = stock + $1")
	assert.Equal(t, 1, alerts.hits)
}

func TestCommit_RecoversLegacyProductIDFromRawCartItems(t *testing.T) {
	order := &model.Order{
		OrderID: "ORD-5", Status: model.OrderDraft, PaymentStatus: model.PaymentPending,
		CartItems:    []model.LineItem{{Size: "M", Quantity: 1}},
		CartItemsRaw: json.RawMessage(`[{"sku":"LEGACY-SKU","size":"M","quantity":1}]`),
	}
	repo := &fakeOrderRepo{order: order}
	var confirmedProductID string
	q := &fakeQuerier{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			confirmedProductID = args[1].(string)
			return &fakeRow{scanFn: func(dest ...any) error {
				*(dest[0].(*int)) = 0
				return nil
			}}
		},
	}
	st := stock.NewStore(q)
	svc := NewServiceForTest(&fakeBeginner{querier: q}, repo, st, &nopAlertSink{}, func(tx pgx.Tx) OrderRepositoryInterface { return repo })

	result, err := svc.Commit(context.Background(), "ORD-5", PaymentInfo{GatewayTxnID: "T5", AmountMinor: 100})
	require.NoError(t, err)
	assert.Equal(t, model.OrderConfirmed, result.Status)
	assert.Equal(t, "LEGACY-SKU", confirmedProductID)
}

func TestResolveProductID_LegacyFields(t *testing.T) {
	raw := json.RawMessage(`{"sku":"ABC123","size":"M"}`)
	assert.Equal(t, "ABC123", ResolveProductID(raw))
}

func TestResolveProductID_PrefersCanonical(t *testing.T) {
	raw := json.RawMessage(`{"productId":"CANON","sku":"LEGACY"}`)
	assert.Equal(t, "CANON", ResolveProductID(raw))
}

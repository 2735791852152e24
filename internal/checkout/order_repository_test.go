package checkout

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fairyhunter13/checkout-payment-core/internal/model"
)

// fakeOrderRow implements pgx.Row over a captured scan function.
type fakeOrderRow struct {
	scanFn func(dest ...any) error
}

func (r *fakeOrderRow) Scan(dest ...any) error {
	return r.scanFn(dest...)
}

// fakeOrderQuerier is a minimal in-memory stand-in for database.TxQuerier
// that understands just enough of OrderRepository's SQL shapes to drive
// DraftOrderService unit tests without a real Postgres connection,
// following the teacher's mockPool-over-string-matching style in
// internal/repository/coupon_repository_test.go.
type fakeOrderQuerier struct {
	byIdempotencyKey map[string]*storedOrder
	bySession        map[string]*storedOrder
}

type storedOrder struct {
	orderID, status, paymentStatus string
}

func newFakeOrderQuerier() *fakeOrderQuerier {
	return &fakeOrderQuerier{
		byIdempotencyKey: map[string]*storedOrder{},
		bySession:        map[string]*storedOrder{},
	}
}

func (q *fakeOrderQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if strings.Contains(sql, "INSERT INTO orders") {
		idemKey, _ := args[3].(*string)
		sessionID, _ := args[2].(*string)
		so := &storedOrder{orderID: args[0].(string), status: "DRAFT", paymentStatus: "PENDING"}
		if idemKey != nil {
			q.byIdempotencyKey[*idemKey] = so
		}
		if sessionID != nil {
			q.bySession[*sessionID] = so
		}
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (q *fakeOrderQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	switch {
	case strings.Contains(sql, "WHERE idempotency_key = $1"):
		key := args[0].(string)
		if so, ok := q.byIdempotencyKey[key]; ok {
			return orderRow(so)
		}
		return &fakeOrderRow{scanFn: func(dest ...any) error { return pgx.ErrNoRows }}
	case strings.Contains(sql, "WHERE checkout_session_id = $1"):
		id := args[0].(string)
		if so, ok := q.bySession[id]; ok {
			return orderRow(so)
		}
		return &fakeOrderRow{scanFn: func(dest ...any) error { return pgx.ErrNoRows }}
	default:
		return &fakeOrderRow{scanFn: func(dest ...any) error { return pgx.ErrNoRows }}
	}
}

func (q *fakeOrderQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func orderRow(so *storedOrder) pgx.Row {
	return &fakeOrderRow{scanFn: func(dest ...any) error {
		*(dest[0].(*string)) = so.orderID
		if sp, ok := dest[4].(*model.OrderStatus); ok {
			*sp = model.OrderStatus(so.status)
		}
		// remaining fields are left zero-valued; these tests only assert
		// on status-derived behavior (existing order short-circuit).
		return nil
	}}
}

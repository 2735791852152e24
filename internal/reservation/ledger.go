// Package reservation implements the Reservation Ledger (C2): it keeps one
// row per session holding N line items and drives the matching
// internal/stock counters through the same transaction, so ledger state and
// ProductStock counters never drift apart (spec §4.2).
//
// Grounded on internal/service/coupon_service.go's ClaimCoupon transaction
// shape (Begin -> lock/act via repo methods taking a tx -> Commit, with a
// deferred Rollback-is-a-no-op-after-commit guard), adapted from
// "claim one coupon slot" to "reserve/confirm/release/expire a batch of
// line items against the stock store".
package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/checkout-payment-core/internal/idgen"
	"github.com/fairyhunter13/checkout-payment-core/internal/lock"
	"github.com/fairyhunter13/checkout-payment-core/internal/model"
	"github.com/fairyhunter13/checkout-payment-core/internal/stock"
)

// TxBeginner is implemented by *pgxpool.Pool; tests substitute a fake.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// RepositoryInterface is the persistence seam the Ledger depends on.
type RepositoryInterface interface {
	Insert(ctx context.Context, res *model.Reservation) error
	GetForUpdate(ctx context.Context, reservationID string) (*model.Reservation, error)
	UpdateStatus(ctx context.Context, reservationID string, status model.ReservationStatus) error
	ListExpiring(ctx context.Context, asOf time.Time, maxAge time.Duration) ([]model.Reservation, error)
	GetActiveBySession(ctx context.Context, sessionID string) (*model.Reservation, error)
}

// StoreInterface is the subset of internal/stock.Store the ledger drives.
type StoreInterface interface {
	WithTx(tx pgx.Tx) *stock.Store
}

// Ledger coordinates reservation rows with stock counters.
type Ledger struct {
	pool TxBeginner
	repo RepositoryInterface
	st   *stock.Store
	// newRepoWithTx builds a tx-scoped repository; production wiring binds
	// this to NewRepository, tests substitute a fake.
	newRepoWithTx func(tx pgx.Tx) RepositoryInterface
}

// NewLedger wires a Ledger against a real pgxpool.Pool and Postgres-backed
// repository/stock store.
func NewLedger(pool *pgxpool.Pool, repo RepositoryInterface, st *stock.Store) *Ledger {
	return &Ledger{
		pool: pool,
		repo: repo,
		st:   st,
		newRepoWithTx: func(tx pgx.Tx) RepositoryInterface {
			return NewRepository(tx)
		},
	}
}

// NewLedgerForTest allows tests to supply a fake TxBeginner/repo/tx-repo
// factory without a real Postgres connection.
func NewLedgerForTest(pool TxBeginner, repo RepositoryInterface, st *stock.Store, newRepoWithTx func(tx pgx.Tx) RepositoryInterface) *Ledger {
	return &Ledger{pool: pool, repo: repo, st: st, newRepoWithTx: newRepoWithTx}
}

// Create reserves stock for every line item and persists one reservation
// row spanning all of them. If any single item fails to reserve, the whole
// transaction rolls back and every prior Reserve in this call is undone
// with it (spec §4.2 "all-or-nothing").
func (l *Ledger) Create(ctx context.Context, sessionID string, items []model.LineItem, ttl time.Duration) (*model.Reservation, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("reservation: no line items")
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	txStore := l.st.WithTx(tx)
	for _, item := range items {
		identifier := item.ProductID + "|" + item.Size
		reserveErr := lock.WithAdvisoryXactLock(ctx, tx, "stock", identifier, func() error {
			res, rerr := txStore.Reserve(ctx, item.ProductID, item.Size, item.Quantity)
			if rerr != nil {
				return fmt.Errorf("reserve %s/%s: %w", item.ProductID, item.Size, rerr)
			}
			if !res.OK {
				return fmt.Errorf("reserve %s/%s: %s", item.ProductID, item.Size, res.Reason)
			}
			return nil
		})
		if reserveErr != nil {
			return nil, reserveErr
		}
	}

	now := time.Now()
	reservation := &model.Reservation{
		ReservationID: idgen.NewUUID(),
		SessionID:     sessionID,
		Items:         items,
		Status:        model.ReservationActive,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}

	txRepo := l.newRepoWithTx(tx)
	if err := txRepo.Insert(ctx, reservation); err != nil {
		return nil, fmt.Errorf("insert reservation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit reservation: %w", err)
	}

	return reservation, nil
}

// Confirm transitions an active reservation to confirmed without touching
// stock counters: the caller (Order Commit Service, C5) is responsible for
// calling stock.Confirm on the same items, since confirm-vs-reservation is
// an ownership transfer, not a ledger-internal operation (spec §4.5).
func (l *Ledger) Confirm(ctx context.Context, reservationID string) (*model.Reservation, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	txRepo := l.newRepoWithTx(tx)
	res, err := txRepo.GetForUpdate(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if !res.IsActive() {
		return nil, ErrNotActive
	}

	if err := txRepo.UpdateStatus(ctx, reservationID, model.ReservationConfirmed); err != nil {
		return nil, fmt.Errorf("confirm reservation: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit confirm: %w", err)
	}

	res.Status = model.ReservationConfirmed
	return res, nil
}

// Release undoes an active reservation's stock holds and marks it
// cancelled. Safe to call on an already-inactive reservation (no-op,
// returns ErrNotActive) so expiry/cancellation races degrade gracefully.
func (l *Ledger) Release(ctx context.Context, reservationID string) error {
	return l.transition(ctx, reservationID, model.ReservationCancelled)
}

// Expire behaves like Release but marks the reservation expired, for the
// Expiry Worker's (C10) time-based sweep rather than an explicit cancel.
func (l *Ledger) Expire(ctx context.Context, reservationID string) error {
	return l.transition(ctx, reservationID, model.ReservationExpired)
}

func (l *Ledger) transition(ctx context.Context, reservationID string, to model.ReservationStatus) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	txRepo := l.newRepoWithTx(tx)
	res, err := txRepo.GetForUpdate(ctx, reservationID)
	if err != nil {
		return err
	}
	if !res.IsActive() {
		return ErrNotActive
	}

	txStore := l.st.WithTx(tx)
	for _, item := range res.Items {
		if err := txStore.Release(ctx, item.ProductID, item.Size, item.Quantity); err != nil {
			return fmt.Errorf("release %s/%s: %w", item.ProductID, item.Size, err)
		}
	}

	if err := txRepo.UpdateStatus(ctx, reservationID, to); err != nil {
		return fmt.Errorf("update reservation status: %w", err)
	}

	return tx.Commit(ctx)
}

// ReleaseBySession releases the active reservation (if any) held by a
// checkout session. Used by the Webhook Processor on PAYMENT_FAILED (spec
// §4.7 "release all its stock reservations") — a session may have at most
// one active reservation per spec §3, so there is nothing to iterate.
// Returns nil if the session has no active reservation (already released
// or never reserved), so callers don't need a special case.
func (l *Ledger) ReleaseBySession(ctx context.Context, sessionID string) error {
	res, err := l.repo.GetActiveBySession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	return l.Release(ctx, res.ReservationID)
}

// ListExpiring exposes the repository's expiring-reservations query so
// callers that must apply extra policy before releasing (the Expiry
// Worker's ownership check, spec §4.3/§4.10) can decide per reservation
// rather than delegating straight to SweepExpired.
func (l *Ledger) ListExpiring(ctx context.Context, maxAge time.Duration) ([]model.Reservation, error) {
	return l.repo.ListExpiring(ctx, time.Now(), maxAge)
}

// SweepExpired finds reservations past their expiry (or the unconditional
// age backstop) and releases each one, logging failures without aborting
// the batch so one bad row cannot block the rest (spec §4.10).
func (l *Ledger) SweepExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	expiring, err := l.repo.ListExpiring(ctx, time.Now(), maxAge)
	if err != nil {
		return 0, fmt.Errorf("list expiring reservations: %w", err)
	}

	released := 0
	for _, res := range expiring {
		if err := l.Expire(ctx, res.ReservationID); err != nil {
			if errors.Is(err, ErrNotActive) {
				continue
			}
			log.Error().Err(err).Str("reservation_id", res.ReservationID).Msg("failed to expire reservation")
			continue
		}
		released++
	}
	return released, nil
}

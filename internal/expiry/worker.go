// Package expiry implements the Expiry Workers (C10): a periodic sweep
// that releases stale reservations and abandoned checkout sessions while
// respecting the ownership-transfer rule (spec §4.3/§4.10) — a reservation
// whose session has already been bound to a DraftOrder is never released
// here, only through the order's own lifecycle.
//
// Grounded on the teacher's scheduler-driven sweep shape (the same
// asynq.Scheduler cron registration reconcile.Worker uses) and on
// internal/reservation.Ledger's transactional Release/Expire primitives,
// which this package treats as mechanism: the worker owns policy (who is
// allowed to be released), the ledger owns the transactional mutation.
package expiry

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/checkout-payment-core/internal/checkout"
	"github.com/fairyhunter13/checkout-payment-core/internal/config"
	"github.com/fairyhunter13/checkout-payment-core/internal/model"
)

// maxReservationAge is the unconditional backstop age from spec §4.10
// ("age > 5 min regardless"), independent of the reservation's own TTL.
const maxReservationAge = 5 * time.Minute

// reservationBatchLimit bounds how many expiring reservations one run
// processes, mirroring reconcile.candidateBatchLimit's backlog-draining
// rationale.
const reservationBatchLimit = 200

// LedgerInterface is the subset of reservation.Ledger the worker depends on.
type LedgerInterface interface {
	ListExpiring(ctx context.Context, maxAge time.Duration) ([]model.Reservation, error)
	Expire(ctx context.Context, reservationID string) error
}

// OrdersInterface is the subset of checkout.OrderRepository the worker
// needs to enforce the ownership rule before releasing a reservation.
type OrdersInterface interface {
	GetByCheckoutSessionID(ctx context.Context, sessionID string) (*model.Order, error)
}

// SessionsInterface is the subset of checkout.SessionRepository the worker
// needs for the abandoned-session sweep.
type SessionsInterface interface {
	ListAbandoned(ctx context.Context, asOf time.Time, limit int) ([]model.CheckoutSession, error)
	UpdateStatus(ctx context.Context, sessionID string, status model.CheckoutSessionStatus) error
}

// DriftStore is the subset of stock.Store the safety reconciler drives.
type DriftStore interface {
	ListDrifted(ctx context.Context) ([]model.ProductStock, error)
	ResetDrift(ctx context.Context, productID, size string) error
}

// Result tallies what one expiry sweep did, for logging/metrics.
type Result struct {
	ReservationsChecked  int
	ReservationsReleased int
	ReservationsRetained int // owned by a DraftOrder, left alone
	SessionsAbandoned    int
	DriftRepaired        int
}

// Worker runs the reservation sweep, the abandoned-session sweep, and the
// stock-drift safety reconciler (spec §4.10).
type Worker struct {
	ledger   LedgerInterface
	orders   OrdersInterface
	sessions SessionsInterface
	drift    DriftStore
	cfg      config.ExpiryConfig
}

// NewWorker wires a Worker.
func NewWorker(ledger LedgerInterface, orders OrdersInterface, sessions SessionsInterface, drift DriftStore, cfg config.ExpiryConfig) *Worker {
	return &Worker{ledger: ledger, orders: orders, sessions: sessions, drift: drift, cfg: cfg}
}

// Run executes one full sweep, called periodically by the scheduler
// (spec §4.10 "every ~2 minutes").
func (w *Worker) Run(ctx context.Context) (Result, error) {
	var result Result

	if err := w.sweepReservations(ctx, &result); err != nil {
		return result, err
	}
	if err := w.sweepAbandonedSessions(ctx, &result); err != nil {
		return result, err
	}
	if err := w.repairDrift(ctx, &result); err != nil {
		return result, err
	}

	return result, nil
}

// HandleExpirySweepTask is registered against queue.TypeExpirySweep for the
// scheduler-driven periodic trigger (spec §4.10 "every ~2 minutes").
func (w *Worker) HandleExpirySweepTask(ctx context.Context, task *asynq.Task) error {
	result, err := w.Run(ctx)
	if err != nil {
		return err
	}
	log.Info().
		Int("reservations_checked", result.ReservationsChecked).
		Int("reservations_released", result.ReservationsReleased).
		Int("reservations_retained", result.ReservationsRetained).
		Int("sessions_abandoned", result.SessionsAbandoned).
		Int("drift_repaired", result.DriftRepaired).
		Msg("expiry sweep complete")
	return nil
}

// sweepReservations releases every active reservation past its expiry (or
// the unconditional age backstop) whose session has not been bound to a
// DraftOrder. Ownership-bound reservations are left active: only the
// order's own lifecycle (cancellation or payment failure, via
// webhook.Processor) may release those (spec §4.3).
func (w *Worker) sweepReservations(ctx context.Context, result *Result) error {
	expiring, err := w.ledger.ListExpiring(ctx, maxReservationAge)
	if err != nil {
		return err
	}
	if reservationBatchLimit > 0 && len(expiring) > reservationBatchLimit {
		expiring = expiring[:reservationBatchLimit]
	}

	for _, res := range expiring {
		result.ReservationsChecked++

		_, err := w.orders.GetByCheckoutSessionID(ctx, res.SessionID)
		if err == nil {
			// A DraftOrder already owns this session's stock; the
			// ownership rule forbids releasing it here.
			result.ReservationsRetained++
			continue
		}
		if !errors.Is(err, checkout.ErrOrderNotFound) {
			log.Warn().Err(err).Str("session_id", res.SessionID).Msg("expiry: order ownership lookup failed, skipping reservation")
			continue
		}

		if err := w.ledger.Expire(ctx, res.ReservationID); err != nil {
			log.Error().Err(err).Str("reservation_id", res.ReservationID).Msg("expiry: failed to expire reservation")
			continue
		}
		result.ReservationsReleased++
	}

	if reservationBatchLimit > 0 && len(expiring) >= reservationBatchLimit {
		log.Warn().Int("limit", reservationBatchLimit).Msg("expiry: reservation sweep hit its batch limit, backlog remains for the next run")
	}

	return nil
}

// sweepAbandonedSessions marks pending/awaiting-payment sessions whose
// timeout has passed as expired. Their reservations, if any and unowned,
// are handled by sweepReservations on the same or a later run — this pass
// only updates session status bookkeeping.
func (w *Worker) sweepAbandonedSessions(ctx context.Context, result *Result) error {
	abandoned, err := w.sessions.ListAbandoned(ctx, time.Now(), reservationBatchLimit)
	if err != nil {
		return err
	}

	for _, session := range abandoned {
		if err := w.sessions.UpdateStatus(ctx, session.SessionID, model.SessionExpired); err != nil {
			log.Error().Err(err).Str("session_id", session.SessionID).Msg("expiry: failed to mark session expired")
			continue
		}
		result.SessionsAbandoned++
	}

	return nil
}

// repairDrift resets reserved-counter drift for product/size pairs with no
// active ledger hold (spec §4.10 safety reconciler). It never touches
// stock, only reserved, and is safe to run unconditionally since
// ListDrifted already excludes anything with an active reservation.
func (w *Worker) repairDrift(ctx context.Context, result *Result) error {
	drifted, err := w.drift.ListDrifted(ctx)
	if err != nil {
		return err
	}

	for _, ps := range drifted {
		if err := w.drift.ResetDrift(ctx, ps.ProductID, ps.Size); err != nil {
			log.Error().Err(err).Str("product_id", ps.ProductID).Str("size", ps.Size).Msg("expiry: failed to repair stock drift")
			continue
		}
		log.Warn().Str("product_id", ps.ProductID).Str("size", ps.Size).Int("reserved_was", ps.Reserved).Msg("expiry: repaired reserved-counter drift")
		result.DriftRepaired++
	}

	return nil
}

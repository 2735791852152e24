// Package reconcile implements the Reconciliation Loop (C9): a periodic
// sweep that never mutates stock directly, instead routing every
// correction back through the Webhook Processor (C7) and Order Commit
// (C5) so the same invariants that protect live traffic protect recovery
// traffic too (spec §4.9).
//
// Grounded on pkg/queue's asynq.Scheduler cron-registration pattern for
// the periodic trigger (itself grounded on
// duclm31099-bookstore-backend/internal/infrastructure/queue/schedulers.go),
// and on the teacher's repository-interface-seam style for the
// gateway-status-lookup call.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/checkout-payment-core/internal/checkout"
	"github.com/fairyhunter13/checkout-payment-core/internal/config"
	"github.com/fairyhunter13/checkout-payment-core/internal/model"
	"github.com/fairyhunter13/checkout-payment-core/internal/webhook"
)

// stuckDraftThreshold is the lower bound of spec §4.9 pass 1's "5-10 min"
// staleness window: a DRAFT order younger than this is still a normal
// in-flight checkout, not a candidate for gateway reconciliation.
const stuckDraftThreshold = 5 * time.Minute

// candidateBatchLimit bounds how many rows each pass pulls per run, so a
// large backlog is worked down over several scheduler ticks instead of
// blocking one run indefinitely.
const candidateBatchLimit = 200

// GatewayStatusChecker is the subset of gateway.Client reconcile needs.
type GatewayStatusChecker interface {
	GetStatus(ctx context.Context, gatewayTxnID string) (model.GatewayStatus, error)
}

// OrdersInterface is the subset of checkout.OrderRepository reconcile needs.
type OrdersInterface interface {
	ListStuckDrafts(ctx context.Context, olderThan, windowStart time.Time, limit int) ([]model.Order, error)
	GetByGatewayTxnIDAny(ctx context.Context, txnID string) (*model.Order, error)
}

// WebhooksInterface is the subset of webhook.Repository reconcile needs.
type WebhooksInterface interface {
	ListProcessedInWindow(ctx context.Context, since time.Time, limit int) ([]model.RawWebhook, error)
}

// EventProcessor is the subset of webhook.Processor reconcile needs.
type EventProcessor interface {
	Process(ctx context.Context, event model.GatewayEvent) (string, error)
}

// Result tallies what one reconciliation run did, for logging/metrics.
type Result struct {
	DraftsChecked    int
	DraftsResolved   int
	OrphansChecked   int
	OrphansRecovered int
}

// Worker runs the three reconciliation passes.
type Worker struct {
	gateway   GatewayStatusChecker
	orders    OrdersInterface
	webhooks  WebhooksInterface
	processor EventProcessor
	cfg       config.ReconcileConfig
}

// NewWorker wires a Worker.
func NewWorker(gateway GatewayStatusChecker, orders OrdersInterface, webhooks WebhooksInterface, processor EventProcessor, cfg config.ReconcileConfig) *Worker {
	return &Worker{gateway: gateway, orders: orders, webhooks: webhooks, processor: processor, cfg: cfg}
}

// Run executes one reconciliation pass over the configured rolling
// window, called periodically by the scheduler (spec §4.9 "every 5
// minutes").
func (w *Worker) Run(ctx context.Context) (Result, error) {
	var result Result

	draftResult, err := w.resolvePendingDrafts(ctx)
	if err != nil {
		return result, fmt.Errorf("resolve pending drafts: %w", err)
	}
	result.DraftsChecked, result.DraftsResolved = draftResult.checked, draftResult.resolved

	orphanResult, err := w.resolveOrphanPayments(ctx)
	if err != nil {
		return result, fmt.Errorf("resolve orphan payments: %w", err)
	}
	result.OrphansChecked, result.OrphansRecovered = orphanResult.checked, orphanResult.recovered

	return result, nil
}

// HandleReconcileSweepTask is registered against queue.TypeReconcileSweep
// for the scheduler-driven periodic trigger (spec §4.9 "every 5 minutes").
func (w *Worker) HandleReconcileSweepTask(ctx context.Context, task *asynq.Task) error {
	result, err := w.Run(ctx)
	if err != nil {
		return err
	}
	log.Info().
		Int("drafts_checked", result.DraftsChecked).
		Int("drafts_resolved", result.DraftsResolved).
		Int("orphans_checked", result.OrphansChecked).
		Int("orphans_recovered", result.OrphansRecovered).
		Msg("reconciliation sweep complete")
	return nil
}

type draftPassResult struct{ checked, resolved int }

// resolvePendingDrafts merges spec §4.9 passes 1 ("stuck drafts") and 2
// ("missing webhooks"): both start from the same candidate set — a DRAFT
// order old enough to be suspicious with a known gateway txn id — and
// both remediate identically, by asking the gateway for the truth and
// replaying it through the processor. The distinction in the spec is
// about why the order looks stale, not a different fix.
func (w *Worker) resolvePendingDrafts(ctx context.Context) (draftPassResult, error) {
	var out draftPassResult
	now := time.Now()
	candidates, err := w.orders.ListStuckDrafts(ctx, now.Add(-stuckDraftThreshold), now.Add(-w.cfg.Window()), candidateBatchLimit)
	if err != nil {
		return out, fmt.Errorf("list stuck drafts: %w", err)
	}

	for _, order := range candidates {
		out.checked++
		if order.GatewayTxnID == nil {
			continue
		}
		status, err := w.gateway.GetStatus(ctx, *order.GatewayTxnID)
		if err != nil {
			log.Warn().Err(err).Str("order_id", order.OrderID).Msg("reconcile: gateway status lookup failed, leaving order DRAFT")
			continue
		}
		if status.State == model.GatewayStateIgnored {
			continue // gateway still has no definite answer; revisit next run
		}

		event := model.GatewayEvent{
			GatewayTxnID: *order.GatewayTxnID,
			State:        status.State,
			AmountMinor:  status.AmountMinor,
		}
		if _, err := w.processor.Process(ctx, event); err != nil {
			log.Error().Err(err).Str("order_id", order.OrderID).Msg("reconcile: failed to replay stuck draft through processor")
			continue
		}
		out.resolved++
	}
	return out, nil
}

type orphanPassResult struct{ checked, recovered int }

// resolveOrphanPayments implements spec §4.9 pass 3: processed webhooks
// whose gateway txn id matched no order at delivery time. Reprocessing is
// safe to retry unconditionally — the processor's own resolution order
// (checkout.OrderRepository.GetByGatewayTxnIDAny first) makes this a
// no-op once an order exists, and idempotent if it doesn't.
func (w *Worker) resolveOrphanPayments(ctx context.Context) (orphanPassResult, error) {
	var out orphanPassResult
	since := time.Now().Add(-w.cfg.Window())
	processed, err := w.webhooks.ListProcessedInWindow(ctx, since, candidateBatchLimit)
	if err != nil {
		return out, fmt.Errorf("list processed webhooks: %w", err)
	}

	for _, rw := range processed {
		if rw.OrderID == "" {
			continue
		}
		out.checked++

		_, err := w.orders.GetByGatewayTxnIDAny(ctx, rw.OrderID)
		if err == nil {
			continue // already resolved to an order, nothing orphaned here
		}
		if !errors.Is(err, checkout.ErrOrderNotFound) {
			log.Warn().Err(err).Str("gateway_txn_id", rw.OrderID).Msg("reconcile: order lookup failed during orphan pass")
			continue
		}

		event, err := webhook.ParseGatewayEvent(rw.RawBody)
		if err != nil {
			log.Warn().Err(err).Str("raw_webhook_id", rw.ID).Msg("reconcile: orphan webhook body unparseable")
			continue
		}
		if event.State != model.GatewayStateSuccess {
			continue // only successful orphan payments warrant emergency recovery
		}

		if _, err := w.processor.Process(ctx, event); err != nil {
			log.Error().Err(err).Str("raw_webhook_id", rw.ID).Msg("reconcile: failed to recover orphan payment")
			continue
		}
		out.recovered++
	}
	return out, nil
}

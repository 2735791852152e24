package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/checkout-payment-core/internal/model"
)

// QueueRepository is the persistence seam Manager depends on.
type QueueRepository interface {
	TryClaim(ctx context.Context, id string, now time.Time) (bool, error)
	GetByID(ctx context.Context, id string) (*model.RawWebhook, error)
	MarkProcessed(ctx context.Context, id, result string, now time.Time) error
	MarkFailed(ctx context.Context, id, lastErr string, retryCount int, retryAfter time.Time) error
	MarkDeadLetter(ctx context.Context, id, lastErr string) error
	ListDeadLetters(ctx context.Context, limit int) ([]model.RawWebhook, error)
}

// EventProcessor is the subset of Processor the Manager depends on.
type EventProcessor interface {
	Process(ctx context.Context, event model.GatewayEvent) (string, error)
}

// Breaker is the subset of CircuitBreaker the Manager depends on.
type Breaker interface {
	Allow(ctx context.Context) (bool, error)
	RecordSuccess(ctx context.Context) error
	RecordFailure(ctx context.Context) error
}

// Manager implements the Webhook Queue Manager (C8): it is the asynq task
// handler that claims a persisted RawWebhook, feeds it through the
// Processor, and records the outcome, with retry/backoff scheduling and a
// circuit breaker gating processing during sustained failures (spec
// §4.8).
type Manager struct {
	repo       QueueRepository
	processor  EventProcessor
	breaker    Breaker
	maxRetries int
}

// NewManager wires a Manager. maxRetries bounds the manager's own retry
// bookkeeping before a webhook is moved to the dead-letter queue (§4.8
// "exceeding maxRetries moves the webhook to DLQ").
func NewManager(repo QueueRepository, processor EventProcessor, breaker Breaker, maxRetries int) *Manager {
	return &Manager{repo: repo, processor: processor, breaker: breaker, maxRetries: maxRetries}
}

type processWebhookPayload struct {
	RawWebhookID string `json:"rawWebhookId"`
}

// HandleProcessWebhookTask is registered against queue.TypeProcessWebhook
// on the asynq.ServeMux.
func (m *Manager) HandleProcessWebhookTask(ctx context.Context, task *asynq.Task) error {
	var payload processWebhookPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal task payload: %w", err)
	}
	return m.processOne(ctx, payload.RawWebhookID)
}

func (m *Manager) processOne(ctx context.Context, id string) error {
	allowed, err := m.breaker.Allow(ctx)
	if err != nil {
		log.Error().Err(err).Msg("circuit breaker check failed, proceeding open")
	} else if !allowed {
		return fmt.Errorf("webhook processing circuit is open, deferring %s", id)
	}

	claimed, err := m.repo.TryClaim(ctx, id, time.Now())
	if err != nil {
		return fmt.Errorf("claim raw webhook %s: %w", id, err)
	}
	if !claimed {
		// Another worker already owns this delivery (or it's already
		// processed); nothing more for this attempt to do.
		return nil
	}

	rw, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load raw webhook %s: %w", id, err)
	}

	event, err := ParseGatewayEvent(rw.RawBody)
	if err != nil {
		_ = m.repo.MarkDeadLetter(ctx, id, err.Error())
		return fmt.Errorf("parse raw webhook %s: %w", id, err)
	}

	result, procErr := m.processor.Process(ctx, event)
	if procErr != nil {
		if breakerErr := m.breaker.RecordFailure(ctx); breakerErr != nil {
			log.Error().Err(breakerErr).Msg("failed to record circuit breaker failure")
		}
		return m.handleFailure(ctx, rw, procErr)
	}

	if err := m.breaker.RecordSuccess(ctx); err != nil {
		log.Error().Err(err).Msg("failed to reset circuit breaker")
	}
	if err := m.repo.MarkProcessed(ctx, id, result, time.Now()); err != nil {
		return fmt.Errorf("mark webhook processed %s: %w", id, err)
	}
	return nil
}

func (m *Manager) handleFailure(ctx context.Context, rw *model.RawWebhook, procErr error) error {
	nextRetry := rw.RetryCount + 1
	if nextRetry > m.maxRetries {
		if err := m.repo.MarkDeadLetter(ctx, rw.ID, procErr.Error()); err != nil {
			return fmt.Errorf("mark webhook dead letter %s: %w", rw.ID, err)
		}
		log.Error().Str("raw_webhook_id", rw.ID).Err(procErr).Msg("webhook moved to dead letter queue after exhausting retries")
		return procErr
	}

	retryAfter := time.Now().Add(backoffDelay(nextRetry))
	if err := m.repo.MarkFailed(ctx, rw.ID, procErr.Error(), nextRetry, retryAfter); err != nil {
		return fmt.Errorf("mark webhook failed %s: %w", rw.ID, err)
	}
	return procErr
}

// backoffDelay computes the jittered exponential delay before attempt n,
// min(1s·2^(n-1) + jitter, 5min) with jitter uniform in ±1s, matching
// asynq's own RetryDelayFunc base and cap (1s, 5min) so the webhook-level
// retryAfter bookkeeping and the actual asynq requeue agree.
func backoffDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 5 * time.Minute
	b.Multiplier = 2
	b.RandomizationFactor = 0 // jitter is added below as a flat ±1s
	b.MaxElapsedTime = 0      // never give up on our own account; Manager.maxRetries governs that

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	d += time.Duration(rand.Int63n(int64(2*time.Second)+1)) - time.Second
	if d < 0 {
		d = 0
	}
	if d > 5*time.Minute {
		d = 5 * time.Minute
	}
	return d
}

// SweepDeadLetters re-attempts processing for webhooks parked in the DLQ,
// for the periodic DLQ resweep task (spec §4.8 "DLQ sweeper re-attempts
// with the full emergency pipeline"). Returns the count successfully
// cleared.
func (m *Manager) SweepDeadLetters(ctx context.Context, limit int) (int, error) {
	deadLetters, err := m.repo.ListDeadLetters(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list dead letters: %w", err)
	}

	cleared := 0
	for _, rw := range deadLetters {
		event, err := ParseGatewayEvent(rw.RawBody)
		if err != nil {
			log.Error().Str("raw_webhook_id", rw.ID).Err(err).Msg("dead letter has unparseable body, skipping")
			continue
		}
		result, err := m.processor.Process(ctx, event)
		if err != nil {
			log.Warn().Str("raw_webhook_id", rw.ID).Err(err).Msg("dead letter resweep attempt failed")
			continue
		}
		if err := m.repo.MarkProcessed(ctx, rw.ID, result, time.Now()); err != nil {
			log.Error().Str("raw_webhook_id", rw.ID).Err(err).Msg("failed to mark dead letter processed after resweep")
			continue
		}
		cleared++
	}
	return cleared, nil
}

// HandleDeadLetterResweepTask is registered against
// queue.TypeDeadLetterResweep for the scheduler-driven periodic sweep.
func (m *Manager) HandleDeadLetterResweepTask(ctx context.Context, task *asynq.Task) error {
	const sweepBatchSize = 50
	cleared, err := m.SweepDeadLetters(ctx, sweepBatchSize)
	if err != nil {
		return err
	}
	if cleared > 0 {
		log.Info().Int("cleared", cleared).Msg("dead letter resweep cleared webhooks")
	}
	return nil
}

package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/checkout-payment-core/internal/config"
	"github.com/fairyhunter13/checkout-payment-core/internal/idgen"
	"github.com/fairyhunter13/checkout-payment-core/internal/model"
	"github.com/fairyhunter13/checkout-payment-core/pkg/queue"
)

// RepositoryInterface is the persistence seam Intake depends on.
type RepositoryInterface interface {
	Insert(ctx context.Context, rw *model.RawWebhook) error
	GetByIdempotencyKey(ctx context.Context, key string) (*model.RawWebhook, error)
}

// Enqueuer is the subset of *asynq.Client Intake needs, letting tests
// substitute an in-memory fake instead of a live Redis connection.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Intake implements the Webhook Intake (C6): verify, persist, dedupe,
// enqueue. Always responds success to the caller even on auth failure or
// duplicate, per spec §4.6 ("respond 200 regardless... gateway should
// never see a reason to keep retrying a webhook we've already handled").
type Intake struct {
	repo   RepositoryInterface
	queue  Enqueuer
	auth   config.WebhookConfig
	alerts AlertSink
}

// AlertSink is the notify.AlertSink shape, duplicated here as a narrow
// interface so this package doesn't import internal/notify just for one
// method signature.
type AlertSink interface {
	Critical(ctx context.Context, event string, fields map[string]any)
}

// NewIntake wires an Intake.
func NewIntake(repo RepositoryInterface, q Enqueuer, auth config.WebhookConfig, alerts AlertSink) *Intake {
	return &Intake{repo: repo, queue: q, auth: auth, alerts: alerts}
}

// Outcome reports what Intake did with an inbound delivery, so the HTTP
// handler can log appropriately while still always answering 200.
type Outcome struct {
	Accepted bool
	Reason   string // "authenticated", "auth_failed", "duplicate"
}

// Receive handles one inbound webhook delivery: authenticate, normalize,
// persist the raw body, dedupe against prior deliveries of the same
// event, and enqueue for asynchronous processing (spec §4.6 steps 1-5).
func (in *Intake) Receive(ctx context.Context, provider string, headers map[string]string, rawBody []byte, authHeader string) (Outcome, error) {
	if !VerifySignature(in.auth.CallbackUsername, in.auth.CallbackPassword, authHeader) {
		log.Error().Str("provider", provider).Msg("webhook signature verification failed")
		in.alerts.Critical(ctx, "webhook_auth_failed", map[string]any{"provider": provider})
		return Outcome{Accepted: false, Reason: "auth_failed"}, nil
	}

	event, err := ParseGatewayEvent(rawBody)
	if err != nil {
		return Outcome{}, fmt.Errorf("parse webhook body: %w", err)
	}

	key := IdempotencyKey(event.GatewayTxnID, event.Event, event.AmountMinor, event.RawState)

	if _, err := in.repo.GetByIdempotencyKey(ctx, key); err == nil {
		return Outcome{Accepted: true, Reason: "duplicate"}, nil
	} else if !errors.Is(err, ErrNotFound) {
		return Outcome{}, fmt.Errorf("check webhook idempotency: %w", err)
	}

	priority := priorityFor(event.State)
	rw := &model.RawWebhook{
		ID:             idgen.NewUUID(),
		Provider:       provider,
		Headers:        headers,
		RawBody:        rawBody,
		ReceivedAt:     time.Now(),
		IdempotencyKey: key,
		OrderID:        event.GatewayTxnID,
		CorrelationID:  idgen.NewCorrelationID(),
		Priority:       priority,
	}

	if err := in.repo.Insert(ctx, rw); err != nil {
		return Outcome{}, fmt.Errorf("persist raw webhook: %w", err)
	}

	payload, err := json.Marshal(map[string]string{"rawWebhookId": rw.ID})
	if err != nil {
		return Outcome{}, fmt.Errorf("marshal task payload: %w", err)
	}
	task := asynq.NewTask(queue.TypeProcessWebhook, payload)
	queueName := queue.QueueForPriority(int(priority))
	if _, err := in.queue.Enqueue(task, asynq.Queue(queueName), asynq.TaskID(rw.ID)); err != nil {
		return Outcome{}, fmt.Errorf("enqueue webhook processing task: %w", err)
	}

	return Outcome{Accepted: true, Reason: "authenticated"}, nil
}

func priorityFor(state model.GatewayEventState) model.WebhookPriority {
	switch state {
	case model.GatewayStateSuccess:
		return model.PrioritySuccess
	case model.GatewayStateFailure:
		return model.PriorityFailure
	default:
		return model.PriorityDefault
	}
}

// rawGatewayPayload mirrors the wire shape documented in spec §6 ("Body
// minimum: orderId (gateway txn id), state, amount in minor units").
type rawGatewayPayload struct {
	Event   string          `json:"event"`
	OrderID string          `json:"orderId"`
	State   string          `json:"state"`
	Amount  json.RawMessage `json:"amount"`
}

func ParseGatewayEvent(rawBody []byte) (model.GatewayEvent, error) {
	var raw rawGatewayPayload
	if err := json.Unmarshal(rawBody, &raw); err != nil {
		return model.GatewayEvent{}, fmt.Errorf("unmarshal gateway payload: %w", err)
	}
	if raw.OrderID == "" {
		return model.GatewayEvent{}, fmt.Errorf("gateway payload missing orderId")
	}

	var amountMinor int64
	if len(raw.Amount) > 0 {
		var asNumber int64
		if err := json.Unmarshal(raw.Amount, &asNumber); err == nil {
			amountMinor = asNumber
		} else {
			var asString string
			if err := json.Unmarshal(raw.Amount, &asString); err == nil {
				if n, convErr := strconv.ParseInt(asString, 10, 64); convErr == nil {
					amountMinor = n
				}
			}
		}
	}

	return model.GatewayEvent{
		Event:        raw.Event,
		GatewayTxnID: raw.OrderID,
		State:        mapGatewayState(raw.State),
		RawState:     raw.State,
		AmountMinor:  amountMinor,
	}, nil
}

func mapGatewayState(raw string) model.GatewayEventState {
	switch raw {
	case "COMPLETED", "SUCCESS", "success":
		return model.GatewayStateSuccess
	case "FAILED", "CANCELLED", "failure", "failed":
		return model.GatewayStateFailure
	default:
		return model.GatewayStateIgnored
	}
}

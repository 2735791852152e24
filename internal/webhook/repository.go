package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fairyhunter13/checkout-payment-core/internal/model"
	"github.com/fairyhunter13/checkout-payment-core/pkg/database"
)

// Repository persists RawWebhook rows (C6). Grounded on the teacher's
// CouponRepository pgx.ErrNoRows-translation idiom, generalized to a
// wider row shape carrying processing/retry/DLQ bookkeeping columns.
type Repository struct {
	pool database.TxQuerier
}

// NewRepository creates a Repository bound to the given querier.
func NewRepository(pool database.TxQuerier) *Repository {
	return &Repository{pool: pool}
}

// Insert persists a new raw webhook. Returns the stable ID it was
// assigned via the caller-supplied model.RawWebhook.ID.
func (r *Repository) Insert(ctx context.Context, rw *model.RawWebhook) error {
	headersJSON, err := json.Marshal(rw.Headers)
	if err != nil {
		return fmt.Errorf("marshal webhook headers: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO raw_webhooks (
			id, provider, headers, raw_body, received_at, idempotency_key,
			order_id, processed, processing, retry_count, dead_letter,
			correlation_id, priority
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, rw.ID, rw.Provider, headersJSON, rw.RawBody, rw.ReceivedAt, rw.IdempotencyKey,
		rw.OrderID, rw.Processed, rw.Processing, rw.RetryCount, rw.DeadLetter,
		rw.CorrelationID, rw.Priority,
	)
	if err != nil {
		return fmt.Errorf("insert raw webhook: %w", err)
	}
	return nil
}

// GetByIdempotencyKey returns the RawWebhook stored under a dedupe key,
// processed or not, if one exists (spec §4.6 step 4).
func (r *Repository) GetByIdempotencyKey(ctx context.Context, key string) (*model.RawWebhook, error) {
	return r.scanOne(ctx, `
		SELECT id, provider, headers, raw_body, received_at, idempotency_key, order_id,
			processed, processing, processing_started_at, processed_at, retry_count,
			retry_after, dead_letter, last_error, result, correlation_id, priority
		FROM raw_webhooks WHERE idempotency_key = $1
	`, key)
}

// GetForUpdate loads a raw webhook with a row lock (SELECT ... FOR UPDATE).
// The queue manager does not use it: it claims rows with TryClaim's
// conditional UPDATE (spec §4.8 "processing=true latch set atomically").
func (r *Repository) GetForUpdate(ctx context.Context, id string) (*model.RawWebhook, error) {
	return r.scanOne(ctx, `
		SELECT id, provider, headers, raw_body, received_at, idempotency_key, order_id,
			processed, processing, processing_started_at, processed_at, retry_count,
			retry_after, dead_letter, last_error, result, correlation_id, priority
		FROM raw_webhooks WHERE id = $1 FOR UPDATE
	`, id)
}

// GetByID loads a raw webhook by id without locking, for the queue
// worker's post-claim read of the full row.
func (r *Repository) GetByID(ctx context.Context, id string) (*model.RawWebhook, error) {
	return r.scanOne(ctx, `
		SELECT id, provider, headers, raw_body, received_at, idempotency_key, order_id,
			processed, processing, processing_started_at, processed_at, retry_count,
			retry_after, dead_letter, last_error, result, correlation_id, priority
		FROM raw_webhooks WHERE id = $1
	`, id)
}

func (r *Repository) scanOne(ctx context.Context, query, arg string) (*model.RawWebhook, error) {
	var rw model.RawWebhook
	var headersJSON []byte
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&rw.ID, &rw.Provider, &headersJSON, &rw.RawBody, &rw.ReceivedAt, &rw.IdempotencyKey, &rw.OrderID,
		&rw.Processed, &rw.Processing, &rw.ProcessingStart, &rw.ProcessedAt, &rw.RetryCount,
		&rw.RetryAfter, &rw.DeadLetter, &rw.LastError, &rw.Result, &rw.CorrelationID, &rw.Priority,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get raw webhook: %w", err)
	}
	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &rw.Headers); err != nil {
			return nil, fmt.Errorf("unmarshal webhook headers: %w", err)
		}
	}
	return &rw, nil
}

// TryClaim atomically sets processing=true iff the row is not already
// being processed, the coordination mechanism called for across worker
// processes in spec §4.8.
func (r *Repository) TryClaim(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE raw_webhooks SET processing = true, processing_started_at = $1
		WHERE id = $2 AND processing = false AND processed = false
	`, now, id)
	if err != nil {
		return false, fmt.Errorf("claim raw webhook %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkProcessed records a terminal successful processing result.
func (r *Repository) MarkProcessed(ctx context.Context, id, result string, now time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE raw_webhooks SET processed = true, processing = false, processed_at = $1, result = $2
		WHERE id = $3
	`, now, result, id)
	if err != nil {
		return fmt.Errorf("mark raw webhook processed %s: %w", id, err)
	}
	return nil
}

// MarkFailed releases the processing latch, bumps retry_count, and sets
// retry_after for the next attempt (spec §4.8 retry scheduling).
func (r *Repository) MarkFailed(ctx context.Context, id, lastErr string, retryCount int, retryAfter time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE raw_webhooks SET processing = false, retry_count = $1, retry_after = $2, last_error = $3
		WHERE id = $4
	`, retryCount, retryAfter, lastErr, id)
	if err != nil {
		return fmt.Errorf("mark raw webhook failed %s: %w", id, err)
	}
	return nil
}

// MarkDeadLetter moves a webhook to the DLQ after exhausting retries
// (spec §4.8 "Exceeding maxRetries moves the webhook to DLQ").
func (r *Repository) MarkDeadLetter(ctx context.Context, id, lastErr string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE raw_webhooks SET processing = false, dead_letter = true, last_error = $1
		WHERE id = $2
	`, lastErr, id)
	if err != nil {
		return fmt.Errorf("mark raw webhook dead letter %s: %w", id, err)
	}
	return nil
}

// ListProcessedInWindow returns processed webhooks received since the
// given time, the candidate set for the Reconciliation Loop's "orphan
// payments" pass (spec §4.9 pass 3).
func (r *Repository) ListProcessedInWindow(ctx context.Context, since time.Time, limit int) ([]model.RawWebhook, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, provider, headers, raw_body, received_at, idempotency_key, order_id,
			processed, processing, processing_started_at, processed_at, retry_count,
			retry_after, dead_letter, last_error, result, correlation_id, priority
		FROM raw_webhooks WHERE processed = true AND received_at >= $1 ORDER BY received_at ASC LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list processed webhooks: %w", err)
	}
	defer rows.Close()

	var out []model.RawWebhook
	for rows.Next() {
		var rw model.RawWebhook
		var headersJSON []byte
		if err := rows.Scan(
			&rw.ID, &rw.Provider, &headersJSON, &rw.RawBody, &rw.ReceivedAt, &rw.IdempotencyKey, &rw.OrderID,
			&rw.Processed, &rw.Processing, &rw.ProcessingStart, &rw.ProcessedAt, &rw.RetryCount,
			&rw.RetryAfter, &rw.DeadLetter, &rw.LastError, &rw.Result, &rw.CorrelationID, &rw.Priority,
		); err != nil {
			return nil, fmt.Errorf("scan processed webhook: %w", err)
		}
		if len(headersJSON) > 0 {
			_ = json.Unmarshal(headersJSON, &rw.Headers)
		}
		out = append(out, rw)
	}
	return out, rows.Err()
}

// ListDeadLetters returns webhooks awaiting the DLQ sweep (spec §4.8 "DLQ
// sweeper re-attempts with the full emergency pipeline").
func (r *Repository) ListDeadLetters(ctx context.Context, limit int) ([]model.RawWebhook, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, provider, headers, raw_body, received_at, idempotency_key, order_id,
			processed, processing, processing_started_at, processed_at, retry_count,
			retry_after, dead_letter, last_error, result, correlation_id, priority
		FROM raw_webhooks WHERE dead_letter = true AND processed = false ORDER BY received_at ASC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []model.RawWebhook
	for rows.Next() {
		var rw model.RawWebhook
		var headersJSON []byte
		if err := rows.Scan(
			&rw.ID, &rw.Provider, &headersJSON, &rw.RawBody, &rw.ReceivedAt, &rw.IdempotencyKey, &rw.OrderID,
			&rw.Processed, &rw.Processing, &rw.ProcessingStart, &rw.ProcessedAt, &rw.RetryCount,
			&rw.RetryAfter, &rw.DeadLetter, &rw.LastError, &rw.Result, &rw.CorrelationID, &rw.Priority,
		); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		if len(headersJSON) > 0 {
			_ = json.Unmarshal(headersJSON, &rw.Headers)
		}
		out = append(out, rw)
	}
	return out, rows.Err()
}

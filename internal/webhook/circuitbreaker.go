package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CircuitBreaker is a Redis-backed consecutive-failure counter gating
// webhook processing (spec §4.8 "after 5 consecutive failures, open the
// circuit for 60s"). Grounded on kyungseok-lee-msa-saga-go-practical's
// idempotency.RedisStore (SetNX/Exists/Del against prefixed keys),
// generalized from a one-shot reservation flag to a counting
// threshold-then-cooldown gate.
type CircuitBreaker struct {
	client       *redis.Client
	prefix       string
	threshold    int
	openDuration time.Duration
}

// NewCircuitBreaker wires a CircuitBreaker. threshold<=0 defaults to 5,
// openDuration<=0 defaults to 60s, matching spec §4.8's stated numbers.
func NewCircuitBreaker(client *redis.Client, prefix string, threshold int, openDuration time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openDuration <= 0 {
		openDuration = 60 * time.Second
	}
	return &CircuitBreaker{client: client, prefix: prefix, threshold: threshold, openDuration: openDuration}
}

func (b *CircuitBreaker) failureKey() string {
	return fmt.Sprintf("%s:failures", b.prefix)
}

func (b *CircuitBreaker) openKey() string {
	return fmt.Sprintf("%s:open", b.prefix)
}

// Allow reports whether processing may proceed: false while the circuit
// is open.
func (b *CircuitBreaker) Allow(ctx context.Context) (bool, error) {
	exists, err := b.client.Exists(ctx, b.openKey()).Result()
	if err != nil {
		return false, fmt.Errorf("check circuit open: %w", err)
	}
	return exists == 0, nil
}

// RecordSuccess resets the consecutive-failure counter.
func (b *CircuitBreaker) RecordSuccess(ctx context.Context) error {
	if err := b.client.Del(ctx, b.failureKey()).Err(); err != nil {
		return fmt.Errorf("reset circuit failure counter: %w", err)
	}
	return nil
}

// RecordFailure increments the consecutive-failure counter and opens the
// circuit once it reaches threshold.
func (b *CircuitBreaker) RecordFailure(ctx context.Context) error {
	count, err := b.client.Incr(ctx, b.failureKey()).Result()
	if err != nil {
		return fmt.Errorf("increment circuit failure counter: %w", err)
	}
	// Bound the counter's own lifetime so a long-idle key doesn't linger
	// forever once failures stop without a matching success.
	_ = b.client.Expire(ctx, b.failureKey(), 10*b.openDuration)

	if count >= int64(b.threshold) {
		if err := b.client.Set(ctx, b.openKey(), "1", b.openDuration).Err(); err != nil {
			return fmt.Errorf("open circuit: %w", err)
		}
		_ = b.client.Del(ctx, b.failureKey())
	}
	return nil
}

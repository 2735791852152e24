package reservation

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

// Repository provides data access for reservations using pgx, mirroring
// the teacher's CouponRepository/ClaimRepository split between a narrow
// interface and a pgx-backed implementation.
type Repository struct {
	pool database.TxQuerier
}

// NewRepository creates a Repository bound to the given querier (pool or tx).
func NewRepository(pool database.TxQuerier) *Repository {
	return &Repository{pool: pool}
}

// Insert persists a new active reservation.
func (r *Repository) Insert(ctx context.Context, res *model.Reservation) error {
	itemsJSON, err := json.Marshal(res.Items)
	if err != nil {
		return fmt.Errorf("marshal reservation items: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO reservations (reservation_id, session_id, items, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, res.ReservationID, res.SessionID, itemsJSON, res.Status, res.CreatedAt, res.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

// GetForUpdate loads a reservation row, locking it for the duration of the
// caller's transaction (same SELECT...FOR UPDATE idiom as the teacher's
// GetCouponForUpdate).
func (r *Repository) GetForUpdate(ctx context.Context, reservationID string) (*model.Reservation, error) {
	return r.scanOne(ctx, `
		SELECT reservation_id, session_id, items, status, created_at, expires_at
		FROM reservations WHERE reservation_id = $1 FOR UPDATE
	`, reservationID)
}

// Get loads a reservation without locking.
func (r *Repository) Get(ctx context.Context, reservationID string) (*model.Reservation, error) {
	return r.scanOne(ctx, `
		SELECT reservation_id, session_id, items, status, created_at, expires_at
		FROM reservations WHERE reservation_id = $1
	`, reservationID)
}

func (r *Repository) scanOne(ctx context.Context, query, reservationID string) (*model.Reservation, error) {
	var res model.Reservation
	var itemsJSON []byte
	err := r.pool.QueryRow(ctx, query, reservationID).Scan(
		&res.ReservationID, &res.SessionID, &itemsJSON, &res.Status, &res.CreatedAt, &res.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get reservation %s: %w", reservationID, err)
	}
	if err := json.Unmarshal(itemsJSON, &res.Items); err != nil {
		return nil, fmt.Errorf("unmarshal reservation items: %w", err)
	}
	return &res, nil
}

// UpdateStatus transitions a reservation's status.
func (r *Repository) UpdateStatus(ctx context.Context, reservationID string, status model.ReservationStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE reservations SET status = $1 WHERE reservation_id = $2`, status, reservationID)
	if err != nil {
		return fmt.Errorf("update reservation status %s: %w", reservationID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListExpiring returns active reservations whose expiry (or the 5-minute
// unconditional age backstop) has elapsed as of `asOf` (spec §4.10).
func (r *Repository) ListExpiring(ctx context.Context, asOf time.Time, maxAge time.Duration) ([]model.Reservation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT reservation_id, session_id, items, status, created_at, expires_at
		FROM reservations
		WHERE status = $1 AND (expires_at < $2 OR created_at < $3)
	`, model.ReservationActive, asOf, asOf.Add(-maxAge))
	if err != nil {
		return nil, fmt.Errorf("list expiring reservations: %w", err)
	}
	defer rows.Close()

	var out []model.Reservation
	for rows.Next() {
		var res model.Reservation
		var itemsJSON []byte
		if err := rows.Scan(&res.ReservationID, &res.SessionID, &itemsJSON, &res.Status, &res.CreatedAt, &res.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan expiring reservation: %w", err)
		}
		if err := json.Unmarshal(itemsJSON, &res.Items); err != nil {
			return nil, fmt.Errorf("unmarshal reservation items: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// GetActiveBySession returns the active reservation (if any) for a session.
func (r *Repository) GetActiveBySession(ctx context.Context, sessionID string) (*model.Reservation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT reservation_id, session_id, items, status, created_at, expires_at
		FROM reservations WHERE session_id = $1 AND status = $2 LIMIT 1
	`, sessionID, model.ReservationActive)
	if err != nil {
		return nil, fmt.Errorf("get active reservation for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}
	var res model.Reservation
	var itemsJSON []byte
	if err := rows.Scan(&res.ReservationID, &res.SessionID, &itemsJSON, &res.Status, &res.CreatedAt, &res.ExpiresAt); err != nil {
		return nil, fmt.Errorf("scan active reservation: %w", err)
	}
	if err := json.Unmarshal(itemsJSON, &res.Items); err != nil {
		return nil, fmt.Errorf("unmarshal reservation items: %w", err)
	}
	return &res, rows.Err()
}

package model

import "time"

// ReservationStatus is the lifecycle state of a Reservation (C2).
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationExpired   ReservationStatus = "expired"
	ReservationCancelled ReservationStatus = "cancelled"
)

// Reservation is a time-bounded hold tying stock to a checkout session.
type Reservation struct {
	ReservationID string            `json:"reservationId"`
	SessionID     string            `json:"sessionId"`
	Items         []LineItem        `json:"items"`
	Status        ReservationStatus `json:"status"`
	CreatedAt     time.Time         `json:"createdAt"`
	ExpiresAt     time.Time         `json:"expiresAt"`
}

// IsActive reports whether the reservation still holds stock.
func (r Reservation) IsActive() bool {
	return r.Status == ReservationActive
}

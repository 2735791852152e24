package reservation

import "errors"

var (
	// ErrNotFound is returned when a reservation id does not exist.
	ErrNotFound = errors.New("reservation not found")

	// ErrNotActive is returned when Confirm/Expire/Release is attempted on
	// a reservation that has already left the active state.
	ErrNotActive = errors.New("reservation is not active")
)

package webhook

import "errors"

var (
	// ErrAuthFailed signals a signature mismatch (spec §4.6 step 1). Intake
	// still responds 200 to the gateway; this error is for internal logging.
	ErrAuthFailed = errors.New("webhook authentication failed")

	// ErrDuplicate means a processed RawWebhook already exists for this
	// idempotency key (spec §4.6 step 4).
	ErrDuplicate = errors.New("webhook already processed")

	// ErrNotFound is returned when a raw webhook id does not exist.
	ErrNotFound = errors.New("raw webhook not found")

	// ErrCircuitOpen is returned by the processor when the circuit breaker
	// is open (spec §4.8 "after 5 consecutive failures, open for 60s").
	ErrCircuitOpen = errors.New("webhook processing circuit is open")

	// ErrEmergencyGuardFailed means one of the emergency-order creation
	// guards did not pass (spec §4.7 "Emergency order creation").
	ErrEmergencyGuardFailed = errors.New("emergency order creation guard failed")
)

// Package idgen centralizes identifier generation so the rest of the
// codebase never calls uuid/xid directly: google/uuid for internal primary
// keys (sessions, reservations, raw webhooks) and rs/xid for correlation
// ids and the human-facing short order code (spec §3 "orderId (human short
// code, globally unique)"), grounded on their use across the example pack
// (kyungseok-lee-msa-saga-go-practical for uuid; duclm31099-bookstore-backend
// pulls xid in transitively via minio — promoted here to a direct,
// exercised dependency).
package idgen

import (
	"strings"

	"github.com/google/uuid"
	"github.com/rs/xid"
)

// NewUUID returns a random v4 UUID string.
func NewUUID() string {
	return uuid.NewString()
}

// NewOrderID returns a short, sortable, globally-unique order code such as
// "ORD-C9G4JK2V5P8KQ1T0LBE0" (an upper-cased 20-character xid).
func NewOrderID() string {
	return "ORD-" + strings.ToUpper(xid.New().String())
}

// NewCorrelationID returns an id suitable for cross-request correlation
// (e.g. webhook reconciliation tracing).
func NewCorrelationID() string {
	return xid.New().String()
}

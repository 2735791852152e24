package webhook

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// VerifySignature compares the inbound Authorization header against the
// expected sha256(username:password) hex digest using a constant-time
// comparison (spec §4.6 step 1). This is one of the few places in the
// codebase that reaches for crypto/sha256 and crypto/subtle directly
// instead of a third-party library: the spec mandates this exact
// algorithm as a wire contract with the gateway, so there is no
// "idiomatic ecosystem choice" to make — see DESIGN.md.
func VerifySignature(username, password, header string) bool {
	expected := ExpectedSignature(username, password)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(header)) == 1
}

// ExpectedSignature computes the hex-encoded sha256("username:password")
// digest the gateway is expected to send as Authorization.
func ExpectedSignature(username, password string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s", username, password)))
	return hex.EncodeToString(sum[:])
}

// IdempotencyKey computes the dedupe key for a gateway event: a
// deterministic hash of its stable fields, no timestamps, so retries of
// the same event yield the same key (spec §4.6 step 3).
func IdempotencyKey(gatewayTxnID, orderID string, amountMinor int64, state string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%s", gatewayTxnID, orderID, amountMinor, state)))
	return hex.EncodeToString(sum[:])
}

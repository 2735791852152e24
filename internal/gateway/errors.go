package gateway

import "errors"

var (
	// ErrGatewayUnreachable covers network/transport failures talking to
	// the payment gateway (spec §7 "Transient").
	ErrGatewayUnreachable = errors.New("payment gateway unreachable")

	// ErrGatewayUnknownState is returned when the gateway's response body
	// cannot be decoded (spec §7 "GatewayUnknown — cannot determine payment
	// state"). An unrecognised state string is not an error: it maps to
	// GatewayStateIgnored.
	ErrGatewayUnknownState = errors.New("payment gateway returned an unknown state")

	// ErrTxnNotFound means the gateway has no record of the transaction.
	ErrTxnNotFound = errors.New("gateway transaction not found")
)

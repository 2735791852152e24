package model

import "time"

// CheckoutSessionStatus is the lifecycle state of a CheckoutSession (C3).
type CheckoutSessionStatus string

const (
	SessionPending         CheckoutSessionStatus = "pending"
	SessionAwaitingPayment CheckoutSessionStatus = "awaiting_payment"
	SessionCompleted       CheckoutSessionStatus = "completed"
	SessionExpired         CheckoutSessionStatus = "expired"
	SessionFailed          CheckoutSessionStatus = "failed"
)

// CheckoutSessionSource distinguishes a cart checkout from a buy-now flow.
type CheckoutSessionSource string

const (
	SourceCart   CheckoutSessionSource = "cart"
	SourceBuyNow CheckoutSessionSource = "buynow"
)

// CheckoutSession is the immutable cart snapshot captured before payment.
//
// Once a DraftOrder references SessionID via CheckoutSessionID, the
// session's reservations are owned by that order (spec §4.3) and
// expiry.Worker never releases them directly.
type CheckoutSession struct {
	SessionID     string                `json:"sessionId"`
	UserEmail     string                `json:"userEmail"`
	Items         []LineItem            `json:"items"`
	Totals        Totals                `json:"totals"`
	ShippingInfo  ShippingInfo          `json:"shippingInfo"`
	Status        CheckoutSessionStatus `json:"status"`
	StockReserved bool                  `json:"stockReserved"`
	// GatewayTxnID is recorded once payment is initiated against this
	// session, before the DraftOrder row itself is guaranteed to exist —
	// it lets a late webhook resolve back to this session's cart if the
	// DraftOrder/PaymentSession writes never landed.
	GatewayTxnID *string               `json:"gatewayTxnId,omitempty"`
	ExpiresAt    time.Time             `json:"expiresAt"`
	TimeoutAt    time.Time             `json:"timeoutAt"`
	Source       CheckoutSessionSource `json:"source"`
	CreatedAt    time.Time             `json:"createdAt"`
}

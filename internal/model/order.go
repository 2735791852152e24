package model

import (
	"encoding/json"
	"time"
)

// OrderStatus is the order lifecycle state (spec §4.7 state machine).
type OrderStatus string

const (
	OrderDraft          OrderStatus = "DRAFT"
	OrderPending        OrderStatus = "PENDING" // legacy equivalent of DRAFT, accepted by Commit
	OrderConfirmed      OrderStatus = "CONFIRMED"
	OrderCancelled      OrderStatus = "CANCELLED"
	OrderShipped        OrderStatus = "SHIPPED"
	OrderDelivered      OrderStatus = "DELIVERED"
	OrderPendingReview  OrderStatus = "PENDING_REVIEW"
)

// PaymentStatus tracks the gateway-side payment outcome.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

// IsDraftLike reports whether the status is eligible for Commit (§4.5
// preconditions treat PENDING as a legacy equivalent of DRAFT).
func (s OrderStatus) IsDraftLike() bool {
	return s == OrderDraft || s == OrderPending
}

// Order is the DraftOrder/Order record (C4/C5).
type Order struct {
	OrderID            string          `json:"orderId"`
	GatewayTxnID       *string         `json:"gatewayTxnId,omitempty"`
	CheckoutSessionID  *string         `json:"checkoutSessionId,omitempty"`
	IdempotencyKey     *string         `json:"idempotencyKey,omitempty"`
	Status             OrderStatus     `json:"status"`
	PaymentStatus      PaymentStatus   `json:"paymentStatus"`
	CartItems          []LineItem      `json:"cartItems"`
	Totals             Totals          `json:"totals"`
	UserInfo           UserInfo        `json:"userInfo"`
	ShippingInfo       ShippingInfo    `json:"shippingInfo"`
	StockReserved      bool            `json:"stockReserved"`
	StockConfirmed     bool            `json:"stockConfirmed"`
	DraftCreatedAt     time.Time       `json:"draftCreatedAt"`
	ConfirmedAt        *time.Time      `json:"confirmedAt,omitempty"`
	PaidAt             *time.Time      `json:"paidAt,omitempty"`
	CancelledAt        *time.Time      `json:"cancelledAt,omitempty"`
	CancellationReason string          `json:"cancellationReason,omitempty"`
	ProviderPayload    json.RawMessage `json:"providerPayload,omitempty"`
	StockCommitResults []StockResult   `json:"stockCommitResults,omitempty"`
	// RequiresManualProcessing marks emergency orders created without a
	// resolvable DraftOrder/CheckoutSession (§4.7 "Emergency order
	// creation"). These are never surfaced via the by-txn redirect lookup
	// (DESIGN.md Open Question decision) but remain visible by direct id.
	RequiresManualProcessing bool `json:"requiresManualProcessing"`
	// CartItemsRaw holds the exact cart_items JSONB bytes as loaded from
	// storage, before CartItems' typed unmarshal. Legacy rows may carry a
	// line item key (product_id/sku/itemId) that the typed LineItem field
	// doesn't recognize, so Commit falls back to this to resolve a product
	// id the typed decode dropped. Never serialized back out.
	CartItemsRaw json.RawMessage `json:"-"`
}

// CanCommit reports whether the order is eligible for Order Commit (§4.5).
func (o Order) CanCommit() bool {
	return o.Status.IsDraftLike() && o.PaymentStatus != PaymentPaid
}

// AlreadyCommitted reports the idempotent-commit short circuit of §4.5.
func (o Order) AlreadyCommitted() bool {
	return o.PaymentStatus == PaymentPaid
}

// PaymentSession is a lightweight snapshot of a payment attempt kept
// alongside (or instead of) a DraftOrder, consulted by the Webhook
// Processor's "Create from PaymentSession" resolution step (§4.7 step 3).
type PaymentSession struct {
	GatewayTxnID      string     `json:"gatewayTxnId"`
	CheckoutSessionID string     `json:"checkoutSessionId"`
	CartItems         []LineItem `json:"cartItems"`
	Totals            Totals     `json:"totals"`
	UserInfo          UserInfo   `json:"userInfo"`
	ShippingInfo      ShippingInfo `json:"shippingInfo"`
	CreatedAt         time.Time  `json:"createdAt"`
}

package model

import "github.com/shopspring/decimal"

// LineItem is the single normalized representation of one cart/order line
// used everywhere in this codebase. Historical payloads may arrive as a
// legacy `items[]` array or under alternate product-id field names
// (`productId`, `product_id`, `sku`); normalization into LineItem happens
// once at the I/O boundary (see checkout.NormalizeLineItems and
// ordercommit.ResolveProductID) and nothing downstream ever looks at the
// raw shapes again.
type LineItem struct {
	ProductID string          `json:"productId"`
	Size      string          `json:"size"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// LineTotal returns Quantity * UnitPrice.
func (li LineItem) LineTotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Totals is the subtotal/shipping/total breakdown carried by both
// CheckoutSession and Order.
type Totals struct {
	Subtotal     decimal.Decimal `json:"subtotal"`
	ShippingCost decimal.Decimal `json:"shippingCost"`
	Total        decimal.Decimal `json:"total"`
}

// SumLineItems computes the subtotal across a normalized line item slice.
func SumLineItems(items []LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.LineTotal())
	}
	return sum
}

// ShippingInfo is the delivery address/contact snapshot captured at
// checkout time. Shipping-rate computation itself is out of scope (§1) —
// this is just the carried snapshot.
type ShippingInfo struct {
	RecipientName string `json:"recipientName"`
	Line1         string `json:"line1"`
	Line2         string `json:"line2,omitempty"`
	City          string `json:"city"`
	PostalCode    string `json:"postalCode"`
	Country       string `json:"country"`
	Phone         string `json:"phone,omitempty"`
}

// UserInfo is the minimal buyer identity snapshot carried on an order.
type UserInfo struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

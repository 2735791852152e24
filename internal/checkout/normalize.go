package checkout

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/checkout-payment-core/internal/model"
)

// rawLineItem mirrors the several historical shapes a cart line can arrive
// in: product id under any of three field names, and either `unitPrice` or
// a legacy `price` key (spec §9 "dynamic cart/items duality").
type rawLineItem struct {
	ProductID  string          `json:"productId"`
	ProductID2 string          `json:"product_id"`
	SKU        string          `json:"sku"`
	Size       string          `json:"size"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	Price      decimal.Decimal `json:"price"`
}

func (r rawLineItem) resolveProductID() string {
	switch {
	case r.ProductID != "":
		return r.ProductID
	case r.ProductID2 != "":
		return r.ProductID2
	default:
		return r.SKU
	}
}

func (r rawLineItem) resolveUnitPrice() decimal.Decimal {
	if !r.UnitPrice.IsZero() {
		return r.UnitPrice
	}
	return r.Price
}

// NormalizeLineItems converts raw, possibly-heterogeneous JSON cart
// payloads into the single canonical []model.LineItem shape. This is the
// one-way migration point called out in spec §9: everything past the I/O
// boundary deals exclusively in model.LineItem.
func NormalizeLineItems(raw json.RawMessage) ([]model.LineItem, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var rawItems []rawLineItem
	if err := json.Unmarshal(raw, &rawItems); err != nil {
		return nil, err
	}

	items := make([]model.LineItem, 0, len(rawItems))
	for _, ri := range rawItems {
		items = append(items, model.LineItem{
			ProductID: ri.resolveProductID(),
			Size:      ri.Size,
			Quantity:  ri.Quantity,
			UnitPrice: ri.resolveUnitPrice(),
		})
	}
	return items, nil
}

package ordercommit

import "encoding/json"

// rawItemIDs mirrors the historical field names a line item's product
// identifier may be stored under (spec §4.5 "Product identifier may be
// stored under several historical field names; a single resolution
// function chooses the first non-empty").
type rawItemIDs struct {
	ProductID string `json:"productId"`
	ProductID2 string `json:"product_id"`
	SKU       string `json:"sku"`
	ItemID    string `json:"itemId"`
}

// ResolveProductID extracts a product id from a raw JSON line item object,
// trying each historical field name in a fixed priority order and
// returning the first non-empty value.
func ResolveProductID(raw json.RawMessage) string {
	var ids rawItemIDs
	if err := json.Unmarshal(raw, &ids); err != nil {
		return ""
	}
	switch {
	case ids.ProductID != "":
		return ids.ProductID
	case ids.ProductID2 != "":
		return ids.ProductID2
	case ids.SKU != "":
		return ids.SKU
	default:
		return ids.ItemID
	}
}

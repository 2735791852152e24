// Package catalog models the out-of-scope product catalog as a minimal
// interface (spec §6A): the checkout session handler validates a cart
// snapshot's prices and stock against "live" data before reserving, but a
// real catalog service (pricing rules, promotions, merchandising) is
// explicitly out of scope (§1 Non-goals). This package exists only so that
// boundary is modeled as a seam, not hardcoded.
package catalog

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/checkout-payment-core/internal/model"
	"github.com/fairyhunter13/checkout-payment-core/internal/stock"
)

// PriceLookup validates a line item's claimed price/availability against
// live catalog data at session-creation time.
type PriceLookup interface {
	// CurrentPrice returns the live unit price for a product/size.
	CurrentPrice(ctx context.Context, productID, size string) (decimal.Decimal, error)
	// Available reports whether at least qty units are purchasable right now.
	Available(ctx context.Context, productID, size string, qty int) (bool, error)
}

// StaticPriceLookup is the in-repo PriceLookup: it trusts the price the
// caller already supplied (there is no separate pricing system to consult)
// and defers availability entirely to the Stock Store, which is the real
// source of truth this repo owns. A production deployment would replace
// this with a client for the actual catalog/pricing service.
type StaticPriceLookup struct {
	store *stock.Store
}

// NewStaticPriceLookup wires a StaticPriceLookup against the stock store.
func NewStaticPriceLookup(store *stock.Store) *StaticPriceLookup {
	return &StaticPriceLookup{store: store}
}

// CurrentPrice always returns a zero price and ErrNoIndependentPricing,
// since no independent pricing system exists in this repo's scope.
func (l *StaticPriceLookup) CurrentPrice(ctx context.Context, productID, size string) (decimal.Decimal, error) {
	return decimal.Zero, ErrNoIndependentPricing
}

// Available checks the Stock Store's availability projection (stock -
// reserved) directly, rather than a separate catalog feed.
func (l *StaticPriceLookup) Available(ctx context.Context, productID, size string, qty int) (bool, error) {
	ps, err := l.store.Get(ctx, productID, size)
	if err != nil {
		return false, err
	}
	return ps.Available() >= qty, nil
}

// ValidateSnapshot re-checks every line item in a cart snapshot against
// live stock availability, the "server-side validated against live
// product prices and stock" step spec §4.3 requires before a
// CheckoutSession is created. Price validation is a no-op here (see
// CurrentPrice) since this repo has no independent pricing system to
// compare against.
func ValidateSnapshot(ctx context.Context, lookup PriceLookup, items []model.LineItem) error {
	for _, item := range items {
		ok, err := lookup.Available(ctx, item.ProductID, item.Size, item.Quantity)
		if err != nil {
			return err
		}
		if !ok {
			return ErrStaleSnapshot
		}
	}
	return nil
}

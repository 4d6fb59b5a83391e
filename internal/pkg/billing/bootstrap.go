package billing

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/quartiero/quartiero/internal/pkg/entitlements"
)

// CatalogItem describes one purchasable tier. The lookup key is the stable
// identifier on the provider side; price ids differ between live and test
// environments and are resolved at startup.
type CatalogItem struct {
	Tier        entitlements.Tier
	LookupKey   string
	ProductName string
	AmountCents int64
	Currency    string
}

// DefaultCatalog lists the paid tiers the platform sells.
func DefaultCatalog() []CatalogItem {
	return []CatalogItem{
		{Tier: entitlements.TierPlus, LookupKey: "membership_plus_monthly", ProductName: "Plus Membership", AmountCents: 499, Currency: "eur"},
		{Tier: entitlements.TierFamily, LookupKey: "membership_family_monthly", ProductName: "Family Membership", AmountCents: 999, Currency: "eur"},
		{Tier: entitlements.TierBusinessBasic, LookupKey: "business_basic_monthly", ProductName: "Business Basic", AmountCents: 1999, Currency: "eur"},
		{Tier: entitlements.TierBusinessStandard, LookupKey: "business_standard_monthly", ProductName: "Business Standard", AmountCents: 4999, Currency: "eur"},
		{Tier: entitlements.TierBusinessPremium, LookupKey: "business_premium_monthly", ProductName: "Business Premium", AmountCents: 9999, Currency: "eur"},
	}
}

// Catalog maps tiers to resolved provider price ids.
type Catalog struct {
	prices map[entitlements.Tier]string
}

// PriceID returns the provider price id for a tier, or "" when the tier is
// not purchasable.
func (c *Catalog) PriceID(tier entitlements.Tier) string {
	if c == nil {
		return ""
	}
	return c.prices[tier]
}

// EnsureCatalog resolves each catalog item to a provider price, creating the
// product and price on first run. Lookup keys make this idempotent: reruns
// find the existing price and create nothing.
func EnsureCatalog(ctx context.Context, gw ProviderGateway, items []CatalogItem, log zerolog.Logger) (*Catalog, error) {
	catalog := &Catalog{prices: make(map[entitlements.Tier]string, len(items))}
	for _, item := range items {
		price, err := gw.FindPriceByLookupKey(ctx, item.LookupKey)
		if err != nil {
			return nil, fmt.Errorf("resolve price %s: %w", item.LookupKey, err)
		}
		if price != nil {
			catalog.prices[item.Tier] = price.ID
			continue
		}

		meta := map[string]string{tierMetadataKey: string(item.Tier)}
		product, err := gw.CreateProduct(ctx, item.ProductName, meta)
		if err != nil {
			return nil, err
		}
		price, err = gw.CreatePrice(ctx, product.ID, item.LookupKey, item.Currency, item.AmountCents, meta)
		if err != nil {
			return nil, err
		}
		catalog.prices[item.Tier] = price.ID
		log.Info().
			Str("tier", string(item.Tier)).
			Str("price_id", price.ID).
			Msg("created provider catalog entry")
	}
	return catalog, nil
}

package billing

import (
	"strings"

	"github.com/stripe/stripe-go/v83"

	"github.com/quartiero/quartiero/internal/pkg/entitlements"
)

const tierMetadataKey = "tier"

// ResolveTier derives the target entitlement tier from a subscription and,
// when available, the checkout session that created it. Priority order,
// first non-empty wins:
//
//  1. checkout-session metadata
//  2. subscription metadata
//  3. subscription-item price metadata
//  4. underlying product metadata
//
// The winning string is trimmed, upper-cased and validated against the
// closed tier set; anything unrecognized resolves to the owner's baseline
// tier rather than failing.
func ResolveTier(sub *stripe.Subscription, sess *stripe.CheckoutSession, kind entitlements.OwnerKind) entitlements.Tier {
	if raw := sessionTier(sess); raw != "" {
		return entitlements.Normalize(raw, kind)
	}
	if sub != nil {
		if raw := metadataTier(sub.Metadata); raw != "" {
			return entitlements.Normalize(raw, kind)
		}
		if raw := itemTier(sub); raw != "" {
			return entitlements.Normalize(raw, kind)
		}
		if raw := productTier(sub); raw != "" {
			return entitlements.Normalize(raw, kind)
		}
	}
	return entitlements.Baseline(kind)
}

func sessionTier(sess *stripe.CheckoutSession) string {
	if sess == nil {
		return ""
	}
	return metadataTier(sess.Metadata)
}

func itemTier(sub *stripe.Subscription) string {
	if sub.Items == nil {
		return ""
	}
	for _, item := range sub.Items.Data {
		if item == nil || item.Price == nil {
			continue
		}
		if raw := metadataTier(item.Price.Metadata); raw != "" {
			return raw
		}
	}
	return ""
}

func productTier(sub *stripe.Subscription) string {
	if sub.Items == nil {
		return ""
	}
	for _, item := range sub.Items.Data {
		if item == nil || item.Price == nil || item.Price.Product == nil {
			continue
		}
		// Product metadata is only present when the fetch expanded
		// items.data.price.product; bare webhook payloads carry the id only.
		if raw := metadataTier(item.Price.Product.Metadata); raw != "" {
			return raw
		}
	}
	return ""
}

func metadataTier(metadata map[string]string) string {
	if metadata == nil {
		return ""
	}
	return strings.TrimSpace(metadata[tierMetadataKey])
}

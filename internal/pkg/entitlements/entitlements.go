package entitlements

import "strings"

// Tier is an ordinal membership/plan level. User accounts and businesses
// have separate tier ladders; both bottom out on a baseline tier.
type Tier string

// OwnerKind distinguishes which aggregate a subscription entitles.
type OwnerKind string

const (
	OwnerKindUser     OwnerKind = "user"
	OwnerKindBusiness OwnerKind = "business"
)

const (
	TierFree   Tier = "FREE"
	TierPlus   Tier = "PLUS"
	TierFamily Tier = "FAMILY"

	TierBusinessBasic    Tier = "BUSINESS_BASIC"
	TierBusinessStandard Tier = "BUSINESS_STANDARD"
	TierBusinessPremium  Tier = "BUSINESS_PREMIUM"
)

// Baseline returns the tier an owner falls back to when no subscription
// entitles it.
func Baseline(kind OwnerKind) Tier {
	if kind == OwnerKindBusiness {
		return TierBusinessBasic
	}
	return TierFree
}

// Known reports whether t is part of the closed tier set.
func Known(t Tier) bool {
	switch t {
	case TierFree, TierPlus, TierFamily,
		TierBusinessBasic, TierBusinessStandard, TierBusinessPremium:
		return true
	default:
		return false
	}
}

// Normalize trims and upper-cases a raw tier string and validates it against
// the closed set. Unrecognized values resolve to the baseline for the owner
// kind instead of failing; billing continuity wins over strict rejection.
func Normalize(raw string, kind OwnerKind) Tier {
	t := Tier(strings.ToUpper(strings.TrimSpace(raw)))
	if !Known(t) {
		return Baseline(kind)
	}
	return t
}

// Rank orders tiers within their ladder so a better plan always outranks a
// lesser one.
func Rank(t Tier) int {
	switch t {
	case TierPlus, TierBusinessStandard:
		return 1
	case TierFamily, TierBusinessPremium:
		return 2
	default:
		return 0
	}
}

// KindOf reports which ladder a tier belongs to.
func KindOf(t Tier) OwnerKind {
	switch t {
	case TierBusinessBasic, TierBusinessStandard, TierBusinessPremium:
		return OwnerKindBusiness
	default:
		return OwnerKindUser
	}
}

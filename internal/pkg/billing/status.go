package billing

import (
	"strings"

	"github.com/quartiero/quartiero/app/models"
)

// normalizeStatus maps a raw provider status onto the closed internal set.
// Unknown values fall through to incomplete so they never grant anything.
func normalizeStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case models.BillingStatusActive:
		return models.BillingStatusActive
	case models.BillingStatusTrialing:
		return models.BillingStatusTrialing
	case models.BillingStatusPastDue:
		return models.BillingStatusPastDue
	case models.BillingStatusCanceled:
		return models.BillingStatusCanceled
	case models.BillingStatusUnpaid:
		return models.BillingStatusUnpaid
	case "incomplete_expired":
		return models.BillingStatusIncomplete
	default:
		return models.BillingStatusIncomplete
	}
}

// isGrantingStatus reports statuses that confer entitlement.
func isGrantingStatus(status string) bool {
	switch normalizeStatus(status) {
	case models.BillingStatusActive, models.BillingStatusTrialing:
		return true
	default:
		return false
	}
}

// isRevokingStatus reports statuses that withdraw entitlement.
func isRevokingStatus(status string) bool {
	switch normalizeStatus(status) {
	case models.BillingStatusCanceled, models.BillingStatusUnpaid,
		models.BillingStatusPastDue, models.BillingStatusIncomplete:
		return true
	default:
		return false
	}
}

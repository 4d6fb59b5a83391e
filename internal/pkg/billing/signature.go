package billing

import (
	"strings"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"
)

// VerifyWebhookSignature checks the provider signature (HMAC-SHA256 over
// timestamp and body, Stripe-Signature header) and parses the payload into a
// typed event envelope. This must run before any database access; a failure
// here is a security rejection, not a transient fault.
//
// API version mismatches do not fail verification: the signature still
// checks out, and event deserialization tolerates missing fields.
func VerifyWebhookSignature(payload []byte, signatureHeader, webhookSecret string) (stripe.Event, error) {
	sig := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)

	return webhook.ConstructEventWithOptions(payload, sig, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

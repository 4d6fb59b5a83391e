package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"
)

const signingSecret = "whsec_test_secret"

func signPayload(t *testing.T, payload []byte, secret string, at time.Time) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyWebhookSignature(t *testing.T) {
	payload := []byte(`{"id": "evt_1", "type": "customer.subscription.updated", "data": {"object": {"id": "sub_1"}}}`)

	header := signPayload(t, payload, signingSecret, time.Now())
	event, err := VerifyWebhookSignature(payload, header, signingSecret)
	if err != nil {
		t.Fatalf("VerifyWebhookSignature() error = %v", err)
	}
	if event.ID != "evt_1" {
		t.Fatalf("event id = %q, want evt_1", event.ID)
	}
	if string(event.Type) != "customer.subscription.updated" {
		t.Fatalf("event type = %q", event.Type)
	}
}

func TestVerifyWebhookSignatureRejectsBadInput(t *testing.T) {
	payload := []byte(`{"id": "evt_1", "type": "ping"}`)
	valid := signPayload(t, payload, signingSecret, time.Now())

	tests := []struct {
		name    string
		payload []byte
		header  string
	}{
		{"wrong secret", payload, signPayload(t, payload, "whsec_other", time.Now())},
		{"tampered payload", []byte(`{"id": "evt_2"}`), valid},
		{"empty header", payload, ""},
		{"garbage header", payload, "t=notatime,v1=zzzz"},
		{"expired timestamp", payload, signPayload(t, payload, signingSecret, time.Now().Add(-time.Hour))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := VerifyWebhookSignature(tt.payload, tt.header, signingSecret); err == nil {
				t.Fatal("VerifyWebhookSignature() = nil, want error")
			}
		})
	}
}

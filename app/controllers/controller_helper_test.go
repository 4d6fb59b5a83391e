package controllers

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		wantV4  string
		wantV6  string
	}{
		{
			name:    "cloudflare ipv4",
			headers: map[string]string{"CF-Connecting-IP": "203.0.113.9"},
			wantV4:  "203.0.113.9",
		},
		{
			name:    "cloudflare ipv6",
			headers: map[string]string{"CF-Connecting-IP": "2001:db8::1"},
			wantV6:  "2001:db8::1",
		},
		{
			name:    "forwarded chain keeps first hop",
			headers: map[string]string{"X-Forwarded-For": "198.51.100.7, 10.0.0.1"},
			wantV4:  "198.51.100.7",
		},
		{
			name:    "mixed forwarded families",
			headers: map[string]string{"X-Forwarded-For": "2001:db8::2, 198.51.100.8"},
			wantV4:  "198.51.100.8",
			wantV6:  "2001:db8::2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			var gotV4, gotV6 string
			app.Get("/ip", func(c *fiber.Ctx) error {
				gotV4, gotV6 = GetClientIP(c)
				return c.SendStatus(fiber.StatusOK)
			})

			req := httptest.NewRequest("GET", "/ip", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if _, err := app.Test(req); err != nil {
				t.Fatalf("request failed: %v", err)
			}

			if gotV4 != tt.wantV4 || gotV6 != tt.wantV6 {
				t.Fatalf("GetClientIP() = (%q, %q), want (%q, %q)", gotV4, gotV6, tt.wantV4, tt.wantV6)
			}
		})
	}
}

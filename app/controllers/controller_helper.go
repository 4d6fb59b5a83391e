package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// GetClientIP determines the actual client IP address considering proxies.
// Returns both IPv4 and IPv6 addresses if available.
func GetClientIP(c *fiber.Ctx) (string, string) {
	ipv4 := ""
	ipv6 := ""

	// Cloudflare provides the original client IP in this header
	cfIP := c.Get("CF-Connecting-IP")
	if cfIP != "" {
		if strings.Contains(cfIP, ":") {
			ipv6 = cfIP
		} else {
			ipv4 = cfIP
		}
		return ipv4, ipv6
	}

	xff := c.Get("X-Forwarded-For")
	if xff != "" {
		for _, ip := range strings.Split(xff, ",") {
			ip = strings.TrimSpace(ip)
			if ip == "" {
				continue
			}
			if strings.Contains(ip, ":") {
				if ipv6 == "" {
					ipv6 = ip
				}
			} else if ipv4 == "" {
				ipv4 = ip
			}
		}
		if ipv4 != "" || ipv6 != "" {
			return ipv4, ipv6
		}
	}

	remote := c.IP()
	if strings.Contains(remote, ":") {
		ipv6 = remote
	} else {
		ipv4 = remote
	}
	return ipv4, ipv6
}

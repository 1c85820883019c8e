// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides SecurityHeaders, which attaches a conservative set of
// HTTP security headers for a JSON API running behind a reverse proxy.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderReplayed marks a response served from the idempotency store.
const HeaderReplayed = "Idempotency-Replayed"

// SecurityOptions configures SecurityHeaders.
//
// EnableHSTS emits Strict-Transport-Security on HTTPS requests only. Enable
// it only when traffic is HTTPS end-to-end. HSTSMaxAge defaults to 180 days.
//
// NoStore adds Cache-Control: no-store plus the legacy Pragma/Expires pair;
// fan-out results describe a single broadcast and must never be cached.
//
// Expose lists response headers browser clients may read. Defaults to
// X-Request-ID and Idempotency-Replayed.
type SecurityOptions struct {
	EnableHSTS   bool
	HSTSMaxAge   time.Duration
	NoStore      bool
	EnablePolicy bool // Permissions-Policy, X-Permitted-Cross-Domain-Policies
	Expose       []string
}

// SecurityHeaders returns a Gin middleware that sets:
//
//   - always: X-Content-Type-Options, X-Frame-Options, Referrer-Policy
//   - EnablePolicy: Permissions-Policy, X-Permitted-Cross-Domain-Policies
//   - NoStore: Cache-Control, Pragma, Expires
//   - EnableHSTS on HTTPS: Strict-Transport-Security
//
// and appends opt.Expose to Access-Control-Expose-Headers without
// duplicating names that are already listed.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := int(opt.HSTSMaxAge.Seconds())
	if maxAge <= 0 {
		maxAge = int((180 * 24 * time.Hour).Seconds())
	}
	hsts := "max-age=" + strconv.Itoa(maxAge) + "; includeSubDomains; preload"

	expose := opt.Expose
	if expose == nil {
		expose = []string{requestIDHeader, HeaderReplayed}
	}

	return func(c *gin.Context) {
		h := c.Writer.Header()

		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}

		if opt.NoStore {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			h.Set("Expires", "0")
		}

		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}

		if len(expose) > 0 {
			h.Set("Access-Control-Expose-Headers", appendExposed(h.Get("Access-Control-Expose-Headers"), expose))
		}

		c.Next()
	}
}

// appendExposed merges names into a comma separated header value,
// comparing case-insensitively.
func appendExposed(cur string, names []string) string {
	seen := map[string]struct{}{}
	var parts []string
	for _, p := range strings.Split(cur, ",") {
		if p = strings.TrimSpace(p); p != "" {
			seen[strings.ToLower(p)] = struct{}{}
			parts = append(parts, p)
		}
	}
	for _, n := range names {
		if _, ok := seen[strings.ToLower(n)]; ok || n == "" {
			continue
		}
		seen[strings.ToLower(n)] = struct{}{}
		parts = append(parts, n)
	}
	return strings.Join(parts, ", ")
}

// isHTTPS reports whether the request arrived over TLS directly or through
// a proxy that set X-Forwarded-Proto: https.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/dakael7/gravitylabs/internal/httpx"
	"github.com/gofiber/fiber/v2"
)

const (
	CSRFCookie = "gl_csrf"
	CSRFHeader = "X-GL-CSRF"
)

// CSRFRequired protects cookie-authenticated browser writes.
// Modes:
// - token: require X-GL-CSRF header to match gl_csrf cookie (default)
// - origin: only enforce the Origin allow-list
// - off: disable checks
// Bearer-authenticated requests are not exposed to CSRF and pass.
func CSRFRequired(mode, allowedOrigins string) fiber.Handler {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = "token"
	}
	allowed := splitCSV(strings.TrimSpace(allowedOrigins))

	return func(c *fiber.Ctx) error {
		if mode == "off" {
			return c.Next()
		}

		switch c.Method() {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		origin := strings.TrimSpace(c.Get("Origin"))
		if origin == "" || strings.HasPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ") {
			return c.Next()
		}

		if len(allowed) > 0 && !originAllowed(origin, allowed) {
			return httpx.Forbidden(c, "forbidden_origin", "Origin not allowed")
		}

		if mode == "origin" {
			return c.Next()
		}

		csrfCookie := c.Cookies(CSRFCookie)
		csrfHeader := c.Get(CSRFHeader)
		if csrfCookie == "" || csrfHeader == "" {
			return httpx.Forbidden(c, "csrf_required", "Missing CSRF token")
		}

		if subtle.ConstantTimeCompare([]byte(csrfCookie), []byte(csrfHeader)) != 1 {
			return httpx.Forbidden(c, "csrf_invalid", "Invalid CSRF token")
		}

		return c.Next()
	}
}

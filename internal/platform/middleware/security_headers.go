package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// HeaderPolicy configures SecurityHeaders.
type HeaderPolicy struct {
	// HSTSMaxAge enables Strict-Transport-Security when positive. Leave it
	// zero when TLS ends at a proxy that sets the header itself.
	HSTSMaxAge time.Duration
	// CacheablePaths are path prefixes whose GET responses may be kept by
	// the client for CacheTTL. Everything else is no-store.
	CacheablePaths []string
	CacheTTL       time.Duration
}

// SecurityHeaders marks every response as a non-embeddable JSON document.
// Reference data listed in CacheablePaths gets a short private cache so
// dashboards do not refetch it on every page.
func SecurityHeaders(p HeaderPolicy) echo.MiddlewareFunc {
	var hsts string
	if p.HSTSMaxAge > 0 {
		hsts = fmt.Sprintf("max-age=%d", int64(p.HSTSMaxAge/time.Second))
	}
	cacheable := fmt.Sprintf("private, max-age=%d", int64(p.CacheTTL/time.Second))

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set(echo.HeaderXContentTypeOptions, "nosniff")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cross-Origin-Resource-Policy", "same-origin")
			if hsts != "" {
				h.Set(echo.HeaderStrictTransportSecurity, hsts)
			}
			if p.CacheTTL > 0 && c.Request().Method == http.MethodGet && hasPrefix(c.Request().URL.Path, p.CacheablePaths) {
				h.Set(echo.HeaderCacheControl, cacheable)
			} else {
				h.Set(echo.HeaderCacheControl, "no-store")
			}
			return next(c)
		}
	}
}

func hasPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

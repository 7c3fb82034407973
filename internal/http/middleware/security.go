// Security headers for kiosk API responses. Member lookups return names,
// phone numbers and addresses, so those routes are marked no-store by path
// prefix while segment listings stay cacheable. There is no CSP here; the
// kiosk UI is served separately.

package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const defaultHSTSMaxAge = 180 * 24 * time.Hour

// kioskPermissionsPolicy keeps the camera for reading pass QR codes and
// denies every other feature the kiosk UI never uses.
const kioskPermissionsPolicy = "camera=(self), geolocation=(), microphone=(), payment=(), usb=()"

// kioskVisibleHeaders are response headers the kiosk UI reads: the request id
// for error screens and the replay marker for duplicate check-in taps.
var kioskVisibleHeaders = []string{"X-Request-ID", "Idempotency-Replayed"}

// SecurityOptions selects the optional headers.
type SecurityOptions struct {
	// EnableHSTS sends Strict-Transport-Security on HTTPS requests only.
	// Enable it only when the proxy-to-app hop is HTTPS as well.
	EnableHSTS bool
	HSTSMaxAge time.Duration // <= 0 means 180 days

	// NoStore marks every response no-store; NoStorePrefixes only the
	// matching paths.
	NoStore         bool
	NoStorePrefixes []string

	// EnablePolicy adds Permissions-Policy and X-Permitted-Cross-Domain-Policies.
	EnablePolicy bool
}

// SecurityHeaders always sends nosniff, DENY framing and no-referrer, and
// exposes kioskVisibleHeaders to the browser. The rest follows opt.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	base := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
	}
	if opt.EnablePolicy {
		base["Permissions-Policy"] = kioskPermissionsPolicy
		base["X-Permitted-Cross-Domain-Policies"] = "none"
	}
	noStore := map[string]string{
		"Cache-Control": "no-store",
		"Pragma":        "no-cache",
		"Expires":       "0",
	}
	maxAge := opt.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = defaultHSTSMaxAge
	}
	hsts := "max-age=" + strconv.FormatInt(int64(maxAge/time.Second), 10) + "; includeSubDomains; preload"

	return func(c *gin.Context) {
		h := c.Writer.Header()
		setAll(h, base)
		if opt.NoStore || hasAnyPrefix(c.Request.URL.Path, opt.NoStorePrefixes) {
			setAll(h, noStore)
		}
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}
		for _, name := range kioskVisibleHeaders {
			exposeHeader(h, name)
		}
		c.Next()
	}
}

func setAll(h http.Header, kv map[string]string) {
	for k, v := range kv {
		h.Set(k, v)
	}
}

// exposeHeader appends name to Access-Control-Expose-Headers once.
func exposeHeader(h http.Header, name string) {
	const hdr = "Access-Control-Expose-Headers"
	switch cur := h.Get(hdr); {
	case cur == "":
		h.Set(hdr, name)
	case !strings.Contains(cur, name):
		h.Set(hdr, cur+", "+name)
	}
}

// isHTTPS trusts X-Forwarded-Proto; the kiosk server only listens behind the
// site proxy or on localhost.
func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

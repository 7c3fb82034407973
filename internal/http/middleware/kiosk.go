// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the identity of the kiosk terminal issuing a request.
// Terminals identify themselves with the X-Kiosk-ID header; the id keys rate
// limiting, idempotency records and request logs. Requests without a usable
// id are attributed to a configured default terminal.
package middleware

import (
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/checkin-kiosk/internal/sysutil"
)

// HeaderKioskID carries the calling terminal's identifier.
const HeaderKioskID = "X-Kiosk-ID"

// ctxKeyKioskID is the Gin context key under which the kiosk id is stored.
const ctxKeyKioskID = "kioskID"

// defaultKioskID is used when neither the header nor the configured default
// provides an id.
const defaultKioskID = "default-kiosk"

var kioskIDRE = regexp.MustCompile(`^[A-Za-z0-9._\-]{1,64}$`)

// KioskIdentity stores the caller's kiosk id in the Gin context. Malformed
// header values are ignored rather than rejected so a misconfigured terminal
// can still check members in.
func KioskIdentity(fallback string) gin.HandlerFunc {
	fallback = sysutil.FirstNonEmpty(strings.TrimSpace(fallback), defaultKioskID)
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderKioskID))
		if !kioskIDRE.MatchString(id) {
			id = ""
		}
		c.Set(ctxKeyKioskID, sysutil.FirstNonEmpty(id, fallback))
		c.Next()
	}
}

// KioskID returns the kiosk id set by KioskIdentity, or "" when the
// middleware is not installed.
func KioskID(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyKioskID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// RedactingLogger is the kiosk's access logger. Kiosk traffic is full of
// member contact data (search by phone, email or name), so every header and
// query value is scrubbed before it reaches the log, and bodies are never
// logged at all.

package middleware

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/checkin-kiosk/internal/sysutil"
)

// RedactOptions adds header names and query parameters whose values are
// replaced by [REDACTED] outright. Authorization, Cookie and Set-Cookie are
// always masked. Names match case-insensitively.
type RedactOptions struct {
	MaskHeaders []string
	MaskQuery   []string
}

// UUIDs go first so the phone pattern cannot eat their digit groups.
var (
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

func redact(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

// lowerSet builds a case-folded lookup set, skipping blanks.
func lowerSet(names ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

// redactQuery masks the named parameters and scrubs the rest. Values are
// decoded first so "%40" cannot hide an email; keys come out sorted.
func redactQuery(raw string, masked map[string]struct{}) string {
	if raw == "" {
		return ""
	}
	vals, err := url.ParseQuery(raw)
	if err != nil {
		return redact(raw)
	}
	parts := make([]string, 0, len(vals))
	for k, vv := range vals {
		v := "[REDACTED]"
		if _, ok := masked[strings.ToLower(k)]; !ok {
			v = redact(strings.Join(vv, ","))
		}
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, "&")
}

// redactHeaders returns the request headers with masked names blanked and
// every other value scrubbed.
func redactHeaders(h map[string][]string, masked map[string]struct{}) *zerolog.Event {
	d := zerolog.Dict()
	for k, vv := range h {
		if _, ok := masked[strings.ToLower(k)]; ok {
			d.Str(k, "[REDACTED]")
			continue
		}
		d.Str(k, redact(strings.Join(vv, ", ")))
	}
	return d
}

// RedactingLogger stores a request-scoped logger (request_id, kiosk_id,
// method, route) for LoggerFrom and writes one scrubbed access line per
// request: error for 5xx or handler errors, warn for 4xx, info otherwise.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	maskHeaders := lowerSet(append([]string{"Authorization", "Cookie", "Set-Cookie"}, opts.MaskHeaders...)...)
	maskQuery := lowerSet(opts.MaskQuery...)

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		safeQuery := truncate(redactQuery(c.Request.URL.RawQuery, maskQuery), maxQueryLogLength)
		safeHeaders := redactHeaders(c.Request.Header, maskHeaders)

		// Without RequestID in the chain, fall back to whatever id is at hand.
		reqID := sysutil.FirstNonEmpty(RequestIDFrom(c), c.Writer.Header().Get(requestIDHeader), c.GetHeader(requestIDHeader))
		l := log.With().
			Str("request_id", reqID).
			Str("kiosk_id", KioskID(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Logger()
		c.Set(loggerKey, &l)

		c.Next()

		status := c.Writer.Status()
		var ev *zerolog.Event
		switch {
		case len(c.Errors) > 0:
			ev = l.Error().Str("errors", c.Errors.String())
		case status >= 500:
			ev = l.Error()
		case status >= 400:
			ev = l.Warn()
		default:
			ev = l.Info()
		}

		ev.
			Str("query", safeQuery).
			Str("remote_ip", c.ClientIP()).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Dict("headers", safeHeaders).
			Msg("http_request")
	}
}

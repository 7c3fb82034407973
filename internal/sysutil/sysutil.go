// Package sysutil holds process-level helpers shared by main and the HTTP
// layer: global logger setup and a couple of string predicates.
package sysutil

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ServiceName tags every log line written through the global logger.
const ServiceName = "checkin-kiosk"

// SetupLogger installs the global zerolog logger. JSON lines go to w
// (os.Stdout when nil); pretty switches to the console writer used on a
// developer laptop or a kiosk's local terminal. Lines carry the service name
// and, when known, the host so logs shipped from several sites stay apart.
func SetupLogger(level string, pretty bool, w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	SetLogLevel(level)

	ctx := zerolog.New(w).With().Timestamp().Str("service", ServiceName)
	if host, err := os.Hostname(); err == nil && host != "" {
		ctx = ctx.Str("host", host)
	}
	log.Logger = ctx.Logger()
}

// SetLogLevel sets the global level from a name such as "debug" or "WARN"
// and returns the level applied. "warning" is accepted for warn; blank,
// unknown and "disabled" names fall back to info so a typo in LOG_LEVEL never
// silences a kiosk.
func SetLogLevel(name string) zerolog.Level {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "warning" {
		name = "warn"
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || name == "" || lvl == zerolog.Disabled || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return lvl
}

// IsTruthy reports whether an environment value means "on":
// 1, true, yes, y or on, in any case.
func IsTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

// FirstNonEmpty returns the first value that is not blank, or "".
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

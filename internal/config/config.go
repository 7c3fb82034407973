// Package config loads the kiosk server's settings from the environment.
// Besides the HTTP server, storage and telemetry knobs it carries the domain
// settings: cache freshness, bulk refresh pacing, the CRM retry policy, the
// catalog item that makes an order a valid pass, the CRM connection and the
// offline queue worker.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "checkin-kiosk")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// MembershipConfig controls membership cache freshness.
type MembershipConfig struct {
	TTL        time.Duration // MEMBERSHIP_TTL_HOURS; entries younger than this are served from cache
	RefreshAge time.Duration // REFRESH_AGE_HOURS; oldest-entry age that makes a bulk refresh due
}

// BulkConfig paces the bulk refresh engine.
type BulkConfig struct {
	Concurrency  int           // BULK_CONCURRENCY; batch size
	RateLimit    time.Duration // BULK_RATE_LIMIT_MS; pause between batches
	RequestDelay time.Duration // BULK_REQUEST_DELAY_MS; stagger step inside a batch
}

// RetryConfig is the CRM retry policy.
type RetryConfig struct {
	MaxAttempts int           // RETRY_MAX_ATTEMPTS; total tries including the first
	BaseDelay   time.Duration // RETRY_BASE_DELAY; doubled on every retry
}

// CheckinConfig identifies the catalog entry an order must contain to be a
// valid pass.
type CheckinConfig struct {
	ItemID      string        // CHECKIN_ITEM_ID
	VariationID string        // CHECKIN_VARIATION_ID (optional)
	LogWindow   time.Duration // CHECKIN_LOG_WINDOW; how far back the local history shortcut looks
}

// CRMConfig is the connection to the external CRM.
type CRMConfig struct {
	BaseURL     string        // CRM_BASE_URL
	AccessToken string        // CRM_ACCESS_TOKEN
	Timeout     time.Duration // CRM_TIMEOUT
	RPS         float64       // CRM_RPS; outbound throttle, 0 disables
	Burst       int           // CRM_BURST
}

// QueueConfig drives the offline check-in queue worker.
type QueueConfig struct {
	SyncInterval    time.Duration // QUEUE_SYNC_INTERVAL
	MaxSyncAttempts int           // QUEUE_MAX_SYNC_ATTEMPTS; 0 keeps failing rows pending forever
	RetentionDays   int           // QUEUE_RETENTION_DAYS; synced rows older than this are pruned
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage
	DBPath string // SQLite path

	// Rate limiting (inbound, per kiosk)
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig

	// Domain
	Membership MembershipConfig
	Bulk       BulkConfig
	Retry      RetryConfig
	Checkin    CheckinConfig
	CRM        CRMConfig
	Queue      QueueConfig
}

// MustLoad is Load for main: a kiosk with a broken environment must not
// start half-configured.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the environment, applies defaults and validates the result.
// Malformed values (RATE_RPS=fast) are errors rather than silent defaults,
// and every problem is reported at once so an operator can fix the .env file
// in one pass.
func Load() (Config, error) {
	var env envReader
	cfg := Config{
		Port:              env.str("PORT", "8080"),
		ReadTimeout:       env.duration("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: env.duration("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      env.duration("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       env.duration("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    env.integer("MAX_HEADER_BYTES", 1<<20),
		GinMode:           ginMode(env.str("GIN_MODE", "release")),

		LogLevel:       logLevel(env.str("LOG_LEVEL", "info")),
		LogPretty:      env.boolean("LOG_PRETTY", false),
		SwaggerEnabled: env.boolean("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(env.str("API_BASE_PATH", "/api/v1")),

		DBPath: env.str("DB_PATH", "kiosk.db"),

		RateRPS:   env.float("RATE_RPS", 5),
		RateBurst: env.integer("RATE_BURST", 10),

		CORS: CORSConfig{AllowedOrigins: splitCSV(env.str("CORS_ALLOWED_ORIGINS", ""))},
		Security: SecurityConfig{
			EnableHSTS: env.boolean("ENABLE_HSTS", false),
			HSTSMaxAge: env.duration("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL: env.duration("IDEMPOTENCY_TTL", 24*time.Hour),

		OTEL: OTELConfig{
			Enabled:     env.boolean("OTEL_ENABLED", false),
			Endpoint:    env.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    env.boolean("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: env.str("OTEL_SERVICE_NAME", "checkin-kiosk"),
			SampleRatio: env.float("OTEL_TRACES_SAMPLER_ARG", 1),
		},

		Membership: MembershipConfig{
			TTL:        env.hours("MEMBERSHIP_TTL_HOURS", 24),
			RefreshAge: env.hours("REFRESH_AGE_HOURS", 20),
		},
		Bulk: BulkConfig{
			Concurrency:  env.integer("BULK_CONCURRENCY", 5),
			RateLimit:    env.millis("BULK_RATE_LIMIT_MS", 1000),
			RequestDelay: env.millis("BULK_REQUEST_DELAY_MS", 100),
		},
		Retry: RetryConfig{
			MaxAttempts: env.integer("RETRY_MAX_ATTEMPTS", 3),
			BaseDelay:   env.duration("RETRY_BASE_DELAY", time.Second),
		},
		Checkin: CheckinConfig{
			ItemID:      env.str("CHECKIN_ITEM_ID", ""),
			VariationID: env.str("CHECKIN_VARIATION_ID", ""),
			LogWindow:   env.duration("CHECKIN_LOG_WINDOW", 30*24*time.Hour),
		},
		CRM: CRMConfig{
			BaseURL:     env.str("CRM_BASE_URL", "http://localhost:9090"),
			AccessToken: env.str("CRM_ACCESS_TOKEN", ""),
			Timeout:     env.duration("CRM_TIMEOUT", 15*time.Second),
			RPS:         env.float("CRM_RPS", 10),
			Burst:       env.integer("CRM_BURST", 5),
		},
		Queue: QueueConfig{
			SyncInterval:    env.duration("QUEUE_SYNC_INTERVAL", time.Minute),
			MaxSyncAttempts: env.integer("QUEUE_MAX_SYNC_ATTEMPTS", 10),
			RetentionDays:   env.integer("QUEUE_RETENTION_DAYS", 30),
		},
	}

	errs := append(env.errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

// validate returns one error per violated rule.
func (c Config) validate() []error {
	rules := []struct {
		ok  bool
		msg string
	}{
		{validLogLevel(c.LogLevel), "LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic"},
		{c.Port != "", "PORT must not be empty"},
		{c.ReadTimeout > 0 && c.ReadHeaderTimeout > 0 && c.WriteTimeout > 0 && c.IdleTimeout > 0, "timeouts must be positive durations"},
		{c.MaxHeaderBytes > 0, "MAX_HEADER_BYTES must be > 0"},
		{c.DBPath != "", "DB_PATH must not be empty"},
		{c.RateRPS >= 0, "RATE_RPS must be >= 0"},
		{c.RateBurst >= 1, "RATE_BURST must be >= 1"},
		{c.Security.HSTSMaxAge >= 0, "HSTS_MAX_AGE must be >= 0"},
		{c.IdempotencyTTL > 0, "IDEMPOTENCY_TTL must be > 0"},
		{c.OTEL.SampleRatio >= 0 && c.OTEL.SampleRatio <= 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]"},

		{c.Membership.TTL > 0, "MEMBERSHIP_TTL_HOURS must be > 0"},
		{c.Membership.RefreshAge > 0, "REFRESH_AGE_HOURS must be > 0"},
		{c.Bulk.Concurrency >= 1, "BULK_CONCURRENCY must be >= 1"},
		{c.Bulk.RateLimit >= 0 && c.Bulk.RequestDelay >= 0, "BULK_RATE_LIMIT_MS and BULK_REQUEST_DELAY_MS must be >= 0"},
		{c.Retry.MaxAttempts >= 1, "RETRY_MAX_ATTEMPTS must be >= 1"},
		{c.Retry.BaseDelay >= 0, "RETRY_BASE_DELAY must be >= 0"},
		{c.Checkin.LogWindow >= 0, "CHECKIN_LOG_WINDOW must be >= 0"},
		{c.CRM.BaseURL != "", "CRM_BASE_URL must not be empty"},
		{c.CRM.Timeout > 0, "CRM_TIMEOUT must be > 0"},
		{c.CRM.RPS >= 0 && c.CRM.Burst >= 1, "CRM_RPS must be >= 0 and CRM_BURST >= 1"},
		{c.Queue.SyncInterval > 0, "QUEUE_SYNC_INTERVAL must be > 0"},
		{c.Queue.MaxSyncAttempts >= 0, "QUEUE_MAX_SYNC_ATTEMPTS must be >= 0"},
		{c.Queue.RetentionDays >= 1, "QUEUE_RETENTION_DAYS must be >= 1"},
	}
	var errs []error
	for _, r := range rules {
		if !r.ok {
			errs = append(errs, errors.New(r.msg))
		}
	}
	return errs
}

// envReader reads typed variables and remembers every malformed one.
// Unset and blank variables take the default.
type envReader struct {
	errs []error
}

func (r *envReader) lookup(k string) (string, bool) {
	v, ok := os.LookupEnv(k)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (r *envReader) bad(k, v, want string) {
	r.errs = append(r.errs, fmt.Errorf("%s: %q is not %s", k, v, want))
}

func (r *envReader) str(k, def string) string {
	if v, ok := r.lookup(k); ok {
		return v
	}
	return def
}

func (r *envReader) integer(k string, def int) int {
	v, ok := r.lookup(k)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		r.bad(k, v, "an integer")
		return def
	}
	return i
}

func (r *envReader) float(k string, def float64) float64 {
	v, ok := r.lookup(k)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.bad(k, v, "a number")
		return def
	}
	return f
}

func (r *envReader) boolean(k string, def bool) bool {
	v, ok := r.lookup(k)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	r.bad(k, v, "a boolean")
	return def
}

func (r *envReader) duration(k string, def time.Duration) time.Duration {
	v, ok := r.lookup(k)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.bad(k, v, "a duration like 90s or 2h")
		return def
	}
	return d
}

// hours and millis read integer counts of a unit, the form the kiosk's
// freshness and pacing knobs have always been configured in.
func (r *envReader) hours(k string, def int) time.Duration {
	return time.Duration(r.integer(k, def)) * time.Hour
}

func (r *envReader) millis(k string, def int) time.Duration {
	return time.Duration(r.integer(k, def)) * time.Millisecond
}

func ginMode(m string) string {
	switch m = strings.ToLower(m); m {
	case "debug", "release", "test":
		return m
	}
	return "release"
}

func logLevel(l string) string {
	if l = strings.ToLower(l); l == "warning" {
		return "warn"
	}
	return l
}

func validLogLevel(l string) bool {
	switch l {
	case "debug", "info", "warn", "error", "fatal", "panic":
		return true
	}
	return false
}

// splitCSV splits a comma list, dropping blanks.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeBasePath returns p with a leading slash and no trailing slash;
// blank means "/".
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	return "/" + p
}

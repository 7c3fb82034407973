// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, kiosk identity, logging/redaction, panic
// recovery, metrics, CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → kiosk → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Member data never cached by intermediaries (no-store on member routes)
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/checkin-kiosk/internal/config"
	"github.com/tbourn/checkin-kiosk/internal/crm"
	"github.com/tbourn/checkin-kiosk/internal/domain"
	"github.com/tbourn/checkin-kiosk/internal/http/handlers"
	"github.com/tbourn/checkin-kiosk/internal/http/middleware"
	"github.com/tbourn/checkin-kiosk/internal/repo"
	"github.com/tbourn/checkin-kiosk/internal/retry"
	"github.com/tbourn/checkin-kiosk/internal/services"
)

// segmentRepoShim adapts the repository free functions to the
// services.SegmentRepo interface expected by the SegmentService.
type segmentRepoShim struct{}

// ListSegments proxies repo.ListSegments.
func (segmentRepoShim) ListSegments(ctx context.Context, db *gorm.DB) ([]domain.CustomerSegment, error) {
	return repo.ListSegments(ctx, db)
}

// ListSegmentIDs proxies repo.ListSegmentIDs.
func (segmentRepoShim) ListSegmentIDs(ctx context.Context, db *gorm.DB) ([]string, error) {
	return repo.ListSegmentIDs(ctx, db)
}

// GetSegment proxies repo.GetSegment.
func (segmentRepoShim) GetSegment(ctx context.Context, db *gorm.DB, id uint) (*domain.CustomerSegment, error) {
	return repo.GetSegment(ctx, db, id)
}

// CreateSegment proxies repo.CreateSegment.
func (segmentRepoShim) CreateSegment(ctx context.Context, db *gorm.DB, segmentID, displayName string, sortOrder int) (*domain.CustomerSegment, error) {
	return repo.CreateSegment(ctx, db, segmentID, displayName, sortOrder)
}

// UpdateSegment proxies repo.UpdateSegment.
func (segmentRepoShim) UpdateSegment(ctx context.Context, db *gorm.DB, id uint, segmentID, displayName string, sortOrder int) error {
	return repo.UpdateSegment(ctx, db, id, segmentID, displayName, sortOrder)
}

// DeleteSegment proxies repo.DeleteSegment.
func (segmentRepoShim) DeleteSegment(ctx context.Context, db *gorm.DB, id uint) error {
	return repo.DeleteSegment(ctx, db, id)
}

// corsHeaders are the request headers the kiosk UI may send cross-origin.
var corsHeaders = []string{
	"Origin", "Content-Type", "Accept", "Authorization",
	middleware.HeaderKioskID, middleware.HeaderIdempotencyKey,
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), kiosk identity,
// idempotency and rate limiting, CORS and security headers, health and
// metrics endpoints, and then mounts the versioned public API under
// cfg.APIBasePath.
//
// The tracker is shared with every other BulkRefresher in the process so a
// roster rebuild started anywhere blocks a second one. A nil client leaves
// the CRM sync endpoint unavailable (503).
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. KioskIdentity: resolve X-Kiosk-ID before anything keys on it
//  4. RedactingLogger: structured logs with PII scrubbing
//  5. Recovery: capture panics after logger
//  6. Body size limiter
//  7. Metrics
//  8. Idempotency validator (before rate limiter to allow bypass on replay)
//  9. Rate limiter (per kiosk/IP, bypass on replay)
//  10. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, client crm.Client, tracker *services.RefreshTracker, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Which kiosk is calling
	r.Use(middleware.KioskIdentity(""))

	// 4) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
		// search values and typed kiosk input are member PII
		MaskQuery: []string{"value", "q"},
	}))

	// 5) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 6) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, kioskID, scope, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, kioskID, scope, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))

	// 9) Token-bucket rate limiter per kiosk/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByKioskOrIP())
	r.Use(rl.Handler())

	// 10) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (kiosk browsers and health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "Idempotency-Replayed", "Retry-After"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "Idempotency-Replayed", "Retry-After"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	apiBase := cfg.APIBasePath // e.g. "/api/v1"

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:      cfg.Security.EnableHSTS,
		HSTSMaxAge:      cfg.Security.HSTSMaxAge,
		NoStore:         false,
		EnablePolicy:    true,
		NoStorePrefixes: []string{joinPath(apiBase, "/membership"), joinPath(apiBase, "/checkins")},
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: services ← repo/db/crm
	bulkDefaults := services.BulkOptions{
		Concurrency:  cfg.Bulk.Concurrency,
		RateLimit:    cfg.Bulk.RateLimit,
		RequestDelay: cfg.Bulk.RequestDelay,
	}
	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		IsRetryable: retry.DefaultIsRetryable,
	}
	if tracker == nil {
		tracker = services.NewRefreshTracker()
	}

	membershipSvc := services.NewMembershipService(db, client, cfg.Membership.TTL, cfg.Membership.RefreshAge)
	bulkSvc := services.NewBulkRefresher(db, client, membershipSvc, tracker, policy, bulkDefaults)
	segmentSvc := services.NewSegmentService(db, segmentRepoShim{})
	queueSvc := services.NewCheckinQueueService(db, cfg.Queue.MaxSyncAttempts)
	verifySvc := services.NewVerificationService(db, client, membershipSvc,
		cfg.Checkin.ItemID, cfg.Checkin.VariationID, cfg.Checkin.LogWindow)

	var syncFn services.SyncFunc
	if client != nil {
		syncFn = services.CRMSync(client)
	}

	h := handlers.New(handlers.Deps{
		Membership:     membershipSvc,
		Bulk:           bulkSvc,
		Segments:       segmentSvc,
		Checkins:       queueSvc,
		Verifier:       verifySvc,
		Sync:           syncFn,
		BulkDefaults:   bulkDefaults,
		DB:             db,
		IdempotencyTTL: cfg.IdempotencyTTL,
	})

	// Public API
	api := groupWithPrefix(r, apiBase)
	{
		// Membership cache
		api.GET("/membership/search", h.SearchMembership)
		api.POST("/membership/refresh", h.BulkRefresh)
		api.POST("/membership/refresh-all", h.StartRefreshAll)
		api.GET("/membership/refresh-all/status", h.RefreshAllStatus)
		api.GET("/membership/:customerId", h.GetMembership)
		api.DELETE("/membership/:customerId", h.InvalidateMembership)
		api.DELETE("/membership", h.ClearMembership)

		// Segment registry
		api.GET("/segments", h.ListSegments)
		api.POST("/segments", h.CreateSegment)
		api.GET("/segments/:id", h.GetSegment)
		api.PUT("/segments/:id", h.UpdateSegment)
		api.DELETE("/segments/:id", h.DeleteSegment)

		// Check-ins
		api.POST("/checkins", h.CreateCheckin)
		api.GET("/checkins/pending", h.PendingCheckins)
		api.GET("/checkins/stats", h.CheckinStats)
		api.GET("/checkins/input-type", h.InputType)
		api.POST("/checkins/sync", h.SyncCheckins)
		api.POST("/checkins/verify", h.VerifyCheckin)
		api.POST("/checkins/:id/retry", h.RetryCheckin)
		api.DELETE("/checkins/synced", h.CleanupCheckins)
		api.GET("/checkins/customer/:customerId", h.CustomerCheckins)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

// joinPath appends p to the API base, treating "/" (or empty) as root.
func joinPath(base, p string) string {
	if base == "" || base == "/" {
		return p
	}
	return base + p
}

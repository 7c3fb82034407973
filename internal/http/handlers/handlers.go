// Package handlers provides HTTP handler implementations for the public API.
//
// This file declares the service contracts the handlers depend on and the
// Handlers type that groups the endpoints:
//   - /membership  (cache lookups, invalidation, bulk refresh)
//   - /segments    (membership segment registry)
//   - /checkins    (offline queue, verification, input routing)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses.
package handlers

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/checkin-kiosk/internal/domain"
	"github.com/tbourn/checkin-kiosk/internal/services"
)

//
// Service contracts (context-aware)
//

// MembershipService answers and maintains cached membership verdicts.
type MembershipService interface {
	GetMembershipStatus(ctx context.Context, customerID string, forceRefresh bool) (*services.MembershipStatus, error)
	InvalidateCache(ctx context.Context, customerID string) error
	ClearCache(ctx context.Context) (int64, error)
	SearchCache(ctx context.Context, field, value string, fuzzy bool) []domain.MembershipCacheEntry
	NeedsRefresh(ctx context.Context) (bool, error)
}

// BulkRefreshService refreshes many customers and rebuilds the whole roster.
type BulkRefreshService interface {
	BulkRefresh(ctx context.Context, customerIDs []string, opts services.BulkOptions) ([]services.BulkResult, error)
	StartRefreshAll(ctx context.Context) error
	Status() services.RefreshProgress
}

// SegmentService is CRUD over the segment registry.
type SegmentService interface {
	List(ctx context.Context) ([]domain.CustomerSegment, error)
	Get(ctx context.Context, id uint) (*domain.CustomerSegment, error)
	Create(ctx context.Context, in services.SegmentInput) (*domain.CustomerSegment, error)
	Update(ctx context.Context, id uint, in services.SegmentInput) (*domain.CustomerSegment, error)
	Delete(ctx context.Context, id uint) error
}

// CheckinService is the offline check-in queue.
type CheckinService interface {
	CheckIn(ctx context.Context, in services.CheckinInput, syncFn services.SyncFunc) (*services.CheckinOutcome, error)
	GetPendingCheckins(ctx context.Context, limit int) ([]domain.CheckinQueueRecord, error)
	GetQueueStats(ctx context.Context) (services.QueueStats, error)
	SyncQueue(ctx context.Context, syncFn services.SyncFunc) (services.SyncSummary, error)
	RetryFailed(ctx context.Context, id uint) (*domain.CheckinQueueRecord, error)
	ClearOldSyncedCheckins(ctx context.Context, daysOld int) (int64, error)
	CustomerHistory(ctx context.Context, customerID string, days, limit int) ([]domain.CheckinLogRecord, error)
}

// Verifier decides whether a scanned pass admits its holder.
type Verifier interface {
	VerifyCheckinOrder(ctx context.Context, passToken string, opts services.VerifyOptions) services.VerificationResult
}

//
// Handler wiring
//

// Deps are the collaborators of Handlers. DB backs Idempotency-Key replays
// of check-ins; when nil, keys are accepted but not remembered.
type Deps struct {
	Membership MembershipService
	Bulk       BulkRefreshService
	Segments   SegmentService
	Checkins   CheckinService
	Verifier   Verifier

	// Sync pushes a queued check-in to the CRM.
	Sync services.SyncFunc

	// BulkDefaults paces POST /membership/refresh; a request may lower the
	// concurrency but never raise it.
	BulkDefaults services.BulkOptions

	DB             *gorm.DB
	IdempotencyTTL time.Duration
}

// Handlers groups the kiosk HTTP endpoints.
type Handlers struct {
	membership MembershipService
	bulk       BulkRefreshService
	segments   SegmentService
	checkins   CheckinService
	verifier   Verifier
	sync       services.SyncFunc
	bulkOpts   services.BulkOptions

	db      *gorm.DB
	idemTTL time.Duration
}

// New constructs and returns a Handlers instance bound to the given services.
func New(d Deps) *Handlers {
	ttl := d.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Handlers{
		membership: d.Membership,
		bulk:       d.Bulk,
		segments:   d.Segments,
		checkins:   d.Checkins,
		verifier:   d.Verifier,
		sync:       d.Sync,
		bulkOpts:   d.BulkDefaults,
		db:         d.DB,
		idemTTL:    ttl,
	}
}

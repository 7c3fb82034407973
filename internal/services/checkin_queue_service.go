// Package services – CheckinQueueService
//
// This file implements the offline check-in queue. Every check-in is written
// as a pending row before the CRM is contacted, so a visit is never lost when
// the CRM is unreachable. Sync passes replay pending rows oldest first; a
// failed push leaves the row pending for the next pass until MaxSyncAttempts
// is reached, after which the row is marked failed and only an explicit
// retry re-queues it.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/checkin-kiosk/internal/crm"
	"github.com/tbourn/checkin-kiosk/internal/domain"
	"github.com/tbourn/checkin-kiosk/internal/repo"
)

const (
	defaultPendingLimit  = 100
	defaultRetentionDays = 30
)

// SyncFunc pushes one queued check-in to the external system.
type SyncFunc func(ctx context.Context, rec domain.CheckinQueueRecord) error

// CRMSync returns a SyncFunc that records the check-in as a CRM visit. The
// queue row id is sent as the reference key so the CRM can drop replays.
func CRMSync(client crm.Client) SyncFunc {
	return func(ctx context.Context, rec domain.CheckinQueueRecord) error {
		return client.RecordVisit(ctx, crm.Visit{
			CustomerID:   rec.CustomerID,
			OrderID:      rec.OrderID,
			GuestCount:   rec.GuestCount,
			ReferenceKey: fmt.Sprintf("checkin-queue-%d", rec.ID),
		})
	}
}

// CheckinInput is a check-in request. GuestCount is a pointer so that an
// absent value can be told apart from zero guests.
type CheckinInput struct {
	CustomerID string
	OrderID    string
	GuestCount *int
}

// SyncSummary reports one sync pass.
type SyncSummary struct {
	Synced    int `json:"synced"`
	Failed    int `json:"failed"`
	Exhausted int `json:"exhausted"`
}

// QueueStats is the per-status row count of the queue.
type QueueStats struct {
	Pending int64 `json:"pending"`
	Synced  int64 `json:"synced"`
	Failed  int64 `json:"failed"`
	Total   int64 `json:"total"`
}

// CheckinOutcome is the result of CheckIn.
type CheckinOutcome struct {
	Record *domain.CheckinQueueRecord `json:"record"`
	Synced bool                       `json:"synced"`
}

// CheckinQueueService owns the checkin_queue table and appends to checkin_log.
type CheckinQueueService struct {
	DB *gorm.DB

	// MaxSyncAttempts caps failed pushes per row before it is marked failed.
	// Zero leaves failing rows pending forever.
	MaxSyncAttempts int

	// Now is the clock; tests replace it.
	Now func() time.Time
}

// NewCheckinQueueService constructs a CheckinQueueService.
func NewCheckinQueueService(db *gorm.DB, maxSyncAttempts int) *CheckinQueueService {
	return &CheckinQueueService{
		DB:              db,
		MaxSyncAttempts: maxSyncAttempts,
		Now:             func() time.Time { return time.Now().UTC() },
	}
}

func (s *CheckinQueueService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// QueueCheckin stores a pending check-in. Zero guests is valid; a missing
// field yields ErrMissingFields.
func (s *CheckinQueueService) QueueCheckin(ctx context.Context, in CheckinInput) (*domain.CheckinQueueRecord, error) {
	customerID := strings.TrimSpace(in.CustomerID)
	orderID := strings.TrimSpace(in.OrderID)
	if customerID == "" || orderID == "" || in.GuestCount == nil {
		return nil, ErrMissingFields
	}
	if *in.GuestCount < 0 {
		return nil, ErrInvalidInput
	}

	rec, err := repo.CreateQueueRecord(ctx, s.DB, customerID, orderID, *in.GuestCount, s.now())
	if err != nil {
		return nil, err
	}
	log.Info().
		Uint("queue_id", rec.ID).
		Str("customer_id", customerID).
		Int("guest_count", rec.GuestCount).
		Msg("check-in queued")
	return rec, nil
}

// GetPendingCheckins returns up to limit pending rows, oldest first.
// limit <= 0 means 100.
func (s *CheckinQueueService) GetPendingCheckins(ctx context.Context, limit int) ([]domain.CheckinQueueRecord, error) {
	if limit <= 0 {
		limit = defaultPendingLimit
	}
	return repo.ListPendingQueue(ctx, s.DB, limit)
}

// MarkAsSynced moves a row to synced. It reports false, without error, when
// the row does not exist or is already synced.
func (s *CheckinQueueService) MarkAsSynced(ctx context.Context, id uint) (bool, error) {
	return repo.MarkQueueSynced(ctx, s.DB, id, s.now())
}

// MarkAsFailed moves a pending row to failed.
func (s *CheckinQueueService) MarkAsFailed(ctx context.Context, id uint, reason string) (bool, error) {
	return repo.MarkQueueFailed(ctx, s.DB, id, reason)
}

// SyncQueue drains the currently pending rows once, in creation order. A nil
// syncFn accepts every row. A row whose push fails stays pending; it becomes
// failed only when MaxSyncAttempts is set and reached.
func (s *CheckinQueueService) SyncQueue(ctx context.Context, syncFn SyncFunc) (SyncSummary, error) {
	tr := otel.Tracer("services/CheckinQueueService")
	ctx, span := tr.Start(ctx, "SyncQueue")
	defer span.End()

	var sum SyncSummary
	rows, err := repo.ListPendingQueue(ctx, s.DB, 0)
	if err != nil {
		return sum, err
	}
	span.SetAttributes(attribute.Int("pending", len(rows)))

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		ok, exhausted, err := s.syncOne(ctx, row, syncFn)
		if err != nil {
			return sum, err
		}
		switch {
		case ok:
			sum.Synced++
		case exhausted:
			sum.Failed++
			sum.Exhausted++
		default:
			sum.Failed++
		}
	}

	if sum.Synced+sum.Failed > 0 {
		log.Info().
			Int("synced", sum.Synced).
			Int("failed", sum.Failed).
			Int("exhausted", sum.Exhausted).
			Msg("check-in queue sync pass")
	}
	s.publishDepth(ctx)
	return sum, nil
}

// syncOne pushes one row. err is reserved for storage failures; a push
// failure is reported through ok=false.
func (s *CheckinQueueService) syncOne(ctx context.Context, row domain.CheckinQueueRecord, syncFn SyncFunc) (ok, exhausted bool, err error) {
	var pushErr error
	if syncFn != nil {
		pushErr = syncFn(ctx, row)
	}
	if pushErr == nil {
		if _, err := repo.MarkQueueSynced(ctx, s.DB, row.ID, s.now()); err != nil {
			return false, false, err
		}
		queueSync.WithLabelValues("synced").Inc()
		return true, false, nil
	}

	attempts, err := repo.RecordQueueAttempt(ctx, s.DB, row.ID, pushErr.Error())
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// Row left the pending state concurrently; nothing to record.
			return false, false, nil
		}
		return false, false, err
	}
	log.Warn().
		Err(pushErr).
		Uint("queue_id", row.ID).
		Int("attempts", attempts).
		Msg("check-in sync failed")

	if s.MaxSyncAttempts > 0 && attempts >= s.MaxSyncAttempts {
		reason := fmt.Sprintf("gave up after %d attempts: %v", attempts, pushErr)
		if _, err := repo.MarkQueueFailed(ctx, s.DB, row.ID, reason); err != nil {
			return false, false, err
		}
		queueSync.WithLabelValues("exhausted").Inc()
		return false, true, nil
	}
	queueSync.WithLabelValues("retry").Inc()
	return false, false, nil
}

// ClearOldSyncedCheckins deletes synced rows whose sync is older than
// daysOld days (30 when daysOld <= 0).
func (s *CheckinQueueService) ClearOldSyncedCheckins(ctx context.Context, daysOld int) (int64, error) {
	if daysOld <= 0 {
		daysOld = defaultRetentionDays
	}
	cutoff := s.now().AddDate(0, 0, -daysOld)
	n, err := repo.DeleteSyncedBefore(ctx, s.DB, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().Int64("deleted", n).Int("days_old", daysOld).Msg("old synced check-ins removed")
	}
	return n, nil
}

// PruneIdempotency drops idempotency records whose replay window has closed.
func (s *CheckinQueueService) PruneIdempotency(ctx context.Context) (int64, error) {
	n, err := repo.DeleteExpiredIdempotency(ctx, s.DB, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Debug().Int64("deleted", n).Msg("expired idempotency keys removed")
	}
	return n, nil
}

// GetQueueStats counts rows per status.
func (s *CheckinQueueService) GetQueueStats(ctx context.Context) (QueueStats, error) {
	c, err := repo.QueueStats(ctx, s.DB)
	if err != nil {
		return QueueStats{}, err
	}
	setDepth(c)
	return QueueStats{Pending: c.Pending, Synced: c.Synced, Failed: c.Failed, Total: c.Total()}, nil
}

// CheckIn is the kiosk's check-in action: queue the visit, try to push it
// right away, and append it to the local history. A push failure is not an
// error; the row stays pending for the background syncer. With a nil syncFn
// no push is attempted and the row stays pending untouched.
func (s *CheckinQueueService) CheckIn(ctx context.Context, in CheckinInput, syncFn SyncFunc) (*CheckinOutcome, error) {
	tr := otel.Tracer("services/CheckinQueueService")
	ctx, span := tr.Start(ctx, "CheckIn",
		trace.WithAttributes(attribute.String("customer.id", in.CustomerID)),
	)
	defer span.End()

	rec, err := s.QueueCheckin(ctx, in)
	if err != nil {
		return nil, err
	}

	var synced bool
	if syncFn != nil {
		synced, _, err = s.syncOne(ctx, *rec, syncFn)
		if err != nil {
			log.Warn().Err(err).Uint("queue_id", rec.ID).Msg("immediate check-in sync bookkeeping failed")
		}
		if fresh, gerr := repo.GetQueueRecord(ctx, s.DB, rec.ID); gerr == nil {
			rec = fresh
		}
	}

	entry := &domain.CheckinLogRecord{
		CustomerID:       rec.CustomerID,
		OrderID:          rec.OrderID,
		GuestCount:       rec.GuestCount,
		CheckedInAt:      rec.CreatedAt,
		SyncedToExternal: synced,
	}
	if err := repo.AppendCheckinLog(ctx, s.DB, entry); err != nil {
		log.Error().Err(err).Uint("queue_id", rec.ID).Msg("check-in history append failed")
	}
	return &CheckinOutcome{Record: rec, Synced: synced}, nil
}

// CustomerHistory returns a customer's logged check-ins from the last days
// days, newest first, capped at limit.
func (s *CheckinQueueService) CustomerHistory(ctx context.Context, customerID string, days, limit int) ([]domain.CheckinLogRecord, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, ErrCustomerIDRequired
	}
	if days <= 0 {
		days = defaultRetentionDays
	}
	return repo.ListCustomerCheckins(ctx, s.DB, customerID, s.now().AddDate(0, 0, -days), limit)
}

// RetryFailed moves a failed row back to pending with a fresh attempt budget.
func (s *CheckinQueueService) RetryFailed(ctx context.Context, id uint) (*domain.CheckinQueueRecord, error) {
	ok, err := repo.ResetQueueRecord(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}
	rec, err := repo.GetQueueRecord(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrQueueRecordNotFound
		}
		return nil, err
	}
	if !ok {
		return nil, ErrQueueRecordNotFailed
	}
	log.Info().Uint("queue_id", id).Msg("failed check-in re-queued")
	return rec, nil
}

func (s *CheckinQueueService) publishDepth(ctx context.Context) {
	if c, err := repo.QueueStats(ctx, s.DB); err == nil {
		setDepth(c)
	}
}

func setDepth(c repo.QueueCounts) {
	queueDepth.WithLabelValues(domain.QueueStatusPending).Set(float64(c.Pending))
	queueDepth.WithLabelValues(domain.QueueStatusSynced).Set(float64(c.Synced))
	queueDepth.WithLabelValues(domain.QueueStatusFailed).Set(float64(c.Failed))
}

// Offline check-in queue rows.
//
// Status transitions are guarded in SQL (WHERE status = ...) so each one is a
// single atomic row update; callers learn from the returned bool whether it
// happened.

package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/checkin-kiosk/internal/domain"
)

// CreateQueueRecord inserts a pending check-in created at now.
func CreateQueueRecord(ctx context.Context, db *gorm.DB, customerID, orderID string, guestCount int, now time.Time) (*domain.CheckinQueueRecord, error) {
	rec := &domain.CheckinQueueRecord{
		CustomerID: customerID,
		OrderID:    orderID,
		GuestCount: guestCount,
		Status:     domain.QueueStatusPending,
		CreatedAt:  now.UTC(),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, err
	}
	return rec, nil
}

// GetQueueRecord fetches a queue row by id, or ErrNotFound.
func GetQueueRecord(ctx context.Context, db *gorm.DB, id uint) (*domain.CheckinQueueRecord, error) {
	var rec domain.CheckinQueueRecord
	if err := db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListPendingQueue returns pending rows oldest first (created_at, then id).
// A limit <= 0 returns every pending row.
func ListPendingQueue(ctx context.Context, db *gorm.DB, limit int) ([]domain.CheckinQueueRecord, error) {
	out := []domain.CheckinQueueRecord{}
	q := db.WithContext(ctx).
		Where("status = ?", domain.QueueStatusPending).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// MarkQueueSynced moves a pending or failed row to synced. It reports false
// when the row is missing or already synced.
func MarkQueueSynced(ctx context.Context, db *gorm.DB, id uint, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.CheckinQueueRecord{}).
		Where("id = ? AND status <> ?", id, domain.QueueStatusSynced).
		Updates(map[string]any{
			"status":     domain.QueueStatusSynced,
			"synced_at":  now.UTC(),
			"last_error": "",
		})
	return res.RowsAffected > 0, res.Error
}

// MarkQueueFailed moves a pending row to failed, recording reason. It reports
// false when the row is missing or not pending.
func MarkQueueFailed(ctx context.Context, db *gorm.DB, id uint, reason string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.CheckinQueueRecord{}).
		Where("id = ? AND status = ?", id, domain.QueueStatusPending).
		Updates(map[string]any{
			"status":     domain.QueueStatusFailed,
			"last_error": reason,
		})
	return res.RowsAffected > 0, res.Error
}

// RecordQueueAttempt bumps the attempt counter of a pending row and stores
// the last error message. It returns the new attempt count.
func RecordQueueAttempt(ctx context.Context, db *gorm.DB, id uint, lastErr string) (int, error) {
	var attempts int
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.CheckinQueueRecord{}).
			Where("id = ? AND status = ?", id, domain.QueueStatusPending).
			Updates(map[string]any{
				"attempts":   gorm.Expr("attempts + 1"),
				"last_error": lastErr,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Model(&domain.CheckinQueueRecord{}).
			Select("attempts").
			Where("id = ?", id).
			Row().
			Scan(&attempts)
	})
	return attempts, err
}

// ResetQueueRecord moves a failed row back to pending with a fresh attempt
// budget. It reports false when the row is missing or not failed.
func ResetQueueRecord(ctx context.Context, db *gorm.DB, id uint) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.CheckinQueueRecord{}).
		Where("id = ? AND status = ?", id, domain.QueueStatusFailed).
		Updates(map[string]any{
			"status":   domain.QueueStatusPending,
			"attempts": 0,
		})
	return res.RowsAffected > 0, res.Error
}

// DeleteSyncedBefore removes synced rows whose synced_at is older than cutoff.
func DeleteSyncedBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("status = ? AND synced_at < ?", domain.QueueStatusSynced, cutoff.UTC()).
		Delete(&domain.CheckinQueueRecord{})
	return res.RowsAffected, res.Error
}

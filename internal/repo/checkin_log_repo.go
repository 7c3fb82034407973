// Append-only history of completed check-ins.

package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/checkin-kiosk/internal/domain"
)

// AppendCheckinLog inserts a history row. Rows are never updated.
func AppendCheckinLog(ctx context.Context, db *gorm.DB, rec *domain.CheckinLogRecord) error {
	if rec.CheckedInAt.IsZero() {
		rec.CheckedInAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(rec).Error
}

// FindRecentCheckinByOrder returns the newest log row for orderID checked in
// at or after since and accepted by the CRM, or ErrNotFound. Rows whose push
// failed or never happened are skipped.
func FindRecentCheckinByOrder(ctx context.Context, db *gorm.DB, orderID string, since time.Time) (*domain.CheckinLogRecord, error) {
	var rec domain.CheckinLogRecord
	err := db.WithContext(ctx).
		Where("order_id = ? AND checked_in_at >= ? AND synced_to_external = ?", orderID, since.UTC(), true).
		Order("checked_in_at DESC, id DESC").
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListCustomerCheckins returns a customer's check-ins since the given time,
// newest first, capped at limit (limit <= 0 means no cap).
func ListCustomerCheckins(ctx context.Context, db *gorm.DB, customerID string, since time.Time, limit int) ([]domain.CheckinLogRecord, error) {
	out := []domain.CheckinLogRecord{}
	q := db.WithContext(ctx).
		Where("customer_id = ? AND checked_in_at >= ?", customerID, since.UTC()).
		Order("checked_in_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// Aggregates over the queue and the cache for status endpoints, gauges and
// the bulk refresh staleness check.

package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/checkin-kiosk/internal/domain"
)

// QueueCounts holds per-status row counts of the check-in queue.
type QueueCounts struct {
	Pending int64
	Synced  int64
	Failed  int64
}

// Total returns the sum of all statuses.
func (q QueueCounts) Total() int64 { return q.Pending + q.Synced + q.Failed }

// QueueStats counts queue rows grouped by status.
func QueueStats(ctx context.Context, db *gorm.DB) (QueueCounts, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := db.WithContext(ctx).
		Model(&domain.CheckinQueueRecord{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return QueueCounts{}, err
	}
	var out QueueCounts
	for _, r := range rows {
		switch r.Status {
		case domain.QueueStatusPending:
			out.Pending = r.N
		case domain.QueueStatusSynced:
			out.Synced = r.N
		case domain.QueueStatusFailed:
			out.Failed = r.N
		}
	}
	return out, nil
}

// MembershipCacheStats returns the number of cache rows and the oldest
// last_verified_at among them. When the cache is empty, the returned count
// is 0 and oldest is nil.
func MembershipCacheStats(ctx context.Context, db *gorm.DB) (count int64, oldest *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.MembershipCacheEntry{})

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Order + limit instead of MIN() which comes back as TEXT in SQLite.
	var row struct {
		LastVerifiedAt time.Time
	}
	if err = db.WithContext(ctx).
		Model(&domain.MembershipCacheEntry{}).
		Select("last_verified_at").
		Order("last_verified_at ASC").
		Limit(1).
		Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.LastVerifiedAt, nil
}

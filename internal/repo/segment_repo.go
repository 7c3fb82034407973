// Segment registry (customer_segments).

package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/checkin-kiosk/internal/domain"
)

// ListSegments returns every configured segment ordered by sort_order, then id.
func ListSegments(ctx context.Context, db *gorm.DB) ([]domain.CustomerSegment, error) {
	out := []domain.CustomerSegment{}
	err := db.WithContext(ctx).
		Order("sort_order ASC, id ASC").
		Find(&out).Error
	return out, err
}

// ListSegmentIDs returns the external segment ids of every configured segment,
// in registry order.
func ListSegmentIDs(ctx context.Context, db *gorm.DB) ([]string, error) {
	ids := []string{}
	err := db.WithContext(ctx).
		Model(&domain.CustomerSegment{}).
		Order("sort_order ASC, id ASC").
		Pluck("segment_id", &ids).Error
	return ids, err
}

// GetSegment fetches a segment by its internal id, or ErrNotFound.
func GetSegment(ctx context.Context, db *gorm.DB, id uint) (*domain.CustomerSegment, error) {
	var s domain.CustomerSegment
	if err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSegment inserts a segment. A repeated external segment id yields ErrDuplicate.
func CreateSegment(ctx context.Context, db *gorm.DB, segmentID, displayName string, sortOrder int) (*domain.CustomerSegment, error) {
	now := time.Now().UTC()
	s := &domain.CustomerSegment{
		SegmentID:   segmentID,
		DisplayName: displayName,
		SortOrder:   sortOrder,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return s, nil
}

// UpdateSegment rewrites the mutable fields of segment id. It returns
// ErrNotFound when no row matches and ErrDuplicate when segmentID is taken.
func UpdateSegment(ctx context.Context, db *gorm.DB, id uint, segmentID, displayName string, sortOrder int) error {
	res := db.WithContext(ctx).
		Model(&domain.CustomerSegment{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"segment_id":   segmentID,
			"display_name": displayName,
			"sort_order":   sortOrder,
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return ErrDuplicate
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSegment removes segment id, or returns ErrNotFound.
func DeleteSegment(ctx context.Context, db *gorm.DB, id uint) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.CustomerSegment{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

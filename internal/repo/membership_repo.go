// Membership cache rows. No freshness rules live here; the membership
// service decides when a row is stale.

package repo

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/checkin-kiosk/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// Searchable membership cache fields.
const (
	SearchFieldPhone = "phone"
	SearchFieldEmail = "email"
	SearchFieldLot   = "reference_id"
	SearchFieldName  = "name"
)

// nameExpr is the concatenated display name used for name searches.
const nameExpr = "LOWER(given_name || ' ' || family_name)"

// GetMembershipEntry fetches the cache row for customerID, or ErrNotFound.
func GetMembershipEntry(ctx context.Context, db *gorm.DB, customerID string) (*domain.MembershipCacheEntry, error) {
	var e domain.MembershipCacheEntry
	if err := db.WithContext(ctx).Where("customer_id = ?", customerID).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

// UpsertMembershipEntry writes e, replacing every column of an existing row
// with the same customer id. No partial merge is performed.
func UpsertMembershipEntry(ctx context.Context, db *gorm.DB, e *domain.MembershipCacheEntry) error {
	if e.SegmentIDs == nil {
		e.SegmentIDs = []string{}
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "customer_id"}},
			UpdateAll: true,
		}).
		Create(e).Error
}

// DeleteMembershipEntry removes the row for customerID if present.
func DeleteMembershipEntry(ctx context.Context, db *gorm.DB, customerID string) error {
	return db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Delete(&domain.MembershipCacheEntry{}).Error
}

// ClearMembershipEntries deletes every cache row and returns how many were removed.
func ClearMembershipEntries(ctx context.Context, db *gorm.DB) (int64, error) {
	res := db.WithContext(ctx).
		Where("1 = 1").
		Delete(&domain.MembershipCacheEntry{})
	return res.RowsAffected, res.Error
}

// SearchMembershipEntries matches value against field. Exact matching is
// case-insensitive equality; fuzzy matching is a case-insensitive substring
// match. For SearchFieldName every whitespace-separated term of value must
// occur in "given_name family_name" when fuzzy, or equal it when exact.
//
// Results are ordered by family name then given name, capped at limit
// (limit <= 0 means no cap). Unknown fields return an empty slice.
func SearchMembershipEntries(ctx context.Context, db *gorm.DB, field, value string, fuzzy bool, limit int) ([]domain.MembershipCacheEntry, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return []domain.MembershipCacheEntry{}, nil
	}

	q := db.WithContext(ctx).Model(&domain.MembershipCacheEntry{})
	switch field {
	case SearchFieldPhone, SearchFieldEmail, SearchFieldLot:
		col := "LOWER(" + field + ")"
		if fuzzy {
			q = q.Where(col+" LIKE ? ESCAPE '\\'", "%"+escapeLike(value)+"%")
		} else {
			q = q.Where(col+" = ?", value)
		}
	case SearchFieldName:
		if fuzzy {
			for _, term := range strings.Fields(value) {
				q = q.Where(nameExpr+" LIKE ? ESCAPE '\\'", "%"+escapeLike(term)+"%")
			}
		} else {
			q = q.Where(nameExpr+" = ?", strings.Join(strings.Fields(value), " "))
		}
	default:
		return []domain.MembershipCacheEntry{}, nil
	}

	q = q.Order("family_name ASC, given_name ASC, customer_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	out := []domain.MembershipCacheEntry{}
	err := q.Find(&out).Error
	return out, err
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

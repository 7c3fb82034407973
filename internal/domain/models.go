// Package domain defines the persistence models for the check-in kiosk:
// membership cache entries, configured CRM segments, the offline check-in
// queue and the append-only check-in log. These types are mapped with GORM
// and share a single embedded SQLite store, each in its own table.
package domain

import (
	"time"
)

// Check-in queue states.
const (
	QueueStatusPending = "pending"
	QueueStatusSynced  = "synced"
	QueueStatusFailed  = "failed"
)

// MembershipCacheEntry is the local, lagging mirror of a customer's
// membership verdict in the CRM. A refresh always rewrites every column.
//
// Fields:
//   - CustomerID: the CRM customer identifier (primary key).
//   - HasMembership: true iff SegmentIDs is non-empty.
//   - SegmentIDs: configured segments the customer belongs to (JSON column).
//   - GivenName .. PostalCode: contact snapshot; "" means unknown.
//   - ReferenceID: the CRM reference id, shown to staff as the "lot".
//   - LastVerifiedAt: time of the last successful refresh (UTC).
type MembershipCacheEntry struct {
	CustomerID     string    `json:"customer_id"      gorm:"type:varchar(64);primaryKey"`
	HasMembership  bool      `json:"has_membership"   gorm:"not null;default:false"`
	SegmentIDs     []string  `json:"segment_ids"      gorm:"type:text;serializer:json"`
	GivenName      string    `json:"given_name"       gorm:"type:varchar(255);not null;default:''"`
	FamilyName     string    `json:"family_name"      gorm:"type:varchar(255);not null;default:''"`
	Email          string    `json:"email"            gorm:"type:varchar(255);not null;default:'';index"`
	Phone          string    `json:"phone"            gorm:"type:varchar(64);not null;default:'';index"`
	ReferenceID    string    `json:"reference_id"     gorm:"type:varchar(64);not null;default:'';index"`
	AddressLine1   string    `json:"address_line_1"   gorm:"type:varchar(255);not null;default:''"`
	Locality       string    `json:"locality"         gorm:"type:varchar(255);not null;default:''"`
	PostalCode     string    `json:"postal_code"      gorm:"type:varchar(32);not null;default:''"`
	LastVerifiedAt time.Time `json:"last_verified_at" gorm:"not null;index"`
}

// TableName returns the database table name for MembershipCacheEntry.
func (MembershipCacheEntry) TableName() string { return "membership_cache" }

// IsFresh reports whether the entry was verified within ttl of now.
func (e MembershipCacheEntry) IsFresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.LastVerifiedAt) < ttl
}

// CustomerSegment is a CRM segment that counts as membership.
type CustomerSegment struct {
	ID          uint      `json:"id"           gorm:"primaryKey;autoIncrement"`
	SegmentID   string    `json:"segment_id"   gorm:"type:varchar(128);not null;uniqueIndex:ux_customer_segments_segment_id"`
	DisplayName string    `json:"display_name" gorm:"type:varchar(255);not null;default:''"`
	SortOrder   int       `json:"sort_order"   gorm:"not null;default:0"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for CustomerSegment.
func (CustomerSegment) TableName() string { return "customer_segments" }

// CheckinQueueRecord is a durable check-in attempt awaiting sync with the CRM.
//
// Status moves pending -> synced (SyncedAt set) or pending -> failed.
// Terminal rows are never re-queued automatically.
type CheckinQueueRecord struct {
	ID         uint       `json:"id"          gorm:"primaryKey;autoIncrement"`
	CustomerID string     `json:"customer_id" gorm:"type:varchar(64);not null;index"`
	OrderID    string     `json:"order_id"    gorm:"type:varchar(128);not null"`
	GuestCount int        `json:"guest_count" gorm:"not null;default:0"`
	Status     string     `json:"status"      gorm:"type:varchar(16);not null;default:'pending';index:idx_checkin_queue_status_created,priority:1;check:status IN ('pending','synced','failed')"`
	Attempts   int        `json:"attempts"    gorm:"not null;default:0"`
	LastError  string     `json:"last_error,omitempty" gorm:"type:text;not null;default:''"`
	CreatedAt  time.Time  `json:"created_at"  gorm:"not null;index:idx_checkin_queue_status_created,priority:2"`
	SyncedAt   *time.Time `json:"synced_at,omitempty" gorm:"index"`
}

// TableName returns the database table name for CheckinQueueRecord.
func (CheckinQueueRecord) TableName() string { return "checkin_queue" }

// CheckinLogRecord is an append-only history row for a completed check-in.
type CheckinLogRecord struct {
	ID               uint      `json:"id"                 gorm:"primaryKey;autoIncrement"`
	CustomerID       string    `json:"customer_id"        gorm:"type:varchar(64);not null;index"`
	OrderID          string    `json:"order_id,omitempty" gorm:"type:varchar(128);not null;default:'';index:idx_checkin_log_order_time,priority:1"`
	GuestCount       int       `json:"guest_count"        gorm:"not null;default:0"`
	CheckedInAt      time.Time `json:"checked_in_at"      gorm:"not null;index:idx_checkin_log_order_time,priority:2"`
	SyncedToExternal bool      `json:"synced_to_external" gorm:"not null;default:false"`
}

// TableName returns the database table name for CheckinLogRecord.
func (CheckinLogRecord) TableName() string { return "checkin_log" }

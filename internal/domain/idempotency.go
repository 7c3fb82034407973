package domain

import "time"

// Idempotency records the outcome of a previously accepted check-in
// submission, keyed by (kiosk_id, scope, key). A retried POST with the same
// Idempotency-Key returns the original queue record instead of queueing the
// visit a second time.
type Idempotency struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	KioskID   string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_kiosk_scope_key,priority:1"`
	Scope     string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_kiosk_scope_key,priority:2"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_kiosk_scope_key,priority:3"`
	RecordID  uint      `gorm:"type:INTEGER NOT NULL"`
	Status    int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// Live reports whether the record still answers replays at now.
func (i Idempotency) Live(now time.Time) bool { return now.Before(i.ExpiresAt) }

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }

package domain

import "time"

// IdempotencyPending is the Status of a reserved key whose request is still
// running. Completed records carry the HTTP status of the stored response.
const IdempotencyPending = 0

// Idempotency represents a reserved or completed request keyed by
// (user_id, scope, key). It lets a retried fan-out POST return the
// originally produced response without creating a second announcement or
// pushing to every device again. A pending record expires after a lease so
// a crashed request does not hold its key for the whole TTL.
type Idempotency struct {
	ID             string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	UserID         string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_scope_key,priority:1"`
	Scope          string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_scope_key,priority:2"`
	Key            string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_scope_key,priority:3"`
	AnnouncementID string    `gorm:"type:TEXT NOT NULL"`
	Status         int       `gorm:"type:INTEGER NOT NULL"`
	Response       string    `gorm:"type:TEXT NOT NULL"`
	CreatedAt      time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt      time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }

// Pending reports whether the request holding the key has not finished.
func (r Idempotency) Pending() bool { return r.Status == IdempotencyPending }

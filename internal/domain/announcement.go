// Package domain defines the persistence models for global announcements,
// per-user notifications, recipients, and images. These types are mapped
// with GORM and form the core data layer of the announcement fan-out.
package domain

import (
	"time"
)

// NotificationTypeGlobalAnnouncement is the type discriminator written on
// every per-user notification produced by a global announcement fan-out.
const NotificationTypeGlobalAnnouncement = "global_announcement"

// FailedUser records why one recipient did not receive the push.
//
// Retriable is true when re-attempting later has a reasonable chance of
// succeeding (gateway 5xx/429, network error, budget truncation) and false
// when it cannot succeed without a change on the user side (missing or
// rejected token).
type FailedUser struct {
	UserID    string `json:"user_id"`
	Retriable bool   `json:"retriable"`
	Reason    string `json:"reason"`
}

// Image is an uploaded image referenced by announcements and notifications.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - ImageURL: public URL of the stored image.
type Image struct {
	ID        string    `json:"id"        gorm:"type:char(36);primaryKey"`
	ImageURL  string    `json:"image_url" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Image.
func (Image) TableName() string { return "images" }

// GlobalAnnouncement is one broadcast event addressed to every user.
//
// The ID is assigned once at creation. FailedUserIDs starts empty and is
// written exactly once, after the delivery phase of the same request.
type GlobalAnnouncement struct {
	ID            string       `json:"id"              gorm:"type:char(36);primaryKey"`
	Message       string       `json:"message"         gorm:"type:text;not null"`
	Description   *string      `json:"description"     gorm:"type:text"`
	ImageID       *string      `json:"image_id"        gorm:"type:char(36);index"`
	SenderUserID  *string      `json:"sender_user_id"  gorm:"type:varchar(64);index"`
	FailedUserIDs []FailedUser `json:"failed_user_ids" gorm:"type:text;serializer:json"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// TableName returns the database table name for GlobalAnnouncement.
func (GlobalAnnouncement) TableName() string { return "global_announcements" }

// Notification is the durable per-user record that an announcement was
// addressed to a user. Exactly one row exists per (announcement, user)
// pair, enforced by ux_notification_announcement_user.
type Notification struct {
	ID                   string         `json:"id"                     gorm:"type:char(36);primaryKey"`
	UserID               string         `json:"user_id"                gorm:"type:varchar(64);not null;index;uniqueIndex:ux_notification_announcement_user,priority:2"`
	SenderUserID         *string        `json:"sender_user_id"         gorm:"type:varchar(64)"`
	Title                string         `json:"title"                  gorm:"type:text;not null"`
	Body                 string         `json:"body"                   gorm:"type:text;not null"`
	Type                 string         `json:"type"                   gorm:"type:varchar(32);not null;index"`
	ImageID              *string        `json:"image_id"               gorm:"type:char(36)"`
	IsRead               bool           `json:"is_read"                gorm:"not null;default:false"`
	GlobalAnnouncementID *string        `json:"global_announcement_id" gorm:"type:char(36);index;uniqueIndex:ux_notification_announcement_user,priority:1"`
	Data                 map[string]any `json:"data"                   gorm:"type:text;serializer:json"`
	CreatedAt            time.Time      `json:"created_at"`
}

// TableName returns the database table name for Notification.
func (Notification) TableName() string { return "notifications" }

// User is the read-only view of an account the fan-out needs: its id and
// the optional device push token.
type User struct {
	ID                string  `json:"user_id"            gorm:"column:user_id;type:varchar(64);primaryKey"`
	NotificationToken *string `json:"notification_token" gorm:"type:text"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// HasToken reports whether the user can be addressed by push.
func (u User) HasToken() bool {
	return u.NotificationToken != nil && *u.NotificationToken != ""
}

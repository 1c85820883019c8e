// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for per-user
// notification rows and the recipient snapshot they are fanned out to.
package repo

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/CharlesTogle/umak-link-sub000/internal/domain"
)

// ListRecipients returns every user with its (possibly null) push token,
// ordered by user id so the fan-out order is deterministic.
func ListRecipients(ctx context.Context, db *gorm.DB) ([]domain.User, error) {
	var out []domain.User
	err := db.WithContext(ctx).
		Select("user_id", "notification_token").
		Order("user_id ASC").
		Find(&out).Error
	return out, err
}

// HasAnnouncementNotifications reports whether any notification row already
// references announcementID.
func HasAnnouncementNotifications(ctx context.Context, db *gorm.DB, announcementID string) (bool, error) {
	var probe []string
	err := db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("global_announcement_id = ?", announcementID).
		Limit(1).
		Pluck("id", &probe).Error
	if err != nil {
		return false, err
	}
	return len(probe) > 0, nil
}

// CreateNotifications bulk-inserts rows in one statement. Rows that collide
// with an existing (global_announcement_id, user_id) pair are skipped, so
// the returned count is the number of rows actually written.
func CreateNotifications(ctx context.Context, db *gorm.DB, rows []domain.Notification) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows)
	return res.RowsAffected, res.Error
}

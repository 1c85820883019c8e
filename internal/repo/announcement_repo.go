// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for global
// announcements and the images they reference.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only
// persistence and query composition.
//
// Error semantics:
//   - When an announcement is not found, functions return ErrNotFound.
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/CharlesTogle/umak-link-sub000/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateImage inserts an image row for url and returns it with a fresh id.
func CreateImage(ctx context.Context, db *gorm.DB, url string) (*domain.Image, error) {
	img := &domain.Image{
		ID:        uuid.NewString(),
		ImageURL:  url,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(img).Error; err != nil {
		return nil, err
	}
	return img, nil
}

// CreateAnnouncement inserts a global announcement with an empty failure
// list. The id is generated here and never changes afterwards.
func CreateAnnouncement(ctx context.Context, db *gorm.DB, message string, description, imageID, senderID *string) (*domain.GlobalAnnouncement, error) {
	now := time.Now().UTC()
	a := &domain.GlobalAnnouncement{
		ID:            uuid.NewString(),
		Message:       message,
		Description:   description,
		ImageID:       imageID,
		SenderUserID:  senderID,
		FailedUserIDs: []domain.FailedUser{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := db.WithContext(ctx).Create(a).Error; err != nil {
		return nil, err
	}
	return a, nil
}

// GetAnnouncement fetches an announcement by id, or ErrNotFound.
func GetAnnouncement(ctx context.Context, db *gorm.DB, id string) (*domain.GlobalAnnouncement, error) {
	var a domain.GlobalAnnouncement
	if err := db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// UpdateFailedUsers replaces the failure list of announcement id.
// A nil list is stored as an empty list. Returns ErrNotFound when no row
// matched.
func UpdateFailedUsers(ctx context.Context, db *gorm.DB, id string, failed []domain.FailedUser) error {
	if failed == nil {
		failed = []domain.FailedUser{}
	}
	res := db.WithContext(ctx).
		Model(&domain.GlobalAnnouncement{ID: id}).
		Select("failed_user_ids", "updated_at").
		Updates(&domain.GlobalAnnouncement{FailedUserIDs: failed, UpdatedAt: time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the Idempotency
// model used to implement safe-retry semantics for POST endpoints.
//
// A key moves through reserve (pending row, short lease), then either
// complete (stored response, full TTL) or release (row deleted so the
// client may retry). The unique (user_id, scope, key) index makes reserve
// the single point where concurrent duplicates are told apart.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/CharlesTogle/umak-link-sub000/internal/domain"
)

// ErrDuplicate indicates that an idempotency record already exists for the
// given (user_id, scope, key) tuple.
var ErrDuplicate = errors.New("duplicate")

// GetIdempotency returns a non-expired record, pending or completed, or
// ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, userID, scope, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(scope) == "" || strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("user_id = ? AND scope = ? AND key = ? AND expires_at > ?", userID, scope, key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency inserts a record holding the response produced for the
// key and returns ErrDuplicate on unique violation.
func CreateIdempotency(ctx context.Context, db *gorm.DB, userID, scope, key, announcementID string, status int, response string, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:             uuid.NewString(),
		UserID:         userID,
		Scope:          scope,
		Key:            key,
		AnnouncementID: announcementID,
		Status:         status,
		Response:       response,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") ||
			strings.Contains(low, "duplicate key value") {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// ReserveIdempotency claims (userID, scope, key) with a pending record that
// expires after lease. An expired record for the tuple is dropped first.
// Returns ErrDuplicate when a live record already holds the key.
func ReserveIdempotency(ctx context.Context, db *gorm.DB, userID, scope, key string, lease time.Duration) (*domain.Idempotency, error) {
	err := db.WithContext(ctx).
		Where("user_id = ? AND scope = ? AND key = ? AND expires_at <= ?", userID, scope, key, time.Now().UTC()).
		Delete(&domain.Idempotency{}).Error
	if err != nil {
		return nil, err
	}
	return CreateIdempotency(ctx, db, userID, scope, key, "", domain.IdempotencyPending, "", lease)
}

// CompleteIdempotency stores the response for a pending record and extends
// its expiry to ttl. Returns ErrNotFound when the reservation is gone.
func CompleteIdempotency(ctx context.Context, db *gorm.DB, id, announcementID string, status int, response string, ttl time.Duration) error {
	res := db.WithContext(ctx).
		Model(&domain.Idempotency{}).
		Where("id = ? AND status = ?", id, domain.IdempotencyPending).
		Updates(map[string]any{
			"announcement_id": announcementID,
			"status":          status,
			"response":        response,
			"expires_at":      time.Now().UTC().Add(ttl),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ReleaseIdempotency deletes a pending record so the key can be reused.
// Completed records are left alone.
func ReleaseIdempotency(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Where("id = ? AND status = ?", id, domain.IdempotencyPending).
		Delete(&domain.Idempotency{}).Error
}

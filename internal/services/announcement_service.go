// Package services – AnnouncementService
//
// This file implements the global announcement fan-out: it records the
// announcement, writes one notification row per user, pushes to every device
// that has a token and finally records who did not receive the push.
//
// The steps run strictly in order. Errors before the failure list is
// recorded abort the request without rolling back earlier writes.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/CharlesTogle/umak-link-sub000/internal/domain"
	"github.com/CharlesTogle/umak-link-sub000/internal/fanout"
	"github.com/CharlesTogle/umak-link-sub000/internal/push"
)

// NoTokenReason is recorded for users that have no device token.
const NoTokenReason = "No notification token"

// AnnouncementRepo defines the persistence contract required by
// AnnouncementService.
type AnnouncementRepo interface {
	// CreateImage inserts an image row and returns it.
	CreateImage(ctx context.Context, db *gorm.DB, url string) (*domain.Image, error)

	// CreateAnnouncement inserts an announcement with an empty failure list.
	CreateAnnouncement(ctx context.Context, db *gorm.DB, message string, description, imageID, senderID *string) (*domain.GlobalAnnouncement, error)

	// ListRecipients returns every user with its optional token.
	ListRecipients(ctx context.Context, db *gorm.DB) ([]domain.User, error)

	// HasAnnouncementNotifications reports whether rows already reference the announcement.
	HasAnnouncementNotifications(ctx context.Context, db *gorm.DB, announcementID string) (bool, error)

	// CreateNotifications inserts one batch of rows, skipping duplicates.
	CreateNotifications(ctx context.Context, db *gorm.DB, rows []domain.Notification) (int64, error)

	// UpdateFailedUsers replaces the announcement's failure list.
	UpdateFailedUsers(ctx context.Context, db *gorm.DB, id string, failed []domain.FailedUser) error
}

// TokenSource yields gateway credentials. *push.TokenExchanger implements it.
type TokenSource interface {
	Token(ctx context.Context) (push.Auth, error)
}

// Dispatcher delivers to recipients with tokens. *fanout.Scheduler implements it.
type Dispatcher interface {
	Run(ctx context.Context, start time.Time, auth push.Auth, m push.Message, recipients []fanout.Recipient) fanout.Result
}

// Stats summarizes one fan-out.
type Stats struct {
	TotalUsers         int   `json:"total_users"`
	UsersWithTokens    int   `json:"users_with_tokens"`
	UsersWithoutTokens int   `json:"users_without_tokens"`
	PushSuccessful     int   `json:"push_successful"`
	PushFailed         int   `json:"push_failed"`
	RetriableFailed    int   `json:"retriable_failed"`
	ExecutionTimeMS    int64 `json:"execution_time_ms"`
}

// SendResult is returned to the caller after the fan-out completes.
type SendResult struct {
	Success              bool                `json:"success"`
	GlobalNotificationID string              `json:"global_notification_id"`
	Stats                Stats               `json:"stats"`
	FailedUsers          []domain.FailedUser `json:"failed_users,omitempty"`
}

// AnnouncementService orchestrates a global announcement fan-out.
type AnnouncementService struct {
	DB         *gorm.DB
	Repo       AnnouncementRepo
	Tokens     TokenSource
	Dispatcher Dispatcher

	// Title is the push and notification title.
	Title string
	// InsertBatch caps the notification rows per insert.
	InsertBatch int

	Now func() time.Time
}

// NewAnnouncementService constructs the service with default tuning.
func NewAnnouncementService(db *gorm.DB, r AnnouncementRepo, tokens TokenSource, d Dispatcher) *AnnouncementService {
	return &AnnouncementService{
		DB:          db,
		Repo:        r,
		Tokens:      tokens,
		Dispatcher:  d,
		Title:       "UMak LINK Announcement",
		InsertBatch: 500,
		Now:         time.Now,
	}
}

// Send validates req and runs the fan-out. Validation failures return
// before any write. After validation the work is detached from ctx
// cancellation so a disconnecting client cannot stop it halfway.
func (s *AnnouncementService) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	tr := otel.Tracer("services/AnnouncementService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(attribute.String("sender.id", req.UserID)),
	)
	defer span.End()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	lg := loggerFrom(ctx)
	start := s.now()

	var imageID *string
	if req.ImageURL != "" {
		img, err := s.Repo.CreateImage(ctx, s.DB, req.ImageURL)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "image")
			return nil, fmt.Errorf("%w: %v", ErrStoreImage, err)
		}
		imageID = &img.ID
	}

	ann, err := s.Repo.CreateAnnouncement(ctx, s.DB, req.Message, optional(req.Description), imageID, optional(req.UserID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "announcement")
		return nil, fmt.Errorf("%w: %v", ErrCreateAnnouncement, err)
	}
	span.SetAttributes(attribute.String("announcement.id", ann.ID))

	users, err := s.Repo.ListRecipients(ctx, s.DB)
	if err != nil {
		lg.Error().Err(err).Str("announcement_id", ann.ID).Msg("fetch recipients failed after announcement was created")
		span.RecordError(err)
		span.SetStatus(codes.Error, "recipients")
		return nil, fmt.Errorf("%w: %v", ErrFetchRecipients, err)
	}

	msg := s.buildMessage(ann.ID, req)
	s.insertNotifications(ctx, lg, ann, users, msg, imageID)

	withTokens, noToken := partition(users)

	result := fanout.Result{Successful: []string{}, Failed: []domain.FailedUser{}}
	if len(withTokens) > 0 {
		auth, err := s.Tokens.Token(ctx)
		if err != nil {
			lg.Error().Err(err).Str("announcement_id", ann.ID).Msg("push credentials unavailable; announcement left without deliveries")
			span.RecordError(err)
			span.SetStatus(codes.Error, "credentials")
			return nil, fmt.Errorf("%w: %v", ErrCredentials, err)
		}
		result = s.Dispatcher.Run(ctx, start, auth, msg, withTokens)
	}

	failed := make([]domain.FailedUser, 0, len(result.Failed)+len(noToken))
	failed = append(failed, result.Failed...)
	for _, id := range noToken {
		failed = append(failed, domain.FailedUser{UserID: id, Retriable: false, Reason: NoTokenReason})
	}

	if err := s.Repo.UpdateFailedUsers(ctx, s.DB, ann.ID, failed); err != nil {
		lg.Error().Err(err).Str("announcement_id", ann.ID).Int("failed", len(failed)).Msg("record failed users")
	}

	stats := Stats{
		TotalUsers:         len(users),
		UsersWithTokens:    len(withTokens),
		UsersWithoutTokens: len(noToken),
		PushSuccessful:     len(result.Successful),
		PushFailed:         len(result.Failed),
		ExecutionTimeMS:    s.now().Sub(start).Milliseconds(),
	}
	for _, f := range failed {
		if f.Retriable {
			stats.RetriableFailed++
		}
	}

	lg.Info().
		Str("announcement_id", ann.ID).
		Int("total_users", stats.TotalUsers).
		Int("push_successful", stats.PushSuccessful).
		Int("push_failed", stats.PushFailed).
		Int("retriable_failed", stats.RetriableFailed).
		Int("truncated", result.Truncated).
		Int64("execution_time_ms", stats.ExecutionTimeMS).
		Msg("global announcement sent")

	span.SetAttributes(
		attribute.Int("fanout.total_users", stats.TotalUsers),
		attribute.Int("fanout.push_successful", stats.PushSuccessful),
		attribute.Int("fanout.push_failed", stats.PushFailed),
	)

	out := &SendResult{Success: true, GlobalNotificationID: ann.ID, Stats: stats}
	if len(failed) > 0 {
		out.FailedUsers = failed
	}
	return out, nil
}

// buildMessage assembles the push shown on devices. Data values are strings
// because the gateway rejects anything else.
func (s *AnnouncementService) buildMessage(annID string, req SendRequest) push.Message {
	data := map[string]string{
		"type":                   domain.NotificationTypeGlobalAnnouncement,
		"global_announcement_id": annID,
	}
	if req.ImageURL != "" {
		data[push.DataImageURL] = req.ImageURL
	}
	return push.Message{
		Title:       s.title(),
		Body:        req.Message,
		Description: req.Description,
		Data:        data,
	}
}

// insertNotifications writes one unread row per user unless rows for the
// announcement already exist. Batch failures are logged and skipped.
func (s *AnnouncementService) insertNotifications(ctx context.Context, lg *zerolog.Logger, ann *domain.GlobalAnnouncement, users []domain.User, msg push.Message, imageID *string) {
	tr := otel.Tracer("services/AnnouncementService")
	ctx, span := tr.Start(ctx, "insertNotifications",
		trace.WithAttributes(
			attribute.String("announcement.id", ann.ID),
			attribute.Int("users", len(users)),
		),
	)
	defer span.End()

	exists, err := s.Repo.HasAnnouncementNotifications(ctx, s.DB, ann.ID)
	if err != nil {
		// the unique (announcement, user) index still prevents duplicates
		lg.Warn().Err(err).Str("announcement_id", ann.ID).Msg("notification existence check failed")
	}
	if exists {
		lg.Info().Str("announcement_id", ann.ID).Msg("notifications already exist; skipping insert")
		span.SetAttributes(attribute.Bool("notifications.skipped", true))
		return
	}

	data := make(map[string]any, len(msg.Data))
	for k, v := range msg.Data {
		data[k] = v
	}

	batch := s.InsertBatch
	if batch < 1 {
		batch = 500
	}
	var inserted int64
	for lo := 0; lo < len(users); lo += batch {
		hi := lo + batch
		if hi > len(users) {
			hi = len(users)
		}
		rows := make([]domain.Notification, 0, hi-lo)
		for _, u := range users[lo:hi] {
			rows = append(rows, domain.Notification{
				ID:                   uuid.NewString(),
				UserID:               u.ID,
				SenderUserID:         ann.SenderUserID,
				Title:                msg.Title,
				Body:                 msg.DisplayBody(),
				Type:                 domain.NotificationTypeGlobalAnnouncement,
				ImageID:              imageID,
				IsRead:               false,
				GlobalAnnouncementID: &ann.ID,
				Data:                 data,
			})
		}
		n, err := s.Repo.CreateNotifications(ctx, s.DB, rows)
		if err != nil {
			lg.Warn().Err(err).Str("announcement_id", ann.ID).Int("batch_start", lo).Int("batch_size", len(rows)).Msg("notification batch insert failed")
			continue
		}
		inserted += n
	}
	span.SetAttributes(attribute.Int64("notifications.inserted", inserted))
}

// partition splits users into push recipients and ids without a token,
// both in input order.
func partition(users []domain.User) ([]fanout.Recipient, []string) {
	withTokens := make([]fanout.Recipient, 0, len(users))
	var noToken []string
	for _, u := range users {
		if u.HasToken() {
			withTokens = append(withTokens, fanout.Recipient{UserID: u.ID, Token: *u.NotificationToken})
			continue
		}
		noToken = append(noToken, u.ID)
	}
	return withTokens, noToken
}

func (s *AnnouncementService) title() string {
	if s.Title == "" {
		return "UMak LINK Announcement"
	}
	return s.Title
}

func (s *AnnouncementService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// loggerFrom returns the request-scoped logger carried by ctx, or the
// global logger.
func loggerFrom(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}

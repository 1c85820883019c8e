// Package httpapi wires the HTTP transport (Gin) to the announcement
// service, middleware and route handlers. It centralizes cross-cutting
// concerns such as tracing, correlation IDs, logging/redaction, panic
// recovery, metrics, compression, CORS, security headers, idempotency and
// rate limiting.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/CharlesTogle/umak-link-sub000/docs"
	"github.com/CharlesTogle/umak-link-sub000/internal/config"
	"github.com/CharlesTogle/umak-link-sub000/internal/domain"
	"github.com/CharlesTogle/umak-link-sub000/internal/fanout"
	"github.com/CharlesTogle/umak-link-sub000/internal/http/handlers"
	"github.com/CharlesTogle/umak-link-sub000/internal/http/middleware"
	"github.com/CharlesTogle/umak-link-sub000/internal/push"
	"github.com/CharlesTogle/umak-link-sub000/internal/repo"
	"github.com/CharlesTogle/umak-link-sub000/internal/services"
)

// SendPath is the fan-out route below the API base path.
const SendPath = "/send-global-announcements"

// announcementRepoShim adapts the repository free functions to the
// services.AnnouncementRepo interface.
type announcementRepoShim struct{}

// CreateImage proxies repo.CreateImage.
func (announcementRepoShim) CreateImage(ctx context.Context, db *gorm.DB, url string) (*domain.Image, error) {
	return repo.CreateImage(ctx, db, url)
}

// CreateAnnouncement proxies repo.CreateAnnouncement.
func (announcementRepoShim) CreateAnnouncement(ctx context.Context, db *gorm.DB, message string, description, imageID, senderID *string) (*domain.GlobalAnnouncement, error) {
	return repo.CreateAnnouncement(ctx, db, message, description, imageID, senderID)
}

// ListRecipients proxies repo.ListRecipients.
func (announcementRepoShim) ListRecipients(ctx context.Context, db *gorm.DB) ([]domain.User, error) {
	return repo.ListRecipients(ctx, db)
}

// HasAnnouncementNotifications proxies repo.HasAnnouncementNotifications.
func (announcementRepoShim) HasAnnouncementNotifications(ctx context.Context, db *gorm.DB, announcementID string) (bool, error) {
	return repo.HasAnnouncementNotifications(ctx, db, announcementID)
}

// CreateNotifications proxies repo.CreateNotifications.
func (announcementRepoShim) CreateNotifications(ctx context.Context, db *gorm.DB, rows []domain.Notification) (int64, error) {
	return repo.CreateNotifications(ctx, db, rows)
}

// UpdateFailedUsers proxies repo.UpdateFailedUsers.
func (announcementRepoShim) UpdateFailedUsers(ctx context.Context, db *gorm.DB, id string, failed []domain.FailedUser) error {
	return repo.UpdateFailedUsers(ctx, db, id, failed)
}

// idempotencyStore implements handlers.IdempotencyStore on the repo package.
// lease bounds how long a reservation survives a crashed request; ttl is
// how long a completed response is replayed.
type idempotencyStore struct {
	db    *gorm.DB
	ttl   time.Duration
	lease time.Duration
}

func newIdempotencyStore(db *gorm.DB, cfg config.Config) idempotencyStore {
	lease := cfg.WriteTimeout
	if lease <= 0 {
		lease = cfg.IdempotencyTTL
	}
	return idempotencyStore{db: db, ttl: cfg.IdempotencyTTL, lease: lease}
}

func (s idempotencyStore) Get(ctx context.Context, userID, scope, key string, now time.Time) (*domain.Idempotency, error) {
	return repo.GetIdempotency(ctx, s.db, userID, scope, key, now)
}

func (s idempotencyStore) Reserve(ctx context.Context, userID, scope, key string) (string, error) {
	rec, err := repo.ReserveIdempotency(ctx, s.db, userID, scope, key, s.lease)
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

func (s idempotencyStore) Complete(ctx context.Context, id, announcementID string, status int, response string) error {
	return repo.CompleteIdempotency(ctx, s.db, id, announcementID, status, response, s.ttl)
}

func (s idempotencyStore) Release(ctx context.Context, id string) error {
	return repo.ReleaseIdempotency(ctx, s.db, id)
}

// NewAnnouncementService assembles the fan-out pipeline from configuration:
// credential exchange, per-recipient sender and batch scheduler.
func NewAnnouncementService(db *gorm.DB, cfg config.Config) *services.AnnouncementService {
	client := push.NewHTTPClient(cfg.Push.HTTPTimeout)
	tokens := push.NewTokenExchanger(push.ConfigSource(cfg.Push), client)
	sender := push.NewSender(client, cfg.Push.BaseURL, push.Strategy{
		MaxRetries: cfg.Push.MaxRetries,
		BaseDelay:  cfg.Push.BaseDelay,
		MaxDelay:   cfg.Push.MaxDelay,
	})
	sender.OnUnauthorized = tokens.Invalidate
	sched := fanout.New(sender, cfg.Fanout.WindowSize, cfg.Fanout.Budget)

	svc := services.NewAnnouncementService(db, announcementRepoShim{}, tokens, sched)
	if cfg.Fanout.Title != "" {
		svc.Title = cfg.Fanout.Title
	}
	if cfg.Fanout.InsertBatch > 0 {
		svc.InsertBatch = cfg.Fanout.InsertBatch
	}
	return svc
}

// RegisterRoutes attaches all middleware and endpoints to r.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: access log with PII scrubbing
//  4. ContextLogger: request-scoped zerolog on gin and request contexts
//  5. Recovery: capture panics after the loggers
//  6. Body size limiter
//  7. Gzip
//  8. Metrics
//  9. CORS and security headers
//
// The fan-out route additionally runs the idempotency validator before the
// rate limiter so replays are never limited.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config) {
	RegisterRoutesWith(r, db, cfg, NewAnnouncementService(db, cfg))
}

// RegisterRoutesWith is RegisterRoutes with an explicit announcement service.
func RegisterRoutesWith(r *gin.Engine, db *gorm.DB, cfg config.Config, svc handlers.AnnouncementService) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"Apikey", "X-Client-Info"},
		SkipPaths:   []string{"/health", "/metrics"},
	}))
	r.Use(middleware.ContextLogger())
	r.Use(middleware.Recovery())
	r.Use(limitBody(1 << 20))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	corsCfg := cors.Config{
		AllowMethods:     handlers.CORSAllowMethods,
		AllowHeaders:     handlers.CORSAllowHeaders,
		ExposeHeaders:    []string{"X-Request-ID", middleware.HeaderReplayed, "Content-Length"},
		AllowCredentials: false, // must remain false with AllowAllOrigins
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// ACAO: * even without an Origin header, matching what browser
		// clients of the fan-out already expect on every response.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.CORS.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "Not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "Method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(svc, newIdempotencyStore(db, cfg))
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	idem := middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{Scope: handlers.IdempotencyScope, MaxLen: 200},
		func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, userID, scope, key, now)
			switch {
			case errors.Is(err, repo.ErrNotFound):
				return false, nil
			case err != nil:
				return false, err
			}
			// A pending reservation is answered with 409, not replayed.
			return rec != nil && !rec.Pending(), nil
		},
	)

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		api.POST(SendPath, idem, rl.Handler(), h.SendGlobalAnnouncement)
		api.OPTIONS(SendPath, h.Preflight)
	}
}

// limitBody caps the request body at maxBytes; reads past it fail.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

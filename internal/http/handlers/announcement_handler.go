// Announcement HTTP handlers.
//
// This file exposes the global announcement fan-out:
//   - POST    {base}/send-global-announcements  (create, persist, push to every user)
//   - OPTIONS {base}/send-global-announcements  (CORS preflight, 204)
//
// The handler is transport-thin: it decodes the body, delegates to the
// AnnouncementService and maps service errors to statuses.
//
// Idempotency:
// When the client supplies an Idempotency-Key the key is reserved before
// the fan-out starts. A retry that arrives while the first request is still
// running gets 409; once the first request succeeds its response is
// returned verbatim with `Idempotency-Replayed: true` and nothing is created
// or pushed again. Failed requests release the key.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/CharlesTogle/umak-link-sub000/internal/domain"
	"github.com/CharlesTogle/umak-link-sub000/internal/http/middleware"
	"github.com/CharlesTogle/umak-link-sub000/internal/repo"
	"github.com/CharlesTogle/umak-link-sub000/internal/services"
)

// IdempotencyScope namespaces stored responses of the fan-out endpoint.
const IdempotencyScope = "global-announcements"

// AnnouncementService runs a global announcement fan-out.
//
// Implementations must perform no writes when they return
// services.ErrMissingMessage or services.ErrInvalidImageURL.
type AnnouncementService interface {
	Send(ctx context.Context, req services.SendRequest) (*services.SendResult, error)
}

// IdempotencyStore persists fan-out responses keyed by caller and key.
//
// Get returns repo.ErrNotFound when nothing unexpired is stored. Reserve
// returns repo.ErrDuplicate when a live record already holds the key.
// Complete and Release act on the id returned by Reserve.
type IdempotencyStore interface {
	Get(ctx context.Context, userID, scope, key string, now time.Time) (*domain.Idempotency, error)
	Reserve(ctx context.Context, userID, scope, key string) (id string, err error)
	Complete(ctx context.Context, id, announcementID string, status int, response string) error
	Release(ctx context.Context, id string) error
}

// inProgressRetryAfter is advertised on 409 while a key is held.
const inProgressRetryAfter = "10"

// Handlers groups the HTTP endpoints of the announcement service.
type Handlers struct {
	annSvc AnnouncementService
	idem   IdempotencyStore
	now    func() time.Time
}

// New constructs Handlers. idem may be nil, which disables replays.
func New(annSvc AnnouncementService, idem IdempotencyStore) *Handlers {
	return &Handlers{annSvc: annSvc, idem: idem, now: time.Now}
}

// SendGlobalAnnouncement godoc
// @ID          sendGlobalAnnouncement
// @Summary     Broadcast an announcement to every user
// @Description Creates a global announcement, writes one notification per user and pushes
// @Description it to every registered device. Users without a device token are reported
// @Description as non-retriable failures. Supports Idempotency-Key for safe retries.
// @Tags        Announcements
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "Caller id used to scope idempotency keys"  example(admin-1)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"          example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    services.SendRequest  true  "Announcement payload"
//
// @Success     200  {object}  services.SendResult      "Fan-out summary"
// @Failure     400  {object}  handlers.ErrorResponse   "Missing message, invalid image_url or announcement not created"
// @Failure     409  {object}  handlers.ErrorResponse   "A request with this Idempotency-Key is still in progress"
// @Failure     429  {object}  handlers.ErrorResponse   "Too many requests"
// @Failure     500  {object}  handlers.ErrorResponse   "Internal error"
// @Router      /send-global-announcements [post]
func (h *Handlers) SendGlobalAnnouncement(c *gin.Context) {
	ctx := c.Request.Context()
	caller := middleware.UserID(c)
	idemKey, _ := middleware.GetIdempotencyKey(c)
	useIdem := idemKey != "" && h.idem != nil

	if useIdem && h.answerStored(c, caller, idemKey) {
		return
	}

	var req services.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body")
		return
	}

	// Reserve the key so a retry racing this request cannot start a
	// second fan-out. Store outages degrade to no idempotency.
	var reservation string
	if useIdem {
		id, err := h.idem.Reserve(ctx, caller, IdempotencyScope, idemKey)
		switch {
		case err == nil:
			reservation = id
		case errors.Is(err, repo.ErrDuplicate):
			if !h.answerStored(c, caller, idemKey) {
				h.inProgress(c)
			}
			return
		default:
			lg := middleware.LoggerFrom(c)
			lg.Warn().Err(err).Msg("idempotency reserve failed")
		}
	}
	// The bookkeeping below must land even if the client went away.
	bg := context.WithoutCancel(ctx)

	res, err := h.annSvc.Send(ctx, req)
	if err != nil {
		if reservation != "" {
			if rerr := h.idem.Release(bg, reservation); rerr != nil {
				lg := middleware.LoggerFrom(c)
				lg.Warn().Err(rerr).Msg("idempotency release failed")
			}
		}
		switch {
		case errors.Is(err, services.ErrMissingMessage):
			fail(c, http.StatusBadRequest, ErrCodeMissingMessage, "Missing message")
		case errors.Is(err, services.ErrInvalidImageURL):
			fail(c, http.StatusBadRequest, ErrCodeInvalidImageURL, "Invalid image_url")
		case errors.Is(err, services.ErrCreateAnnouncement):
			failErr(c, http.StatusBadRequest, ErrCodeCreateFailed, "Failed to create global announcement", err)
		case errors.Is(err, services.ErrFetchRecipients):
			failErr(c, http.StatusInternalServerError, ErrCodeFetchUsersFailed, "Failed to fetch users", err)
		case errors.Is(err, services.ErrStoreImage):
			failErr(c, http.StatusInternalServerError, ErrCodeStoreImage, "Failed to store image", err)
		case errors.Is(err, services.ErrCredentials):
			failErr(c, http.StatusInternalServerError, ErrCodeCredentials, "Failed to obtain push credentials", err)
		default:
			failErr(c, http.StatusInternalServerError, ErrCodeInternal, "Internal server error", err)
		}
		return
	}

	if reservation != "" {
		body, err := json.Marshal(res)
		if err == nil {
			err = h.idem.Complete(bg, reservation, res.GlobalNotificationID, http.StatusOK, string(body))
		}
		if err != nil {
			lg := middleware.LoggerFrom(c)
			lg.Warn().Err(err).Str("announcement_id", res.GlobalNotificationID).Msg("idempotency write failed")
		}
	}

	ok(c, http.StatusOK, res)
}

// answerStored writes the response for a key that already has a record:
// the stored body for a completed request, 409 for one still running. It
// reports whether anything was written.
func (h *Handlers) answerStored(c *gin.Context, caller, key string) bool {
	rec, err := h.idem.Get(c.Request.Context(), caller, IdempotencyScope, key, h.now().UTC())
	switch {
	case err == nil && rec != nil && rec.Pending():
		h.inProgress(c)
		return true
	case err == nil && rec != nil:
		c.Header(middleware.HeaderReplayed, "true")
		c.Data(rec.Status, "application/json; charset=utf-8", []byte(rec.Response))
		return true
	case err != nil && !errors.Is(err, repo.ErrNotFound):
		lg := middleware.LoggerFrom(c)
		lg.Warn().Err(err).Msg("idempotency read failed")
	}
	return false
}

func (h *Handlers) inProgress(c *gin.Context) {
	c.Header("Retry-After", inProgressRetryAfter)
	fail(c, http.StatusConflict, ErrCodeIdempotencyInProgress, "A request with this Idempotency-Key is still in progress")
}

// CORSAllowMethods and CORSAllowHeaders describe what browsers may send
// to the fan-out endpoint.
var (
	CORSAllowMethods = []string{http.MethodPost, http.MethodOptions}
	CORSAllowHeaders = []string{
		"Authorization", "X-Client-Info", "Apikey", "Content-Type",
		middleware.HeaderUserID, middleware.HeaderIdempotencyKey,
	}
)

// Preflight answers CORS preflight requests for the fan-out endpoint with
// 204. Headers already set by the CORS middleware are kept; requests that
// carry no Origin still get the permissive defaults.
//
// @ID          preflightGlobalAnnouncement
// @Summary     CORS preflight
// @Tags        Announcements
// @Success     204
// @Router      /send-global-announcements [options]
func (h *Handlers) Preflight(c *gin.Context) {
	hd := c.Writer.Header()
	if hd.Get("Access-Control-Allow-Origin") == "" {
		hd.Set("Access-Control-Allow-Origin", "*")
	}
	if hd.Get("Access-Control-Allow-Methods") == "" {
		hd.Set("Access-Control-Allow-Methods", strings.Join(CORSAllowMethods, ", "))
	}
	if hd.Get("Access-Control-Allow-Headers") == "" {
		hd.Set("Access-Control-Allow-Headers", strings.Join(CORSAllowHeaders, ", "))
	}
	noContent(c)
}

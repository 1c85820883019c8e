// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the response helpers shared by every endpoint. Errors
// always use the wire shape clients of the announcement endpoint already
// parse:
//
//	HTTP/1.1 400 Bad Request
//	{ "error": "Missing message" }
//
// The machine-readable code (see errors.go) is only logged, together with
// the request id, so a failed call can be found in the logs.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/CharlesTogle/umak-link-sub000/internal/http/middleware"
)

// ErrorResponse is the error envelope returned by all endpoints.
type ErrorResponse struct {
	// Human-readable message, safe to show to users
	Error string `json:"error" example:"Missing message"`
}

// fail aborts the request with {"error": msg}. 5xx responses are logged at
// error level through the request-scoped logger, 4xx at debug.
func fail(c *gin.Context, status int, code, msg string) {
	lg := middleware.LoggerFrom(c)
	ev := lg.Debug()
	if status >= http.StatusInternalServerError {
		ev = lg.Error()
	}
	ev.Int("status", status).
		Str("code", code).
		Str("message", msg).
		Msg("api error")

	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg})
}

// failErr is fail with the underlying cause attached to the log line.
func failErr(c *gin.Context, status int, code, msg string, err error) {
	if err != nil {
		lg := middleware.LoggerFrom(c)
		lg.Error().Err(err).Str("code", code).Msg("request failed")
	}
	fail(c, status, code, msg)
}

// Fail is the exported variant of fail for router fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes body as JSON with status.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// noContent writes 204 with no body.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

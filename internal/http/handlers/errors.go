// Package handlers defines the error codes logged alongside HTTP failures.
//
// Codes are lowercase snake_case. They never reach the wire: responses carry
// only {"error": <message>}. Log queries and alerts branch on them instead.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"

	// Fan-out specific:
	ErrCodeMissingMessage   = "missing_message"
	ErrCodeInvalidImageURL  = "invalid_image_url"
	ErrCodeStoreImage       = "store_image_failed"
	ErrCodeCreateFailed     = "create_failed"
	ErrCodeFetchUsersFailed = "fetch_users_failed"
	ErrCodeCredentials      = "credentials_failed"

	ErrCodeIdempotencyInProgress = "idempotency_in_progress"
)

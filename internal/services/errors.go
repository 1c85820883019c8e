// Package services holds the announcement fan-out orchestration.
// This file centralizes service-level error values so that handlers can map
// them to HTTP statuses with errors.Is.
package services

import "errors"

// Request validation errors. Nothing has been written when these are returned.
var (
	// ErrMissingMessage is returned when the request has no message text.
	ErrMissingMessage = errors.New("missing message")

	// ErrInvalidImageURL is returned when image_url is not an absolute URL.
	ErrInvalidImageURL = errors.New("invalid image_url")
)

// Fatal infrastructure errors. They abort the fan-out; earlier writes are
// not rolled back.
var (
	// ErrStoreImage wraps a failure to insert the image row.
	ErrStoreImage = errors.New("failed to store image")

	// ErrCreateAnnouncement wraps a failure to insert the announcement row.
	ErrCreateAnnouncement = errors.New("failed to create global announcement")

	// ErrFetchRecipients wraps a failure to read the user population.
	ErrFetchRecipients = errors.New("failed to fetch users")

	// ErrCredentials wraps a failure to obtain a push gateway token.
	ErrCredentials = errors.New("failed to obtain push credentials")
)

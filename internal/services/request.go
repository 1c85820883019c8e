package services

import (
	"errors"
	"net/url"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"golang.org/x/text/unicode/norm"
)

// SendRequest is the inbound fan-out request.
type SendRequest struct {
	Message     string `json:"message"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	UserID      string `json:"user_id,omitempty"`
}

// Normalize trims every field and puts the texts in NFC form.
func (r *SendRequest) Normalize() {
	r.Message = norm.NFC.String(strings.TrimSpace(r.Message))
	r.Description = norm.NFC.String(strings.TrimSpace(r.Description))
	r.ImageURL = strings.TrimSpace(r.ImageURL)
	r.UserID = strings.TrimSpace(r.UserID)
}

// Validate returns ErrMissingMessage or ErrInvalidImageURL.
func (r SendRequest) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Message, validation.Required),
		validation.Field(&r.ImageURL, is.URL, validation.By(absoluteURL)),
	)
	var ve validation.Errors
	if errors.As(err, &ve) {
		if _, ok := ve["message"]; ok {
			return ErrMissingMessage
		}
		if _, ok := ve["image_url"]; ok {
			return ErrInvalidImageURL
		}
	}
	return err
}

func absoluteURL(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an absolute http(s) URL")
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

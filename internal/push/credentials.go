// Package push talks to the FCM HTTP v1 gateway: it exchanges a service
// account key for a bearer token, shapes per-platform message envelopes and
// delivers one message to one device token with bounded retry.
package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/CharlesTogle/umak-link-sub000/internal/config"
)

// ErrMissingCredentials is returned when the service account bundle lacks
// the issuer email, the private key or the project id.
var ErrMissingCredentials = errors.New("push credentials incomplete")

// Credentials is the subset of a Google service account needed to mint a
// gateway token.
type Credentials struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	ProjectID   string `json:"project_id"`
	TokenURI    string `json:"token_uri"`
}

// CredentialSource yields the credential bundle at call time.
type CredentialSource func() (Credentials, error)

// ConfigSource resolves credentials from cfg. An inline JSON bundle wins over
// a service account file, which wins over the discrete fields. Discrete
// fields fill whatever the bundle left empty.
func ConfigSource(cfg config.PushConfig) CredentialSource {
	return func() (Credentials, error) {
		var c Credentials
		switch {
		case strings.TrimSpace(cfg.ServiceAccountJSON) != "":
			if err := json.Unmarshal([]byte(cfg.ServiceAccountJSON), &c); err != nil {
				return Credentials{}, fmt.Errorf("parse service account json: %w", err)
			}
		case strings.TrimSpace(cfg.ServiceAccountFile) != "":
			raw, err := os.ReadFile(cfg.ServiceAccountFile)
			if err != nil {
				return Credentials{}, fmt.Errorf("read service account file: %w", err)
			}
			if err := json.Unmarshal(raw, &c); err != nil {
				return Credentials{}, fmt.Errorf("parse service account file: %w", err)
			}
		}
		if c.ClientEmail == "" {
			c.ClientEmail = cfg.ClientEmail
		}
		if c.PrivateKey == "" {
			c.PrivateKey = cfg.PrivateKey
		}
		if c.ProjectID == "" {
			c.ProjectID = cfg.ProjectID
		}
		if c.TokenURI == "" {
			c.TokenURI = cfg.TokenURI
		}
		// env files usually carry the PEM on one line
		c.PrivateKey = strings.ReplaceAll(c.PrivateKey, `\n`, "\n")
		return c, c.Validate()
	}
}

// StaticSource always returns c after validating it.
func StaticSource(c Credentials) CredentialSource {
	return func() (Credentials, error) { return c, c.Validate() }
}

// Validate reports which required fields are missing, wrapping
// ErrMissingCredentials.
func (c Credentials) Validate() error {
	var missing []string
	if strings.TrimSpace(c.ClientEmail) == "" {
		missing = append(missing, "client_email")
	}
	if strings.TrimSpace(c.PrivateKey) == "" {
		missing = append(missing, "private_key")
	}
	if strings.TrimSpace(c.ProjectID) == "" {
		missing = append(missing, "project_id")
	}
	if strings.TrimSpace(c.TokenURI) == "" {
		missing = append(missing, "token_uri")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	return nil
}

package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// CloudPlatformScope is the OAuth2 scope requested for gateway calls.
	CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

	jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	assertionTTL   = time.Hour
	refreshSkew    = 60 * time.Second
)

// ErrTokenExchange is returned when the token endpoint rejects the assertion.
var ErrTokenExchange = errors.New("token exchange failed")

// TokenExchangeError carries the status and a clipped body of a rejected
// exchange. It matches ErrTokenExchange with errors.Is.
type TokenExchangeError struct {
	Status int
	Body   string
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("token exchange failed: %d: %s", e.Status, e.Body)
}

// Is lets errors.Is(err, ErrTokenExchange) succeed.
func (e *TokenExchangeError) Is(target error) bool { return target == ErrTokenExchange }

// Auth is what a delivery needs to address the gateway.
type Auth struct {
	Token     string
	ProjectID string
}

// TokenExchanger mints gateway bearer tokens from a service account using
// the OAuth2 JWT-bearer grant and caches them until shortly before expiry.
type TokenExchanger struct {
	Source CredentialSource
	Client *http.Client
	Now    func() time.Time

	mu      sync.Mutex
	cached  Auth
	expires time.Time
}

// NewTokenExchanger returns an exchanger using src and client.
func NewTokenExchanger(src CredentialSource, client *http.Client) *TokenExchanger {
	return &TokenExchanger{Source: src, Client: client, Now: time.Now}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// Token returns a bearer token and the project id it is valid for.
func (x *TokenExchanger) Token(ctx context.Context) (Auth, error) {
	tr := otel.Tracer("push/TokenExchanger")
	ctx, span := tr.Start(ctx, "Token")
	defer span.End()

	now := x.now()

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.cached.Token != "" && now.Before(x.expires.Add(-refreshSkew)) {
		span.SetAttributes(attribute.Bool("token.cached", true))
		return x.cached, nil
	}

	creds, err := x.Source()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "credentials")
		return Auth{}, err
	}

	assertion, err := signAssertion(creds, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sign")
		return Auth{}, err
	}

	tok, err := x.exchange(ctx, creds.TokenURI, assertion)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "exchange")
		return Auth{}, err
	}

	ttl := time.Duration(tok.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = assertionTTL
	}
	x.cached = Auth{Token: tok.AccessToken, ProjectID: creds.ProjectID}
	x.expires = now.Add(ttl)
	span.SetAttributes(
		attribute.Bool("token.cached", false),
		attribute.String("push.project_id", creds.ProjectID),
	)
	return x.cached, nil
}

// Invalidate drops the cached token.
func (x *TokenExchanger) Invalidate() {
	x.mu.Lock()
	x.cached = Auth{}
	x.expires = time.Time{}
	x.mu.Unlock()
}

func (x *TokenExchanger) now() time.Time {
	if x.Now != nil {
		return x.Now()
	}
	return time.Now()
}

// signAssertion builds the RS256-signed JWT presented to the token endpoint.
func signAssertion(c Credentials, now time.Time) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(c.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}
	claims := jwt.MapClaims{
		"iss":   c.ClientEmail,
		"scope": CloudPlatformScope,
		"aud":   c.TokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionTTL).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign assertion: %w", err)
	}
	return signed, nil
}

func (x *TokenExchanger) exchange(ctx context.Context, tokenURI, assertion string) (*tokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", jwtBearerGrant)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := x.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TokenExchangeError{Status: resp.StatusCode, Body: clip(string(raw), maxReasonBody)}
	}

	var out tokenResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if out.AccessToken == "" {
		return nil, &TokenExchangeError{Status: resp.StatusCode, Body: "empty access_token"}
	}
	return &out, nil
}

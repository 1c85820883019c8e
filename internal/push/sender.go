package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// maxReasonBody is how much of a gateway response body is kept in a reason.
const maxReasonBody = 100

// Status classifies a delivery outcome.
type Status int

const (
	Delivered Status = iota
	RetriableFailure
	PermanentFailure
)

func (s Status) String() string {
	switch s {
	case Delivered:
		return "success"
	case RetriableFailure:
		return "retriable"
	case PermanentFailure:
		return "permanent"
	default:
		return "unknown"
	}
}

// Outcome is the final result of delivering to one device.
type Outcome struct {
	Status   Status
	Reason   string
	Attempts int
}

// OK reports whether the push was accepted.
func (o Outcome) OK() bool { return o.Status == Delivered }

// Retriable reports whether a later attempt may succeed.
func (o Outcome) Retriable() bool { return o.Status == RetriableFailure }

// Sender delivers messages through the FCM HTTP v1 send endpoint.
type Sender struct {
	Client   *http.Client
	BaseURL  string
	Strategy Strategy

	// Sleep waits between retries. Tests replace it to avoid real waits.
	Sleep func(ctx context.Context, d time.Duration)

	// OnUnauthorized runs when the gateway rejects the bearer token with
	// 401, so the next fan-out fetches a fresh one. May be called
	// concurrently.
	OnUnauthorized func()
}

// NewSender returns a Sender with the default sleep.
func NewSender(client *http.Client, baseURL string, st Strategy) *Sender {
	return &Sender{Client: client, BaseURL: baseURL, Strategy: st, Sleep: SleepContext}
}

// NewHTTPClient returns a traced client sized for one fan-out window.
func NewHTTPClient(timeout time.Duration) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.MaxIdleConnsPerHost = 64
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(base),
	}
}

// SleepContext blocks for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Send delivers m to token. 5xx, 429 and transport errors are retried with
// backoff until the strategy is exhausted; other statuses end immediately.
// Send never returns an error: every failure is folded into the Outcome.
func (s *Sender) Send(ctx context.Context, auth Auth, token string, m Message) Outcome {
	tr := otel.Tracer("push/Sender")
	ctx, span := tr.Start(ctx, "Send", trace.WithAttributes(attribute.String("push.project_id", auth.ProjectID)))
	defer span.End()

	raw, err := json.Marshal(buildEnvelope(token, m))
	if err != nil {
		return Outcome{Status: PermanentFailure, Reason: err.Error()}
	}
	endpoint := fmt.Sprintf("%s/v1/projects/%s/messages:send", s.BaseURL, auth.ProjectID)

	var out Outcome
	for retry := 0; ; retry++ {
		out.Attempts = retry + 1
		code, body, err := s.post(ctx, endpoint, auth.Token, raw)

		if err == nil && code >= 200 && code < 300 {
			out.Status, out.Reason = Delivered, ""
			break
		}

		transient := err != nil || retriableStatus(code)
		if transient && s.Strategy.IsRetryable(retry) && ctx.Err() == nil {
			s.sleep(ctx, s.Strategy.CalculateRetryDelay(retry))
			continue
		}

		switch {
		case err != nil:
			out.Status, out.Reason = RetriableFailure, err.Error()
		case transient:
			out.Status, out.Reason = RetriableFailure, failureReason(code, body)
		default:
			out.Status, out.Reason = PermanentFailure, failureReason(code, body)
			if code == http.StatusUnauthorized && s.OnUnauthorized != nil {
				s.OnUnauthorized()
			}
		}
		break
	}

	span.SetAttributes(
		attribute.String("push.outcome", out.Status.String()),
		attribute.Int("push.attempts", out.Attempts),
	)
	return out
}

func (s *Sender) post(ctx context.Context, endpoint, bearer string, raw []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearer)

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	return resp.StatusCode, string(body), nil
}

func (s *Sender) sleep(ctx context.Context, d time.Duration) {
	if s.Sleep != nil {
		s.Sleep(ctx, d)
		return
	}
	SleepContext(ctx, d)
}

func failureReason(code int, body string) string {
	return fmt.Sprintf("%d: %s", code, clip(body, maxReasonBody))
}

// clip keeps at most n runes of s.
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// Package fanout drives push deliveries for a recipient list in bounded
// concurrent windows under a wall-clock budget.
package fanout

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/CharlesTogle/umak-link-sub000/internal/domain"
	"github.com/CharlesTogle/umak-link-sub000/internal/push"
)

// TimeoutReason is recorded for recipients never attempted because the
// budget ran out.
const TimeoutReason = "execution timeout - not attempted"

// Deliverer sends one message to one device and classifies the result.
// *push.Sender implements it.
type Deliverer interface {
	Send(ctx context.Context, auth push.Auth, token string, m push.Message) push.Outcome
}

// Recipient is a user that has a device token.
type Recipient struct {
	UserID string
	Token  string
}

// Result holds one entry per recipient, either in Successful or in Failed.
type Result struct {
	Successful []string
	Failed     []domain.FailedUser
	Truncated  int
}

// Scheduler runs deliveries WindowSize at a time. Windows are strictly
// sequential; the budget is checked before each window starts, so a slow
// window may overrun it.
type Scheduler struct {
	Deliverer  Deliverer
	WindowSize int
	Budget     time.Duration
	Now        func() time.Time
}

// New returns a scheduler using the wall clock.
func New(d Deliverer, windowSize int, budget time.Duration) *Scheduler {
	return &Scheduler{Deliverer: d, WindowSize: windowSize, Budget: budget, Now: time.Now}
}

// Run delivers m to every recipient, measuring the budget from start.
func (s *Scheduler) Run(ctx context.Context, start time.Time, auth push.Auth, m push.Message, recipients []Recipient) Result {
	tr := otel.Tracer("fanout/Scheduler")
	ctx, span := tr.Start(ctx, "Run", trace.WithAttributes(
		attribute.Int("fanout.recipients", len(recipients)),
		attribute.Int("fanout.window_size", s.windowSize()),
	))
	defer span.End()

	phaseStart := s.now()
	defer func() { duration.Observe(s.now().Sub(phaseStart).Seconds()) }()

	res := Result{
		Successful: make([]string, 0, len(recipients)),
		Failed:     []domain.FailedUser{},
	}
	size := s.windowSize()

	for lo := 0; lo < len(recipients); lo += size {
		if s.Budget > 0 && s.now().Sub(start) > s.Budget {
			for _, r := range recipients[lo:] {
				res.Failed = append(res.Failed, domain.FailedUser{UserID: r.UserID, Retriable: true, Reason: TimeoutReason})
			}
			res.Truncated = len(recipients) - lo
			truncated.Add(float64(res.Truncated))
			deliveries.WithLabelValues(outcomeTimeout).Add(float64(res.Truncated))
			break
		}

		hi := lo + size
		if hi > len(recipients) {
			hi = len(recipients)
		}
		window := recipients[lo:hi]
		outcomes := s.runWindow(ctx, auth, m, window)

		for i, out := range outcomes {
			attempts.Add(float64(out.Attempts))
			deliveries.WithLabelValues(out.Status.String()).Inc()
			if out.OK() {
				res.Successful = append(res.Successful, window[i].UserID)
				continue
			}
			res.Failed = append(res.Failed, domain.FailedUser{
				UserID:    window[i].UserID,
				Retriable: out.Retriable(),
				Reason:    out.Reason,
			})
		}
	}

	span.SetAttributes(
		attribute.Int("fanout.successful", len(res.Successful)),
		attribute.Int("fanout.failed", len(res.Failed)),
		attribute.Int("fanout.truncated", res.Truncated),
	)
	return res
}

// runWindow sends to every member concurrently and waits for all of them.
// Each goroutine owns one slot of the result slice.
func (s *Scheduler) runWindow(ctx context.Context, auth push.Auth, m push.Message, window []Recipient) []push.Outcome {
	outcomes := make([]push.Outcome, len(window))
	var g errgroup.Group
	for i, r := range window {
		g.Go(func() error {
			outcomes[i] = s.Deliverer.Send(ctx, auth, r.Token, m)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (s *Scheduler) windowSize() int {
	if s.WindowSize < 1 {
		return 50
	}
	return s.WindowSize
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

package push

import "time"

// Strategy is the per-recipient retry policy.
//
// The delay before retry n (0-based) is min(BaseDelay * 2^n, MaxDelay):
//
//	retry 0: 1s
//	retry 1: 2s
//	retry 2: 4s
type Strategy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultStrategy allows three retries, 1s doubling, capped at 10s.
func DefaultStrategy() Strategy {
	return Strategy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   10 * time.Second,
	}
}

// CalculateRetryDelay returns the wait before retry number retry.
func (s Strategy) CalculateRetryDelay(retry int) time.Duration {
	d := s.BaseDelay
	for i := 0; i < retry; i++ {
		if d >= s.MaxDelay {
			break
		}
		d *= 2
	}
	if d > s.MaxDelay {
		return s.MaxDelay
	}
	return d
}

// IsRetryable reports whether another attempt is allowed after retry
// retries have already happened.
func (s Strategy) IsRetryable(retry int) bool {
	return retry < s.MaxRetries
}

// retriableStatus reports whether the gateway status is transient.
func retriableStatus(code int) bool {
	return code >= 500 || code == 429
}

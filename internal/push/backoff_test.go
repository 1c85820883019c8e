package push

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStrategy_CalculateRetryDelay(t *testing.T) {
	s := DefaultStrategy()

	assert.Equal(t, 1*time.Second, s.CalculateRetryDelay(0))
	assert.Equal(t, 2*time.Second, s.CalculateRetryDelay(1))
	assert.Equal(t, 4*time.Second, s.CalculateRetryDelay(2))
	assert.Equal(t, 8*time.Second, s.CalculateRetryDelay(3))
	assert.Equal(t, 10*time.Second, s.CalculateRetryDelay(4), "capped at MaxDelay")
	assert.Equal(t, 10*time.Second, s.CalculateRetryDelay(60), "no overflow for large retry counts")
}

func TestStrategy_IsRetryable(t *testing.T) {
	s := DefaultStrategy()

	assert.True(t, s.IsRetryable(0))
	assert.True(t, s.IsRetryable(2))
	assert.False(t, s.IsRetryable(3))

	none := Strategy{MaxRetries: 0, BaseDelay: time.Second, MaxDelay: time.Second}
	assert.False(t, none.IsRetryable(0))
}

func TestRetriableStatus(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		assert.True(t, retriableStatus(code), "status %d", code)
	}
	for _, code := range []int{400, 401, 403, 404, 410} {
		assert.False(t, retriableStatus(code), "status %d", code)
	}
}

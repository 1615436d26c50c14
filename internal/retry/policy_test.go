package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_Delay(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 60 * time.Second},
		{1, 60 * time.Second},
		{2, 120 * time.Second},
		{3, 4 * time.Minute},
		{5, 16 * time.Minute},
		{6, 30 * time.Minute},
		{40, 30 * time.Minute},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestPolicy_DelayMonotonicAndBounded(t *testing.T) {
	p := Policy{BaseDelay: 7 * time.Second, MaxDelay: 10 * time.Minute, MaxAttempts: 10}

	prev := time.Duration(0)
	for n := 1; n <= 64; n++ {
		d := p.Delay(n)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, p.MaxDelay)
		prev = d
	}
}

func TestPolicy_Attempts(t *testing.T) {
	assert.Equal(t, 5, Policy{}.Attempts())
	assert.Equal(t, 3, Policy{MaxAttempts: 3}.Attempts())
}

func TestPolicy_NextRetryAt(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	p := DefaultPolicy()
	assert.Equal(t, now.Add(2*time.Minute), p.NextRetryAt(now, 2))
}

package flow

import (
	"errors"
	"math/rand"
	"testing"
	"time"
)

func TestRetryPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  RetryPolicy
		wantErr bool
	}{
		{"valid policy", RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}, false},
		{"single attempt is valid", RetryPolicy{MaxAttempts: 1}, false},
		{"zero attempts invalid", RetryPolicy{MaxAttempts: 0}, true},
		{"negative attempts invalid", RetryPolicy{MaxAttempts: -1}, true},
		{"max delay below base invalid", RetryPolicy{MaxAttempts: 3, BaseDelay: time.Minute, MaxDelay: time.Second}, true},
		{"uncapped delay is valid", RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidRetryPolicy) {
				t.Errorf("expected ErrInvalidRetryPolicy, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected valid policy, got %v", err)
			}
		})
	}
}

func TestBackoff(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	base := time.Second
	maxDelay := 30 * time.Second

	t.Run("grows exponentially within jitter bounds", func(t *testing.T) {
		for attempt := 0; attempt < 4; attempt++ {
			delay := Backoff(attempt, base, maxDelay, rng)
			expected := base * (1 << attempt)
			if delay < expected {
				t.Errorf("attempt %d: delay %v below exponential floor %v", attempt, delay, expected)
			}
			if delay >= expected+base {
				t.Errorf("attempt %d: delay %v exceeds floor plus jitter %v", attempt, delay, expected+base)
			}
		}
	})

	t.Run("caps at max delay", func(t *testing.T) {
		delay := Backoff(10, base, maxDelay, rng)
		if delay >= maxDelay+base {
			t.Errorf("delay %v exceeds cap plus jitter %v", delay, maxDelay+base)
		}
	})

	t.Run("zero base yields zero delay", func(t *testing.T) {
		if delay := Backoff(3, 0, maxDelay, rng); delay != 0 {
			t.Errorf("expected 0, got %v", delay)
		}
	})
}

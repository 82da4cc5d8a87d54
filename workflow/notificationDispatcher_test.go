package workflow

import (
	"testing"
	"time"
)

func TestNextAttemptDelay(t *testing.T) {
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{8, 256 * time.Second},
		{9, 256 * time.Second},  // clamped to attempt 8
		{50, 256 * time.Second}, // never overflows
	}
	for _, tc := range cases {
		if got := nextAttemptDelay(tc.attempts); got != tc.want {
			t.Fatalf("attempts=%d: got %s, want %s", tc.attempts, got, tc.want)
		}
	}
}

func TestNextAttemptDelay_Monotonic(t *testing.T) {
	prev := time.Duration(0)
	for attempts := 1; attempts <= 20; attempts++ {
		d := nextAttemptDelay(attempts)
		if d < prev {
			t.Fatalf("delay decreased at attempt %d: %s < %s", attempts, d, prev)
		}
		if d > 5*time.Minute {
			t.Fatalf("delay exceeds cap at attempt %d: %s", attempts, d)
		}
		prev = d
	}
}

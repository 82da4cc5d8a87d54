package workflow

import (
	"errors"
	"testing"
	"time"
)

func TestReplayGuard_Validate(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	guard := &ReplayGuard{
		MaxAge:        300 * time.Second,
		MaxFutureSkew: 60 * time.Second,
		now:           func() time.Time { return now },
	}

	ts := func(offset time.Duration) *time.Time {
		v := now.Add(offset)
		return &v
	}

	cases := []struct {
		name    string
		ts      *time.Time
		wantErr bool
	}{
		{"current", ts(0), false},
		{"within window", ts(-299 * time.Second), false},
		{"exactly at max age", ts(-300 * time.Second), false},
		{"one second too old", ts(-301 * time.Second), true},
		{"slight future skew", ts(59 * time.Second), false},
		{"exactly at max skew", ts(60 * time.Second), false},
		{"too far in the future", ts(61 * time.Second), true},
		{"missing", nil, true},
		{"zero value", &time.Time{}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := guard.Validate(tc.ts)
			if tc.wantErr && err == nil {
				t.Fatal("expected rejection")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected rejection: %v", err)
			}
			if err != nil && !errors.Is(err, ErrReplayRejected) {
				t.Fatalf("rejection must wrap ErrReplayRejected, got %v", err)
			}
		})
	}
}

func TestReplayGuard_NilNowFallsBackToWallClock(t *testing.T) {
	guard := &ReplayGuard{MaxAge: time.Minute, MaxFutureSkew: time.Minute}
	now := time.Now().UTC()
	if err := guard.Validate(&now); err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
}

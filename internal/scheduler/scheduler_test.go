package scheduler

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestJitterDeterministicWithinSameSecond(t *testing.T) {
	connID := uuid.New()
	now := time.Unix(1_700_000_000, 0)

	a := jitter(connID, now, 5)
	b := jitter(connID, now, 5)
	if a != b {
		t.Fatalf("expected identical jitter within the same second, got %d and %d", a, b)
	}
	if a > 5 {
		t.Fatalf("jitter exceeded max_s: %d", a)
	}
}

func TestJitterVariesAcrossConnections(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	a := jitter(uuid.New(), now, 1000)
	b := jitter(uuid.New(), now, 1000)
	if a == b {
		t.Skip("random UUIDs happened to collide; not a failure")
	}
}

func TestJitterZeroForNonPositiveMax(t *testing.T) {
	connID := uuid.New()
	now := time.Now()
	if got := jitter(connID, now, 0); got != 0 {
		t.Fatalf("expected 0 jitter for max_s=0, got %d", got)
	}
	if got := jitter(connID, now, -3); got != 0 {
		t.Fatalf("expected 0 jitter for negative max_s, got %d", got)
	}
}

func TestOnDuplicateFirstEscalation(t *testing.T) {
	connID := uuid.New()
	now := time.Unix(1_700_000_000, 0)

	out := OnDuplicate(connID, now, 0)
	if out.SameSongBackoffSeconds < sameSongJitterLo || out.SameSongBackoffSeconds > sameSongJitterHi {
		t.Fatalf("expected first escalation in [%d,%d], got %d", sameSongJitterLo, sameSongJitterHi, out.SameSongBackoffSeconds)
	}
	if out.ErrorBackoffSeconds != 0 {
		t.Fatalf("expected error backoff reset to 0, got %d", out.ErrorBackoffSeconds)
	}
	if !out.NextPollAt.After(now) {
		t.Fatalf("expected next_poll_at after now")
	}
}

func TestOnDuplicateLadder(t *testing.T) {
	connID := uuid.New()
	now := time.Unix(1_700_000_000, 0)

	cases := []struct {
		prior int
		want  int
	}{
		{15, 30},
		{30, 60},
		{60, 120},
		{120, 120},
	}
	for _, c := range cases {
		out := OnDuplicate(connID, now, c.prior)
		if out.SameSongBackoffSeconds != c.want {
			t.Errorf("prior=%d: got %d, want %d", c.prior, out.SameSongBackoffSeconds, c.want)
		}
	}
}

func TestOnFreshEventWithoutDurationPolling(t *testing.T) {
	connID := uuid.New()
	now := time.Unix(1_700_000_000, 0)

	out := OnFreshEvent(connID, now, false, nil, nil, 30*time.Second)
	if out.SameSongBackoffSeconds != 0 || out.ErrorBackoffSeconds != 0 {
		t.Fatalf("expected backoffs reset to 0, got %+v", out)
	}
	delta := out.NextPollAt.Sub(now)
	if delta < 26*time.Second || delta > 35*time.Second {
		t.Fatalf("expected next_poll_at roughly poll_interval out, got %v", delta)
	}
}

func TestOnFreshEventWithDurationPollingRemainingTime(t *testing.T) {
	connID := uuid.New()
	now := time.Unix(1_700_000_000, 0)
	reportedAt := now.Add(-30 * time.Second)
	duration := 3 * time.Minute

	out := OnFreshEvent(connID, now, true, &reportedAt, &duration, time.Minute)
	// ends_at = reportedAt + 3m = now + 2m30s; remaining = 150s; base = 152s (+jitter)
	delta := out.NextPollAt.Sub(now)
	if delta < 152*time.Second || delta > 158*time.Second {
		t.Fatalf("expected next_poll_at ~152-157s out, got %v", delta)
	}
}

func TestOnFreshEventWithDurationPollingAlreadyEnded(t *testing.T) {
	connID := uuid.New()
	now := time.Unix(1_700_000_000, 0)
	reportedAt := now.Add(-10 * time.Minute)
	duration := time.Minute

	out := OnFreshEvent(connID, now, true, &reportedAt, &duration, time.Minute)
	delta := out.NextPollAt.Sub(now)
	if delta < 10*time.Second || delta > 40*time.Second {
		t.Fatalf("expected fallback ~10-30s out when song already ended, got %v", delta)
	}
}

func TestOnFailureLadder(t *testing.T) {
	connID := uuid.New()
	now := time.Unix(1_700_000_000, 0)

	out := OnFailure(connID, now, 0)
	if out.ErrorBackoffSeconds != errorBackoffInitial {
		t.Fatalf("expected initial error backoff %d, got %d", errorBackoffInitial, out.ErrorBackoffSeconds)
	}
	if out.SameSongBackoffSeconds != 0 {
		t.Fatalf("expected same-song backoff reset to 0")
	}

	out2 := OnFailure(connID, now, 30)
	if out2.ErrorBackoffSeconds != 60 {
		t.Fatalf("expected doubled backoff 60, got %d", out2.ErrorBackoffSeconds)
	}

	out3 := OnFailure(connID, now, 100)
	if out3.ErrorBackoffSeconds != errorBackoffCap {
		t.Fatalf("expected cap at %d, got %d", errorBackoffCap, out3.ErrorBackoffSeconds)
	}
}

func TestScheduleAfterFloorsAtOneSecond(t *testing.T) {
	connID := uuid.New()
	now := time.Unix(1_700_000_000, 0)
	got := scheduleAfter(connID, now, -100)
	if got.Before(now.Add(time.Second)) {
		t.Fatalf("expected at least 1 second out, got %v", got.Sub(now))
	}
}

package supervisor

import (
	"testing"
	"time"

	"github.com/nowplaying-fm/ingest-engine/internal/model"
)

func TestShouldPollNextPollAtDue(t *testing.T) {
	now := time.Now().UTC()
	due := now.Add(-time.Second)
	conn := &model.Connection{NextPollAt: &due}

	if !shouldPoll(conn, now) {
		t.Error("expected poll when next_poll_at is in the past")
	}
}

func TestShouldPollNextPollAtNotYetDue(t *testing.T) {
	now := time.Now().UTC()
	future := now.Add(time.Minute)
	conn := &model.Connection{NextPollAt: &future}

	if shouldPoll(conn, now) {
		t.Error("expected no poll when next_poll_at is in the future")
	}
}

func TestShouldPollNextPollAtExactlyNowIsDue(t *testing.T) {
	now := time.Now().UTC()
	conn := &model.Connection{NextPollAt: &now}

	if !shouldPoll(conn, now) {
		t.Error("expected poll when next_poll_at equals now")
	}
}

func TestShouldPollFirstEverPoll(t *testing.T) {
	conn := &model.Connection{PollInterval: time.Minute}

	if !shouldPoll(conn, time.Now().UTC()) {
		t.Error("expected poll when last_polled_at has never been set")
	}
}

func TestShouldPollFallsBackToPollIntervalElapsed(t *testing.T) {
	now := time.Now().UTC()
	last := now.Add(-2 * time.Minute)
	conn := &model.Connection{LastPolledAt: &last, PollInterval: time.Minute}

	if !shouldPoll(conn, now) {
		t.Error("expected poll when poll_interval has elapsed since last_polled_at")
	}
}

func TestShouldPollFallsBackToPollIntervalNotElapsed(t *testing.T) {
	now := time.Now().UTC()
	last := now.Add(-10 * time.Second)
	conn := &model.Connection{LastPolledAt: &last, PollInterval: time.Minute}

	if shouldPoll(conn, now) {
		t.Error("expected no poll when poll_interval has not elapsed since last_polled_at")
	}
}

// TestShouldPollNextPollAtTakesPriorityOverInterval verifies
// next_poll_at is consulted first, even when the plain interval
// fallback would disagree with it.
func TestShouldPollNextPollAtTakesPriorityOverInterval(t *testing.T) {
	now := time.Now().UTC()
	last := now.Add(-5 * time.Second) // interval fallback alone would say "due" (5s >= 1s)
	future := now.Add(time.Hour)      // but next_poll_at says "not due"
	conn := &model.Connection{LastPolledAt: &last, NextPollAt: &future, PollInterval: time.Second}

	if shouldPoll(conn, now) {
		t.Error("expected next_poll_at to override the interval fallback")
	}

	due := now.Add(-time.Minute) // next_poll_at says "due", and the interval fallback agrees
	conn.NextPollAt = &due
	if !shouldPoll(conn, now) {
		t.Error("expected a poll when next_poll_at is in the past")
	}
}

// TestShouldPollMonotonic verifies spec.md §8's should_poll(C, now)
// monotonicity: once due, a connection stays due for any later now.
func TestShouldPollMonotonic(t *testing.T) {
	base := time.Now().UTC()
	last := base.Add(-time.Minute)
	conn := &model.Connection{LastPolledAt: &last, PollInterval: 30 * time.Second}

	if !shouldPoll(conn, base) {
		t.Fatal("expected due at base time")
	}
	if !shouldPoll(conn, base.Add(time.Hour)) {
		t.Error("expected should_poll to remain true for any later now once due")
	}
}

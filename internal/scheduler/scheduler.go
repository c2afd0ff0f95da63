// Package scheduler computes the next poll time and backoff state for
// a connection (spec.md §4.6). It holds no state of its own: every
// function is pure, taking the connection's current backoff counters
// and returning the updated ones for the caller to persist.
package scheduler

import (
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

// Same-song backoff escalation ladder (seconds), applied when the
// writer observes a duplicate event.
const (
	sameSongJitterLo = 10
	sameSongJitterHi = 30
	sameSongTier2    = 30
	sameSongTier3    = 60
	sameSongTier4    = 120
)

// Error backoff escalation ladder (seconds), applied on fetch failure
// or artist-gate failure.
const (
	errorBackoffInitial = 30
	errorBackoffCap     = 120
)

// durationPollMinimum is the floor applied to the remaining-duration
// poll interval so a just-ending song doesn't get polled in a tight loop.
const durationPollMinimum = 5 * time.Second

// durationPollJitterMax bounds the jitter added when duration polling
// can't compute a remaining time (reported_at + duration already past).
const durationPollJitterMax = 20

// jitterMax bounds the small per-schedule jitter schedule_after adds
// on top of every base interval.
const jitterMax = 5

// Outcome is the result of one writer decision: the next_poll_at to
// persist and the backoff counters that go with it.
type Outcome struct {
	NextPollAt             time.Time
	SameSongBackoffSeconds int
	ErrorBackoffSeconds    int
}

// OnDuplicate escalates the same-song backoff ladder and schedules the
// next poll relative to now.
func OnDuplicate(connID uuid.UUID, now time.Time, priorSameSong int) Outcome {
	var base int
	switch {
	case priorSameSong == 0:
		base = sameSongJitterLo + int(jitter(connID, now, sameSongJitterHi-sameSongJitterLo))
	case priorSameSong < sameSongTier2:
		base = sameSongTier2
	case priorSameSong < sameSongTier3:
		base = sameSongTier3
	default:
		base = sameSongTier4
	}
	return Outcome{
		NextPollAt:             scheduleAfter(connID, now, base),
		SameSongBackoffSeconds: base,
		ErrorBackoffSeconds:    0,
	}
}

// OnFreshEvent schedules the next poll for a newly-observed event.
// When duration polling is enabled and both reportedAt and duration
// are known, it schedules for just after the song is expected to end;
// otherwise it falls back to the connection's fixed poll interval.
// Same-song backoff always resets to zero on a fresh event.
func OnFreshEvent(connID uuid.UUID, now time.Time, useDurationPolling bool, reportedAt *time.Time, duration *time.Duration, pollInterval time.Duration) Outcome {
	if useDurationPolling && reportedAt != nil && duration != nil {
		endsAt := reportedAt.Add(*duration)
		remaining := endsAt.Sub(now)

		var base int
		if remaining > 0 {
			base = maxInt(int(remaining.Seconds())+2, 5)
		} else {
			base = 10 + int(jitter(connID, now, durationPollJitterMax))
		}
		return Outcome{
			NextPollAt:             scheduleAfter(connID, now, base),
			SameSongBackoffSeconds: 0,
			ErrorBackoffSeconds:    0,
		}
	}

	base := int(pollInterval.Seconds())
	return Outcome{
		NextPollAt:             scheduleAfter(connID, now, base),
		SameSongBackoffSeconds: 0,
		ErrorBackoffSeconds:    0,
	}
}

// OnFailure escalates the error backoff ladder on fetch failure or
// artist-gate rejection. Same-song backoff resets to zero.
func OnFailure(connID uuid.UUID, now time.Time, priorError int) Outcome {
	next := errorBackoffInitial
	if priorError != 0 {
		next = minInt(priorError*2, errorBackoffCap)
	}
	return Outcome{
		NextPollAt:             scheduleAfter(connID, now, next),
		SameSongBackoffSeconds: 0,
		ErrorBackoffSeconds:    next,
	}
}

// scheduleAfter implements schedule_after(base): now plus base seconds
// plus a small deterministic jitter, floored at 1 second out.
func scheduleAfter(connID uuid.UUID, now time.Time, base int) time.Time {
	delta := base + int(jitter(connID, now, jitterMax))
	if delta < 1 {
		delta = 1
	}
	return now.Add(time.Duration(delta) * time.Second)
}

// jitter is deterministic per connection and per calendar second: it
// hashes the connection id together with the epoch-second timestamp,
// so repeated calls within the same second return the same value.
func jitter(connID uuid.UUID, now time.Time, maxS int) uint64 {
	if maxS <= 0 {
		return 0
	}
	var buf [16 + 8]byte
	copy(buf[:16], connID[:])
	binary.LittleEndian.PutUint64(buf[16:], uint64(now.Unix()))

	sum := sha256.Sum256(buf[:])
	n := binary.LittleEndian.Uint64(sum[:8])
	return n % uint64(maxS+1)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

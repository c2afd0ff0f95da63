package mapping

import (
	"strconv"
	"strings"
	"time"
)

// Duration normalization thresholds (spec.md §4.1): a raw numeric
// duration larger than 1e9 is assumed to be nanoseconds, one larger
// than 1e5 is assumed to be milliseconds, anything else is seconds.
const (
	durationNanosCutoff  = 1_000_000_000
	durationMillisCutoff = 100_000
)

// ParseDurationSeconds normalizes a duration_path leaf — a JSON
// number, a numeric string, or an ISO-8601 "PT…" string — into a
// time.Duration. Values that normalize to zero or negative seconds
// are rejected.
func ParseDurationSeconds(raw any) (time.Duration, bool) {
	switch v := raw.(type) {
	case string:
		s := strings.TrimSpace(v)
		if strings.HasPrefix(strings.ToUpper(s), "PT") {
			return parseISO8601Duration(s)
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return normalizeDurationMagnitude(n)
	case float64:
		return normalizeDurationMagnitude(v)
	case int:
		return normalizeDurationMagnitude(float64(v))
	case int64:
		return normalizeDurationMagnitude(float64(v))
	default:
		return 0, false
	}
}

func normalizeDurationMagnitude(n float64) (time.Duration, bool) {
	var seconds float64
	switch {
	case n > durationNanosCutoff:
		seconds = n / 1e9
	case n > durationMillisCutoff:
		seconds = n / 1000
	default:
		seconds = n
	}
	if seconds <= 0 {
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}

// parseISO8601Duration parses the H/M/S components of a minimal
// ISO-8601 duration string ("PT3M30S", "PT180S", "PT1H"). Date
// components (Y/M/W/D before the "T") are not supported — station
// duration fields never carry them.
func parseISO8601Duration(s string) (time.Duration, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if !strings.HasPrefix(s, "PT") {
		return 0, false
	}
	s = s[2:]

	var total time.Duration
	var num strings.Builder
	found := false

	for _, r := range s {
		switch {
		case r >= '0' && r <= '9' || r == '.':
			num.WriteRune(r)
		case r == 'H', r == 'M', r == 'S':
			if num.Len() == 0 {
				return 0, false
			}
			v, err := strconv.ParseFloat(num.String(), 64)
			if err != nil {
				return 0, false
			}
			switch r {
			case 'H':
				total += time.Duration(v * float64(time.Hour))
			case 'M':
				total += time.Duration(v * float64(time.Minute))
			case 'S':
				total += time.Duration(v * float64(time.Second))
			}
			num.Reset()
			found = true
		default:
			return 0, false
		}
	}

	if !found || total <= 0 {
		return 0, false
	}
	return total, true
}

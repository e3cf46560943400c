package timeparser

import (
	"fmt"
	"strings"
	"time"
)

// ISOLayout is the layout of stored sample keys (millisecond precision, Z suffix).
const ISOLayout = "2006-01-02T15:04:05.000Z"

// DayLayout is the layout of calendar-day labels.
const DayLayout = "2006-01-02"

// Normalized is the result of relabelling a feed timestamp into a zone's wall clock.
type Normalized struct {
	// Instant carries the zone's wall-clock digits labelled as UTC.
	// It is zero when the feed timestamp could not be parsed.
	Instant   time.Time
	Timestamp string
	Day       string
	// Warning is set when a fallback was used.
	Warning string
}

// ParseFeedTimestamp attempts to parse a feed created_at value with the formats feeds emit.
// Values without an offset are taken as UTC.
func ParseFeedTimestamp(raw string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,      // 2025-01-01T00:00:00.123Z
		time.RFC3339,          // 2025-01-01T00:00:00Z
		"2006-01-02T15:04:05", // no offset
		"2006-01-02 15:04:05", // SQL style
	}

	value := strings.TrimSpace(raw)
	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, value)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': %w", raw, lastErr)
}

// Normalize relabels a feed timestamp with the wall-clock fields observed in timezone.
//
// The returned instant has the same year/month/day/hour/minute/second as the zone's wall
// clock but is labelled UTC, so it no longer denotes the original absolute moment. Day
// bucketing of stored samples depends on this representation.
//
// Normalize never fails: an unknown zone keeps the unshifted instant, and an unparseable
// timestamp is kept verbatim as the key. Both cases set Warning.
func Normalize(raw string, timezone string) Normalized {
	t, err := ParseFeedTimestamp(raw)
	if err != nil {
		return Normalized{
			Timestamp: raw,
			Day:       DayOf(raw),
			Warning:   err.Error(),
		}
	}

	var warning string
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		warning = fmt.Sprintf("unknown timezone %q, keeping original timestamp: %v", timezone, err)
		loc = time.UTC
	}

	wall := t.In(loc)
	relabelled := time.Date(wall.Year(), wall.Month(), wall.Day(), wall.Hour(), wall.Minute(), wall.Second(), 0, time.UTC)

	return Normalized{
		Instant:   relabelled,
		Timestamp: relabelled.Format(ISOLayout),
		Day:       relabelled.Format(DayLayout),
		Warning:   warning,
	}
}

// DayOf returns the calendar-day label of a stored timestamp key.
func DayOf(timestamp string) string {
	day, _, _ := strings.Cut(timestamp, "T")
	return day
}

// ParseKey parses a stored timestamp key back into its (relabelled) instant.
func ParseKey(timestamp string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// IsWithinWindow checks if a feed reading was created no earlier than window before now
func IsWithinWindow(createdAt, now time.Time, window time.Duration) bool {
	return !createdAt.Before(now.Add(-window))
}

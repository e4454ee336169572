package oem

import (
	"fmt"
	"time"
)

// EpochLayout is the canonical epoch string form: UTC ordinal day-of-year
// with microsecond precision, e.g. "2025-076T12:40:00.000000Z". All epochs
// the service emits use this layout so lookups round-trip exactly.
const EpochLayout = "2006-002T15:04:05.000000Z"

// feedEpochLayout accepts the millisecond precision the NASA OEM feed uses.
const feedEpochLayout = "2006-002T15:04:05.000Z"

// ParseEpoch parses an ordinal-day epoch string in UTC. Both microsecond and
// millisecond fractional forms are accepted.
func ParseEpoch(s string) (time.Time, error) {
	if t, err := time.Parse(EpochLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(feedEpochLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch %q: %w", s, err)
	}
	return t, nil
}

// FormatEpoch renders t in the canonical epoch layout.
func FormatEpoch(t time.Time) string {
	return t.UTC().Format(EpochLayout)
}

package oem

import "time"

// StateVector is one ephemeris record: the spacecraft's position (km) and
// velocity (km/s) in the J2000 Earth-centered inertial frame at a given epoch.
type StateVector struct {
	Epoch time.Time
	X     float64
	Y     float64
	Z     float64
	XDot  float64
	YDot  float64
	ZDot  float64
}

// EpochRange represents the first and last epoch times in a dataset.
type EpochRange struct {
	First time.Time
	Last  time.Time
}

// Span returns the duration covered by the range.
func (r EpochRange) Span() time.Duration {
	return r.Last.Sub(r.First)
}

// Dataset represents a complete ephemeris snapshot from a source.
// Vectors are sorted ascending by epoch with no duplicate epochs.
type Dataset struct {
	Source     string
	FetchedAt  time.Time
	EpochRange EpochRange
	Vectors    []StateVector
}

// Package geo resolves a state vector's inertial position into a geodetic
// location (latitude/longitude/altitude) at its epoch.
//
// Conversion library choice: github.com/joshuaferrara/go-satellite
//
// Its GSTimeFromDate/ECIToLLA pair handles the part that matters here:
// rotating the J2000 position by Greenwich sidereal time at the epoch before
// the ellipsoidal conversion, so the longitude tracks Earth rotation.
// Outputs are sanity-checked for NaN/Inf and physically impossible
// magnitudes, since the library reports no errors of its own.
package geo

import (
	"errors"
	"fmt"
	"math"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/orbit/ephgo/internal/metrics"
	"github.com/orbit/ephgo/internal/oem"
)

// ErrConversion indicates the geodetic conversion failed.
var ErrConversion = errors.New("geodetic conversion failed")

// Position magnitude bounds for an Earth-orbiting spacecraft, in km.
// Below Earth's surface or beyond high orbit means garbage input.
const (
	minRadiusKm = 6200.0
	maxRadiusKm = 50000.0
)

// Location is a geodetic position: degrees, degrees, km above the ellipsoid.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
}

// Resolve converts sv's position at its epoch into a geodetic location.
// Deterministic for a given (position, epoch) pair.
func Resolve(sv oem.StateVector) (Location, error) {
	loc, err := resolve(sv)
	if err != nil {
		metrics.IncLocationConversion("error")
		return Location{}, err
	}
	metrics.IncLocationConversion("success")
	return loc, nil
}

func resolve(sv oem.StateVector) (Location, error) {
	if sv.Epoch.IsZero() {
		return Location{}, fmt.Errorf("%w: record has no absolute epoch", ErrConversion)
	}

	r := math.Sqrt(sv.X*sv.X + sv.Y*sv.Y + sv.Z*sv.Z)
	if math.IsNaN(r) || r < minRadiusKm || r > maxRadiusKm {
		return Location{}, fmt.Errorf("%w: position magnitude %.1f km outside [%.0f, %.0f]",
			ErrConversion, r, minRadiusKm, maxRadiusKm)
	}

	t := sv.Epoch.UTC()
	gmst := satellite.GSTimeFromDate(t.Year(), int(t.Month()), t.Day(),
		t.Hour(), t.Minute(), t.Second())

	alt, _, llRad := satellite.ECIToLLA(satellite.Vector3{X: sv.X, Y: sv.Y, Z: sv.Z}, gmst)
	ll := satellite.LatLongDeg(llRad)

	loc := Location{
		Latitude:  ll.Latitude,
		Longitude: normalizeLongitude(ll.Longitude),
		Altitude:  alt,
	}
	if !valid(loc) {
		return Location{}, fmt.Errorf("%w: library returned lat=%v lon=%v alt=%v",
			ErrConversion, loc.Latitude, loc.Longitude, loc.Altitude)
	}
	return loc, nil
}

// normalizeLongitude wraps a longitude in degrees into [-180, 180).
func normalizeLongitude(lon float64) float64 {
	lon = math.Mod(lon, 360)
	switch {
	case lon < -180:
		lon += 360
	case lon >= 180:
		lon -= 360
	}
	return lon
}

func valid(loc Location) bool {
	for _, v := range []float64{loc.Latitude, loc.Longitude, loc.Altitude} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	if loc.Latitude < -90 || loc.Latitude > 90 {
		return false
	}
	// Altitude in km above the ellipsoid.
	return loc.Altitude > -100 && loc.Altitude < maxRadiusKm
}

/*
Package geo decides whether a reported device position lies inside a store's geofence.

PURPOSE:
  A punch is only trusted when it originates near the store. This package owns the
  distance computation and the radius decision. It has no dependencies and no state.

DISTANCE:
  Great-circle distance by the haversine formula on a sphere with mean Earth radius
  6,371,000 m. At geofence scales (tens to hundreds of meters) the spherical error is
  well under a meter. Flat "degrees x 111000" approximations are not used anywhere.

USAGE:
  loc := geo.StoreLocation{Coordinate: geo.Coordinate{Latitude: 35.68, Longitude: 139.76}, RadiusMeters: 50}
  check, err := geo.CheckWithinRadius(loc, reported)
  if err != nil {
      // geo.ErrInvalidCoordinate or geo.ErrInvalidRadius
  }
  if !check.WithinRadius { ... }

SEE ALSO:
  - attendance/ledger.go: Applies the check under the store's strict-mode policy
*/
package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean Earth radius used by Distance.
const EarthRadiusMeters = 6_371_000.0

// DefaultRadiusMeters applies when a store has no radius configured.
const DefaultRadiusMeters = 100

var (
	// ErrInvalidCoordinate is returned for latitude/longitude outside the valid range.
	ErrInvalidCoordinate = errors.New("invalid coordinate")

	// ErrInvalidRadius is returned for a negative geofence radius.
	ErrInvalidRadius = errors.New("invalid geofence radius")
)

// =============================================================================
// COORDINATE
// =============================================================================

// Coordinate is a position in decimal degrees.
type Coordinate struct {
	Latitude  float64
	Longitude float64
}

// Validate reports whether the coordinate is within range. Values are never clamped.
func (c Coordinate) Validate() error {
	if !finite(c.Latitude) || c.Latitude < -90 || c.Latitude > 90 {
		return &CoordinateError{Coordinate: c, Field: "latitude"}
	}
	if !finite(c.Longitude) || c.Longitude < -180 || c.Longitude > 180 {
		return &CoordinateError{Coordinate: c, Field: "longitude"}
	}
	return nil
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", c.Latitude, c.Longitude)
}

// CoordinateError names the out-of-range component.
type CoordinateError struct {
	Coordinate Coordinate
	Field      string
}

func (e *CoordinateError) Error() string {
	return fmt.Sprintf("invalid coordinate: %s out of range in (%v, %v)",
		e.Field, e.Coordinate.Latitude, e.Coordinate.Longitude)
}

func (e *CoordinateError) Unwrap() error { return ErrInvalidCoordinate }

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// =============================================================================
// STORE LOCATION
// =============================================================================

// StoreLocation is a store's registered position and permitted radius.
// A zero RadiusMeters means the store has none configured.
type StoreLocation struct {
	Coordinate   Coordinate
	RadiusMeters int
}

// EffectiveRadius returns the configured radius, or DefaultRadiusMeters when absent.
func (l StoreLocation) EffectiveRadius() (int, error) {
	switch {
	case l.RadiusMeters < 0:
		return 0, fmt.Errorf("%w: %d", ErrInvalidRadius, l.RadiusMeters)
	case l.RadiusMeters == 0:
		return DefaultRadiusMeters, nil
	default:
		return l.RadiusMeters, nil
	}
}

// =============================================================================
// CHECK
// =============================================================================

// Check is the outcome of a geofence evaluation.
type Check struct {
	DistanceMeters float64
	RadiusMeters   int
	WithinRadius   bool
}

// Distance returns the haversine great-circle distance between a and b in meters.
// Inputs are assumed valid; use CheckWithinRadius for validated evaluation.
func Distance(a, b Coordinate) float64 {
	lat1 := radians(a.Latitude)
	lat2 := radians(b.Latitude)
	dLat := lat2 - lat1
	dLng := radians(b.Longitude - a.Longitude)

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng

	// Rounding can push h slightly outside [0, 1] for antipodal points.
	h = math.Min(1, math.Max(0, h))

	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// CheckWithinRadius measures reported against the store position.
// WithinRadius is true when the distance is at most the effective radius.
func CheckWithinRadius(loc StoreLocation, reported Coordinate) (Check, error) {
	if err := loc.Coordinate.Validate(); err != nil {
		return Check{}, fmt.Errorf("store location: %w", err)
	}
	if err := reported.Validate(); err != nil {
		return Check{}, err
	}
	radius, err := loc.EffectiveRadius()
	if err != nil {
		return Check{}, err
	}

	d := Distance(loc.Coordinate, reported)
	return Check{
		DistanceMeters: d,
		RadiusMeters:   radius,
		WithinRadius:   d <= float64(radius),
	}, nil
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

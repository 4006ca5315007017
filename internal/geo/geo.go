// Package geo contains pure geographic and departure-time helpers shared by
// the search and fare-calculation paths.
package geo

import (
	"errors"
	"math"
	"time"

	"unipool/internal/types"
)

const earthRadiusMeters = 6371000.0

var ErrInvalidCoordinate = errors.New("coordinate out of range")

// ValidateCoordinate checks that a longitude/latitude pair is within the
// WGS84 value range.
func ValidateCoordinate(lng, lat float64) error {
	if lng < -180 || lng > 180 {
		return ErrInvalidCoordinate
	}
	if lat < -90 || lat > 90 {
		return ErrInvalidCoordinate
	}
	return nil
}

func ValidatePoint(p types.Point) error {
	return ValidateCoordinate(p.Lng, p.Lat)
}

// HaversineMeters returns the great-circle distance in metres between two
// points specified in decimal degrees.
func HaversineMeters(a, b types.Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusMeters * c
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// EnsureFutureDeparture clamps a departure time so that routing providers are
// never queried with a time in the past. A zero or stale time becomes
// now+2m.
func EnsureFutureDeparture(t, now time.Time) time.Time {
	if t.IsZero() || !t.After(now) {
		return now.Add(2 * time.Minute)
	}
	return t
}

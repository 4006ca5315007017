// README: Search filter resolution; selects the ranked-query variant from
// which criteria groups are present.
package party

import (
	"errors"
	"time"

	"unipool/internal/types"
)

var (
	ErrInsufficientCriteria = errors.New("at least two of origin, destination, and departure time must be supplied")
	ErrPastDepartureTime    = errors.New("departure time must be in the future")
)

// SearchFilter carries up to three optional criteria groups. A group counts
// as present only when every one of its fields is non-nil.
type SearchFilter struct {
	DepartureLng   *float64
	DepartureLat   *float64
	DestinationLng *float64
	DestinationLat *float64
	DepartureTime  *time.Time
}

func (f SearchFilter) hasDeparture() bool {
	return f.DepartureLng != nil && f.DepartureLat != nil
}

func (f SearchFilter) hasDestination() bool {
	return f.DestinationLng != nil && f.DestinationLat != nil
}

func (f SearchFilter) hasTime() bool {
	return f.DepartureTime != nil
}

// SearchVariant is the closed set of ranked-query shapes; exactly one is
// selected per resolved filter.
type SearchVariant int

const (
	VariantAll SearchVariant = iota
	VariantNoOrigin
	VariantNoDestination
	VariantNoTime
)

func (v SearchVariant) String() string {
	switch v {
	case VariantAll:
		return "all"
	case VariantNoOrigin:
		return "no_origin"
	case VariantNoDestination:
		return "no_destination"
	case VariantNoTime:
		return "no_time"
	default:
		return "unknown"
	}
}

// SearchCriteria is the resolved, typed form handed to the store.
type SearchCriteria struct {
	Departure     *types.Point
	Destination   *types.Point
	DepartureTime *time.Time
}

// Resolve validates the filter and selects the query variant. It is pure:
// "now" is supplied by the caller.
func Resolve(f SearchFilter, now time.Time) (SearchVariant, SearchCriteria, error) {
	missing := 0
	if !f.hasDeparture() {
		missing++
	}
	if !f.hasDestination() {
		missing++
	}
	if !f.hasTime() {
		missing++
	}
	if missing >= 2 {
		return 0, SearchCriteria{}, ErrInsufficientCriteria
	}

	if f.hasTime() && !f.DepartureTime.After(now) {
		return 0, SearchCriteria{}, ErrPastDepartureTime
	}

	var c SearchCriteria
	if f.hasDeparture() {
		c.Departure = &types.Point{Lng: *f.DepartureLng, Lat: *f.DepartureLat}
	}
	if f.hasDestination() {
		c.Destination = &types.Point{Lng: *f.DestinationLng, Lat: *f.DestinationLat}
	}
	if f.hasTime() {
		t := *f.DepartureTime
		c.DepartureTime = &t
	}

	switch {
	case !f.hasDeparture():
		return VariantNoOrigin, c, nil
	case !f.hasDestination():
		return VariantNoDestination, c, nil
	case !f.hasTime():
		return VariantNoTime, c, nil
	default:
		return VariantAll, c, nil
	}
}

// README: Fare estimation via the Google Maps Directions API.
package maps

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"googlemaps.github.io/maps"

	"unipool/internal/types"
)

// FareService estimates the total taxi fare for a departure-time-aware route
// query. The API key is explicit constructor configuration, never ambient
// state.
type FareService struct {
	client *maps.Client
}

func NewFareService(apiKey string) (*FareService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create maps client: %w", err)
	}
	return &FareService{client: client}, nil
}

// EstimateTaxiFare returns the provider's fare quote in whole currency units.
// Transport failures, empty route lists, missing fare blocks, and
// non-positive quotes are all estimation failures; the lifecycle engine
// surfaces them under a single provider-error kind.
func (s *FareService) EstimateTaxiFare(ctx context.Context, origin, destination types.Point, departure time.Time) (int64, error) {
	r := &maps.DirectionsRequest{
		Origin:        fmt.Sprintf("%f,%f", origin.Lat, origin.Lng),
		Destination:   fmt.Sprintf("%f,%f", destination.Lat, destination.Lng),
		Mode:          maps.TravelModeDriving,
		DepartureTime: strconv.FormatInt(departure.Unix(), 10),
		Region:        "KR",
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return 0, fmt.Errorf("directions request: %w", err)
	}
	return fareFromRoutes(routes)
}

func fareFromRoutes(routes []maps.Route) (int64, error) {
	if len(routes) == 0 {
		return 0, fmt.Errorf("no route returned")
	}
	fare := routes[0].Fare
	if fare == nil {
		return 0, fmt.Errorf("route has no fare information")
	}
	amount := int64(math.Round(float64(fare.Value)))
	if amount <= 0 {
		return 0, fmt.Errorf("route fare is not positive: %v", fare.Value)
	}
	return amount, nil
}

package services

import (
	"context"
	"fmt"
	"math"

	"github.com/Ananth-NQI/orderbot-backend/internal/models"
	"github.com/Ananth-NQI/orderbot-backend/internal/storage"
)

// Geocode failure reasons
const (
	GeocodeOutOfArea    = "out_of_area"
	GeocodeNoBranches   = "no_branches"
	GeocodeInvalidPoint = "invalid_point"
	GeocodeUnavailable  = "unavailable"
)

// GeocodeError means a shared location could not be accepted. It is always
// recoverable: the customer is asked to try again.
type GeocodeError struct {
	Reason string
	Err    error
}

func (e *GeocodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("geocode %s: %v", e.Reason, e.Err)
	}
	return "geocode " + e.Reason
}

func (e *GeocodeError) Unwrap() error { return e.Err }

// DeliveryEligibility is an accepted delivery point and the branch serving it
type DeliveryEligibility struct {
	Location   models.Location
	BranchID   string
	BranchName string
}

// Geocoder validates delivery coordinates for a tenant
type Geocoder interface {
	ReverseOrValidate(ctx context.Context, tenantID string, point models.Coordinate) (*DeliveryEligibility, error)
}

// RadiusGeocoder accepts a point when an open branch's delivery radius covers
// it, choosing the nearest such branch.
type RadiusGeocoder struct {
	branches storage.BranchRegistry
}

// NewRadiusGeocoder creates a radius based geocoder
func NewRadiusGeocoder(branches storage.BranchRegistry) *RadiusGeocoder {
	return &RadiusGeocoder{branches: branches}
}

func (g *RadiusGeocoder) ReverseOrValidate(ctx context.Context, tenantID string, point models.Coordinate) (*DeliveryEligibility, error) {
	if point.Lat < -90 || point.Lat > 90 || point.Lng < -180 || point.Lng > 180 {
		return nil, &GeocodeError{Reason: GeocodeInvalidPoint}
	}

	branches, err := g.branches.ListBranches(ctx, tenantID)
	if err != nil {
		return nil, &GeocodeError{Reason: GeocodeUnavailable, Err: err}
	}

	var best *models.Branch
	bestKm := math.MaxFloat64
	open := 0
	for i := range branches {
		b := &branches[i]
		if !b.Open {
			continue
		}
		open++
		km := HaversineKm(point, models.Coordinate{Lat: b.Lat, Lng: b.Lng})
		if km <= b.DeliveryRadiusKm && km < bestKm {
			best, bestKm = b, km
		}
	}
	if open == 0 {
		return nil, &GeocodeError{Reason: GeocodeNoBranches}
	}
	if best == nil {
		return nil, &GeocodeError{Reason: GeocodeOutOfArea}
	}

	return &DeliveryEligibility{
		Location: models.Location{
			Coordinate: point,
			DistanceKm: math.Round(bestKm*100) / 100,
		},
		BranchID:   best.ID,
		BranchName: best.Name,
	}, nil
}

const earthRadiusKm = 6371.0

// HaversineKm is the great circle distance between two points
func HaversineKm(a, b models.Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

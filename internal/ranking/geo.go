package ranking

import (
	"math"
	"sort"
)

// EarthRadiusMeters is the mean Earth radius used by DistanceMeters.
const EarthRadiusMeters = 6371000.0

// DistanceMeters calculates the great-circle distance between two points in meters.
// Coordinates are in degrees and must be validated by the caller.
func DistanceMeters(a, b Location) float64 {
	dLat := toRad(b.Latitude - a.Latitude)
	dLon := toRad(b.Longitude - a.Longitude)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Latitude))*math.Cos(toRad(b.Latitude))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// ValidateLocation rejects NaN and out-of-range coordinates.
func ValidateLocation(l Location) error {
	if math.IsNaN(l.Latitude) || l.Latitude < -90 || l.Latitude > 90 {
		return ErrInvalidCoordinates
	}
	if math.IsNaN(l.Longitude) || l.Longitude < -180 || l.Longitude > 180 {
		return ErrInvalidCoordinates
	}
	return nil
}

// SortMerchantsByDistance sorts merchants closest first. Equal distances keep input order.
func SortMerchantsByDistance(merchants []NearbyMerchant) {
	sort.SliceStable(merchants, func(i, j int) bool {
		return merchants[i].DistanceMeters < merchants[j].DistanceMeters
	})
}

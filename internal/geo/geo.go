// Package geo holds the spherical helpers used to place and measure
// round targets.
package geo

import (
	"math"
	"math/rand/v2"

	"github.com/golang/geo/s2"
)

const EarthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance between two points.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	a := s2.LatLngFromDegrees(lat1, lng1)
	b := s2.LatLngFromDegrees(lat2, lng2)
	return a.Distance(b).Radians() * EarthRadiusKm
}

// Perturb returns a point drawn uniformly from the disk of radiusKm around
// (lat, lng). The radius is drawn as radiusKm*sqrt(u) so samples are
// equal-area, and the longitude offset is scaled by 1/cos(lat).
func Perturb(rng *rand.Rand, lat, lng, radiusKm float64) (float64, float64) {
	d := radiusKm * math.Sqrt(rng.Float64())
	theta := rng.Float64() * 2 * math.Pi

	const toDeg = 180 / math.Pi
	dLat := d * math.Cos(theta) / EarthRadiusKm * toDeg
	dLng := d * math.Sin(theta) / (EarthRadiusKm * math.Cos(lat*math.Pi/180)) * toDeg

	return clampLat(lat + dLat), wrapLng(lng + dLng)
}

// ValidCoordinates reports whether lat/lng are finite and in range.
func ValidCoordinates(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

func clampLat(lat float64) float64 {
	return math.Max(-90, math.Min(90, lat))
}

func wrapLng(lng float64) float64 {
	if lng >= -180 && lng <= 180 {
		return lng
	}
	lng = math.Mod(lng+180, 360)
	if lng < 0 {
		lng += 360
	}
	return lng - 180
}

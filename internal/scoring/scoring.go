// Package scoring maps a guess distance to round points.
package scoring

import (
	"math"
	"strings"
)

const (
	MaxPoints = 100
	World     = "WORLD"
)

// Constants tune the decay for a region: MaxDist is the square root of the
// region's land area in km² and K is the decay constant.
type Constants struct {
	MaxDist float64
	K       float64
}

var regions = map[string]Constants{
	World: {MaxDist: math.Sqrt(149_000_000), K: 7.5e-4},
	"EU":  {MaxDist: math.Sqrt(10_180_000), K: 1.5e-3},
	"AS":  {MaxDist: math.Sqrt(44_579_000), K: 6e-4},
	"AF":  {MaxDist: math.Sqrt(30_200_000), K: 5e-4},
	"NA":  {MaxDist: math.Sqrt(24_290_000), K: 8e-4},
	"SA":  {MaxDist: math.Sqrt(17_840_000), K: 7.5e-4},
	"OC":  {MaxDist: math.Sqrt(8_520_000), K: 5e-4},
	"AN":  {MaxDist: math.Sqrt(14_200_000), K: 1e-3},
}

// For returns the constants of region. Unknown or empty codes fall back to
// the world constants.
func For(region string) Constants {
	if c, ok := regions[strings.ToUpper(region)]; ok {
		return c
	}
	return regions[World]
}

// Score returns the points in [0, 100] for a guess distanceKm away from the
// target: 100 at zero distance, decaying exponentially to 0 at MaxDist.
func Score(distanceKm float64, region string) int {
	return For(region).Score(distanceKm)
}

func (c Constants) Score(distanceKm float64) int {
	floor := math.Exp(-c.MaxDist * c.K)
	ratio := (math.Exp(-distanceKm*c.K) - floor) / (1 - floor)
	s := int(math.Round(MaxPoints * ratio))
	return max(0, min(MaxPoints, s))
}

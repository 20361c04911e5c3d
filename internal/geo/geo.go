package geo

import (
	"math"
	"sort"

	"github.com/example/ride-dispatch/internal/models"
)

const earthRadiusKm = 6371.0

// DefaultTiersKm is the search radius escalation used when none is configured.
var DefaultTiersKm = []float64{5, 10, 15}

// Ranked is a candidate driver with its distance to the search origin.
type Ranked struct {
	Driver     models.Driver
	DistanceKm float64
}

// DistanceKm is the great-circle distance between a and b on a spherical Earth.
func DistanceKm(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lng, b.Lat, b.Lng) / 1000
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = earthRadiusKm * 1000
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// Rank walks radii in ascending order and returns the candidates of the first
// tier that contains at least one driver, nearest first. Drivers at equal
// distance keep their input order. Candidates without a valid position are
// skipped.
func Rank(origin models.Coord, candidates []models.Driver, radiiKm []float64) []Ranked {
	if !origin.Valid() || len(candidates) == 0 {
		return nil
	}
	tiers := append([]float64(nil), radiiKm...)
	sort.Float64s(tiers)

	all := make([]Ranked, 0, len(candidates))
	for _, d := range candidates {
		if !d.Loc.Valid() {
			continue
		}
		all = append(all, Ranked{Driver: d, DistanceKm: DistanceKm(origin, d.Loc)})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].DistanceKm < all[j].DistanceKm })

	for _, r := range tiers {
		if r <= 0 || math.IsNaN(r) {
			continue
		}
		n := sort.Search(len(all), func(i int) bool { return all[i].DistanceKm > r })
		if n > 0 {
			return all[:n:n]
		}
	}
	return nil
}

// DefaultSpeedKmh is about 8 m/s, a typical city average.
const DefaultSpeedKmh = 28.8

// ETAMinutes is a straight-line pickup estimate. Real ETAs come from the
// mapping provider; this is only what the driver sees on an offer.
func ETAMinutes(distanceKm, speedKmh float64) float64 {
	if speedKmh <= 0 {
		speedKmh = DefaultSpeedKmh
	}
	return math.Ceil(distanceKm * 60 / speedKmh)
}

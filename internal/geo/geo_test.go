package geo

import (
	"math"
	"testing"

	"github.com/example/ride-dispatch/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestDistanceKmKnownPair(t *testing.T) {
	// Lagos Island -> Ikeja, roughly 17 km apart.
	a := models.Coord{Lat: 6.4541, Lng: 3.3947}
	b := models.Coord{Lat: 6.5965, Lng: 3.3421}
	got := DistanceKm(a, b)
	if math.Abs(got-16.85) > 0.5 {
		t.Fatalf("unexpected distance %.3f km", got)
	}
	if back := DistanceKm(b, a); math.Abs(back-got) > 1e-9 {
		t.Fatalf("distance not symmetric: %f vs %f", got, back)
	}
}

// north returns a coordinate km kilometres due north of origin.
func north(origin models.Coord, km float64) models.Coord {
	return models.Coord{Lat: origin.Lat + km/(earthRadiusKm*math.Pi/180), Lng: origin.Lng}
}

func TestRankReturnsFirstNonEmptyTier(t *testing.T) {
	origin := models.Coord{Lat: 6.5, Lng: 3.4}
	drivers := []models.Driver{
		{ID: "far", Loc: north(origin, 12)},
		{ID: "mid", Loc: north(origin, 8)},
		{ID: "near", Loc: north(origin, 3)},
	}
	got := Rank(origin, drivers, []float64{5, 10, 15})
	if len(got) != 1 || got[0].Driver.ID != "near" {
		t.Fatalf("expected only near driver, got %+v", got)
	}
	if math.Abs(got[0].DistanceKm-3) > 0.01 {
		t.Fatalf("expected ~3km, got %f", got[0].DistanceKm)
	}
}

func TestRankWidensAndSorts(t *testing.T) {
	origin := models.Coord{Lat: 6.5, Lng: 3.4}
	drivers := []models.Driver{
		{ID: "9", Loc: north(origin, 9)},
		{ID: "8", Loc: north(origin, 8)},
		{ID: "14", Loc: north(origin, 14)},
	}
	got := Rank(origin, drivers, []float64{15, 5, 10})
	if len(got) != 2 || got[0].Driver.ID != "8" || got[1].Driver.ID != "9" {
		t.Fatalf("expected tier 10 to win with [8 9], got %+v", got)
	}
	for _, c := range got {
		if c.DistanceKm > 10 {
			t.Fatalf("tier 10 leaked a driver at %.2f km", c.DistanceKm)
		}
	}
	got = Rank(origin, drivers[2:], []float64{5, 10, 15})
	if len(got) != 1 || got[0].Driver.ID != "14" {
		t.Fatalf("expected tier 15 with [14], got %+v", got)
	}
}

func TestRankNoMatchAndInvalidCoords(t *testing.T) {
	origin := models.Coord{Lat: 6.5, Lng: 3.4}
	drivers := []models.Driver{
		{ID: "unset"},
		{ID: "nan", Loc: models.Coord{Lat: math.NaN(), Lng: 3.4}},
		{ID: "bad", Loc: models.Coord{Lat: 120, Lng: 3.4}},
		{ID: "too-far", Loc: north(origin, 40)},
	}
	if got := Rank(origin, drivers, []float64{5, 10, 15}); len(got) != 0 {
		t.Fatalf("expected no candidates, got %+v", got)
	}
	if got := Rank(models.Coord{}, drivers, []float64{5}); got != nil {
		t.Fatalf("expected nil for invalid origin")
	}
}

func TestRankStableOnTies(t *testing.T) {
	origin := models.Coord{Lat: 6.5, Lng: 3.4}
	spot := north(origin, 2)
	drivers := []models.Driver{{ID: "b", Loc: spot}, {ID: "a", Loc: spot}, {ID: "c", Loc: spot}}
	got := Rank(origin, drivers, DefaultTiersKm)
	if len(got) != 3 || got[0].Driver.ID != "b" || got[1].Driver.ID != "a" || got[2].Driver.ID != "c" {
		t.Fatalf("ties must keep input order, got %+v", got)
	}
}

func TestETAMinutes(t *testing.T) {
	if got := ETAMinutes(6, 30); got != 12 {
		t.Fatalf("expected 12, got %v", got)
	}
	if got := ETAMinutes(1, 0); got != 3 {
		t.Fatalf("expected default speed to give 3, got %v", got)
	}
}

package geo

import (
	"testing"

	"github.com/example/carpool/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestMemIndexNearbySortedAndBounded(t *testing.T) {
	g := NewMemIndex()
	g.Upsert(RidePosition{RideID: "near", Coord: models.Coord{Lat: 48.8500, Lon: 2.3500}})
	g.Upsert(RidePosition{RideID: "nearer", Coord: models.Coord{Lat: 48.8501, Lon: 2.3501}})
	g.Upsert(RidePosition{RideID: "far", Coord: models.Coord{Lat: 49.9, Lon: 3.5}})

	got := g.Nearby(48.8502, 2.3502, 5000, 10)
	if len(got) != 2 {
		t.Fatalf("expected 2 rides within radius, got %d", len(got))
	}
	if got[0].RideID != "nearer" || got[1].RideID != "near" {
		t.Fatalf("expected nearest first, got %q then %q", got[0].RideID, got[1].RideID)
	}

	if got := g.Nearby(48.8502, 2.3502, 5000, 1); len(got) != 1 {
		t.Fatalf("expected limit to cap results, got %d", len(got))
	}
}

func TestMemIndexUpsertReplaces(t *testing.T) {
	g := NewMemIndex()
	g.Upsert(RidePosition{RideID: "ride1", Coord: models.Coord{Lat: 1, Lon: 1}})
	g.Upsert(RidePosition{RideID: "ride1", Coord: models.Coord{Lat: 2, Lon: 2}})
	got := g.Nearby(2, 2, 1000, 10)
	if len(got) != 1 {
		t.Fatalf("expected single position after upsert, got %d", len(got))
	}
}

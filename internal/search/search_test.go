package search

import (
	"testing"
	"time"

	"github.com/example/carpool/internal/models"
)

var day = time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

func ride(id, origin, dest string, dep time.Time) *models.Ride {
	return &models.Ride{
		ID:          id,
		Origin:      models.Location{Address: origin},
		Destination: models.Location{Address: dest},
		DepartureAt: dep,
		SeatsTotal:  4,
		SeatsLeft:   4,
		Status:      models.RideActive,
	}
}

func TestExactBeatsSubstringBeatsTokens(t *testing.T) {
	rides := []*models.Ride{
		ride("tokens", "south boston depot", "nyc", day),
		ride("exact", "boston south station", "nyc", day),
		ride("substr", "downtown boston south station", "nyc", day),
	}
	got := Rank(rides, Query{Origin: "boston south station", Destination: "nyc"})
	if len(got) != 3 {
		t.Fatalf("got %d rides, want 3", len(got))
	}
	if got[0].ID != "exact" || got[1].ID != "substr" || got[2].ID != "tokens" {
		t.Fatalf("order = %s, %s, %s", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestCaseAndWhitespaceInsensitive(t *testing.T) {
	r := ride("r1", "  Boston   South Station ", "New   York", day)
	if s, ok := Score(r, Query{Origin: "boston south station", Destination: "new york"}); !ok || s < exactWeight {
		t.Fatalf("score=%f ok=%v, want exact match both fields", s, ok)
	}
}

func TestNonMatchingFieldExcludes(t *testing.T) {
	r := ride("r1", "boston", "nyc", day)
	if _, ok := Score(r, Query{Origin: "chicago"}); ok {
		t.Fatal("chicago should not match boston")
	}
}

func TestDateFilterAndProximity(t *testing.T) {
	rides := []*models.Ride{
		ride("evening", "boston", "nyc", day.Add(10*time.Hour)),
		ride("close", "boston", "nyc", day.Add(2*time.Hour)),
	}
	got := Rank(rides, Query{Origin: "boston", Date: day})
	if len(got) != 2 || got[0].ID != "close" {
		t.Fatalf("unexpected ranking: %+v", ids(got))
	}
	// other days are filtered out entirely
	got = Rank(rides, Query{Origin: "boston", Date: day.AddDate(0, 0, 3)})
	if len(got) != 0 {
		t.Fatalf("expected no rides on another day, got %v", ids(got))
	}
}

func TestSeatAndPriceFilters(t *testing.T) {
	r := ride("r1", "boston", "nyc", day)
	r.SeatsLeft = 1
	r.PricePerSeat = 300
	if _, ok := Score(r, Query{Origin: "boston", MinSeats: 2}); ok {
		t.Fatal("min seats filter ignored")
	}
	if _, ok := Score(r, Query{Origin: "boston", MaxPrice: 200}); ok {
		t.Fatal("max price filter ignored")
	}
	if _, ok := Score(r, Query{Origin: "boston", MinSeats: 1, MaxPrice: 300}); !ok {
		t.Fatal("ride should pass its own limits")
	}
}

func TestTieBreakByDeparture(t *testing.T) {
	later := ride("later", "boston", "nyc", day.Add(8*time.Hour))
	earlier := ride("earlier", "boston", "nyc", day.Add(1*time.Hour))
	got := Rank([]*models.Ride{later, earlier}, Query{Origin: "boston", Destination: "nyc"})
	if got[0].ID != "earlier" {
		t.Fatalf("tie not broken by departure: %v", ids(got))
	}
}

func ids(rides []*models.Ride) []string {
	out := make([]string, len(rides))
	for i, r := range rides {
		out[i] = r.ID
	}
	return out
}

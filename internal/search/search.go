// Package search scores rides against free-text origin/destination
// queries. Matching is textual, not geospatial: case-insensitive,
// whitespace-normalized substring and token-overlap comparison, with a
// date-proximity bonus.
package search

import (
	"sort"
	"strings"
	"time"

	"github.com/example/carpool/internal/models"
)

type Query struct {
	Origin      string
	Destination string
	Date        time.Time // zero means any date
	MinSeats    int
	MaxPrice    int64 // 0 means no cap
}

// score weights: exact beats substring beats token overlap.
const (
	exactWeight     = 3.0
	substringWeight = 2.0
	tokenWeight     = 1.0
	sameDayBonus    = 1.5
	nearDayBonus    = 0.5
)

// Rank filters rides to those matching q and returns them ordered by
// descending score, ties broken by earlier departure.
func Rank(rides []*models.Ride, q Query) []*models.Ride {
	type scored struct {
		r *models.Ride
		s float64
	}
	out := make([]scored, 0, len(rides))
	for _, r := range rides {
		s, ok := Score(r, q)
		if !ok {
			continue
		}
		out = append(out, scored{r, s})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].s != out[j].s {
			return out[i].s > out[j].s
		}
		return out[i].r.DepartureAt.Before(out[j].r.DepartureAt)
	})
	ranked := make([]*models.Ride, len(out))
	for i, sc := range out {
		ranked[i] = sc.r
	}
	return ranked
}

// Score computes the match score of one ride, reporting false when the
// ride does not satisfy the query at all.
func Score(r *models.Ride, q Query) (float64, bool) {
	if q.MinSeats > 0 && r.SeatsLeft < q.MinSeats {
		return 0, false
	}
	if q.MaxPrice > 0 && r.PricePerSeat > q.MaxPrice {
		return 0, false
	}
	if !q.Date.IsZero() && !sameDay(r.DepartureAt, q.Date) {
		return 0, false
	}

	total := 0.0
	if o := strings.TrimSpace(q.Origin); o != "" {
		s := fieldScore(r.Origin.Address, o)
		if s == 0 {
			return 0, false
		}
		total += s
	}
	if d := strings.TrimSpace(q.Destination); d != "" {
		s := fieldScore(r.Destination.Address, d)
		if s == 0 {
			return 0, false
		}
		total += s
	}
	if !q.Date.IsZero() {
		total += dateProximity(r.DepartureAt, q.Date)
	}
	return total, true
}

func fieldScore(have, want string) float64 {
	have = normalize(have)
	want = normalize(want)
	if have == "" || want == "" {
		return 0
	}
	if have == want {
		return exactWeight
	}
	if strings.Contains(have, want) || strings.Contains(want, have) {
		return substringWeight
	}
	return tokenWeight * tokenOverlap(have, want)
}

// tokenOverlap is the fraction of query tokens present in the candidate.
func tokenOverlap(have, want string) float64 {
	haveSet := map[string]struct{}{}
	for _, tok := range strings.Fields(have) {
		haveSet[tok] = struct{}{}
	}
	wantToks := strings.Fields(want)
	if len(wantToks) == 0 {
		return 0
	}
	shared := 0
	for _, tok := range wantToks {
		if _, ok := haveSet[tok]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(wantToks))
}

func dateProximity(departure, wanted time.Time) float64 {
	diff := departure.Sub(wanted)
	if diff < 0 {
		diff = -diff
	}
	switch {
	case diff <= 6*time.Hour:
		return sameDayBonus
	case diff <= 24*time.Hour:
		return nearDayBonus
	default:
		return 0
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Package geo tracks live ride positions for the nearby-rides admin view
// and the realtime relay. Positions are a read-optimized index, never a
// source of truth.
package geo

import (
	"math"
	"sync"
	"time"

	"github.com/example/carpool/internal/models"
)

// RidePosition is one ride's latest known location.
type RidePosition struct {
	RideID   string
	DriverID string
	Coord    models.Coord
	Updated  time.Time
}

// Index is the minimal interface the consumer and handlers require.
type Index interface {
	Upsert(p RidePosition)
	Nearby(lat, lon float64, radiusMeters float64, limit int) []RidePosition
}

// MemIndex is a naive in-memory scan; fine for local runs and tests.
type MemIndex struct {
	mu        sync.RWMutex
	positions map[string]RidePosition
}

func NewMemIndex() *MemIndex {
	return &MemIndex{positions: make(map[string]RidePosition)}
}

func (g *MemIndex) Upsert(p RidePosition) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p.Updated.IsZero() {
		p.Updated = time.Now()
	}
	g.positions[p.RideID] = p
}

func (g *MemIndex) Nearby(lat, lon, radiusMeters float64, limit int) []RidePosition {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		p    RidePosition
		dist float64
	}
	arr := make([]pair, 0, len(g.positions))
	for _, p := range g.positions {
		d := Haversine(lat, lon, p.Coord.Lat, p.Coord.Lon)
		if d > radiusMeters {
			continue
		}
		arr = append(arr, pair{p, d})
	}
	n := limit
	if n > len(arr) {
		n = len(arr)
	}
	// partial selection sort for top-N
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]RidePosition, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].p)
	}
	return out
}

// Haversine distance in meters.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/carpool/internal/models"
)

// fakeUpdater implements GeoUpdater for tests
type fakeUpdater struct {
	failGeo  int // number of times to fail GeoAdd before succeeding
	failH    int // number of times to fail HSet before succeeding
	geoCalls int
	hCalls   int
	lastMeta map[string]interface{}
}

func (f *fakeUpdater) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	f.geoCalls++
	if f.geoCalls <= f.failGeo {
		return errors.New("geo fail")
	}
	return nil
}

func (f *fakeUpdater) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	f.hCalls++
	if f.hCalls <= f.failH {
		return errors.New("hset fail")
	}
	f.lastMeta = values
	return nil
}

func sample() *models.LocationUpdate {
	return &models.LocationUpdate{
		RideID:     "ride1",
		DriverID:   "driver1",
		Coord:      models.Coord{Lat: 48.85, Lon: 2.35},
		RecordedAt: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestUpdateGeoWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeUpdater{failGeo: 1, failH: 1}
	start := time.Now()
	if err := updateGeoWithRetry(context.Background(), f, "rides_geo", sample(), 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.geoCalls < 2 || f.hCalls < 2 {
		t.Fatalf("expected retries, got geo=%d h=%d", f.geoCalls, f.hCalls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
}

func TestUpdateGeoWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeUpdater{failGeo: 5}
	if err := updateGeoWithRetry(context.Background(), f, "rides_geo", sample(), 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
}

func TestUpdateGeoWithRetry_WritesDriverMetadata(t *testing.T) {
	f := &fakeUpdater{}
	u := sample()
	if err := updateGeoWithRetry(context.Background(), f, "rides_geo", u, 3, time.Millisecond); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if f.lastMeta["driver_id"] != "driver1" {
		t.Fatalf("expected driver metadata, got %v", f.lastMeta)
	}
	if f.lastMeta["updated"] != u.RecordedAt.Format(time.RFC3339) {
		t.Fatalf("expected recorded timestamp, got %v", f.lastMeta["updated"])
	}
}

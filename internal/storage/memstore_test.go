package storage

import (
	"context"
	"testing"
	"time"

	"github.com/example/carpool/internal/apperr"
	"github.com/example/carpool/internal/models"
)

func TestReplaceRideVersionCheck(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	r := &models.Ride{ID: "r1", Status: models.RideActive, SeatsTotal: 3, SeatsLeft: 3}
	if err := m.InsertRide(ctx, r); err != nil {
		t.Fatalf("insert: %v", err)
	}

	a, _ := m.FindRideByID(ctx, "r1")
	b, _ := m.FindRideByID(ctx, "r1")

	a.SeatsLeft = 2
	if err := m.ReplaceRide(ctx, a, a.Version); err != nil {
		t.Fatalf("first replace: %v", err)
	}
	if a.Version != 1 {
		t.Fatalf("version not bumped: %d", a.Version)
	}

	b.SeatsLeft = 1
	err := m.ReplaceRide(ctx, b, b.Version)
	if !apperr.IsKind(err, apperr.KindConcurrencyConflict) {
		t.Fatalf("stale replace err=%v, want concurrency_conflict", err)
	}

	got, _ := m.FindRideByID(ctx, "r1")
	if got.SeatsLeft != 2 {
		t.Fatalf("lost update: seats_left=%d, want 2", got.SeatsLeft)
	}
}

func TestReplaceRideNotFound(t *testing.T) {
	m := NewMemoryStore()
	err := m.ReplaceRide(context.Background(), &models.Ride{ID: "nope"}, 0)
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("err=%v, want not_found", err)
	}
}

func TestFindActiveBookingIgnoresInactive(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	_ = m.InsertBooking(ctx, &models.Booking{ID: "b1", RideID: "r1", PassengerID: "p1", Status: models.BookingCancelled})
	got, err := m.FindActiveBooking(ctx, "r1", "p1")
	if err != nil || got != nil {
		t.Fatalf("got %v, %v; want nil, nil", got, err)
	}
	_ = m.InsertBooking(ctx, &models.Booking{ID: "b2", RideID: "r1", PassengerID: "p1", Status: models.BookingConfirmed})
	got, err = m.FindActiveBooking(ctx, "r1", "p1")
	if err != nil || got == nil || got.ID != "b2" {
		t.Fatalf("got %v, %v; want b2", got, err)
	}
}

func TestCloneIsolation(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	r := &models.Ride{ID: "r1", Status: models.RideActive, SeatsTotal: 3, SeatsLeft: 3}
	_ = m.InsertRide(ctx, r)

	got, _ := m.FindRideByID(ctx, "r1")
	got.Roster = append(got.Roster, models.RosterEntry{PassengerID: "p1", Seats: 1, Status: models.RosterConfirmed})
	got.SeatsLeft = 0

	fresh, _ := m.FindRideByID(ctx, "r1")
	if len(fresh.Roster) != 0 || fresh.SeatsLeft != 3 {
		t.Fatalf("reads alias store memory: %+v", fresh)
	}
}

func TestFindRidesDue(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	_ = m.InsertRide(ctx, &models.Ride{ID: "past", Status: models.RideActive, DepartureAt: now.Add(-time.Hour)})
	_ = m.InsertRide(ctx, &models.Ride{ID: "future", Status: models.RideActive, DepartureAt: now.Add(time.Hour)})
	_ = m.InsertRide(ctx, &models.Ride{ID: "done", Status: models.RideCompleted, DepartureAt: now.Add(-2 * time.Hour)})

	due, err := m.FindRidesDue(ctx, now)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 1 || due[0].ID != "past" {
		t.Fatalf("due=%v, want [past]", due)
	}
}

func TestAckAlertTransitions(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	now := time.Now()
	_ = m.InsertAlert(ctx, &models.Alert{ID: "a1", UserID: "p1", Status: models.AlertOpen})

	a, err := m.AckAlert(ctx, "a1", "admin1", now)
	if err != nil || a.Status != models.AlertAcknowledged || a.AckedBy != "admin1" {
		t.Fatalf("ack: %v %+v", err, a)
	}
	if _, err := m.AckAlert(ctx, "a1", "admin2", now); !apperr.IsKind(err, apperr.KindInvalidState) {
		t.Fatalf("double ack err=%v, want invalid_state", err)
	}
}

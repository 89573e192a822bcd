// Package inventory owns seat capacity and derived status for a ride.
// All functions mutate an in-memory snapshot only; persistence is the
// caller's job and must be a single conditional update keyed on the
// ride's version (see storage).
package inventory

import (
	"time"

	"github.com/example/carpool/internal/apperr"
	"github.com/example/carpool/internal/models"
)

const (
	MinSeats = 1
	MaxSeats = 10
)

// Reserve holds seats on the ride for a passenger: decrements the
// remaining-capacity counter, appends a confirmed roster entry referencing
// the booking and re-derives status. The snapshot is left untouched on
// any error.
func Reserve(r *models.Ride, passengerID string, seats int, pickupPoint, bookingID string, now time.Time) error {
	if st := RecomputeStatus(r, now); st != models.RideActive {
		return apperr.Newf(apperr.KindInvalidState, "ride %s is %s, not open for booking", r.ID, st)
	}
	if seats < MinSeats || seats > MaxSeats {
		return apperr.Newf(apperr.KindValidation, "seats must be between %d and %d, got %d", MinSeats, MaxSeats, seats)
	}
	for _, e := range r.Roster {
		if e.PassengerID == passengerID && e.Active() {
			return apperr.Newf(apperr.KindDuplicatePassenger, "passenger %s already holds seats on ride %s", passengerID, r.ID)
		}
	}
	if seats > r.SeatsLeft {
		return apperr.Newf(apperr.KindCapacityExceeded, "requested %d seats, only %d left on ride %s", seats, r.SeatsLeft, r.ID)
	}

	r.SeatsLeft -= seats
	r.Roster = append(r.Roster, models.RosterEntry{
		PassengerID: passengerID,
		BookingID:   bookingID,
		Seats:       seats,
		PickupPoint: pickupPoint,
		Status:      models.RosterConfirmed,
		JoinedAt:    now,
	})
	ApplyStatus(r, now)
	r.UpdatedAt = now
	return nil
}

// Release cancels the passenger's active roster entry and credits its
// seats back. It returns the number of seats released. Releasing a
// passenger without an active entry fails, so a double release can never
// over-restore capacity.
func Release(r *models.Ride, passengerID string, now time.Time) (int, error) {
	for i := range r.Roster {
		e := &r.Roster[i]
		if e.PassengerID != passengerID || !e.Active() {
			continue
		}
		e.Status = models.RosterCancelled
		r.SeatsLeft += e.Seats
		if r.SeatsLeft > r.SeatsTotal {
			r.SeatsLeft = r.SeatsTotal
		}
		ApplyStatus(r, now)
		r.UpdatedAt = now
		return e.Seats, nil
	}
	return 0, apperr.Newf(apperr.KindPassengerNotFound, "passenger %s has no active seats on ride %s", passengerID, r.ID)
}

// RecomputeStatus derives the status the ride should carry at instant now.
// It is pure and idempotent: full iff no capacity remains while the ride
// is otherwise active, completed once the departure instant has passed
// while the ride was active or full. Terminal states are never left.
func RecomputeStatus(r *models.Ride, now time.Time) models.RideStatus {
	s := r.Status
	if s.Terminal() || s == models.RideInProgress {
		return s
	}
	if !now.Before(r.DepartureAt) {
		return models.RideCompleted
	}
	if r.SeatsLeft <= 0 {
		return models.RideFull
	}
	return models.RideActive
}

// ApplyStatus writes the derived status back onto the snapshot, stamping
// CompletedAt when the time boundary is crossed. Every read and write
// path that exposes or changes capacity goes through here.
func ApplyStatus(r *models.Ride, now time.Time) {
	next := RecomputeStatus(r, now)
	if next == r.Status {
		return
	}
	r.Status = next
	if next == models.RideCompleted && r.CompletedAt == nil {
		ts := now
		r.CompletedAt = &ts
	}
}

// SeatsHeld sums seats over active roster entries. The capacity invariant
// is SeatsLeft == SeatsTotal - SeatsHeld at all times.
func SeatsHeld(r *models.Ride) int {
	held := 0
	for _, e := range r.Roster {
		if e.Active() {
			held += e.Seats
		}
	}
	return held
}

// Package booking owns the lifecycle, pricing and rating state of one
// reservation. Like inventory, it mutates in-memory snapshots only;
// persistence is a conditional version-checked write by the caller.
package booking

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/carpool/internal/apperr"
	"github.com/example/carpool/internal/inventory"
	"github.com/example/carpool/internal/models"
)

// Business-time windows. Cancellation closes one hour before departure;
// refunds tier down at 24h and 2h out.
const (
	CancelCutoff    = time.Hour
	FullRefundAfter = 24 * time.Hour
	HalfRefundAfter = 2 * time.Hour
)

// RatingDirection selects which side of the booking a rating lands on.
type RatingDirection string

const (
	RateDriver    RatingDirection = "driver"    // passenger rates the driver
	RatePassenger RatingDirection = "passenger" // driver rates the passenger
)

// New builds a confirmed booking against a ride snapshot. Bookings are
// auto-confirmed; there is no driver-approval step.
func New(ride *models.Ride, passengerID string, seats int, pickupPoint string, now time.Time) (*models.Booking, error) {
	if seats < inventory.MinSeats || seats > inventory.MaxSeats {
		return nil, apperr.Newf(apperr.KindValidation, "seats must be between %d and %d, got %d", inventory.MinSeats, inventory.MaxSeats, seats)
	}
	if strings.TrimSpace(pickupPoint) == "" {
		return nil, apperr.New(apperr.KindValidation, "pickup point is required")
	}
	return &models.Booking{
		ID:            uuid.NewString(),
		RideID:        ride.ID,
		PassengerID:   passengerID,
		DriverID:      ride.DriverID,
		Seats:         seats,
		TotalPrice:    int64(seats) * ride.PricePerSeat,
		Currency:      ride.Currency,
		PickupPoint:   pickupPoint,
		Status:        models.BookingConfirmed,
		PaymentStatus: models.PaymentPending,
		DepartureAt:   ride.DepartureAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Refund computes the refundable amount for a cancellation happening
// untilDeparture before the scheduled instant. Pure function of its
// arguments: >24h full, >2h half, otherwise nothing.
func Refund(totalPrice int64, untilDeparture time.Duration) int64 {
	switch {
	case untilDeparture > FullRefundAfter:
		return totalPrice
	case untilDeparture > HalfRefundAfter:
		return totalPrice / 2
	default:
		return 0
	}
}

// Cancel transitions the booking to cancelled, recording the actor and
// instant, and returns the refund amount. It does not move money.
func Cancel(b *models.Booking, actor models.CancelActor, reason string, now time.Time) (int64, error) {
	if !b.Status.ActiveBooking() {
		return 0, apperr.Newf(apperr.KindInvalidState, "booking %s is %s and cannot be cancelled", b.ID, b.Status)
	}
	until := b.DepartureAt.Sub(now)
	if until <= CancelCutoff {
		return 0, apperr.Newf(apperr.KindCancellationClosed, "booking %s departs in %s, cancellation closed", b.ID, until.Round(time.Minute))
	}
	b.Status = models.BookingCancelled
	b.CancelledBy = actor
	b.CancelReason = reason
	ts := now
	b.CancelledAt = &ts
	b.UpdatedAt = now
	return Refund(b.TotalPrice, until), nil
}

// ForceCancel cancels regardless of the cutoff window; used when the
// whole ride is cancelled and every active booking must follow. The
// refund policy is the same tiers as an individual cancellation.
func ForceCancel(b *models.Booking, actor models.CancelActor, reason string, now time.Time) (int64, error) {
	if !b.Status.ActiveBooking() {
		return 0, apperr.Newf(apperr.KindInvalidState, "booking %s is %s and cannot be cancelled", b.ID, b.Status)
	}
	b.Status = models.BookingCancelled
	b.CancelledBy = actor
	b.CancelReason = reason
	ts := now
	b.CancelledAt = &ts
	b.UpdatedAt = now
	return Refund(b.TotalPrice, b.DepartureAt.Sub(now)), nil
}

// Rate attaches a one-shot directional rating. Only completed bookings
// on completed rides are ratable, and only by the party on the correct
// side of the direction.
func Rate(b *models.Booking, dir RatingDirection, raterID string, score int, comment string, rideStatus models.RideStatus, now time.Time) error {
	if score < 1 || score > 5 {
		return apperr.Newf(apperr.KindValidation, "rating must be between 1 and 5, got %d", score)
	}
	if rideStatus != models.RideCompleted || b.Status != models.BookingCompleted {
		return apperr.Newf(apperr.KindNotEligible, "booking %s cannot be rated before the ride completes", b.ID)
	}
	switch dir {
	case RateDriver:
		if raterID != b.PassengerID {
			return apperr.New(apperr.KindForbidden, "only the booking's passenger may rate the driver")
		}
		if b.DriverRating != nil {
			return apperr.Newf(apperr.KindAlreadyRated, "driver already rated on booking %s", b.ID)
		}
		b.DriverRating = &models.Rating{Score: score, Comment: comment, RatedBy: raterID, RatedAt: now}
	case RatePassenger:
		if raterID != b.DriverID {
			return apperr.New(apperr.KindForbidden, "only the ride's driver may rate the passenger")
		}
		if b.PassengerRating != nil {
			return apperr.Newf(apperr.KindAlreadyRated, "passenger already rated on booking %s", b.ID)
		}
		b.PassengerRating = &models.Rating{Score: score, Comment: comment, RatedBy: raterID, RatedAt: now}
	default:
		return apperr.Newf(apperr.KindValidation, "unknown rating direction %q", dir)
	}
	b.UpdatedAt = now
	return nil
}

// Complete mirrors the parent ride's completion onto the booking.
func Complete(b *models.Booking, now time.Time) error {
	if b.Status != models.BookingConfirmed {
		return apperr.Newf(apperr.KindInvalidState, "booking %s is %s, only confirmed bookings complete", b.ID, b.Status)
	}
	b.Status = models.BookingCompleted
	b.UpdatedAt = now
	return nil
}

// Reject marks a booking rejected; used as the compensating action when
// the seat reservation could not be applied after the booking document
// was written.
func Reject(b *models.Booking, reason string, now time.Time) {
	b.Status = models.BookingRejected
	b.CancelReason = reason
	b.CancelledBy = models.CancelBySystem
	ts := now
	b.CancelledAt = &ts
	b.UpdatedAt = now
}

// Package trips orchestrates the two aggregates, ride inventory and the
// booking ledger, plus the boundary collaborators (payments, realtime
// relay, geocoding). Cross-aggregate writes follow one compensation order:
// the booking document is written first, the contended seat counters
// second, and a booking whose reservation never landed is marked rejected.
package trips

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/carpool/internal/apperr"
	"github.com/example/carpool/internal/auth"
	"github.com/example/carpool/internal/booking"
	"github.com/example/carpool/internal/dispatch"
	"github.com/example/carpool/internal/geo"
	"github.com/example/carpool/internal/geocode"
	"github.com/example/carpool/internal/ingest"
	"github.com/example/carpool/internal/inventory"
	"github.com/example/carpool/internal/models"
	"github.com/example/carpool/internal/observability"
	"github.com/example/carpool/internal/search"
	"github.com/example/carpool/internal/storage"
)

// defaultAttempts bounds optimistic-concurrency retries before a
// concurrency_conflict is surfaced to the caller.
const defaultAttempts = 3

type Service struct {
	Store     storage.Store
	Payments  payments
	Notifier  dispatch.Notifier
	Geocoder  geocode.Resolver
	Locations ingest.LocationPublisher
	// Geo, when set, mirrors published positions into the nearby index.
	Geo    geo.Index
	Logger *slog.Logger

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
	// Attempts overrides the retry budget; 0 means defaultAttempts.
	Attempts int
}

// payments mirrors payments.Refunder without importing the package, so
// tests can swap in a recorder without touching stripe types.
type payments interface {
	Refund(ctx context.Context, bookingID string, amount int64, currency string) error
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) attempts() int {
	if s.Attempts > 0 {
		return s.Attempts
	}
	return defaultAttempts
}

type CreateRideInput struct {
	Origin       string         `json:"origin"`
	Destination  string         `json:"destination"`
	DepartureAt  time.Time      `json:"departure_at"`
	Seats        int            `json:"seats"`
	PricePerSeat int64          `json:"price_per_seat"`
	Currency     string         `json:"currency"`
	Vehicle      models.Vehicle `json:"vehicle"`
}

// CreateRide publishes a new trip offer. Geocoding is opportunistic: a
// failed lookup leaves the location unresolved and the ride is created
// anyway.
func (s *Service) CreateRide(ctx context.Context, driverID string, in CreateRideInput) (*models.Ride, error) {
	now := s.now()
	if in.Seats < inventory.MinSeats || in.Seats > inventory.MaxSeats {
		return nil, apperr.Newf(apperr.KindValidation, "seats must be between %d and %d, got %d", inventory.MinSeats, inventory.MaxSeats, in.Seats)
	}
	if in.PricePerSeat < 0 {
		return nil, apperr.New(apperr.KindValidation, "price per seat must not be negative")
	}
	if strings.TrimSpace(in.Origin) == "" || strings.TrimSpace(in.Destination) == "" {
		return nil, apperr.New(apperr.KindValidation, "origin and destination are required")
	}
	if !in.DepartureAt.After(now) {
		return nil, apperr.New(apperr.KindValidation, "departure must be in the future")
	}
	currency := in.Currency
	if currency == "" {
		currency = "usd"
	}

	ride := &models.Ride{
		ID:           uuid.NewString(),
		DriverID:     driverID,
		Origin:       s.resolve(ctx, in.Origin),
		Destination:  s.resolve(ctx, in.Destination),
		DepartureAt:  in.DepartureAt.UTC(),
		SeatsTotal:   in.Seats,
		SeatsLeft:    in.Seats,
		PricePerSeat: in.PricePerSeat,
		Currency:     currency,
		Vehicle:      in.Vehicle,
		Status:       models.RideActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Store.InsertRide(ctx, ride); err != nil {
		return nil, err
	}
	if ride.Origin.Resolved {
		s.publishLocation(ride, ride.Origin.Coord, now)
	}
	s.Logger.Info("ride created", "ride_id", ride.ID, "driver_id", driverID, "seats", in.Seats)
	return ride, nil
}

func (s *Service) resolve(ctx context.Context, address string) models.Location {
	loc := models.Location{Address: strings.TrimSpace(address)}
	lookupCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	coord, err := s.Geocoder.Lookup(lookupCtx, loc.Address)
	if err != nil {
		s.Logger.Warn("geocode failed, leaving address unresolved", "address", loc.Address, "error", err)
		return loc
	}
	loc.Coord = coord
	loc.Resolved = true
	return loc
}

// GetRide returns the ride with its status derived at read time. The
// stored document is not rewritten here; the completion sweeper owns the
// persisted transition.
func (s *Service) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	ride, err := s.Store.FindRideByID(ctx, id)
	if err != nil {
		return nil, err
	}
	inventory.ApplyStatus(ride, s.now())
	return ride, nil
}

// SearchRides matches active rides against free-text origin/destination
// and optional filters, ordered by descending match score.
func (s *Service) SearchRides(ctx context.Context, q search.Query) ([]*models.Ride, error) {
	var from, to time.Time
	if !q.Date.IsZero() {
		day := q.Date.UTC().Truncate(24 * time.Hour)
		from, to = day, day.Add(24*time.Hour)
	}
	rides, err := s.Store.SearchRides(ctx, from, to, []models.RideStatus{models.RideActive})
	if err != nil {
		return nil, err
	}
	now := s.now()
	bookable := rides[:0]
	for _, r := range rides {
		inventory.ApplyStatus(r, now)
		if r.Status == models.RideActive {
			bookable = append(bookable, r)
		}
	}
	return search.Rank(bookable, q), nil
}

// BookRide implements the booking workflow: validate against a fresh
// snapshot, write the booking document, then apply the seat reservation
// as one conditional ride update. A reservation that loses the version
// race rejects the booking and retries from a fresh read.
func (s *Service) BookRide(ctx context.Context, passengerID, rideID string, seats int, pickupPoint string) (*models.Booking, error) {
	now := s.now()
	var lastErr error
	for attempt := 0; attempt < s.attempts(); attempt++ {
		ride, err := s.Store.FindRideByID(ctx, rideID)
		if err != nil {
			return nil, err
		}
		expected := ride.Version

		existing, err := s.Store.FindActiveBooking(ctx, rideID, passengerID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, apperr.Newf(apperr.KindDuplicatePassenger, "passenger %s already holds booking %s on ride %s", passengerID, existing.ID, rideID)
		}

		b, err := booking.New(ride, passengerID, seats, pickupPoint, now)
		if err != nil {
			return nil, err
		}
		// Validates every reserve precondition and mutates the snapshot
		// only; nothing is persisted yet.
		if err := inventory.Reserve(ride, passengerID, seats, pickupPoint, b.ID, now); err != nil {
			return nil, err
		}

		if err := s.Store.InsertBooking(ctx, b); err != nil {
			return nil, err
		}
		if err := s.Store.ReplaceRide(ctx, ride, expected); err != nil {
			s.rejectBooking(ctx, b, "seat reservation lost a concurrent update")
			if apperr.IsKind(err, apperr.KindConcurrencyConflict) {
				observability.BookingConflictsTotal.Inc()
				lastErr = err
				continue
			}
			return nil, err
		}

		observability.BookingsTotal.Inc()
		s.notify(ride.DriverID, "booking_confirmed", b)
		s.Logger.Info("booking created", "booking_id", b.ID, "ride_id", rideID, "passenger_id", passengerID, "seats", seats)
		return b, nil
	}
	return nil, lastErr
}

// rejectBooking is the compensating action for a booking document whose
// seat reservation never landed.
func (s *Service) rejectBooking(ctx context.Context, b *models.Booking, reason string) {
	for attempt := 0; attempt < s.attempts(); attempt++ {
		fresh, err := s.Store.FindBookingByID(ctx, b.ID)
		if err != nil {
			break
		}
		booking.Reject(fresh, reason, s.now())
		if err := s.Store.ReplaceBooking(ctx, fresh, fresh.Version); err == nil {
			return
		} else if !apperr.IsKind(err, apperr.KindConcurrencyConflict) {
			break
		}
	}
	s.Logger.Error("failed to reject orphaned booking", "booking_id", b.ID)
}

// CancelBooking cancels one reservation: ledger first, then the seat
// release, then the refund. If the release cannot be applied the ledger
// write is compensated back to confirmed.
func (s *Service) CancelBooking(ctx context.Context, bookingID string, actor auth.Identity, reason string) (*models.Booking, int64, error) {
	now := s.now()
	var lastErr error
	for attempt := 0; attempt < s.attempts(); attempt++ {
		b, err := s.Store.FindBookingByID(ctx, bookingID)
		if err != nil {
			return nil, 0, err
		}
		expected := b.Version

		actorKind, err := cancelActor(b, actor)
		if err != nil {
			return nil, 0, err
		}
		refundAmount, err := booking.Cancel(b, actorKind, reason, now)
		if err != nil {
			return nil, 0, err
		}
		if err := s.Store.ReplaceBooking(ctx, b, expected); err != nil {
			if apperr.IsKind(err, apperr.KindConcurrencyConflict) {
				lastErr = err
				continue
			}
			return nil, 0, err
		}

		if err := s.releaseSeats(ctx, b.RideID, b.PassengerID); err != nil {
			s.restoreBooking(ctx, b.ID)
			return nil, 0, err
		}

		s.applyRefund(ctx, b, refundAmount)
		observability.CancellationsTotal.WithLabelValues(string(actorKind)).Inc()
		s.notify(b.DriverID, "booking_cancelled", b)
		s.notify(b.PassengerID, "booking_cancelled", b)
		s.Logger.Info("booking cancelled", "booking_id", b.ID, "actor", actorKind, "refund", refundAmount)
		return b, refundAmount, nil
	}
	return nil, 0, lastErr
}

func cancelActor(b *models.Booking, actor auth.Identity) (models.CancelActor, error) {
	switch {
	case actor.UserID == b.PassengerID:
		return models.CancelByPassenger, nil
	case actor.UserID == b.DriverID:
		return models.CancelByDriver, nil
	case actor.IsAdmin():
		return models.CancelBySystem, nil
	default:
		return "", apperr.Newf(apperr.KindForbidden, "user %s may not cancel booking %s", actor.UserID, b.ID)
	}
}

// releaseSeats credits a cancelled booking's seats back to its ride as a
// single conditional update, retrying on version races.
func (s *Service) releaseSeats(ctx context.Context, rideID, passengerID string) error {
	now := s.now()
	var lastErr error
	for attempt := 0; attempt < s.attempts(); attempt++ {
		ride, err := s.Store.FindRideByID(ctx, rideID)
		if err != nil {
			return err
		}
		expected := ride.Version
		if _, err := inventory.Release(ride, passengerID, now); err != nil {
			if apperr.IsKind(err, apperr.KindPassengerNotFound) {
				// Roster already released (e.g. a concurrent ride-wide
				// cancellation); nothing left to credit.
				s.Logger.Warn("release found no active roster entry", "ride_id", rideID, "passenger_id", passengerID)
				return nil
			}
			return err
		}
		if err := s.Store.ReplaceRide(ctx, ride, expected); err != nil {
			if apperr.IsKind(err, apperr.KindConcurrencyConflict) {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return lastErr
}

// restoreBooking compensates a ledger cancellation whose seat release
// could not be applied.
func (s *Service) restoreBooking(ctx context.Context, bookingID string) {
	for attempt := 0; attempt < s.attempts(); attempt++ {
		b, err := s.Store.FindBookingByID(ctx, bookingID)
		if err != nil {
			break
		}
		b.Status = models.BookingConfirmed
		b.CancelledBy = ""
		b.CancelReason = ""
		b.CancelledAt = nil
		b.UpdatedAt = s.now()
		if err := s.Store.ReplaceBooking(ctx, b, b.Version); err == nil {
			return
		} else if !apperr.IsKind(err, apperr.KindConcurrencyConflict) {
			break
		}
	}
	s.Logger.Error("failed to restore booking after release failure", "booking_id", bookingID)
}

func (s *Service) applyRefund(ctx context.Context, b *models.Booking, amount int64) {
	if amount <= 0 {
		return
	}
	if err := s.Payments.Refund(ctx, b.ID, amount, b.Currency); err != nil {
		// The cancellation stands; the credit is retried out of band.
		s.Logger.Error("refund failed", "booking_id", b.ID, "amount", amount, "error", err)
		return
	}
	observability.RefundsAmountTotal.Add(float64(amount))
	status := models.PaymentPartial
	if amount >= b.TotalPrice {
		status = models.PaymentRefunded
	}
	// Money has moved; the persisted payment status must follow, so the
	// version-checked write retries from a fresh read and exhaustion is
	// loud enough for an operator to reconcile by hand.
	for attempt := 0; attempt < s.attempts(); attempt++ {
		fresh, err := s.Store.FindBookingByID(ctx, b.ID)
		if err != nil {
			break
		}
		fresh.PaymentStatus = status
		fresh.UpdatedAt = s.now()
		if err := s.Store.ReplaceBooking(ctx, fresh, fresh.Version); err == nil {
			b.PaymentStatus = status
			return
		} else if !apperr.IsKind(err, apperr.KindConcurrencyConflict) {
			break
		}
	}
	s.Logger.Error("refund sent but payment status not persisted", "booking_id", b.ID, "amount", amount, "status", status)
}

// CancelRide is the ride-driven bulk cancellation: the ride goes terminal
// and every active booking follows, refunded on the same tiers as an
// individual cancel.
func (s *Service) CancelRide(ctx context.Context, rideID string, actor auth.Identity) (*models.Ride, error) {
	now := s.now()
	var lastErr error
	for attempt := 0; attempt < s.attempts(); attempt++ {
		ride, err := s.Store.FindRideByID(ctx, rideID)
		if err != nil {
			return nil, err
		}
		if actor.UserID != ride.DriverID && !actor.IsAdmin() {
			return nil, apperr.Newf(apperr.KindForbidden, "user %s may not cancel ride %s", actor.UserID, rideID)
		}
		expected := ride.Version
		inventory.ApplyStatus(ride, now)
		if ride.Status.Terminal() {
			return nil, apperr.Newf(apperr.KindInvalidState, "ride %s is already %s", rideID, ride.Status)
		}

		ride.Status = models.RideCancelled
		ts := now
		ride.CancelledAt = &ts
		ride.UpdatedAt = now
		for i := range ride.Roster {
			if ride.Roster[i].Active() {
				ride.SeatsLeft += ride.Roster[i].Seats
				ride.Roster[i].Status = models.RosterCancelled
			}
		}
		if ride.SeatsLeft > ride.SeatsTotal {
			ride.SeatsLeft = ride.SeatsTotal
		}
		if err := s.Store.ReplaceRide(ctx, ride, expected); err != nil {
			if apperr.IsKind(err, apperr.KindConcurrencyConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}

		s.cancelRideBookings(ctx, ride, actor, now)
		s.Logger.Info("ride cancelled", "ride_id", rideID, "by", actor.UserID)
		return ride, nil
	}
	return nil, lastErr
}

func (s *Service) cancelRideBookings(ctx context.Context, ride *models.Ride, actor auth.Identity, now time.Time) {
	actorKind := models.CancelByDriver
	if actor.IsAdmin() && actor.UserID != ride.DriverID {
		actorKind = models.CancelBySystem
	}
	bs, err := s.Store.FindBookingsByRide(ctx, ride.ID, models.BookingPending, models.BookingConfirmed)
	if err != nil {
		s.Logger.Error("bulk cancel: listing bookings failed", "ride_id", ride.ID, "error", err)
		return
	}
	for _, b := range bs {
		refundAmount, cancelled := s.forceCancelBooking(ctx, b, actorKind, now)
		if !cancelled {
			continue
		}
		s.applyRefund(ctx, b, refundAmount)
		observability.CancellationsTotal.WithLabelValues(string(actorKind)).Inc()
		s.notify(b.PassengerID, "ride_cancelled", map[string]any{"ride_id": ride.ID, "booking_id": b.ID, "refund": refundAmount})
	}
}

// forceCancelBooking applies a ride-wide cancellation to one booking,
// retrying the version-checked write from a fresh read when it races
// another writer (e.g. a concurrent passenger cancel or refund update).
func (s *Service) forceCancelBooking(ctx context.Context, b *models.Booking, actorKind models.CancelActor, now time.Time) (int64, bool) {
	for attempt := 0; attempt < s.attempts(); attempt++ {
		expected := b.Version
		refundAmount, err := booking.ForceCancel(b, actorKind, "ride cancelled", now)
		if err != nil {
			// already terminal, nothing left to cancel
			return 0, false
		}
		err = s.Store.ReplaceBooking(ctx, b, expected)
		if err == nil {
			return refundAmount, true
		}
		if !apperr.IsKind(err, apperr.KindConcurrencyConflict) {
			s.Logger.Error("bulk cancel: booking update failed", "booking_id", b.ID, "error", err)
			return 0, false
		}
		fresh, ferr := s.Store.FindBookingByID(ctx, b.ID)
		if ferr != nil {
			s.Logger.Error("bulk cancel: booking update failed", "booking_id", b.ID, "error", ferr)
			return 0, false
		}
		*b = *fresh
	}
	s.Logger.Error("bulk cancel: booking left uncancelled after retries", "booking_id", b.ID)
	return 0, false
}

// RateBooking attaches a directional rating and folds it into the rated
// user's aggregate.
func (s *Service) RateBooking(ctx context.Context, bookingID string, rater auth.Identity, dir booking.RatingDirection, score int, comment string) (*models.Booking, error) {
	now := s.now()
	var lastErr error
	for attempt := 0; attempt < s.attempts(); attempt++ {
		b, err := s.Store.FindBookingByID(ctx, bookingID)
		if err != nil {
			return nil, err
		}
		expected := b.Version

		ride, err := s.Store.FindRideByID(ctx, b.RideID)
		if err != nil {
			return nil, err
		}
		rideStatus := inventory.RecomputeStatus(ride, now)
		// Completion may be derived but not yet swept; mirror it onto the
		// booking so a post-departure rating is not spuriously rejected.
		if rideStatus == models.RideCompleted && b.Status == models.BookingConfirmed {
			if err := booking.Complete(b, now); err != nil {
				return nil, err
			}
		}
		if err := booking.Rate(b, dir, rater.UserID, score, comment, rideStatus, now); err != nil {
			return nil, err
		}
		if err := s.Store.ReplaceBooking(ctx, b, expected); err != nil {
			if apperr.IsKind(err, apperr.KindConcurrencyConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}

		ratedUserID, asDriver := b.PassengerID, false
		if dir == booking.RateDriver {
			ratedUserID, asDriver = b.DriverID, true
		}
		if err := s.Store.ApplyUserRating(ctx, ratedUserID, asDriver, score); err != nil {
			s.Logger.Warn("rating aggregate update failed", "user_id", ratedUserID, "error", err)
		}
		return b, nil
	}
	return nil, lastErr
}

// GetBooking returns a booking visible to its passenger, its driver, or
// an admin.
func (s *Service) GetBooking(ctx context.Context, bookingID string, actor auth.Identity) (*models.Booking, error) {
	b, err := s.Store.FindBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if actor.UserID != b.PassengerID && actor.UserID != b.DriverID && !actor.IsAdmin() {
		return nil, apperr.Newf(apperr.KindForbidden, "user %s may not view booking %s", actor.UserID, bookingID)
	}
	return b, nil
}

// CompleteDueRides applies the time-based active/full -> completed
// transition to every ride whose departure has passed, completing its
// confirmed bookings. Returns the number of rides completed.
func (s *Service) CompleteDueRides(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.Store.FindRidesDue(ctx, now)
	if err != nil {
		return 0, err
	}
	completed := 0
	for _, ride := range due {
		expected := ride.Version
		inventory.ApplyStatus(ride, now)
		if ride.Status != models.RideCompleted {
			continue
		}
		if err := s.Store.ReplaceRide(ctx, ride, expected); err != nil {
			// Raced with a booking or cancellation; next sweep gets it.
			continue
		}
		completed++
		observability.RidesCompletedTotal.Inc()
		bs, err := s.Store.FindBookingsByRide(ctx, ride.ID, models.BookingConfirmed)
		if err != nil {
			s.Logger.Error("completion sweep: listing bookings failed", "ride_id", ride.ID, "error", err)
			continue
		}
		for _, b := range bs {
			expected := b.Version
			if err := booking.Complete(b, now); err != nil {
				continue
			}
			if err := s.Store.ReplaceBooking(ctx, b, expected); err != nil {
				s.Logger.Error("completion sweep: booking update failed", "booking_id", b.ID, "error", err)
			}
		}
	}
	return completed, nil
}

// RecordLocation accepts a live position sample from the ride's driver
// and hands it to the relay pipeline; a dropped sample is superseded by
// the next one.
func (s *Service) RecordLocation(ctx context.Context, actor auth.Identity, rideID string, coord models.Coord) error {
	ride, err := s.Store.FindRideByID(ctx, rideID)
	if err != nil {
		return err
	}
	if actor.UserID != ride.DriverID {
		return apperr.Newf(apperr.KindForbidden, "user %s does not drive ride %s", actor.UserID, rideID)
	}
	if ride.Status.Terminal() {
		return apperr.Newf(apperr.KindInvalidState, "ride %s is %s, not broadcasting", rideID, ride.Status)
	}
	s.publishLocation(ride, coord, s.now())
	return nil
}

func (s *Service) publishLocation(ride *models.Ride, coord models.Coord, now time.Time) {
	u := models.LocationUpdate{RideID: ride.ID, DriverID: ride.DriverID, Coord: coord, RecordedAt: now}
	if err := s.Locations.PublishLocation(u); err != nil {
		s.Logger.Warn("location publish failed", "ride_id", ride.ID, "error", err)
	}
	if s.Geo != nil {
		s.Geo.Upsert(geo.RidePosition{RideID: ride.ID, DriverID: ride.DriverID, Coord: coord, Updated: now})
	}
	for _, e := range ride.Roster {
		if e.Active() {
			s.notify(e.PassengerID, "ride_location", u)
		}
	}
}

func (s *Service) notify(userID, event string, payload any) {
	if err := s.Notifier.Notify(userID, event, payload); err != nil {
		s.Logger.Debug("notify skipped", "user_id", userID, "event", event, "error", err)
	}
}

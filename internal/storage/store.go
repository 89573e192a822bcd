// Package storage is the single data-access layer. Every capacity or
// lifecycle mutation is a conditional write keyed on the document's
// version counter; a lost race surfaces as concurrency_conflict and the
// caller retries against a fresh read.
package storage

import (
	"context"
	"time"

	"github.com/example/carpool/internal/models"
)

type RideStore interface {
	InsertRide(ctx context.Context, r *models.Ride) error
	FindRideByID(ctx context.Context, id string) (*models.Ride, error)
	// ReplaceRide persists r if the stored version still equals
	// expectedVersion, bumping r.Version on success. Fails with
	// concurrency_conflict otherwise.
	ReplaceRide(ctx context.Context, r *models.Ride, expectedVersion int64) error
	// SearchRides returns rides in the given statuses departing inside
	// [from, to); zero bounds mean unbounded.
	SearchRides(ctx context.Context, from, to time.Time, statuses []models.RideStatus) ([]*models.Ride, error)
	// FindRidesDue returns active or full rides whose departure instant
	// has passed, candidates for time-based completion.
	FindRidesDue(ctx context.Context, now time.Time) ([]*models.Ride, error)
	CountRidesByStatus(ctx context.Context) (map[models.RideStatus]int64, error)
	ListRecentRides(ctx context.Context, limit int) ([]*models.Ride, error)
}

type BookingStore interface {
	InsertBooking(ctx context.Context, b *models.Booking) error
	FindBookingByID(ctx context.Context, id string) (*models.Booking, error)
	ReplaceBooking(ctx context.Context, b *models.Booking, expectedVersion int64) error
	// FindActiveBooking returns the passenger's pending/confirmed booking
	// on the ride, or nil when none exists.
	FindActiveBooking(ctx context.Context, rideID, passengerID string) (*models.Booking, error)
	FindBookingsByRide(ctx context.Context, rideID string, statuses ...models.BookingStatus) ([]*models.Booking, error)
	CountBookingsByStatus(ctx context.Context) (map[models.BookingStatus]int64, error)
	ListRecentBookings(ctx context.Context, limit int) ([]*models.Booking, error)
}

type UserStore interface {
	UpsertUser(ctx context.Context, u *models.User) error
	FindUserByID(ctx context.Context, id string) (*models.User, error)
	// ApplyUserRating adds one received rating to the user's aggregate,
	// as a single atomic increment.
	ApplyUserRating(ctx context.Context, userID string, asDriver bool, score int) error
	ListUsers(ctx context.Context, limit int) ([]*models.User, error)
}

type AlertStore interface {
	InsertAlert(ctx context.Context, a *models.Alert) error
	FindAlertByID(ctx context.Context, id string) (*models.Alert, error)
	// AckAlert transitions an open alert to acknowledged; acking a
	// non-open alert fails with invalid_state.
	AckAlert(ctx context.Context, id, adminID string, now time.Time) (*models.Alert, error)
	ListAlerts(ctx context.Context, status models.AlertStatus, limit int) ([]*models.Alert, error)
	CountAlerts(ctx context.Context, status models.AlertStatus) (int64, error)
}

// Store is the full persistence surface the services depend on.
type Store interface {
	RideStore
	BookingStore
	UserStore
	AlertStore
}

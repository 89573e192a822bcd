// Package admin serves the read-only dashboard aggregates.
package admin

import (
	"context"

	"github.com/example/carpool/internal/apperr"
	"github.com/example/carpool/internal/auth"
	"github.com/example/carpool/internal/models"
	"github.com/example/carpool/internal/storage"
)

type Service struct {
	Store storage.Store
}

type Dashboard struct {
	RidesByStatus    map[models.RideStatus]int64    `json:"rides_by_status"`
	BookingsByStatus map[models.BookingStatus]int64 `json:"bookings_by_status"`
	OpenAlerts       int64                          `json:"open_alerts"`
	RecentRides      []*models.Ride                 `json:"recent_rides"`
	RecentBookings   []*models.Booking              `json:"recent_bookings"`
}

const recentLimit = 20

func (s *Service) Dashboard(ctx context.Context, actor auth.Identity) (*Dashboard, error) {
	if !actor.IsAdmin() {
		return nil, apperr.New(apperr.KindForbidden, "dashboard is admin only")
	}
	rides, err := s.Store.CountRidesByStatus(ctx)
	if err != nil {
		return nil, err
	}
	bookings, err := s.Store.CountBookingsByStatus(ctx)
	if err != nil {
		return nil, err
	}
	alerts, err := s.Store.CountAlerts(ctx, models.AlertOpen)
	if err != nil {
		return nil, err
	}
	recentRides, err := s.Store.ListRecentRides(ctx, recentLimit)
	if err != nil {
		return nil, err
	}
	recentBookings, err := s.Store.ListRecentBookings(ctx, recentLimit)
	if err != nil {
		return nil, err
	}
	return &Dashboard{
		RidesByStatus:    rides,
		BookingsByStatus: bookings,
		OpenAlerts:       alerts,
		RecentRides:      recentRides,
		RecentBookings:   recentBookings,
	}, nil
}

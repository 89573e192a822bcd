package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/carpool/internal/apperr"
	"github.com/example/carpool/internal/models"
)

// MemoryStore is an in-memory Store for tests and local runs. It enforces
// the same version-check semantics as the Mongo implementation, so the
// optimistic-retry paths behave identically against it.
type MemoryStore struct {
	mu       sync.RWMutex
	rides    map[string]*models.Ride
	bookings map[string]*models.Booking
	users    map[string]*models.User
	alerts   map[string]*models.Alert
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:    make(map[string]*models.Ride),
		bookings: make(map[string]*models.Booking),
		users:    make(map[string]*models.User),
		alerts:   make(map[string]*models.Alert),
	}
}

func cloneRide(r *models.Ride) *models.Ride {
	c := *r
	c.Roster = append([]models.RosterEntry(nil), r.Roster...)
	return &c
}

func cloneBooking(b *models.Booking) *models.Booking {
	c := *b
	if b.DriverRating != nil {
		dr := *b.DriverRating
		c.DriverRating = &dr
	}
	if b.PassengerRating != nil {
		pr := *b.PassengerRating
		c.PassengerRating = &pr
	}
	return &c
}

// --- rides ---

func (m *MemoryStore) InsertRide(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = cloneRide(r)
	return nil
}

func (m *MemoryStore) FindRideByID(ctx context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "ride %s not found", id)
	}
	return cloneRide(r), nil
}

func (m *MemoryStore) ReplaceRide(ctx context.Context, r *models.Ride, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rides[r.ID]
	if !ok {
		return apperr.Newf(apperr.KindNotFound, "ride %s not found", r.ID)
	}
	if cur.Version != expectedVersion {
		return apperr.Newf(apperr.KindConcurrencyConflict, "ride %s was modified concurrently", r.ID)
	}
	r.Version = expectedVersion + 1
	m.rides[r.ID] = cloneRide(r)
	return nil
}

func (m *MemoryStore) SearchRides(ctx context.Context, from, to time.Time, statuses []models.RideStatus) ([]*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wanted := map[models.RideStatus]bool{}
	for _, s := range statuses {
		wanted[s] = true
	}
	var out []*models.Ride
	for _, r := range m.rides {
		if len(wanted) > 0 && !wanted[r.Status] {
			continue
		}
		if !from.IsZero() && r.DepartureAt.Before(from) {
			continue
		}
		if !to.IsZero() && !r.DepartureAt.Before(to) {
			continue
		}
		out = append(out, cloneRide(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DepartureAt.Before(out[j].DepartureAt) })
	return out, nil
}

func (m *MemoryStore) FindRidesDue(ctx context.Context, now time.Time) ([]*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Ride
	for _, r := range m.rides {
		if (r.Status == models.RideActive || r.Status == models.RideFull) && !r.DepartureAt.After(now) {
			out = append(out, cloneRide(r))
		}
	}
	return out, nil
}

func (m *MemoryStore) CountRidesByStatus(ctx context.Context) (map[models.RideStatus]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[models.RideStatus]int64{}
	for _, r := range m.rides {
		out[r.Status]++
	}
	return out, nil
}

func (m *MemoryStore) ListRecentRides(ctx context.Context, limit int) ([]*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Ride, 0, len(m.rides))
	for _, r := range m.rides {
		out = append(out, cloneRide(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- bookings ---

func (m *MemoryStore) InsertBooking(ctx context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[b.ID] = cloneBooking(b)
	return nil
}

func (m *MemoryStore) FindBookingByID(ctx context.Context, id string) (*models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "booking %s not found", id)
	}
	return cloneBooking(b), nil
}

func (m *MemoryStore) ReplaceBooking(ctx context.Context, b *models.Booking, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.bookings[b.ID]
	if !ok {
		return apperr.Newf(apperr.KindNotFound, "booking %s not found", b.ID)
	}
	if cur.Version != expectedVersion {
		return apperr.Newf(apperr.KindConcurrencyConflict, "booking %s was modified concurrently", b.ID)
	}
	b.Version = expectedVersion + 1
	m.bookings[b.ID] = cloneBooking(b)
	return nil
}

func (m *MemoryStore) FindActiveBooking(ctx context.Context, rideID, passengerID string) (*models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.bookings {
		if b.RideID == rideID && b.PassengerID == passengerID && b.Status.ActiveBooking() {
			return cloneBooking(b), nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) FindBookingsByRide(ctx context.Context, rideID string, statuses ...models.BookingStatus) ([]*models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wanted := map[models.BookingStatus]bool{}
	for _, s := range statuses {
		wanted[s] = true
	}
	var out []*models.Booking
	for _, b := range m.bookings {
		if b.RideID != rideID {
			continue
		}
		if len(wanted) > 0 && !wanted[b.Status] {
			continue
		}
		out = append(out, cloneBooking(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) CountBookingsByStatus(ctx context.Context) (map[models.BookingStatus]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[models.BookingStatus]int64{}
	for _, b := range m.bookings {
		out[b.Status]++
	}
	return out, nil
}

func (m *MemoryStore) ListRecentBookings(ctx context.Context, limit int) ([]*models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Booking, 0, len(m.bookings))
	for _, b := range m.bookings {
		out = append(out, cloneBooking(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- users ---

func (m *MemoryStore) UpsertUser(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *u
	m.users[u.ID] = &c
	return nil
}

func (m *MemoryStore) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "user %s not found", id)
	}
	c := *u
	return &c, nil
}

func (m *MemoryStore) ApplyUserRating(ctx context.Context, userID string, asDriver bool, score int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return apperr.Newf(apperr.KindNotFound, "user %s not found", userID)
	}
	if asDriver {
		u.DriverRatingSum += int64(score)
		u.DriverRatingCount++
	} else {
		u.PassengerRatingSum += int64(score)
		u.PassengerRatingCount++
	}
	return nil
}

func (m *MemoryStore) ListUsers(ctx context.Context, limit int) ([]*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.User, 0, len(m.users))
	for _, u := range m.users {
		c := *u
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- alerts ---

func (m *MemoryStore) InsertAlert(ctx context.Context, a *models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *a
	m.alerts[a.ID] = &c
	return nil
}

func (m *MemoryStore) FindAlertByID(ctx context.Context, id string) (*models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "alert %s not found", id)
	}
	c := *a
	return &c, nil
}

func (m *MemoryStore) AckAlert(ctx context.Context, id, adminID string, now time.Time) (*models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "alert %s not found", id)
	}
	if a.Status != models.AlertOpen {
		return nil, apperr.Newf(apperr.KindInvalidState, "alert %s is not open", id)
	}
	a.Status = models.AlertAcknowledged
	a.AckedBy = adminID
	ts := now
	a.AckedAt = &ts
	c := *a
	return &c, nil
}

func (m *MemoryStore) ListAlerts(ctx context.Context, status models.AlertStatus, limit int) ([]*models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Alert
	for _, a := range m.alerts {
		if status != "" && a.Status != status {
			continue
		}
		c := *a
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) CountAlerts(ctx context.Context, status models.AlertStatus) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, a := range m.alerts {
		if status == "" || a.Status == status {
			n++
		}
	}
	return n, nil
}

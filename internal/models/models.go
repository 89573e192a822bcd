package models

import "time"

type Coord struct {
	Lat float64 `json:"lat" bson:"lat"`
	Lon float64 `json:"lon" bson:"lon"`
}

// Location is a free-text address plus its (possibly unresolved) coordinates.
// Geocoding is opportunistic: Resolved stays false when the lookup failed
// and the coordinates are zero values.
type Location struct {
	Address  string `json:"address" bson:"address"`
	Coord    Coord  `json:"coord" bson:"coord"`
	Resolved bool   `json:"resolved" bson:"resolved"`
}

type Vehicle struct {
	Make  string `json:"make" bson:"make"`
	Model string `json:"model" bson:"model"`
	Color string `json:"color" bson:"color"`
	Plate string `json:"plate" bson:"plate"`
}

type RideStatus string

const (
	RideActive     RideStatus = "active"
	RideFull       RideStatus = "full"
	RideInProgress RideStatus = "in-progress"
	RideCompleted  RideStatus = "completed"
	RideCancelled  RideStatus = "cancelled"
	RideExpired    RideStatus = "expired"
)

// Terminal reports whether no further transitions are allowed from s.
func (s RideStatus) Terminal() bool {
	return s == RideCompleted || s == RideCancelled || s == RideExpired
}

type RosterStatus string

const (
	RosterConfirmed RosterStatus = "confirmed"
	RosterPending   RosterStatus = "pending"
	RosterCancelled RosterStatus = "cancelled"
	RosterNoShow    RosterStatus = "no-show"
)

// RosterEntry is the denormalized passenger record embedded in a ride.
// The referenced Booking is the source of truth for seats and pickup;
// the entry exists so capacity checks never need a second collection read.
type RosterEntry struct {
	PassengerID string       `json:"passenger_id" bson:"passenger_id"`
	BookingID   string       `json:"booking_id" bson:"booking_id"`
	Seats       int          `json:"seats" bson:"seats"`
	PickupPoint string       `json:"pickup_point" bson:"pickup_point"`
	Status      RosterStatus `json:"status" bson:"status"`
	JoinedAt    time.Time    `json:"joined_at" bson:"joined_at"`
}

// Active reports whether the entry currently holds seats.
func (e RosterEntry) Active() bool {
	return e.Status == RosterConfirmed || e.Status == RosterPending
}

type Ride struct {
	ID           string        `json:"id" bson:"_id"`
	DriverID     string        `json:"driver_id" bson:"driver_id"`
	Origin       Location      `json:"origin" bson:"origin"`
	Destination  Location      `json:"destination" bson:"destination"`
	DepartureAt  time.Time     `json:"departure_at" bson:"departure_at"`
	SeatsTotal   int           `json:"seats_total" bson:"seats_total"`
	SeatsLeft    int           `json:"seats_left" bson:"seats_left"`
	PricePerSeat int64         `json:"price_per_seat" bson:"price_per_seat"` // minor currency units
	Currency     string        `json:"currency" bson:"currency"`
	Vehicle      Vehicle       `json:"vehicle" bson:"vehicle"`
	Status       RideStatus    `json:"status" bson:"status"`
	Roster       []RosterEntry `json:"roster" bson:"roster"`

	// Version is the optimistic-concurrency token; every persisted
	// mutation increments it and is conditional on the value read.
	Version int64 `json:"-" bson:"version"`

	CreatedAt   time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" bson:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty" bson:"cancelled_at,omitempty"`
}

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingCompleted BookingStatus = "completed"
	BookingRejected  BookingStatus = "rejected"
)

// ActiveBooking reports whether the booking still holds seats on its ride.
func (s BookingStatus) ActiveBooking() bool {
	return s == BookingPending || s == BookingConfirmed
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
	PaymentPartial  PaymentStatus = "partially-refunded"
)

type CancelActor string

const (
	CancelByPassenger CancelActor = "passenger"
	CancelByDriver    CancelActor = "driver"
	CancelBySystem    CancelActor = "system"
)

// Rating is one directional review attached to a booking; each booking
// carries at most one per direction.
type Rating struct {
	Score   int       `json:"score" bson:"score"`
	Comment string    `json:"comment,omitempty" bson:"comment,omitempty"`
	RatedBy string    `json:"rated_by" bson:"rated_by"`
	RatedAt time.Time `json:"rated_at" bson:"rated_at"`
}

type Booking struct {
	ID          string `json:"id" bson:"_id"`
	RideID      string `json:"ride_id" bson:"ride_id"`
	PassengerID string `json:"passenger_id" bson:"passenger_id"`
	// DriverID is denormalized from the ride for authority checks.
	DriverID    string        `json:"driver_id" bson:"driver_id"`
	Seats       int           `json:"seats" bson:"seats"`
	TotalPrice  int64         `json:"total_price" bson:"total_price"`
	Currency    string        `json:"currency" bson:"currency"`
	PickupPoint string        `json:"pickup_point" bson:"pickup_point"`
	Status      BookingStatus `json:"status" bson:"status"`

	PaymentStatus PaymentStatus `json:"payment_status" bson:"payment_status"`
	PaymentMethod string        `json:"payment_method,omitempty" bson:"payment_method,omitempty"`

	// DepartureAt is snapshotted from the ride so refund tiers are
	// computable without a second read.
	DepartureAt time.Time `json:"departure_at" bson:"departure_at"`

	DriverRating    *Rating `json:"driver_rating,omitempty" bson:"driver_rating,omitempty"`       // passenger -> driver
	PassengerRating *Rating `json:"passenger_rating,omitempty" bson:"passenger_rating,omitempty"` // driver -> passenger

	CancelledBy  CancelActor `json:"cancelled_by,omitempty" bson:"cancelled_by,omitempty"`
	CancelReason string      `json:"cancel_reason,omitempty" bson:"cancel_reason,omitempty"`
	CancelledAt  *time.Time  `json:"cancelled_at,omitempty" bson:"cancelled_at,omitempty"`

	Version int64 `json:"-" bson:"version"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

type Role string

const (
	RolePassenger Role = "passenger"
	RoleDriver    Role = "driver"
	RoleAdmin     Role = "admin"
)

type User struct {
	ID    string `json:"id" bson:"_id"`
	Name  string `json:"name" bson:"name"`
	Phone string `json:"phone,omitempty" bson:"phone,omitempty"`
	Role  Role   `json:"role" bson:"role"`

	// Rating aggregates are kept as sum+count so a new rating lands as a
	// single atomic increment; averages are derived on read.
	DriverRatingSum      int64 `json:"-" bson:"driver_rating_sum"`
	DriverRatingCount    int64 `json:"driver_rating_count" bson:"driver_rating_count"`
	PassengerRatingSum   int64 `json:"-" bson:"passenger_rating_sum"`
	PassengerRatingCount int64 `json:"passenger_rating_count" bson:"passenger_rating_count"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// DriverRatingAvg is the mean rating received as a driver, 0 when unrated.
func (u *User) DriverRatingAvg() float64 {
	if u.DriverRatingCount == 0 {
		return 0
	}
	return float64(u.DriverRatingSum) / float64(u.DriverRatingCount)
}

// PassengerRatingAvg is the mean rating received as a passenger.
func (u *User) PassengerRatingAvg() float64 {
	if u.PassengerRatingCount == 0 {
		return 0
	}
	return float64(u.PassengerRatingSum) / float64(u.PassengerRatingCount)
}

type AlertStatus string

const (
	AlertOpen         AlertStatus = "open"
	AlertAcknowledged AlertStatus = "acknowledged"
)

type Alert struct {
	ID        string      `json:"id" bson:"_id"`
	UserID    string      `json:"user_id" bson:"user_id"`
	RideID    string      `json:"ride_id,omitempty" bson:"ride_id,omitempty"`
	Coord     Coord       `json:"coord" bson:"coord"`
	Message   string      `json:"message" bson:"message"`
	Status    AlertStatus `json:"status" bson:"status"`
	AckedBy   string      `json:"acked_by,omitempty" bson:"acked_by,omitempty"`
	AckedAt   *time.Time  `json:"acked_at,omitempty" bson:"acked_at,omitempty"`
	CreatedAt time.Time   `json:"created_at" bson:"created_at"`
}

// LocationUpdate is one live position sample for a ride in progress.
type LocationUpdate struct {
	RideID     string    `json:"ride_id" bson:"ride_id"`
	DriverID   string    `json:"driver_id" bson:"driver_id"`
	Coord      Coord     `json:"coord" bson:"coord"`
	RecordedAt time.Time `json:"recorded_at" bson:"recorded_at"`
}

package storage

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/example/carpool/internal/apperr"
	"github.com/example/carpool/internal/models"
)

// MongoStore implements Store on a MongoDB database. Optimistic writes
// are single ReplaceOne calls conditioned on {_id, version}, so a
// concurrent mutation can never be overwritten silently.
type MongoStore struct {
	client   *mongo.Client
	rides    *mongo.Collection
	bookings *mongo.Collection
	users    *mongo.Collection
	alerts   *mongo.Collection
}

func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, err
	}
	db := client.Database(database)
	s := &MongoStore{
		client:   client,
		rides:    db.Collection("rides"),
		bookings: db.Collection("bookings"),
		users:    db.Collection("users"),
		alerts:   db.Collection("alerts"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.rides.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "departure_at", Value: 1}}},
		{Keys: bson.D{{Key: "driver_id", Value: 1}}},
	})
	if err != nil {
		return err
	}
	_, err = s.bookings.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "ride_id", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "passenger_id", Value: 1}}},
	})
	if err != nil {
		return err
	}
	_, err = s.alerts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}},
	})
	return err
}

func (s *MongoStore) Close(ctx context.Context) error { return s.client.Disconnect(ctx) }

// --- rides ---

func (s *MongoStore) InsertRide(ctx context.Context, r *models.Ride) error {
	if _, err := s.rides.InsertOne(ctx, r); err != nil {
		return apperr.Wrap(apperr.KindInternal, "insert ride", err)
	}
	return nil
}

func (s *MongoStore) FindRideByID(ctx context.Context, id string) (*models.Ride, error) {
	var r models.Ride
	err := s.rides.FindOne(ctx, bson.M{"_id": id}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.Newf(apperr.KindNotFound, "ride %s not found", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "find ride", err)
	}
	return &r, nil
}

func (s *MongoStore) ReplaceRide(ctx context.Context, r *models.Ride, expectedVersion int64) error {
	next := *r
	next.Version = expectedVersion + 1
	res, err := s.rides.ReplaceOne(ctx, bson.M{"_id": r.ID, "version": expectedVersion}, &next)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "replace ride", err)
	}
	if res.MatchedCount == 0 {
		if n, err := s.rides.CountDocuments(ctx, bson.M{"_id": r.ID}); err == nil && n == 0 {
			return apperr.Newf(apperr.KindNotFound, "ride %s not found", r.ID)
		}
		return apperr.Newf(apperr.KindConcurrencyConflict, "ride %s was modified concurrently", r.ID)
	}
	r.Version = next.Version
	return nil
}

func (s *MongoStore) SearchRides(ctx context.Context, from, to time.Time, statuses []models.RideStatus) ([]*models.Ride, error) {
	filter := bson.M{}
	if len(statuses) > 0 {
		filter["status"] = bson.M{"$in": statuses}
	}
	window := bson.M{}
	if !from.IsZero() {
		window["$gte"] = from
	}
	if !to.IsZero() {
		window["$lt"] = to
	}
	if len(window) > 0 {
		filter["departure_at"] = window
	}
	return s.decodeRides(ctx, filter, options.Find().SetSort(bson.D{{Key: "departure_at", Value: 1}}))
}

func (s *MongoStore) FindRidesDue(ctx context.Context, now time.Time) ([]*models.Ride, error) {
	filter := bson.M{
		"status":       bson.M{"$in": []models.RideStatus{models.RideActive, models.RideFull}},
		"departure_at": bson.M{"$lte": now},
	}
	return s.decodeRides(ctx, filter, nil)
}

func (s *MongoStore) CountRidesByStatus(ctx context.Context) (map[models.RideStatus]int64, error) {
	cur, err := s.rides.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.M{"_id": "$status", "n": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "count rides", err)
	}
	defer cur.Close(ctx)
	out := map[models.RideStatus]int64{}
	for cur.Next(ctx) {
		var row struct {
			Status models.RideStatus `bson:"_id"`
			N      int64             `bson:"n"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "decode ride count", err)
		}
		out[row.Status] = row.N
	}
	return out, cur.Err()
}

func (s *MongoStore) ListRecentRides(ctx context.Context, limit int) ([]*models.Ride, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(limit))
	return s.decodeRides(ctx, bson.M{}, opts)
}

func (s *MongoStore) decodeRides(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*models.Ride, error) {
	var cur *mongo.Cursor
	var err error
	if opts != nil {
		cur, err = s.rides.Find(ctx, filter, opts)
	} else {
		cur, err = s.rides.Find(ctx, filter)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "find rides", err)
	}
	defer cur.Close(ctx)
	var out []*models.Ride
	if err := cur.All(ctx, &out); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "decode rides", err)
	}
	return out, nil
}

// --- bookings ---

func (s *MongoStore) InsertBooking(ctx context.Context, b *models.Booking) error {
	if _, err := s.bookings.InsertOne(ctx, b); err != nil {
		return apperr.Wrap(apperr.KindInternal, "insert booking", err)
	}
	return nil
}

func (s *MongoStore) FindBookingByID(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	err := s.bookings.FindOne(ctx, bson.M{"_id": id}).Decode(&b)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.Newf(apperr.KindNotFound, "booking %s not found", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "find booking", err)
	}
	return &b, nil
}

func (s *MongoStore) ReplaceBooking(ctx context.Context, b *models.Booking, expectedVersion int64) error {
	next := *b
	next.Version = expectedVersion + 1
	res, err := s.bookings.ReplaceOne(ctx, bson.M{"_id": b.ID, "version": expectedVersion}, &next)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "replace booking", err)
	}
	if res.MatchedCount == 0 {
		if n, err := s.bookings.CountDocuments(ctx, bson.M{"_id": b.ID}); err == nil && n == 0 {
			return apperr.Newf(apperr.KindNotFound, "booking %s not found", b.ID)
		}
		return apperr.Newf(apperr.KindConcurrencyConflict, "booking %s was modified concurrently", b.ID)
	}
	b.Version = next.Version
	return nil
}

func (s *MongoStore) FindActiveBooking(ctx context.Context, rideID, passengerID string) (*models.Booking, error) {
	var b models.Booking
	err := s.bookings.FindOne(ctx, bson.M{
		"ride_id":      rideID,
		"passenger_id": passengerID,
		"status":       bson.M{"$in": []models.BookingStatus{models.BookingPending, models.BookingConfirmed}},
	}).Decode(&b)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "find active booking", err)
	}
	return &b, nil
}

func (s *MongoStore) FindBookingsByRide(ctx context.Context, rideID string, statuses ...models.BookingStatus) ([]*models.Booking, error) {
	filter := bson.M{"ride_id": rideID}
	if len(statuses) > 0 {
		filter["status"] = bson.M{"$in": statuses}
	}
	cur, err := s.bookings.Find(ctx, filter)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "find bookings", err)
	}
	defer cur.Close(ctx)
	var out []*models.Booking
	if err := cur.All(ctx, &out); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "decode bookings", err)
	}
	return out, nil
}

func (s *MongoStore) CountBookingsByStatus(ctx context.Context) (map[models.BookingStatus]int64, error) {
	cur, err := s.bookings.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.M{"_id": "$status", "n": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "count bookings", err)
	}
	defer cur.Close(ctx)
	out := map[models.BookingStatus]int64{}
	for cur.Next(ctx) {
		var row struct {
			Status models.BookingStatus `bson:"_id"`
			N      int64                `bson:"n"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "decode booking count", err)
		}
		out[row.Status] = row.N
	}
	return out, cur.Err()
}

func (s *MongoStore) ListRecentBookings(ctx context.Context, limit int) ([]*models.Booking, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(limit))
	cur, err := s.bookings.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list bookings", err)
	}
	defer cur.Close(ctx)
	var out []*models.Booking
	if err := cur.All(ctx, &out); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "decode bookings", err)
	}
	return out, nil
}

// --- users ---

func (s *MongoStore) UpsertUser(ctx context.Context, u *models.User) error {
	opts := options.Replace().SetUpsert(true)
	if _, err := s.users.ReplaceOne(ctx, bson.M{"_id": u.ID}, u, opts); err != nil {
		return apperr.Wrap(apperr.KindInternal, "upsert user", err)
	}
	return nil
}

func (s *MongoStore) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.Newf(apperr.KindNotFound, "user %s not found", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "find user", err)
	}
	return &u, nil
}

func (s *MongoStore) ApplyUserRating(ctx context.Context, userID string, asDriver bool, score int) error {
	sumField, countField := "passenger_rating_sum", "passenger_rating_count"
	if asDriver {
		sumField, countField = "driver_rating_sum", "driver_rating_count"
	}
	res, err := s.users.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{
		"$inc": bson.M{sumField: score, countField: 1},
	})
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "apply rating", err)
	}
	if res.MatchedCount == 0 {
		return apperr.Newf(apperr.KindNotFound, "user %s not found", userID)
	}
	return nil
}

func (s *MongoStore) ListUsers(ctx context.Context, limit int) ([]*models.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(limit))
	cur, err := s.users.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list users", err)
	}
	defer cur.Close(ctx)
	var out []*models.User
	if err := cur.All(ctx, &out); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "decode users", err)
	}
	return out, nil
}

// --- alerts ---

func (s *MongoStore) InsertAlert(ctx context.Context, a *models.Alert) error {
	if _, err := s.alerts.InsertOne(ctx, a); err != nil {
		return apperr.Wrap(apperr.KindInternal, "insert alert", err)
	}
	return nil
}

func (s *MongoStore) FindAlertByID(ctx context.Context, id string) (*models.Alert, error) {
	var a models.Alert
	err := s.alerts.FindOne(ctx, bson.M{"_id": id}).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.Newf(apperr.KindNotFound, "alert %s not found", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "find alert", err)
	}
	return &a, nil
}

func (s *MongoStore) AckAlert(ctx context.Context, id, adminID string, now time.Time) (*models.Alert, error) {
	after := options.After
	var a models.Alert
	err := s.alerts.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": models.AlertOpen},
		bson.M{"$set": bson.M{"status": models.AlertAcknowledged, "acked_by": adminID, "acked_at": now}},
		options.FindOneAndUpdate().SetReturnDocument(after),
	).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, ferr := s.FindAlertByID(ctx, id); ferr != nil {
			return nil, ferr
		}
		return nil, apperr.Newf(apperr.KindInvalidState, "alert %s is not open", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "ack alert", err)
	}
	return &a, nil
}

func (s *MongoStore) ListAlerts(ctx context.Context, status models.AlertStatus, limit int) ([]*models.Alert, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(limit))
	cur, err := s.alerts.Find(ctx, filter, opts)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list alerts", err)
	}
	defer cur.Close(ctx)
	var out []*models.Alert
	if err := cur.All(ctx, &out); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "decode alerts", err)
	}
	return out, nil
}

func (s *MongoStore) CountAlerts(ctx context.Context, status models.AlertStatus) (int64, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}
	n, err := s.alerts.CountDocuments(ctx, filter)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "count alerts", err)
	}
	return n, nil
}

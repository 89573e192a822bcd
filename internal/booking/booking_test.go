package booking

import (
	"testing"
	"time"

	"github.com/example/carpool/internal/apperr"
	"github.com/example/carpool/internal/models"
)

var now = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func testRide() *models.Ride {
	return &models.Ride{
		ID:           "ride1",
		DriverID:     "driver1",
		DepartureAt:  now.Add(48 * time.Hour),
		SeatsTotal:   4,
		SeatsLeft:    4,
		PricePerSeat: 100,
		Currency:     "usd",
		Status:       models.RideActive,
	}
}

func TestNewComputesPrice(t *testing.T) {
	b, err := New(testRide(), "p1", 2, "main st", now)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if b.TotalPrice != 200 {
		t.Fatalf("total=%d, want 200", b.TotalPrice)
	}
	if b.Status != models.BookingConfirmed {
		t.Fatalf("status=%s, want confirmed (auto-confirm)", b.Status)
	}
	if b.DriverID != "driver1" || b.RideID != "ride1" {
		t.Fatalf("refs not snapshotted: %+v", b)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(testRide(), "p1", 0, "main st", now); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("zero seats err=%v, want validation", err)
	}
	if _, err := New(testRide(), "p1", 11, "main st", now); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("11 seats err=%v, want validation", err)
	}
	if _, err := New(testRide(), "p1", 2, "  ", now); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("blank pickup err=%v, want validation", err)
	}
}

func TestRefundTiers(t *testing.T) {
	cases := []struct {
		until time.Duration
		total int64
		want  int64
	}{
		{25 * time.Hour, 500, 500},
		{10 * time.Hour, 500, 250},
		{1 * time.Hour, 500, 0},
		{24 * time.Hour, 500, 250},   // boundary: not strictly more than 24h
		{2 * time.Hour, 500, 0},      // boundary: not strictly more than 2h
		{30 * time.Hour, 0, 0},
	}
	for _, c := range cases {
		if got := Refund(c.total, c.until); got != c.want {
			t.Errorf("Refund(%d, %s)=%d, want %d", c.total, c.until, got, c.want)
		}
	}
}

func TestCancelRecordsActorAndRefund(t *testing.T) {
	b, _ := New(testRide(), "p1", 2, "main st", now)
	refund, err := Cancel(b, models.CancelByPassenger, "change of plans", now) // 48h out
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if refund != 200 {
		t.Fatalf("refund=%d, want 200", refund)
	}
	if b.Status != models.BookingCancelled || b.CancelledBy != models.CancelByPassenger || b.CancelledAt == nil {
		t.Fatalf("cancel not recorded: %+v", b)
	}
}

func TestCancelWindowClosed(t *testing.T) {
	b, _ := New(testRide(), "p1", 1, "main st", now)
	late := b.DepartureAt.Add(-30 * time.Minute)
	if _, err := Cancel(b, models.CancelByPassenger, "", late); !apperr.IsKind(err, apperr.KindCancellationClosed) {
		t.Fatalf("err=%v, want cancellation_window_closed", err)
	}
	if b.Status != models.BookingConfirmed {
		t.Fatalf("failed cancel mutated booking: %s", b.Status)
	}
}

func TestCancelTwiceFails(t *testing.T) {
	b, _ := New(testRide(), "p1", 1, "main st", now)
	if _, err := Cancel(b, models.CancelByPassenger, "", now); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := Cancel(b, models.CancelByPassenger, "", now); !apperr.IsKind(err, apperr.KindInvalidState) {
		t.Fatalf("second cancel err=%v, want invalid_state", err)
	}
}

func TestRateBeforeCompletionNotEligible(t *testing.T) {
	b, _ := New(testRide(), "p1", 1, "main st", now)
	err := Rate(b, RateDriver, "p1", 5, "great", models.RideActive, now)
	if !apperr.IsKind(err, apperr.KindNotEligible) {
		t.Fatalf("err=%v, want not_eligible", err)
	}
}

func TestRateOncePerDirection(t *testing.T) {
	b, _ := New(testRide(), "p1", 1, "main st", now)
	if err := Complete(b, now); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := Rate(b, RateDriver, "p1", 5, "smooth ride", models.RideCompleted, now); err != nil {
		t.Fatalf("rate driver: %v", err)
	}
	if err := Rate(b, RateDriver, "p1", 4, "", models.RideCompleted, now); !apperr.IsKind(err, apperr.KindAlreadyRated) {
		t.Fatalf("second driver rating err=%v, want already_rated", err)
	}
	// opposite direction is independent
	if err := Rate(b, RatePassenger, "driver1", 5, "", models.RideCompleted, now); err != nil {
		t.Fatalf("rate passenger: %v", err)
	}
	if err := Rate(b, RatePassenger, "driver1", 1, "", models.RideCompleted, now); !apperr.IsKind(err, apperr.KindAlreadyRated) {
		t.Fatalf("second passenger rating err=%v, want already_rated", err)
	}
}

func TestRateWrongParty(t *testing.T) {
	b, _ := New(testRide(), "p1", 1, "main st", now)
	_ = Complete(b, now)
	if err := Rate(b, RateDriver, "someone-else", 5, "", models.RideCompleted, now); !apperr.IsKind(err, apperr.KindForbidden) {
		t.Fatalf("err=%v, want forbidden", err)
	}
	if err := Rate(b, RatePassenger, "p1", 5, "", models.RideCompleted, now); !apperr.IsKind(err, apperr.KindForbidden) {
		t.Fatalf("err=%v, want forbidden", err)
	}
}

func TestRateScoreOutOfRange(t *testing.T) {
	b, _ := New(testRide(), "p1", 1, "main st", now)
	_ = Complete(b, now)
	for _, s := range []int{0, 6, -1} {
		if err := Rate(b, RateDriver, "p1", s, "", models.RideCompleted, now); !apperr.IsKind(err, apperr.KindValidation) {
			t.Fatalf("score=%d err=%v, want validation", s, err)
		}
	}
}

func TestCompleteOnlyConfirmed(t *testing.T) {
	b, _ := New(testRide(), "p1", 1, "main st", now)
	if _, err := Cancel(b, models.CancelByPassenger, "", now); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := Complete(b, now); !apperr.IsKind(err, apperr.KindInvalidState) {
		t.Fatalf("complete cancelled err=%v, want invalid_state", err)
	}
}

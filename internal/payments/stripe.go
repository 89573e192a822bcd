// Package payments applies refund credits computed by the booking ledger.
// The core never computes amounts here; it only moves what it is told.
package payments

import (
	"context"
	"log/slog"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/refund"
)

// Refunder records or applies a refund for a cancelled booking. Failures
// are surfaced for logging but must never roll back the cancellation.
type Refunder interface {
	Refund(ctx context.Context, bookingID string, amount int64, currency string) error
}

// StripeRefunder issues refunds through the Stripe API. The booking id is
// attached as metadata so finance can reconcile credits against bookings.
type StripeRefunder struct{}

// NewStripeRefunder sets the package-level API key and returns a client.
func NewStripeRefunder(apiKey string) *StripeRefunder {
	stripe.Key = apiKey
	return &StripeRefunder{}
}

func (s *StripeRefunder) Refund(ctx context.Context, bookingID string, amount int64, currency string) error {
	if amount <= 0 {
		return nil
	}
	params := &stripe.RefundParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
	}
	params.AddMetadata("booking_id", bookingID)
	_, err := refund.New(params)
	return err
}

// LogRefunder records refunds to the log only; used when no Stripe key is
// configured (local runs, tests).
type LogRefunder struct {
	Logger *slog.Logger
}

func (l *LogRefunder) Refund(ctx context.Context, bookingID string, amount int64, currency string) error {
	if l.Logger != nil {
		l.Logger.Info("refund recorded", "booking_id", bookingID, "amount", amount, "currency", currency)
	}
	return nil
}

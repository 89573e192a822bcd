// Package alerts handles emergency alerts raised mid-ride: persist the
// alert, then fan out to every connected session so admins see it
// immediately. Fan-out is best-effort; the persisted alert is the record.
package alerts

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/carpool/internal/apperr"
	"github.com/example/carpool/internal/auth"
	"github.com/example/carpool/internal/dispatch"
	"github.com/example/carpool/internal/models"
	"github.com/example/carpool/internal/observability"
	"github.com/example/carpool/internal/storage"
)

type Service struct {
	Store    storage.AlertStore
	Notifier dispatch.Notifier
	Logger   *slog.Logger
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

type RaiseInput struct {
	RideID  string       `json:"ride_id,omitempty"`
	Coord   models.Coord `json:"coord"`
	Message string       `json:"message"`
}

func (s *Service) Raise(ctx context.Context, actor auth.Identity, in RaiseInput) (*models.Alert, error) {
	if strings.TrimSpace(in.Message) == "" {
		return nil, apperr.New(apperr.KindValidation, "alert message is required")
	}
	a := &models.Alert{
		ID:        uuid.NewString(),
		UserID:    actor.UserID,
		RideID:    in.RideID,
		Coord:     in.Coord,
		Message:   in.Message,
		Status:    models.AlertOpen,
		CreatedAt: s.now(),
	}
	if err := s.Store.InsertAlert(ctx, a); err != nil {
		return nil, err
	}
	observability.AlertsOpen.Inc()
	s.Notifier.Broadcast("emergency_alert", a)
	s.Logger.Warn("emergency alert raised", "alert_id", a.ID, "user_id", actor.UserID, "ride_id", in.RideID)
	return a, nil
}

// Ack acknowledges an open alert; admin only.
func (s *Service) Ack(ctx context.Context, actor auth.Identity, alertID string) (*models.Alert, error) {
	if !actor.IsAdmin() {
		return nil, apperr.New(apperr.KindForbidden, "only admins acknowledge alerts")
	}
	a, err := s.Store.AckAlert(ctx, alertID, actor.UserID, s.now())
	if err != nil {
		return nil, err
	}
	observability.AlertsOpen.Dec()
	return a, nil
}

func (s *Service) ListOpen(ctx context.Context, actor auth.Identity, limit int) ([]*models.Alert, error) {
	if !actor.IsAdmin() {
		return nil, apperr.New(apperr.KindForbidden, "only admins list alerts")
	}
	return s.Store.ListAlerts(ctx, models.AlertOpen, limit)
}

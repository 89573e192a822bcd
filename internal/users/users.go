// Package users keeps the minimal profile the core needs: display data
// and rating aggregates. Credentials and account lifecycle live in the
// external identity service.
package users

import (
	"context"
	"time"

	"github.com/example/carpool/internal/apperr"
	"github.com/example/carpool/internal/auth"
	"github.com/example/carpool/internal/models"
	"github.com/example/carpool/internal/storage"
)

type Service struct {
	Store storage.UserStore
	Now   func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

type ProfileInput struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

// Save upserts the caller's profile, preserving rating aggregates already
// accumulated under the same id.
func (s *Service) Save(ctx context.Context, id auth.Identity, in ProfileInput) (*models.User, error) {
	if in.Name == "" {
		in.Name = id.Name
	}
	if in.Name == "" {
		return nil, apperr.New(apperr.KindValidation, "profile name is required")
	}
	u, err := s.Store.FindUserByID(ctx, id.UserID)
	if apperr.IsKind(err, apperr.KindNotFound) {
		u = &models.User{ID: id.UserID, CreatedAt: s.now()}
	} else if err != nil {
		return nil, err
	}
	u.Name = in.Name
	u.Phone = in.Phone
	u.Role = id.Role
	if err := s.Store.UpsertUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) Get(ctx context.Context, userID string) (*models.User, error) {
	return s.Store.FindUserByID(ctx, userID)
}

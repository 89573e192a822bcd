// Package auth verifies bearer tokens issued by the identity service.
// The core trusts the verified identity; no credential handling lives here.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/carpool/internal/apperr"
	"github.com/example/carpool/internal/models"
)

// Identity is the authenticated caller attached to every request.
type Identity struct {
	UserID string      `json:"user_id"`
	Name   string      `json:"name,omitempty"`
	Role   models.Role `json:"role"`
}

// IsAdmin reports whether the identity may act on behalf of the system.
func (id Identity) IsAdmin() bool { return id.Role == models.RoleAdmin }

type claims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates HMAC-signed tokens from the identity service.
type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Verify parses and validates a bearer token, returning the identity it
// carries. All failures map to the unauthorized kind.
func (v *Verifier) Verify(token string) (Identity, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperr.Newf(apperr.KindUnauthorized, "unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithIssuer(v.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return Identity{}, apperr.Wrap(apperr.KindUnauthorized, "invalid token", err)
	}
	if !parsed.Valid || c.UserID == "" {
		return Identity{}, apperr.New(apperr.KindUnauthorized, "token carries no identity")
	}
	role := models.Role(c.Role)
	switch role {
	case models.RolePassenger, models.RoleDriver, models.RoleAdmin:
	default:
		return Identity{}, apperr.Newf(apperr.KindUnauthorized, "unknown role %q", c.Role)
	}
	return Identity{UserID: c.UserID, Name: c.Name, Role: role}, nil
}

// Issue mints a token for the identity; used by tooling and tests.
func (v *Verifier) Issue(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		UserID: id.UserID,
		Name:   id.Name,
		Role:   string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.secret)
}

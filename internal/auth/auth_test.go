package auth

import (
	"testing"
	"time"

	"github.com/example/carpool/internal/apperr"
	"github.com/example/carpool/internal/models"
)

func TestIssueAndVerify(t *testing.T) {
	v := NewVerifier("test-secret", "carpool")
	tok, err := v.Issue(Identity{UserID: "u1", Name: "Sam", Role: models.RoleDriver}, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	id, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.UserID != "u1" || id.Role != models.RoleDriver {
		t.Fatalf("identity = %+v", id)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	tok, _ := NewVerifier("secret-a", "carpool").Issue(Identity{UserID: "u1", Role: models.RolePassenger}, time.Minute)
	_, err := NewVerifier("secret-b", "carpool").Verify(tok)
	if !apperr.IsKind(err, apperr.KindUnauthorized) {
		t.Fatalf("err=%v, want unauthorized", err)
	}
}

func TestVerifyExpired(t *testing.T) {
	v := NewVerifier("test-secret", "carpool")
	tok, _ := v.Issue(Identity{UserID: "u1", Role: models.RolePassenger}, -time.Minute)
	if _, err := v.Verify(tok); !apperr.IsKind(err, apperr.KindUnauthorized) {
		t.Fatalf("err=%v, want unauthorized", err)
	}
}

func TestVerifyUnknownRole(t *testing.T) {
	v := NewVerifier("test-secret", "carpool")
	tok, _ := v.Issue(Identity{UserID: "u1", Role: "superuser"}, time.Minute)
	if _, err := v.Verify(tok); !apperr.IsKind(err, apperr.KindUnauthorized) {
		t.Fatalf("err=%v, want unauthorized", err)
	}
}

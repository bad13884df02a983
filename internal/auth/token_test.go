package auth

import (
	"errors"
	"testing"
	"time"

	"fieldqa/api/internal/qa"
)

func TestIssueAndParse(t *testing.T) {
	tokens := NewTokens("test-secret", time.Hour)
	now := time.Now().UTC()

	signed, expiresAt, err := tokens.Issue("user-1", "Dana", qa.RolePM, now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !expiresAt.After(now) {
		t.Fatalf("expiry must be in the future")
	}

	claims, err := tokens.Parse(signed)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.UserID != "user-1" || claims.Name != "Dana" || claims.Role != qa.RolePM {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	tokens := NewTokens("test-secret", time.Hour)
	signed, _, err := tokens.Issue("user-1", "Dana", qa.RolePM, time.Now().UTC().Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := tokens.Parse(signed); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	signed, _, err := NewTokens("secret-a", time.Hour).Issue("user-1", "Dana", qa.RolePM, time.Now().UTC())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := NewTokens("secret-b", time.Hour).Parse(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	tokens := NewTokens("test-secret", time.Hour)
	for _, raw := range []string{"", "not.a.token", "aaaa.bbbb.cccc"} {
		if _, err := tokens.Parse(raw); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Parse(%q): expected ErrInvalidToken, got %v", raw, err)
		}
	}
}

func TestParseRejectsUnknownRoleClaim(t *testing.T) {
	tokens := NewTokens("test-secret", time.Hour)
	signed, _, err := tokens.Issue("user-1", "Dana", qa.Role("superuser"), time.Now().UTC())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := tokens.Parse(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for unknown role, got %v", err)
	}
}

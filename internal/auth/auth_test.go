package auth

import (
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return s
}

func TestVerify_ValidToken(t *testing.T) {
	v := NewVerifier(testSecret)
	tok := signToken(t, testSecret, jwt.MapClaims{
		"uid":   "user-1",
		"email": "a@example.com",
		"name":  "Alice",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	id, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.UserID != "user-1" || id.Email != "a@example.com" || id.Name != "Alice" {
		t.Errorf("unexpected identity: %+v", id)
	}
}

func TestVerify_RejectsEmptyToken(t *testing.T) {
	v := NewVerifier(testSecret)
	if _, err := v.Verify(""); err == nil {
		t.Error("empty token must be rejected")
	}
}

func TestVerify_RejectsWrongSecret(t *testing.T) {
	v := NewVerifier(testSecret)
	tok := signToken(t, "other-secret", jwt.MapClaims{"uid": "user-1"})
	if _, err := v.Verify(tok); err == nil {
		t.Error("token signed with a different secret must be rejected")
	}
}

func TestVerify_RejectsExpiredToken(t *testing.T) {
	v := NewVerifier(testSecret)
	tok := signToken(t, testSecret, jwt.MapClaims{
		"uid": "user-1",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	if _, err := v.Verify(tok); err == nil {
		t.Error("expired token must be rejected")
	}
}

func TestVerify_RequiresUID(t *testing.T) {
	v := NewVerifier(testSecret)
	tok := signToken(t, testSecret, jwt.MapClaims{"email": "a@example.com"})
	if _, err := v.Verify(tok); err == nil {
		t.Error("token without uid claim must be rejected")
	}
}

func TestVerify_RejectsGarbage(t *testing.T) {
	v := NewVerifier(testSecret)
	if _, err := v.Verify("not.a.jwt"); err == nil {
		t.Error("malformed token must be rejected")
	}
}

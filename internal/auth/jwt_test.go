package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestJWTService(t *testing.T) *JWTService {
	t.Helper()
	svc, err := NewJWTService([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewJWTService returned error: %v", err)
	}
	return svc
}

func TestJWTRoundTrip(t *testing.T) {
	svc := newTestJWTService(t)
	userID := uuid.New()

	token, err := svc.CreateToken(userID, "user@example.com", time.Hour)
	if err != nil {
		t.Fatalf("CreateToken returned error: %v", err)
	}

	claims, err := svc.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken returned error: %v", err)
	}
	if claims.UserID != userID.String() {
		t.Errorf("UserID = %s, want %s", claims.UserID, userID)
	}
	if claims.Email != "user@example.com" {
		t.Errorf("Email = %q", claims.Email)
	}
}

func TestJWTExpiredToken(t *testing.T) {
	svc := newTestJWTService(t)

	token, err := svc.CreateToken(uuid.New(), "user@example.com", -time.Minute)
	if err != nil {
		t.Fatalf("CreateToken returned error: %v", err)
	}

	_, err = svc.VerifyToken(token)
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("error = %v, want ErrExpiredToken", err)
	}
}

func TestJWTWrongSecret(t *testing.T) {
	svc := newTestJWTService(t)
	other, err := NewJWTService([]byte("ffffffffffffffffffffffffffffffff"))
	if err != nil {
		t.Fatalf("NewJWTService returned error: %v", err)
	}

	token, err := svc.CreateToken(uuid.New(), "user@example.com", time.Hour)
	if err != nil {
		t.Fatalf("CreateToken returned error: %v", err)
	}

	if _, err := other.VerifyToken(token); err == nil {
		t.Error("token signed with a different secret verified cleanly")
	}
}

func TestJWTTamperedToken(t *testing.T) {
	svc := newTestJWTService(t)

	token, err := svc.CreateToken(uuid.New(), "user@example.com", time.Hour)
	if err != nil {
		t.Fatalf("CreateToken returned error: %v", err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("token has %d segments, want 3", len(parts))
	}
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	if _, err := svc.VerifyToken(tampered); err == nil {
		t.Error("tampered token verified cleanly")
	}
}

package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestNew(t *testing.T) {
	const secret = "test-secret"

	t.Run("round trips subject and role", func(t *testing.T) {
		at, err := New(secret, "alice", "instructor", time.Hour)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		tok, err := jwt.Parse(at.Token, func(_ *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		})
		if err != nil || !tok.Valid {
			t.Fatalf("expected a valid token, got err=%v", err)
		}
		claims := tok.Claims.(jwt.MapClaims)
		if claims["sub"] != "alice" || claims["role"] != "instructor" {
			t.Errorf("unexpected claims: %v", claims)
		}
	})

	t.Run("expiry matches the ttl", func(t *testing.T) {
		at, err := New(secret, "bob", "student", 30*time.Minute)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		want := time.Now().UTC().Add(30 * time.Minute)
		if d := at.Exp.Sub(want); d < -time.Minute || d > time.Minute {
			t.Errorf("expiry off by %v", d)
		}
	})

	t.Run("rejects the wrong secret", func(t *testing.T) {
		at, err := New(secret, "carol", "ta", time.Hour)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		tok, err := jwt.Parse(at.Token, func(_ *jwt.Token) (interface{}, error) {
			return []byte("other-secret"), nil
		})
		if err == nil && tok.Valid {
			t.Error("expected validation to fail with the wrong secret")
		}
	})
}

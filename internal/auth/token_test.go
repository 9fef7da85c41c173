package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"video-compiler-service/internal/apperror"
	"video-compiler-service/internal/auth"
	"video-compiler-service/internal/config"
)

func sign(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func TestVerifier_Valid(t *testing.T) {
	v, err := auth.NewVerifier(config.Auth{JWTSecret: "s3cret", Issuer: "art"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	id := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	tok := sign(t, "s3cret", jwt.RegisteredClaims{
		Subject:   id.String(),
		Issuer:    "art",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	caller, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if caller.UserID != id {
		t.Fatalf("expected %s, got %s", id, caller.UserID)
	}
}

func TestVerifier_Rejects(t *testing.T) {
	v, _ := auth.NewVerifier(config.Auth{JWTSecret: "s3cret", Issuer: "art"})
	sub := uuid.NewString()
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	cases := map[string]string{
		"empty":         "",
		"wrong secret":  sign(t, "other", jwt.RegisteredClaims{Subject: sub, Issuer: "art", ExpiresAt: future}),
		"expired":       sign(t, "s3cret", jwt.RegisteredClaims{Subject: sub, Issuer: "art", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))}),
		"no expiry":     sign(t, "s3cret", jwt.RegisteredClaims{Subject: sub, Issuer: "art"}),
		"wrong issuer":  sign(t, "s3cret", jwt.RegisteredClaims{Subject: sub, Issuer: "evil", ExpiresAt: future}),
		"subject !uuid": sign(t, "s3cret", jwt.RegisteredClaims{Subject: "bob", Issuer: "art", ExpiresAt: future}),
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(tok)
			if apperror.CodeOf(err) != apperror.CodeUnauthorized {
				t.Fatalf("expected UNAUTHORIZED, got %v", err)
			}
		})
	}
}

func TestNewVerifier_RequiresSecret(t *testing.T) {
	if _, err := auth.NewVerifier(config.Auth{}); err == nil {
		t.Fatal("expected error without secret")
	}
}

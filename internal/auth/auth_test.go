package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func setSecret(t *testing.T, value string) {
	t.Helper()
	t.Setenv("STRIDE_AUTH_SECRET", value)
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)
}

func TestGenerateAndValidate(t *testing.T) {
	setSecret(t, "test-secret")

	signed, err := GenerateToken("u1", "Dispatcher", []string{"Staff", "staff", " admin "}, time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := ParseAndValidate(signed)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != "u1" || claims.Name != "Dispatcher" {
		t.Fatalf("claims = %+v", claims)
	}
	if len(claims.Roles) != 2 || claims.Roles[0] != "staff" || claims.Roles[1] != "admin" {
		t.Fatalf("roles not deduplicated: %v", claims.Roles)
	}
}

func TestValidateExpired(t *testing.T) {
	setSecret(t, "test-secret")

	signed, err := GenerateToken("u1", "", nil, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, err := ParseAndValidate(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateWrongSecret(t *testing.T) {
	setSecret(t, "secret-one")
	signed, err := GenerateToken("u1", "", nil, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	setSecret(t, "secret-two")
	if _, err := ParseAndValidate(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestEnabled(t *testing.T) {
	setSecret(t, "")
	if Enabled() {
		t.Fatal("auth must be disabled without a secret")
	}
	setSecret(t, "x")
	if !Enabled() {
		t.Fatal("auth must be enabled with a secret")
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := ContextWithUser(context.Background(), "u1", "Dispatcher", []string{"staff"})

	id, ok := UserIDFromContext(ctx)
	if !ok || id != "u1" {
		t.Fatalf("user id = %q %v", id, ok)
	}
	if UserNameFromContext(ctx) != "Dispatcher" {
		t.Fatalf("name = %q", UserNameFromContext(ctx))
	}
	if !HasRole(ctx, "STAFF") {
		t.Fatal("HasRole must be case-insensitive")
	}
	if HasRole(ctx, "admin") {
		t.Fatal("unexpected role")
	}

	if _, ok := UserIDFromContext(context.Background()); ok {
		t.Fatal("empty context must not yield a user")
	}
}

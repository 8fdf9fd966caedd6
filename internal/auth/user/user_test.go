package user

import (
	"errors"
	"testing"
	"time"
)

func TestCreateUserNormalizesInput(t *testing.T) {
	fixed := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	created, err := CreateUser(CreateUserInput{
		Username: "  Alice  ",
		Email:    " Alice@Example.COM ",
	}, func() time.Time { return fixed }, func() (string, error) { return "user-1", nil })
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if created.ID != "user-1" {
		t.Fatalf("expected injected id, got %s", created.ID)
	}
	if created.Username != "alice" {
		t.Fatalf("expected lowercased username, got %q", created.Username)
	}
	if created.DisplayName != "alice" {
		t.Fatalf("expected display name fallback, got %q", created.DisplayName)
	}
	if created.Email != "alice@example.com" {
		t.Fatalf("expected normalized email, got %q", created.Email)
	}
	if !created.Active {
		t.Fatal("expected new user to be active")
	}
	if !created.CreatedAt.Equal(fixed) {
		t.Fatalf("expected created at %v, got %v", fixed, created.CreatedAt)
	}
	if created.LastLoginAt != nil {
		t.Fatal("expected no last login for new user")
	}
}

func TestCreateUserKeepsDisplayName(t *testing.T) {
	created, err := CreateUser(CreateUserInput{
		Username:    "alice",
		DisplayName: "Alice L.",
	}, nil, func() (string, error) { return "user-1", nil })
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if created.DisplayName != "Alice L." {
		t.Fatalf("expected display name preserved, got %q", created.DisplayName)
	}
}

func TestCreateUserEmptyUsername(t *testing.T) {
	_, err := CreateUser(CreateUserInput{Username: "   "}, nil, nil)
	if !errors.Is(err, ErrEmptyUsername) {
		t.Fatalf("expected empty username error, got %v", err)
	}
}

func TestValidateUsername(t *testing.T) {
	valid := []string{"alice", "a-b_c.d", "abc", "user123456789012345678901234567"}
	for _, name := range valid {
		if err := ValidateUsername(name); err != nil {
			t.Fatalf("expected %q valid: %v", name, err)
		}
	}
	invalid := []string{"ab", "Alice", "with space", "émile", "toolongusernametoolongusernametoo"}
	for _, name := range invalid {
		if err := ValidateUsername(name); !errors.Is(err, ErrInvalidUsername) {
			t.Fatalf("expected %q invalid, got %v", name, err)
		}
	}
}

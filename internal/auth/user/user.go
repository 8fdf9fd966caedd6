package user

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/boardpulse/boardpulse/internal/platform/errors"
	"github.com/boardpulse/boardpulse/internal/platform/id"
)

var (
	// ErrEmptyUsername indicates a missing username.
	ErrEmptyUsername = apperrors.New(apperrors.CodeUserEmptyUsername, "username is required")
	// ErrInvalidUsername indicates a username that does not match the required format.
	ErrInvalidUsername = apperrors.New(apperrors.CodeUserInvalidUsername, "username must be 3-32 lowercase alphanumeric, dot, dash, or underscore characters")

	usernamePattern = regexp.MustCompile(`^[a-z0-9_.\-]{3,32}$`)
)

// User represents an authenticated identity record. Users are never hard
// deleted; Active is cleared instead so credentials and sessions keep a
// valid owner row.
type User struct {
	ID          string
	Username    string
	DisplayName string
	Email       string
	Active      bool
	CreatedAt   time.Time
	LastLoginAt *time.Time
}

// CreateUserInput describes the metadata needed to create a user.
type CreateUserInput struct {
	Username    string
	DisplayName string
	Email       string
}

// ValidateUsername enforces canonical username constraints.
func ValidateUsername(s string) error {
	if !usernamePattern.MatchString(s) {
		return ErrInvalidUsername
	}
	return nil
}

// CreateUser creates a durable user identity from validated input.
//
// Registration treats this as the canonical point where an untrusted
// username becomes a stable identity anchor for credentials and sessions.
func CreateUser(input CreateUserInput, now func() time.Time, idGenerator func() (string, error)) (User, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateUserInput(input)
	if err != nil {
		return User{}, err
	}

	userID, err := idGenerator()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	return User{
		ID:          userID,
		Username:    normalized.Username,
		DisplayName: normalized.DisplayName,
		Email:       normalized.Email,
		Active:      true,
		CreatedAt:   now().UTC(),
	}, nil
}

// NormalizeCreateUserInput trims and normalizes input before validation.
func NormalizeCreateUserInput(input CreateUserInput) (CreateUserInput, error) {
	input.Username = strings.ToLower(strings.TrimSpace(input.Username))
	if input.Username == "" {
		return CreateUserInput{}, ErrEmptyUsername
	}
	if err := ValidateUsername(input.Username); err != nil {
		return CreateUserInput{}, err
	}
	input.DisplayName = strings.TrimSpace(input.DisplayName)
	if input.DisplayName == "" {
		input.DisplayName = input.Username
	}
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	return input, nil
}

package storage

import (
	"context"
	"time"

	"github.com/boardpulse/boardpulse/internal/auth/passkey"
	"github.com/boardpulse/boardpulse/internal/auth/user"
	"github.com/boardpulse/boardpulse/internal/platform/errors"
)

// ErrNotFound indicates a requested record is missing or expired.
// Storage-layer failures are never folded into this sentinel.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// ErrAlreadyExists indicates a uniqueness constraint rejected a write.
var ErrAlreadyExists = errors.New(errors.CodeAlreadyExists, "record already exists")

// ErrCounterRegression indicates a credential sign counter update would not
// strictly increase the stored value. Treated as a cloned-authenticator
// signal, never silently accepted.
var ErrCounterRegression = errors.New(errors.CodeAuthenticationRejected, "credential sign counter regressed")

// Credential stores a registered passkey public key for a user.
type Credential struct {
	ID             string
	UserID         string
	CredentialID   string // externally-supplied identifier, base64url, globally unique
	CredentialJSON string // serialized public key material from the verifier
	SignCount      uint32
	Label          string
	Active         bool
	CreatedAt      time.Time
	LastUsedAt     *time.Time
}

// Challenge is a single-use ceremony nonce, keyed by its own value.
type Challenge struct {
	Value        string // base64url challenge bytes, the primary lookup key
	Kind         passkey.CeremonyKind
	UserID       string // empty for discoverable authentication
	MetadataJSON string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Session is the server-side record backing an issued bearer token.
// Only the token hash is persisted, never the raw token.
type Session struct {
	ID           string
	UserID       string
	TokenHash    string
	UserAgent    string
	RemoteAddr   string
	Active       bool
	CreatedAt    time.Time
	LastActiveAt time.Time
	ExpiresAt    time.Time
}

// UserStore persists user identity records.
type UserStore interface {
	PutUser(ctx context.Context, u user.User) error
	GetUser(ctx context.Context, userID string) (user.User, error)
	GetUserByUsername(ctx context.Context, username string) (user.User, error)
	TouchUserLogin(ctx context.Context, userID string, at time.Time) error
}

// CredentialStore persists passkey credentials.
type CredentialStore interface {
	InsertCredential(ctx context.Context, credential Credential) error
	GetCredentialByCredentialID(ctx context.Context, credentialID string) (Credential, error)
	ListActiveCredentials(ctx context.Context, userID string) ([]Credential, error)
	UpdateCredentialSignCount(ctx context.Context, credentialID string, signCount uint32, credentialJSON string, lastUsedAt time.Time) error
	DeactivateCredential(ctx context.Context, credentialID string) error
}

// ChallengeStore persists single-use ceremony challenges.
type ChallengeStore interface {
	UpsertChallenge(ctx context.Context, challenge Challenge) error
	// ConsumeChallenge fetches and deletes an unexpired challenge in one
	// atomic operation. Two concurrent calls on the same value yield
	// exactly one success and one ErrNotFound.
	ConsumeChallenge(ctx context.Context, value string, now time.Time) (Challenge, error)
	DeleteExpiredChallenges(ctx context.Context, now time.Time) (int64, error)
}

// SessionStore persists bearer session records.
type SessionStore interface {
	PutSession(ctx context.Context, session Session) error
	// GetSessionByTokenHash returns the session only while it is active
	// and unexpired at now.
	GetSessionByTokenHash(ctx context.Context, tokenHash string, now time.Time) (Session, error)
	TouchSession(ctx context.Context, tokenHash string, at time.Time) error
	InvalidateSession(ctx context.Context, tokenHash string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

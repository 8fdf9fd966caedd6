// Package ceremony drives WebAuthn registration and authentication end to
// end: option assembly, challenge issuance, response verification, and the
// credential/session writes that follow a verified response.
package ceremony

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/boardpulse/boardpulse/internal/auth/challenge"
	"github.com/boardpulse/boardpulse/internal/auth/passkey"
	"github.com/boardpulse/boardpulse/internal/auth/session"
	"github.com/boardpulse/boardpulse/internal/auth/storage"
	"github.com/boardpulse/boardpulse/internal/auth/user"
	apperrors "github.com/boardpulse/boardpulse/internal/platform/errors"
	"github.com/boardpulse/boardpulse/internal/platform/id"
)

var (
	// ErrRegistrationRejected indicates the verification primitive declined
	// a registration response. No writes are performed.
	ErrRegistrationRejected = apperrors.New(apperrors.CodeRegistrationRejected, "passkey registration was rejected")
	// ErrAuthenticationRejected indicates a declined authentication response.
	// Deliberately generic: the caller cannot tell which sub-check failed.
	ErrAuthenticationRejected = apperrors.New(apperrors.CodeAuthenticationRejected, "passkey authentication was rejected")
	// ErrCredentialNotFound indicates the asserted credential identifier
	// matches no stored active credential.
	ErrCredentialNotFound = apperrors.New(apperrors.CodeCredentialNotFound, "credential not found")
	// ErrUserNotFound indicates a credential references a user record that
	// no longer exists. An integrity fault, not a client error.
	ErrUserNotFound = apperrors.New(apperrors.CodeUserNotFound, "user record missing")
	// ErrUserInactive indicates the account exists but has been disabled.
	ErrUserInactive = apperrors.New(apperrors.CodeUserInactive, "user is inactive")
)

// Store is the persistence surface the orchestrator drives directly.
// Challenge and session persistence go through their own components.
type Store interface {
	storage.UserStore
	storage.CredentialStore
}

// UserSummary is the minimal user shape returned after authentication.
type UserSummary struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

// BeginResult carries encoded ceremony options back to the client. For
// registration, UserID identifies the account the ceremony is bound to;
// for authentication, ChallengeKey identifies the pending ceremony.
type BeginResult struct {
	OptionsJSON  []byte
	UserID       string
	ChallengeKey string
}

// AuthResult is the outcome of a successful authentication ceremony.
type AuthResult struct {
	Token string
	User  UserSummary
}

// Orchestrator coordinates the verification primitive with credential,
// challenge, and session persistence.
type Orchestrator struct {
	store       Store
	broker      *challenge.Broker
	sessions    *session.Manager
	provider    Provider
	parser      Parser
	clock       func() time.Time
	idGenerator func() (string, error)
	logf        func(format string, args ...any)
}

// NewOrchestrator builds an orchestrator over the given stores using a
// relying party constructed from cfg.
func NewOrchestrator(store Store, broker *challenge.Broker, sessions *session.Manager, cfg passkey.Config) (*Orchestrator, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if broker == nil {
		return nil, fmt.Errorf("challenge broker is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	provider, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.RPDisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("configure relying party: %w", err)
	}
	return &Orchestrator{
		store:       store,
		broker:      broker,
		sessions:    sessions,
		provider:    provider,
		parser:      defaultParser{},
		clock:       time.Now,
		idGenerator: id.NewID,
		logf:        log.Printf,
	}, nil
}

// WithProvider overrides the verification primitive for tests.
func (o *Orchestrator) WithProvider(provider Provider) *Orchestrator {
	if provider != nil {
		o.provider = provider
	}
	return o
}

// WithParser overrides response parsing for tests.
func (o *Orchestrator) WithParser(parser Parser) *Orchestrator {
	if parser != nil {
		o.parser = parser
	}
	return o
}

// WithClock overrides the orchestrator's time source for tests.
func (o *Orchestrator) WithClock(clock func() time.Time) *Orchestrator {
	if clock != nil {
		o.clock = clock
	}
	return o
}

// WithLogf overrides security event logging for tests.
func (o *Orchestrator) WithLogf(logf func(format string, args ...any)) *Orchestrator {
	if logf != nil {
		o.logf = logf
	}
	return o
}

// ValidateToken checks a bearer token and returns the owning user id.
func (o *Orchestrator) ValidateToken(ctx context.Context, token string) (string, error) {
	claims, err := o.sessions.Validate(ctx, token)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

// Logout revokes the session behind the token. Idempotent.
func (o *Orchestrator) Logout(ctx context.Context, token string) error {
	return o.sessions.Revoke(ctx, token)
}

// loadWebauthnUser assembles the verification-primitive view of a user
// from its active stored credentials.
func (o *Orchestrator) loadWebauthnUser(ctx context.Context, base user.User) (*webauthnUser, error) {
	records, err := o.store.ListActiveCredentials(ctx, base.ID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageUnavailable, "list credentials", err)
	}
	credentials, err := decodeStoredCredentials(records)
	if err != nil {
		return nil, err
	}
	return &webauthnUser{user: base, credentials: credentials}, nil
}

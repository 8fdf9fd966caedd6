// Package session mints and validates bearer session tokens.
//
// Tokens are signed, self-describing JWTs bound to a persisted session row
// by a one-way hash. The signature check rejects garbage cheaply; the row
// lookup makes revocation and "logout everywhere" possible, at the cost of
// one storage read per validated request.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/boardpulse/boardpulse/internal/auth/storage"
	apperrors "github.com/boardpulse/boardpulse/internal/platform/errors"
	"github.com/boardpulse/boardpulse/internal/platform/id"
)

// ErrInvalidToken indicates a malformed, expired, revoked, or unknown token.
var ErrInvalidToken = apperrors.New(apperrors.CodeInvalidToken, "session token is invalid")

// ClientMeta captures request metadata recorded on the session.
type ClientMeta struct {
	UserAgent  string
	RemoteAddr string
}

// Claims are the validated contents of a session token.
type Claims struct {
	UserID    string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// sessionClaims is the internal claims type used for JWT signing/parsing.
type sessionClaims struct {
	jwt.RegisteredClaims
}

// Manager mints, validates, and revokes session tokens.
type Manager struct {
	store       storage.SessionStore
	secret      []byte
	issuer      string
	ttl         time.Duration
	clock       func() time.Time
	idGenerator func() (string, error)
}

// NewManager creates a session manager from validated configuration.
func NewManager(store storage.SessionStore, cfg Config) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if len(cfg.Secret) < minSecretBytes {
		return nil, fmt.Errorf("session secret must be at least %d bytes", minSecretBytes)
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("session ttl must be positive")
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, fmt.Errorf("session issuer is required")
	}
	return &Manager{
		store:       store,
		secret:      cfg.Secret,
		issuer:      issuer,
		ttl:         cfg.TTL,
		clock:       time.Now,
		idGenerator: id.NewID,
	}, nil
}

// WithClock overrides the manager's time source for tests.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	if clock != nil {
		m.clock = clock
	}
	return m
}

// WithIDGenerator overrides session id generation for tests.
func (m *Manager) WithIDGenerator(generator func() (string, error)) *Manager {
	if generator != nil {
		m.idGenerator = generator
	}
	return m
}

// Mint signs a new token for userID and persists the backing session row.
// A non-positive ttl falls back to the configured default. The raw token is
// returned exactly once; storage only ever sees its hash.
func (m *Manager) Mint(ctx context.Context, userID string, ttl time.Duration, meta ClientMeta) (string, error) {
	if m == nil || m.store == nil {
		return "", fmt.Errorf("session manager is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("user id is required")
	}
	if ttl <= 0 {
		ttl = m.ttl
	}

	sessionID, err := m.idGenerator()
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}

	now := m.clock().UTC()
	expiresAt := now.Add(ttl)
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        sessionID,
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}

	err = m.store.PutSession(ctx, storage.Session{
		ID:           sessionID,
		UserID:       userID,
		TokenHash:    hashToken(token),
		UserAgent:    meta.UserAgent,
		RemoteAddr:   meta.RemoteAddr,
		Active:       true,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    expiresAt,
	})
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeStorageUnavailable, "persist session", err)
	}
	return token, nil
}

// Validate verifies the token locally first, then requires a matching
// active, unexpired session row. A structurally valid but revoked or
// unknown token is rejected. Successful validation refreshes the
// session's last-active timestamp.
func (m *Manager) Validate(ctx context.Context, token string) (Claims, error) {
	if m == nil || m.store == nil {
		return Claims{}, fmt.Errorf("session manager is not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrInvalidToken
	}

	parsed, err := m.parseClaims(token)
	if err != nil {
		return Claims{}, err
	}

	now := m.clock().UTC()
	record, err := m.store.GetSessionByTokenHash(ctx, hashToken(token), now)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Claims{}, ErrInvalidToken
		}
		return Claims{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "look up session", err)
	}
	if record.UserID != parsed.UserID || record.ID != parsed.SessionID {
		// A signed token pointing at someone else's row is an integrity
		// fault, not a client error.
		return Claims{}, apperrors.New(apperrors.CodeUserNotFound, "session record does not match token claims")
	}

	if err := m.store.TouchSession(ctx, hashToken(token), now); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return Claims{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "touch session", err)
	}
	return parsed, nil
}

// Revoke marks the matching session inactive. Idempotent: revoking an
// unknown or already-revoked token succeeds.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	if m == nil || m.store == nil {
		return fmt.Errorf("session manager is not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	if err := m.store.InvalidateSession(ctx, hashToken(token)); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageUnavailable, "revoke session", err)
	}
	return nil
}

// SweepExpired removes expired session rows.
func (m *Manager) SweepExpired(ctx context.Context) (int64, error) {
	if m == nil || m.store == nil {
		return 0, fmt.Errorf("session manager is not configured")
	}
	swept, err := m.store.DeleteExpiredSessions(ctx, m.clock().UTC())
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeStorageUnavailable, "sweep sessions", err)
	}
	return swept, nil
}

// parseClaims verifies the token signature and claims without touching
// storage, so garbage and expired tokens are rejected cheaply.
func (m *Manager) parseClaims(token string) (Claims, error) {
	var parsed sessionClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	if parsed.Issuer != m.issuer {
		return Claims{}, ErrInvalidToken
	}
	if strings.TrimSpace(parsed.Subject) == "" || strings.TrimSpace(parsed.ID) == "" {
		return Claims{}, ErrInvalidToken
	}
	if parsed.ExpiresAt == nil || parsed.IssuedAt == nil {
		return Claims{}, ErrInvalidToken
	}

	now := m.clock().UTC()
	expiresAt := parsed.ExpiresAt.Time.UTC()
	if !expiresAt.After(now) {
		return Claims{}, ErrInvalidToken
	}

	return Claims{
		UserID:    parsed.Subject,
		SessionID: parsed.ID,
		IssuedAt:  parsed.IssuedAt.Time.UTC(),
		ExpiresAt: expiresAt,
	}, nil
}

// hashToken derives the one-way storage key for a token. Only the hash is
// persisted, so a leaked database cannot be replayed as bearer tokens.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

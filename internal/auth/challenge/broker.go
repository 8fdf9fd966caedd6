// Package challenge manages single-use, time-bounded ceremony nonces.
//
// Challenges are persisted in the shared store rather than process memory,
// so any dashboard process can finish a ceremony another process began, and
// a restart between begin and finish does not strand the client.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/boardpulse/boardpulse/internal/auth/passkey"
	"github.com/boardpulse/boardpulse/internal/auth/storage"
	apperrors "github.com/boardpulse/boardpulse/internal/platform/errors"
)

// ErrExpiredOrMissing indicates a challenge was never issued, already
// consumed, expired, or issued for a different ceremony. Callers restart
// the ceremony with a fresh begin call; challenges are never reissued.
var ErrExpiredOrMissing = apperrors.New(apperrors.CodeChallengeExpiredOrMissing, "ceremony challenge is expired or missing")

// DefaultTTL bounds how long a client has to complete a ceremony.
const DefaultTTL = 10 * time.Minute

// Broker issues and consumes ceremony challenges keyed by their value.
type Broker struct {
	store storage.ChallengeStore
	ttl   time.Duration
	clock func() time.Time
}

// NewBroker creates a challenge broker over the given store. A non-positive
// ttl falls back to DefaultTTL.
func NewBroker(store storage.ChallengeStore, ttl time.Duration) *Broker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Broker{
		store: store,
		ttl:   ttl,
		clock: time.Now,
	}
}

// WithClock overrides the broker's time source for tests.
func (b *Broker) WithClock(clock func() time.Time) *Broker {
	if clock != nil {
		b.clock = clock
	}
	return b
}

// Issue persists a new challenge and returns its caller-visible key, which
// is the challenge value itself. Reissuing the same value replaces the
// prior challenge rather than stacking copies.
func (b *Broker) Issue(ctx context.Context, kind passkey.CeremonyKind, value string, userID string, metadataJSON string) (string, error) {
	if b == nil || b.store == nil {
		return "", fmt.Errorf("challenge store is not configured")
	}
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("challenge value is required")
	}
	if strings.TrimSpace(metadataJSON) == "" {
		metadataJSON = "{}"
	}

	now := b.clock().UTC()
	err := b.store.UpsertChallenge(ctx, storage.Challenge{
		Value:        value,
		Kind:         kind,
		UserID:       userID,
		MetadataJSON: metadataJSON,
		CreatedAt:    now,
		ExpiresAt:    now.Add(b.ttl),
	})
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeStorageUnavailable, "issue challenge", err)
	}
	return value, nil
}

// Consume fetches and deletes the challenge for key in one atomic storage
// operation, then checks it was issued for the expected ceremony kind.
// Every failure mode a client could probe (absent, expired, consumed,
// wrong kind) reports the same ErrExpiredOrMissing.
func (b *Broker) Consume(ctx context.Context, key string, kind passkey.CeremonyKind) (storage.Challenge, error) {
	if b == nil || b.store == nil {
		return storage.Challenge{}, fmt.Errorf("challenge store is not configured")
	}
	if strings.TrimSpace(key) == "" {
		return storage.Challenge{}, ErrExpiredOrMissing
	}

	consumed, err := b.store.ConsumeChallenge(ctx, key, b.clock().UTC())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Challenge{}, ErrExpiredOrMissing
		}
		return storage.Challenge{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "consume challenge", err)
	}
	if consumed.Kind != kind {
		// Already deleted; the mismatched challenge stays unusable.
		return storage.Challenge{}, ErrExpiredOrMissing
	}
	return consumed, nil
}

// SweepExpired removes expired challenges. Safe to run concurrently with
// request traffic: expired rows already fail every consume filter.
func (b *Broker) SweepExpired(ctx context.Context) (int64, error) {
	if b == nil || b.store == nil {
		return 0, fmt.Errorf("challenge store is not configured")
	}
	swept, err := b.store.DeleteExpiredChallenges(ctx, b.clock().UTC())
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeStorageUnavailable, "sweep challenges", err)
	}
	return swept, nil
}

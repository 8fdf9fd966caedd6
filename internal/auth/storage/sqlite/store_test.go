package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/boardpulse/boardpulse/internal/auth/passkey"
	"github.com/boardpulse/boardpulse/internal/auth/storage"
	"github.com/boardpulse/boardpulse/internal/auth/user"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func putTestUser(t *testing.T, store *Store, id string, username string) {
	t.Helper()
	err := store.PutUser(context.Background(), user.User{
		ID:          id,
		Username:    username,
		DisplayName: username,
		Active:      true,
		CreatedAt:   time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("put user: %v", err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestStoreDBNilSafe(t *testing.T) {
	var store *Store
	if store.DB() != nil {
		t.Fatal("expected nil DB for nil store")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("expected nil close error, got %v", err)
	}
}

func TestPutGetUserRoundTrip(t *testing.T) {
	store := openTempStore(t)

	lastLogin := time.Date(2026, 8, 2, 8, 30, 0, 0, time.UTC)
	input := user.User{
		ID:          "user-1",
		Username:    "alice",
		DisplayName: "Alice",
		Email:       "alice@example.com",
		Active:      true,
		CreatedAt:   time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
		LastLoginAt: &lastLogin,
	}

	if err := store.PutUser(context.Background(), input); err != nil {
		t.Fatalf("put user: %v", err)
	}

	got, err := store.GetUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.Username != "alice" || got.Email != "alice@example.com" || !got.Active {
		t.Fatalf("unexpected user: %+v", got)
	}
	if got.LastLoginAt == nil || !got.LastLoginAt.Equal(lastLogin) {
		t.Fatalf("unexpected last login: %v", got.LastLoginAt)
	}

	byName, err := store.GetUserByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("get user by username: %v", err)
	}
	if byName.ID != "user-1" {
		t.Fatalf("unexpected user id %s", byName.ID)
	}
}

func TestPutUserDuplicateUsername(t *testing.T) {
	store := openTempStore(t)
	putTestUser(t, store, "user-1", "alice")

	err := store.PutUser(context.Background(), user.User{
		ID:          "user-2",
		Username:    "alice",
		DisplayName: "Other Alice",
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	})
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
}

func TestGetUserNotFound(t *testing.T) {
	store := openTempStore(t)

	_, err := store.GetUser(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	_, err = store.GetUserByUsername(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTouchUserLogin(t *testing.T) {
	store := openTempStore(t)
	putTestUser(t, store, "user-1", "alice")

	at := time.Date(2026, 8, 3, 7, 0, 0, 0, time.UTC)
	if err := store.TouchUserLogin(context.Background(), "user-1", at); err != nil {
		t.Fatalf("touch user login: %v", err)
	}

	got, err := store.GetUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.LastLoginAt == nil || !got.LastLoginAt.Equal(at) {
		t.Fatalf("unexpected last login: %v", got.LastLoginAt)
	}

	if err := store.TouchUserLogin(context.Background(), "missing", at); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestInsertCredentialRoundTrip(t *testing.T) {
	store := openTempStore(t)
	putTestUser(t, store, "user-1", "alice")

	input := storage.Credential{
		ID:             "cred-row-1",
		UserID:         "user-1",
		CredentialID:   "ext-cred-1",
		CredentialJSON: `{"id":"ext-cred-1"}`,
		SignCount:      3,
		Label:          "yubikey",
		Active:         true,
		CreatedAt:      time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := store.InsertCredential(context.Background(), input); err != nil {
		t.Fatalf("insert credential: %v", err)
	}

	got, err := store.GetCredentialByCredentialID(context.Background(), "ext-cred-1")
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if got.UserID != "user-1" || got.SignCount != 3 || got.Label != "yubikey" {
		t.Fatalf("unexpected credential: %+v", got)
	}

	list, err := store.ListActiveCredentials(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("list credentials: %v", err)
	}
	if len(list) != 1 || list[0].CredentialID != "ext-cred-1" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestInsertCredentialDuplicateIdentifier(t *testing.T) {
	store := openTempStore(t)
	putTestUser(t, store, "user-1", "alice")
	putTestUser(t, store, "user-2", "bob")

	base := storage.Credential{
		UserID:         "user-1",
		CredentialID:   "ext-cred-1",
		CredentialJSON: `{}`,
		Active:         true,
		CreatedAt:      time.Now().UTC(),
	}
	first := base
	first.ID = "cred-row-1"
	if err := store.InsertCredential(context.Background(), first); err != nil {
		t.Fatalf("insert credential: %v", err)
	}

	second := base
	second.ID = "cred-row-2"
	second.UserID = "user-2"
	err := store.InsertCredential(context.Background(), second)
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
}

func TestUpdateCredentialSignCountMonotonic(t *testing.T) {
	store := openTempStore(t)
	putTestUser(t, store, "user-1", "alice")
	if err := store.InsertCredential(context.Background(), storage.Credential{
		ID:             "cred-row-1",
		UserID:         "user-1",
		CredentialID:   "ext-cred-1",
		CredentialJSON: `{}`,
		SignCount:      5,
		Active:         true,
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		t.Fatalf("insert credential: %v", err)
	}

	used := time.Date(2026, 8, 3, 11, 0, 0, 0, time.UTC)
	if err := store.UpdateCredentialSignCount(context.Background(), "ext-cred-1", 6, `{"n":6}`, used); err != nil {
		t.Fatalf("update sign count: %v", err)
	}

	got, err := store.GetCredentialByCredentialID(context.Background(), "ext-cred-1")
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if got.SignCount != 6 {
		t.Fatalf("expected sign count 6, got %d", got.SignCount)
	}
	if got.LastUsedAt == nil || !got.LastUsedAt.Equal(used) {
		t.Fatalf("unexpected last used: %v", got.LastUsedAt)
	}

	// Equal and lower counters are regressions.
	err = store.UpdateCredentialSignCount(context.Background(), "ext-cred-1", 6, `{}`, used)
	if !errors.Is(err, storage.ErrCounterRegression) {
		t.Fatalf("expected counter regression, got %v", err)
	}
	err = store.UpdateCredentialSignCount(context.Background(), "ext-cred-1", 2, `{}`, used)
	if !errors.Is(err, storage.ErrCounterRegression) {
		t.Fatalf("expected counter regression, got %v", err)
	}

	if got, err := store.GetCredentialByCredentialID(context.Background(), "ext-cred-1"); err != nil || got.SignCount != 6 {
		t.Fatalf("expected counter unchanged at 6, got %d (%v)", got.SignCount, err)
	}
}

func TestUpdateCredentialSignCountZeroCounterAuthenticator(t *testing.T) {
	store := openTempStore(t)
	putTestUser(t, store, "user-1", "alice")
	if err := store.InsertCredential(context.Background(), storage.Credential{
		ID:             "cred-row-1",
		UserID:         "user-1",
		CredentialID:   "ext-cred-1",
		CredentialJSON: `{}`,
		SignCount:      0,
		Active:         true,
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		t.Fatalf("insert credential: %v", err)
	}

	// Authenticators without counters report zero forever; still accepted.
	if err := store.UpdateCredentialSignCount(context.Background(), "ext-cred-1", 0, `{}`, time.Now().UTC()); err != nil {
		t.Fatalf("expected zero counter accepted: %v", err)
	}
}

func TestUpdateCredentialSignCountMissing(t *testing.T) {
	store := openTempStore(t)

	err := store.UpdateCredentialSignCount(context.Background(), "missing", 1, `{}`, time.Now().UTC())
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeactivateCredentialHidesIt(t *testing.T) {
	store := openTempStore(t)
	putTestUser(t, store, "user-1", "alice")
	if err := store.InsertCredential(context.Background(), storage.Credential{
		ID:             "cred-row-1",
		UserID:         "user-1",
		CredentialID:   "ext-cred-1",
		CredentialJSON: `{}`,
		Active:         true,
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		t.Fatalf("insert credential: %v", err)
	}

	if err := store.DeactivateCredential(context.Background(), "ext-cred-1"); err != nil {
		t.Fatalf("deactivate credential: %v", err)
	}
	if _, err := store.GetCredentialByCredentialID(context.Background(), "ext-cred-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found after deactivation, got %v", err)
	}
	list, err := store.ListActiveCredentials(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("list credentials: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %d", len(list))
	}
}

func TestConsumeChallengeOnce(t *testing.T) {
	store := openTempStore(t)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	if err := store.UpsertChallenge(context.Background(), storage.Challenge{
		Value:        "challenge-1",
		Kind:         passkey.CeremonyRegistration,
		UserID:       "user-1",
		MetadataJSON: `{"challenge":"challenge-1"}`,
		CreatedAt:    now,
		ExpiresAt:    now.Add(10 * time.Minute),
	}); err != nil {
		t.Fatalf("upsert challenge: %v", err)
	}

	got, err := store.ConsumeChallenge(context.Background(), "challenge-1", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("consume challenge: %v", err)
	}
	if got.Kind != passkey.CeremonyRegistration || got.UserID != "user-1" {
		t.Fatalf("unexpected challenge: %+v", got)
	}

	_, err = store.ConsumeChallenge(context.Background(), "challenge-1", now.Add(time.Minute))
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found on second consume, got %v", err)
	}
}

func TestConsumeChallengeExpiryBoundary(t *testing.T) {
	store := openTempStore(t)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	expires := now.Add(10 * time.Minute)

	if err := store.UpsertChallenge(context.Background(), storage.Challenge{
		Value:        "challenge-1",
		Kind:         passkey.CeremonyAuthentication,
		MetadataJSON: `{}`,
		CreatedAt:    now,
		ExpiresAt:    expires,
	}); err != nil {
		t.Fatalf("upsert challenge: %v", err)
	}

	// Exactly at the boundary the challenge is already expired.
	_, err := store.ConsumeChallenge(context.Background(), "challenge-1", expires)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected expired at boundary, got %v", err)
	}
}

func TestConsumeChallengeConcurrent(t *testing.T) {
	store := openTempStore(t)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	if err := store.UpsertChallenge(context.Background(), storage.Challenge{
		Value:        "challenge-1",
		Kind:         passkey.CeremonyAuthentication,
		MetadataJSON: `{}`,
		CreatedAt:    now,
		ExpiresAt:    now.Add(10 * time.Minute),
	}); err != nil {
		t.Fatalf("upsert challenge: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.ConsumeChallenge(context.Background(), "challenge-1", now)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	notFound := 0
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, storage.ErrNotFound):
			notFound++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one successful consume, got %d", successes)
	}
	if notFound != workers-1 {
		t.Fatalf("expected %d not found, got %d", workers-1, notFound)
	}
}

func TestUpsertChallengeReplacesPrior(t *testing.T) {
	store := openTempStore(t)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for _, metadata := range []string{`{"v":1}`, `{"v":2}`} {
		if err := store.UpsertChallenge(context.Background(), storage.Challenge{
			Value:        "challenge-1",
			Kind:         passkey.CeremonyRegistration,
			MetadataJSON: metadata,
			CreatedAt:    now,
			ExpiresAt:    now.Add(10 * time.Minute),
		}); err != nil {
			t.Fatalf("upsert challenge: %v", err)
		}
	}

	got, err := store.ConsumeChallenge(context.Background(), "challenge-1", now)
	if err != nil {
		t.Fatalf("consume challenge: %v", err)
	}
	if got.MetadataJSON != `{"v":2}` {
		t.Fatalf("expected replacement metadata, got %s", got.MetadataJSON)
	}
}

func TestDeleteExpiredChallenges(t *testing.T) {
	store := openTempStore(t)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	challenges := []storage.Challenge{
		{Value: "live", Kind: passkey.CeremonyRegistration, MetadataJSON: `{}`, CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
		{Value: "dead-1", Kind: passkey.CeremonyRegistration, MetadataJSON: `{}`, CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(-time.Minute)},
		{Value: "dead-2", Kind: passkey.CeremonyAuthentication, MetadataJSON: `{}`, CreatedAt: now.Add(-time.Hour), ExpiresAt: now},
	}
	for _, challenge := range challenges {
		if err := store.UpsertChallenge(context.Background(), challenge); err != nil {
			t.Fatalf("upsert challenge: %v", err)
		}
	}

	swept, err := store.DeleteExpiredChallenges(context.Background(), now)
	if err != nil {
		t.Fatalf("delete expired challenges: %v", err)
	}
	if swept != 2 {
		t.Fatalf("expected 2 swept, got %d", swept)
	}
	if _, err := store.ConsumeChallenge(context.Background(), "live", now); err != nil {
		t.Fatalf("expected live challenge to survive: %v", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	store := openTempStore(t)
	putTestUser(t, store, "user-1", "alice")
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	session := storage.Session{
		ID:           "session-1",
		UserID:       "user-1",
		TokenHash:    "hash-1",
		UserAgent:    "curl/8",
		RemoteAddr:   "10.0.0.2",
		Active:       true,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(time.Hour),
	}
	if err := store.PutSession(context.Background(), session); err != nil {
		t.Fatalf("put session: %v", err)
	}

	got, err := store.GetSessionByTokenHash(context.Background(), "hash-1", now.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.UserID != "user-1" || got.UserAgent != "curl/8" || got.RemoteAddr != "10.0.0.2" {
		t.Fatalf("unexpected session: %+v", got)
	}

	touch := now.Add(30 * time.Minute)
	if err := store.TouchSession(context.Background(), "hash-1", touch); err != nil {
		t.Fatalf("touch session: %v", err)
	}
	got, err = store.GetSessionByTokenHash(context.Background(), "hash-1", touch)
	if err != nil {
		t.Fatalf("get session after touch: %v", err)
	}
	if !got.LastActiveAt.Equal(touch) {
		t.Fatalf("expected last active %v, got %v", touch, got.LastActiveAt)
	}

	// One second before expiry is valid, at and after expiry is not.
	if _, err := store.GetSessionByTokenHash(context.Background(), "hash-1", now.Add(time.Hour-time.Second)); err != nil {
		t.Fatalf("expected valid before expiry: %v", err)
	}
	if _, err := store.GetSessionByTokenHash(context.Background(), "hash-1", now.Add(time.Hour)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected expired at boundary, got %v", err)
	}
	if _, err := store.GetSessionByTokenHash(context.Background(), "hash-1", now.Add(61*time.Minute)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected expired after boundary, got %v", err)
	}
}

func TestInvalidateSessionIdempotent(t *testing.T) {
	store := openTempStore(t)
	putTestUser(t, store, "user-1", "alice")
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	if err := store.PutSession(context.Background(), storage.Session{
		ID:           "session-1",
		UserID:       "user-1",
		TokenHash:    "hash-1",
		Active:       true,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("put session: %v", err)
	}

	if err := store.InvalidateSession(context.Background(), "hash-1"); err != nil {
		t.Fatalf("invalidate session: %v", err)
	}
	if _, err := store.GetSessionByTokenHash(context.Background(), "hash-1", now); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected revoked session invisible, got %v", err)
	}
	if err := store.InvalidateSession(context.Background(), "hash-1"); err != nil {
		t.Fatalf("expected idempotent invalidate: %v", err)
	}
	if err := store.InvalidateSession(context.Background(), "unknown"); err != nil {
		t.Fatalf("expected idempotent invalidate for unknown hash: %v", err)
	}
}

func TestDeleteExpiredSessions(t *testing.T) {
	store := openTempStore(t)
	putTestUser(t, store, "user-1", "alice")
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	sessions := []storage.Session{
		{ID: "s-live", UserID: "user-1", TokenHash: "h-live", Active: true, CreatedAt: now, LastActiveAt: now, ExpiresAt: now.Add(time.Hour)},
		{ID: "s-dead", UserID: "user-1", TokenHash: "h-dead", Active: true, CreatedAt: now.Add(-2 * time.Hour), LastActiveAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)},
	}
	for _, session := range sessions {
		if err := store.PutSession(context.Background(), session); err != nil {
			t.Fatalf("put session: %v", err)
		}
	}

	swept, err := store.DeleteExpiredSessions(context.Background(), now)
	if err != nil {
		t.Fatalf("delete expired sessions: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected 1 swept, got %d", swept)
	}
	if _, err := store.GetSessionByTokenHash(context.Background(), "h-live", now); err != nil {
		t.Fatalf("expected live session to survive: %v", err)
	}
}

func TestStoreContextError(t *testing.T) {
	store := openTempStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.GetUser(ctx, "user-1"); err == nil {
		t.Fatal("expected context error")
	}
	if _, err := store.ConsumeChallenge(ctx, "challenge-1", time.Now()); err == nil {
		t.Fatal("expected context error")
	}
}

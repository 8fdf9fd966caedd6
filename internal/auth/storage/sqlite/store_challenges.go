package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/boardpulse/boardpulse/internal/auth/passkey"
	"github.com/boardpulse/boardpulse/internal/auth/storage"
)

// UpsertChallenge stores a ceremony challenge keyed by its value, replacing
// any prior challenge under the same key.
func (s *Store) UpsertChallenge(ctx context.Context, challenge storage.Challenge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(challenge.Value) == "" {
		return fmt.Errorf("challenge value is required")
	}
	if strings.TrimSpace(string(challenge.Kind)) == "" {
		return fmt.Errorf("challenge kind is required")
	}
	if strings.TrimSpace(challenge.MetadataJSON) == "" {
		return fmt.Errorf("challenge metadata is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO challenges (value, kind, user_id, metadata_json, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(value) DO UPDATE SET
	kind = excluded.kind,
	user_id = excluded.user_id,
	metadata_json = excluded.metadata_json,
	created_at = excluded.created_at,
	expires_at = excluded.expires_at
`,
		challenge.Value,
		string(challenge.Kind),
		challenge.UserID,
		challenge.MetadataJSON,
		toMillis(challenge.CreatedAt),
		toMillis(challenge.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("upsert challenge: %w", err)
	}
	return nil
}

// ConsumeChallenge fetches and deletes an unexpired challenge in a single
// statement. The DELETE ... RETURNING form makes consumption atomic: two
// racing consumers get exactly one row and one ErrNotFound. A challenge at
// its expiry boundary is already expired.
func (s *Store) ConsumeChallenge(ctx context.Context, value string, now time.Time) (storage.Challenge, error) {
	if err := ctx.Err(); err != nil {
		return storage.Challenge{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Challenge{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(value) == "" {
		return storage.Challenge{}, fmt.Errorf("challenge value is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
DELETE FROM challenges
WHERE value = ?1 AND expires_at > ?2
RETURNING value, kind, user_id, metadata_json, created_at, expires_at
`,
		value,
		toMillis(now),
	)

	var challenge storage.Challenge
	var kind string
	var createdAt int64
	var expiresAt int64
	err := row.Scan(&challenge.Value, &kind, &challenge.UserID, &challenge.MetadataJSON, &createdAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Challenge{}, storage.ErrNotFound
		}
		return storage.Challenge{}, fmt.Errorf("consume challenge: %w", err)
	}
	challenge.Kind = passkey.CeremonyKind(kind)
	challenge.CreatedAt = fromMillis(createdAt)
	challenge.ExpiresAt = fromMillis(expiresAt)
	return challenge, nil
}

// DeleteExpiredChallenges removes challenges whose expiry has passed and
// reports how many rows were swept.
func (s *Store) DeleteExpiredChallenges(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(ctx,
		"DELETE FROM challenges WHERE expires_at <= ?",
		toMillis(now),
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired challenges: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired challenges rows: %w", err)
	}
	return affected, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/boardpulse/boardpulse/internal/auth/storage"
)

const credentialColumns = "id, user_id, credential_id, credential_json, sign_count, label, active, created_at, last_used_at"

// InsertCredential stores a newly registered passkey credential.
// A duplicate external credential id fails on the uniqueness constraint.
func (s *Store) InsertCredential(ctx context.Context, credential storage.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credential.ID) == "" {
		return fmt.Errorf("credential record id is required")
	}
	if strings.TrimSpace(credential.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(credential.CredentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	if strings.TrimSpace(credential.CredentialJSON) == "" {
		return fmt.Errorf("credential json is required")
	}

	lastUsed := sql.NullInt64{}
	if credential.LastUsedAt != nil {
		lastUsed = sql.NullInt64{Int64: toMillis(*credential.LastUsedAt), Valid: true}
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO credentials (id, user_id, credential_id, credential_json, sign_count, label, active, created_at, last_used_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		credential.ID,
		credential.UserID,
		credential.CredentialID,
		credential.CredentialJSON,
		int64(credential.SignCount),
		credential.Label,
		boolToInt(credential.Active),
		toMillis(credential.CreatedAt),
		lastUsed,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

// GetCredentialByCredentialID fetches an active credential by its
// externally-supplied identifier. Deactivated credentials are invisible.
func (s *Store) GetCredentialByCredentialID(ctx context.Context, credentialID string) (storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return storage.Credential{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Credential{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return storage.Credential{}, fmt.Errorf("credential id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT "+credentialColumns+" FROM credentials WHERE credential_id = ? AND active = 1",
		credentialID,
	)
	return scanCredential(row)
}

// ListActiveCredentials returns the active credentials for a user.
func (s *Store) ListActiveCredentials(ctx context.Context, userID string) ([]storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT "+credentialColumns+" FROM credentials WHERE user_id = ? AND active = 1 ORDER BY created_at",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	credentials := make([]storage.Credential, 0)
	for rows.Next() {
		credential, err := scanCredentialRow(rows)
		if err != nil {
			return nil, err
		}
		credentials = append(credentials, credential)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return credentials, nil
}

// UpdateCredentialSignCount bumps the stored sign counter after a verified
// authentication. The WHERE clause enforces strict monotonicity, so a
// regressed counter can never be written even by a racing process. Counters
// pinned at zero (authenticator does not implement them) stay accepted.
func (s *Store) UpdateCredentialSignCount(ctx context.Context, credentialID string, signCount uint32, credentialJSON string, lastUsedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	if strings.TrimSpace(credentialJSON) == "" {
		return fmt.Errorf("credential json is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE credentials
SET sign_count = ?2, credential_json = ?3, last_used_at = ?4
WHERE credential_id = ?1 AND active = 1 AND (sign_count < ?2 OR (sign_count = 0 AND ?2 = 0))
`,
		credentialID,
		int64(signCount),
		credentialJSON,
		toMillis(lastUsedAt),
	)
	if err != nil {
		return fmt.Errorf("update credential sign count: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update credential sign count rows: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// Distinguish a missing credential from a counter regression.
	if _, err := s.GetCredentialByCredentialID(ctx, credentialID); err != nil {
		return err
	}
	return storage.ErrCounterRegression
}

// DeactivateCredential soft-deletes a credential. Idempotent.
func (s *Store) DeactivateCredential(ctx context.Context, credentialID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}

	if _, err := s.sqlDB.ExecContext(ctx,
		"UPDATE credentials SET active = 0 WHERE credential_id = ?",
		credentialID,
	); err != nil {
		return fmt.Errorf("deactivate credential: %w", err)
	}
	return nil
}

type credentialScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row *sql.Row) (storage.Credential, error) {
	credential, err := scanCredentialFrom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Credential{}, storage.ErrNotFound
		}
		return storage.Credential{}, err
	}
	return credential, nil
}

func scanCredentialRow(rows *sql.Rows) (storage.Credential, error) {
	return scanCredentialFrom(rows)
}

func scanCredentialFrom(scanner credentialScanner) (storage.Credential, error) {
	var credential storage.Credential
	var signCount int64
	var active int64
	var createdAt int64
	var lastUsed sql.NullInt64
	err := scanner.Scan(
		&credential.ID,
		&credential.UserID,
		&credential.CredentialID,
		&credential.CredentialJSON,
		&signCount,
		&credential.Label,
		&active,
		&createdAt,
		&lastUsed,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Credential{}, err
		}
		return storage.Credential{}, fmt.Errorf("scan credential: %w", err)
	}
	credential.SignCount = uint32(signCount)
	credential.Active = active != 0
	credential.CreatedAt = fromMillis(createdAt)
	if lastUsed.Valid {
		value := fromMillis(lastUsed.Int64)
		credential.LastUsedAt = &value
	}
	return credential, nil
}

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

const sessionColumns = "id, user_id, token_hash, user_agent, remote_addr, active, created_at, last_active_at, expires_at"

// PutSession stores a session record. Only the token hash is ever written;
// the raw token never reaches storage.
func (s *Store) PutSession(ctx context.Context, session storage.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(session.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(session.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(session.TokenHash) == "" {
		return fmt.Errorf("token hash is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO sessions (id, user_id, token_hash, user_agent, remote_addr, active, created_at, last_active_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		session.ID,
		session.UserID,
		session.TokenHash,
		session.UserAgent,
		session.RemoteAddr,
		boolToInt(session.Active),
		toMillis(session.CreatedAt),
		toMillis(session.LastActiveAt),
		toMillis(session.ExpiresAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// GetSessionByTokenHash returns a session only while it is active and
// unexpired at now. Revoked and expired sessions are invisible here.
func (s *Store) GetSessionByTokenHash(ctx context.Context, tokenHash string, now time.Time) (storage.Session, error) {
	if err := ctx.Err(); err != nil {
		return storage.Session{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Session{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(tokenHash) == "" {
		return storage.Session{}, fmt.Errorf("token hash is required")
	}

	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE token_hash = ? AND active = 1 AND expires_at > ?",
		tokenHash,
		toMillis(now),
	)

	var session storage.Session
	var active int64
	var createdAt int64
	var lastActive int64
	var expiresAt int64
	err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.TokenHash,
		&session.UserAgent,
		&session.RemoteAddr,
		&active,
		&createdAt,
		&lastActive,
		&expiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Session{}, storage.ErrNotFound
		}
		return storage.Session{}, fmt.Errorf("get session: %w", err)
	}
	session.Active = active != 0
	session.CreatedAt = fromMillis(createdAt)
	session.LastActiveAt = fromMillis(lastActive)
	session.ExpiresAt = fromMillis(expiresAt)
	return session, nil
}

// TouchSession refreshes a session's last-active timestamp.
func (s *Store) TouchSession(ctx context.Context, tokenHash string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(tokenHash) == "" {
		return fmt.Errorf("token hash is required")
	}

	result, err := s.sqlDB.ExecContext(ctx,
		"UPDATE sessions SET last_active_at = ? WHERE token_hash = ? AND active = 1",
		toMillis(at),
		tokenHash,
	)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch session rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// InvalidateSession marks a session inactive. Idempotent: revoking an
// unknown or already-revoked token is not an error.
func (s *Store) InvalidateSession(ctx context.Context, tokenHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(tokenHash) == "" {
		return fmt.Errorf("token hash is required")
	}

	if _, err := s.sqlDB.ExecContext(ctx,
		"UPDATE sessions SET active = 0 WHERE token_hash = ?",
		tokenHash,
	); err != nil {
		return fmt.Errorf("invalidate session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes sessions whose expiry has passed and
// reports how many rows were swept.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(ctx,
		"DELETE FROM sessions WHERE expires_at <= ?",
		toMillis(now),
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions rows: %w", err)
	}
	return affected, nil
}

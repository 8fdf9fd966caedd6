package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/boardpulse/boardpulse/internal/auth/storage"
	"github.com/boardpulse/boardpulse/internal/auth/user"
)

const userColumns = "id, username, display_name, email, active, created_at, last_login_at"

// PutUser inserts or updates a user record. The username uniqueness
// constraint rejects a second user claiming the same name.
func (s *Store) PutUser(ctx context.Context, u user.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(u.Username) == "" {
		return fmt.Errorf("username is required")
	}

	lastLogin := sql.NullInt64{}
	if u.LastLoginAt != nil {
		lastLogin = sql.NullInt64{Int64: toMillis(*u.LastLoginAt), Valid: true}
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO users (id, username, display_name, email, active, created_at, last_login_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	username = excluded.username,
	display_name = excluded.display_name,
	email = excluded.email,
	active = excluded.active,
	last_login_at = excluded.last_login_at
`,
		u.ID,
		u.Username,
		u.DisplayName,
		u.Email,
		boolToInt(u.Active),
		toMillis(u.CreatedAt),
		lastLogin,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, userID string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	if s == nil || s.sqlDB == nil {
		return user.User{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return user.User{}, fmt.Errorf("user id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", userID)
	return scanUser(row)
}

// GetUserByUsername fetches a user by its unique username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	if s == nil || s.sqlDB == nil {
		return user.User{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(username) == "" {
		return user.User{}, fmt.Errorf("username is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE username = ?", username)
	return scanUser(row)
}

// TouchUserLogin records a successful authentication time.
func (s *Store) TouchUserLogin(ctx context.Context, userID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx,
		"UPDATE users SET last_login_at = ? WHERE id = ?",
		toMillis(at), userID,
	)
	if err != nil {
		return fmt.Errorf("touch user login: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch user login rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanUser(row *sql.Row) (user.User, error) {
	var u user.User
	var active int64
	var createdAt int64
	var lastLogin sql.NullInt64
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Email, &active, &createdAt, &lastLogin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, storage.ErrNotFound
		}
		return user.User{}, fmt.Errorf("scan user: %w", err)
	}
	u.Active = active != 0
	u.CreatedAt = fromMillis(createdAt)
	if lastLogin.Valid {
		value := fromMillis(lastLogin.Int64)
		u.LastLoginAt = &value
	}
	return u, nil
}

func boolToInt(value bool) int64 {
	if value {
		return 1
	}
	return 0
}

// Package maintenance runs on-demand expiry sweeps against the auth store.
package maintenance

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/boardpulse/boardpulse/internal/auth/storage/sqlite"
)

// Config holds configuration for a maintenance run.
type Config struct {
	DBPath string
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	fs.StringVar(&cfg.DBPath, "db", "", "path to the auth SQLite database")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// sweepStore is the slice of the auth store a sweep needs.
type sweepStore interface {
	DeleteExpiredChallenges(ctx context.Context, now time.Time) (int64, error)
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// Run opens the store, sweeps expired challenges and sessions once, and
// reports the removal counts to out.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if strings.TrimSpace(cfg.DBPath) == "" {
		return errors.New("db path is required")
	}
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	return sweepOnce(ctx, store, out, time.Now().UTC())
}

func sweepOnce(ctx context.Context, store sweepStore, out io.Writer, now time.Time) error {
	if out == nil {
		return errors.New("output is required")
	}
	challenges, err := store.DeleteExpiredChallenges(ctx, now)
	if err != nil {
		return fmt.Errorf("sweep challenges: %w", err)
	}
	sessions, err := store.DeleteExpiredSessions(ctx, now)
	if err != nil {
		return fmt.Errorf("sweep sessions: %w", err)
	}
	_, err = fmt.Fprintf(out, "removed %d expired challenges, %d expired sessions\n", challenges, sessions)
	return err
}

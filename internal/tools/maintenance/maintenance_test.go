package maintenance

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseConfig(t *testing.T) {
	fs := flag.NewFlagSet("maintenance", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-db", "/var/lib/boardpulse/auth.db"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.DBPath != "/var/lib/boardpulse/auth.db" {
		t.Fatalf("unexpected db path %q", cfg.DBPath)
	}
}

func TestRunRequiresDBPath(t *testing.T) {
	if err := Run(context.Background(), Config{}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for missing db path")
	}
}

func TestRunAgainstFreshStore(t *testing.T) {
	buf := &bytes.Buffer{}
	cfg := Config{DBPath: filepath.Join(t.TempDir(), "auth.db")}
	if err := Run(context.Background(), cfg, buf); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != "removed 0 expired challenges, 0 expired sessions" {
		t.Fatalf("unexpected report %q", got)
	}
}

type fakeSweepStore struct {
	challenges    int64
	sessions      int64
	challengesErr error
	sessionsErr   error
}

func (s *fakeSweepStore) DeleteExpiredChallenges(_ context.Context, _ time.Time) (int64, error) {
	return s.challenges, s.challengesErr
}

func (s *fakeSweepStore) DeleteExpiredSessions(_ context.Context, _ time.Time) (int64, error) {
	return s.sessions, s.sessionsErr
}

func TestSweepOnceReportsCounts(t *testing.T) {
	buf := &bytes.Buffer{}
	store := &fakeSweepStore{challenges: 3, sessions: 2}
	if err := sweepOnce(context.Background(), store, buf, time.Now().UTC()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != "removed 3 expired challenges, 2 expired sessions" {
		t.Fatalf("unexpected report %q", got)
	}
}

func TestSweepOncePropagatesErrors(t *testing.T) {
	store := &fakeSweepStore{challengesErr: errors.New("disk gone")}
	if err := sweepOnce(context.Background(), store, &bytes.Buffer{}, time.Now().UTC()); err == nil {
		t.Fatal("expected error")
	}
	store = &fakeSweepStore{sessionsErr: errors.New("disk gone")}
	if err := sweepOnce(context.Background(), store, &bytes.Buffer{}, time.Now().UTC()); err == nil {
		t.Fatal("expected error")
	}
}

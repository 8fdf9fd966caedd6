// Package sweep removes expired challenges and sessions in the background.
package sweep

import (
	"context"
	"log"
	"time"

	"github.com/boardpulse/boardpulse/internal/auth/challenge"
	"github.com/boardpulse/boardpulse/internal/auth/session"
)

// DefaultInterval is how often the periodic sweep runs.
const DefaultInterval = 5 * time.Minute

// Result reports how many rows a sweep removed.
type Result struct {
	Challenges int64
	Sessions   int64
}

// Sweeper runs expiry sweeps over the challenge and session stores.
type Sweeper struct {
	broker   *challenge.Broker
	sessions *session.Manager
	logf     func(format string, args ...any)
}

// NewSweeper builds a sweeper over the given components. Either may be nil;
// its sweep is skipped.
func NewSweeper(broker *challenge.Broker, sessions *session.Manager) *Sweeper {
	return &Sweeper{
		broker:   broker,
		sessions: sessions,
		logf:     log.Printf,
	}
}

// WithLogf overrides sweep logging for tests.
func (s *Sweeper) WithLogf(logf func(format string, args ...any)) *Sweeper {
	if logf != nil {
		s.logf = logf
	}
	return s
}

// Run performs one sweep pass. Safe to run concurrently with request
// traffic: it only removes rows that already fail every unexpired filter.
func (s *Sweeper) Run(ctx context.Context) (Result, error) {
	var result Result
	if s == nil {
		return result, nil
	}
	if s.broker != nil {
		swept, err := s.broker.SweepExpired(ctx)
		if err != nil {
			return result, err
		}
		result.Challenges = swept
	}
	if s.sessions != nil {
		swept, err := s.sessions.SweepExpired(ctx)
		if err != nil {
			return result, err
		}
		result.Sessions = swept
	}
	return result, nil
}

// Start runs periodic sweeps until ctx is cancelled. A non-positive
// interval falls back to DefaultInterval. Sweep failures are logged and
// the loop keeps going.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	if s == nil {
		return
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				result, err := s.Run(ctx)
				if err != nil {
					s.logf("expiry sweep: %v", err)
					continue
				}
				if result.Challenges > 0 || result.Sessions > 0 {
					s.logf("expiry sweep removed %d challenges, %d sessions", result.Challenges, result.Sessions)
				}
			}
		}
	}()
}

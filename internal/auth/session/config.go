package session

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// minSecretBytes is the smallest signing secret accepted. Secrets are
// provisioned explicitly (see cmd/session-key); nothing here derives one
// from machine identifiers, because derived secrets silently invalidate
// every outstanding session on restart or host change.
const minSecretBytes = 32

// sessionEnv holds raw env values before post-parse validation.
type sessionEnv struct {
	Secret string        `env:"BOARDPULSE_SESSION_SECRET"`
	Issuer string        `env:"BOARDPULSE_SESSION_ISSUER" envDefault:"boardpulse-auth"`
	TTL    time.Duration `env:"BOARDPULSE_SESSION_TTL"    envDefault:"24h"`
}

// Config defines how session tokens are minted and validated.
type Config struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
}

// LoadConfigFromEnv reads session configuration. A missing or short secret
// is a startup configuration fault, never a fallback-generate condition.
func LoadConfigFromEnv() (Config, error) {
	var raw sessionEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse session env: %w", err)
	}
	secret := strings.TrimSpace(raw.Secret)
	if secret == "" {
		return Config{}, fmt.Errorf("BOARDPULSE_SESSION_SECRET is required")
	}
	key, err := hex.DecodeString(secret)
	if err != nil {
		return Config{}, fmt.Errorf("decode session secret: %w", err)
	}
	if len(key) < minSecretBytes {
		return Config{}, fmt.Errorf("session secret must be at least %d bytes", minSecretBytes)
	}
	if raw.TTL <= 0 {
		return Config{}, fmt.Errorf("session ttl must be positive")
	}
	return Config{
		Secret: key,
		Issuer: strings.TrimSpace(raw.Issuer),
		TTL:    raw.TTL,
	}, nil
}

package passkey

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// CeremonyKind describes the WebAuthn ceremony a challenge belongs to.
type CeremonyKind string

const (
	CeremonyRegistration   CeremonyKind = "registration"
	CeremonyAuthentication CeremonyKind = "authentication"
)

// Config controls WebAuthn relying party settings.
type Config struct {
	RPDisplayName string        `env:"BOARDPULSE_WEBAUTHN_RP_DISPLAY_NAME" envDefault:"BoardPulse"`
	RPID          string        `env:"BOARDPULSE_WEBAUTHN_RP_ID"           envDefault:"localhost"`
	RPOrigins     []string      `env:"BOARDPULSE_WEBAUTHN_RP_ORIGINS"      envSeparator:","`
	ChallengeTTL  time.Duration `env:"BOARDPULSE_WEBAUTHN_CHALLENGE_TTL"   envDefault:"10m"`
}

// LoadConfigFromEnv returns passkey configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{
			RPDisplayName: "BoardPulse",
			RPID:          "localhost",
			RPOrigins:     []string{"http://localhost:8080"},
			ChallengeTTL:  10 * time.Minute,
		}
	}
	if len(cfg.RPOrigins) == 0 {
		cfg.RPOrigins = []string{"http://localhost:8080"}
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 10 * time.Minute
	}
	return cfg
}

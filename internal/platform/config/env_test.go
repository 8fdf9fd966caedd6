package config

import "testing"

type testEnv struct {
	Name  string `env:"BOARDPULSE_TEST_NAME" envDefault:"fallback"`
	Count int    `env:"BOARDPULSE_TEST_COUNT" envDefault:"3"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg testEnv
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Name != "fallback" {
		t.Fatalf("expected default name, got %q", cfg.Name)
	}
	if cfg.Count != 3 {
		t.Fatalf("expected default count 3, got %d", cfg.Count)
	}
}

func TestParseEnvOverride(t *testing.T) {
	t.Setenv("BOARDPULSE_TEST_NAME", "value")
	t.Setenv("BOARDPULSE_TEST_COUNT", "7")

	var cfg testEnv
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Name != "value" {
		t.Fatalf("expected override, got %q", cfg.Name)
	}
	if cfg.Count != 7 {
		t.Fatalf("expected 7, got %d", cfg.Count)
	}
}

func TestParseEnvInvalid(t *testing.T) {
	t.Setenv("BOARDPULSE_TEST_COUNT", "not-a-number")

	var cfg testEnv
	if err := ParseEnv(&cfg); err == nil {
		t.Fatal("expected error for invalid int")
	}
}

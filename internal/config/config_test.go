package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetEnvReturnsValueWhenSet(t *testing.T) {
	const key = "TEST_GETENV_SET"
	const expected = "custom-value"

	t.Setenv(key, expected)

	result := getEnv(key, "fallback")
	if result != expected {
		t.Errorf("expected %q, got %q", expected, result)
	}
}

func TestGetEnvReturnsFallbackWhenUnset(t *testing.T) {
	const key = "TEST_GETENV_UNSET"
	const fallback = "default-value"

	result := getEnv(key, fallback)
	if result != fallback {
		t.Errorf("expected fallback %q, got %q", fallback, result)
	}
}

func TestGetEnvReturnsFallbackWhenEmpty(t *testing.T) {
	const key = "TEST_GETENV_EMPTY"
	const fallback = "default-value"

	t.Setenv(key, "")

	result := getEnv(key, fallback)
	if result != fallback {
		t.Errorf("expected fallback %q for empty env var, got %q", fallback, result)
	}
}

func TestGetEnvInt64IgnoresGarbage(t *testing.T) {
	t.Setenv("TEST_GETENV_INT", "not-a-number")
	if got := getEnvInt64("TEST_GETENV_INT", 42); got != 42 {
		t.Errorf("expected fallback 42, got %d", got)
	}
	t.Setenv("TEST_GETENV_INT", "7")
	if got := getEnvInt64("TEST_GETENV_INT", 42); got != 7 {
		t.Errorf("expected 7, got %d", got)
	}
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Stream.ChunkBytes != 1024*1024 {
		t.Errorf("expected 1 MiB chunk size, got %d", cfg.Stream.ChunkBytes)
	}
	if cfg.Workers.FFmpegPath != "ffmpeg" {
		t.Errorf("expected ffmpeg path default, got %q", cfg.Workers.FFmpegPath)
	}
}

func TestLoad_FileThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vidstream.toml")
	content := `
log_level = "debug"

[server]
port = "9000"
jwt_secret = "from-file"

[database]
url = "postgres://file"

[stripe.prices]
basic = "price_file_basic"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PORT", "9100")
	t.Setenv("STRIPE_PRICE_PREMIUM", "price_env_premium")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != "9100" {
		t.Errorf("expected env port 9100, got %q", cfg.Server.Port)
	}
	if cfg.Server.JWTSecret != "from-file" {
		t.Errorf("expected jwt secret from file, got %q", cfg.Server.JWTSecret)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level debug, got %q", cfg.LogLevel)
	}
	if cfg.Stripe.Prices["basic"] != "price_file_basic" {
		t.Errorf("expected basic price from file, got %q", cfg.Stripe.Prices["basic"])
	}
	if cfg.Stripe.Prices["premium"] != "price_env_premium" {
		t.Errorf("expected premium price from env, got %q", cfg.Stripe.Prices["premium"])
	}
}

func TestLoad_TrustedProxiesFromEnv(t *testing.T) {
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 172.16.0.1")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Server.TrustedProxies) != 2 || cfg.Server.TrustedProxies[1] != "172.16.0.1" {
		t.Errorf("unexpected trusted proxies %v", cfg.Server.TrustedProxies)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoad_SampleConfigParses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := os.WriteFile(path, []byte(SampleConfig()), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("sample config should parse: %v", err)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Error("expected error without DATABASE_URL")
	}

	cfg.Database.URL = "postgres://x"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error without JWT_SECRET")
	}

	cfg.Server.JWTSecret = "secret"
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}

	cfg.Notify.WebhookURL = "https://hooks.example.com/vidstream"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for webhook without secret")
	}
	cfg.Notify.WebhookSecret = "whsec"
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}

	cfg.Server.TrustedProxies = []string{"10.0.0.0/8", "not-a-proxy"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for malformed trusted proxy")
	}
	cfg.Server.TrustedProxies = []string{"10.0.0.0/8", "192.0.2.10"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}

	cfg.Stream.ChunkBytes = 1024
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for tiny chunk size")
	}
}

func TestStreamSigningSecretFallsBackToJWTSecret(t *testing.T) {
	cfg := Default()
	cfg.Server.JWTSecret = "jwt"
	if got := cfg.StreamSigningSecret(); got != "jwt" {
		t.Errorf("expected fallback to jwt secret, got %q", got)
	}
	cfg.Server.StreamSecret = "stream"
	if got := cfg.StreamSigningSecret(); got != "stream" {
		t.Errorf("expected stream secret, got %q", got)
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" a@example.com, ,b@example.com ")
	if len(got) != 2 || got[0] != "a@example.com" || got[1] != "b@example.com" {
		t.Errorf("unexpected list: %v", got)
	}
}

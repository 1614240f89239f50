package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/vidstream/vidstream/internal/ratelimit"
)

//go:embed sample_config.toml
var sampleConfig string

// SampleConfig returns the annotated sample configuration file.
func SampleConfig() string {
	return sampleConfig
}

type Server struct {
	Port           string `toml:"port"`
	BaseURL        string `toml:"base_url"`
	JWTSecret      string `toml:"jwt_secret"`
	StreamSecret   string `toml:"stream_secret"`
	MaxUploadBytes int64  `toml:"max_upload_bytes"`
	EnableDocs     bool   `toml:"enable_docs"`
	// TrustedProxies lists CIDRs or addresses allowed to set X-Forwarded-For.
	TrustedProxies []string `toml:"trusted_proxies"`
}

type Database struct {
	URL string `toml:"url"`
}

type Storage struct {
	Endpoint       string `toml:"endpoint"`
	PublicEndpoint string `toml:"public_endpoint"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	Region         string `toml:"region"`
}

type SMTP struct {
	Host      string   `toml:"host"`
	Port      int      `toml:"port"`
	Username  string   `toml:"username"`
	Password  string   `toml:"password"`
	From      string   `toml:"from"`
	Allowlist []string `toml:"allowlist"`
}

type Stripe struct {
	SecretKey     string            `toml:"secret_key"`
	WebhookSecret string            `toml:"webhook_secret"`
	Prices        map[string]string `toml:"prices"`
}

type Stream struct {
	ChunkBytes int64 `toml:"chunk_bytes"`
	TokenTTL   int   `toml:"token_ttl_seconds"`
}

type Notify struct {
	WebhookURL      string `toml:"webhook_url"`
	WebhookSecret   string `toml:"webhook_secret"`
	SlackWebhookURL string `toml:"slack_webhook_url"`
}

type Workers struct {
	TranscodeIntervalSeconds int    `toml:"transcode_interval_seconds"`
	CleanupIntervalSeconds   int    `toml:"cleanup_interval_seconds"`
	FFmpegPath               string `toml:"ffmpeg_path"`
	FFprobePath              string `toml:"ffprobe_path"`
}

type Config struct {
	Server      Server   `toml:"server"`
	Database    Database `toml:"database"`
	Storage     Storage  `toml:"storage"`
	SMTP        SMTP     `toml:"smtp"`
	Stripe      Stripe   `toml:"stripe"`
	Stream      Stream   `toml:"stream"`
	Workers     Workers  `toml:"workers"`
	Notify      Notify   `toml:"notify"`
	RedisURL    string   `toml:"redis_url"`
	GeoIPDBPath string   `toml:"geoip_db_path"`
	SentryDSN   string   `toml:"sentry_dsn"`
	Environment string   `toml:"environment"`
	LogLevel    string   `toml:"log_level"`
	LogFormat   string   `toml:"log_format"`
}

func Default() Config {
	return Config{
		Server: Server{
			Port:           "8080",
			BaseURL:        "http://localhost:8080",
			MaxUploadBytes: 8 * 1024 * 1024 * 1024,
		},
		Storage: Storage{
			Endpoint: "http://localhost:3900",
			Bucket:   "vidstream",
			Region:   "eu-central-1",
		},
		SMTP: SMTP{
			Port: 587,
			From: "VidStream <no-reply@localhost>",
		},
		Stream: Stream{
			ChunkBytes: 1024 * 1024,
			TokenTTL:   int((2 * time.Hour) / time.Second),
		},
		Workers: Workers{
			TranscodeIntervalSeconds: 15,
			CleanupIntervalSeconds:   600,
			FFmpegPath:               "ffmpeg",
			FFprobePath:              "ffprobe",
		},
		Environment: "development",
		LogLevel:    "info",
		LogFormat:   "text",
	}
}

// Load reads the optional TOML file at path on top of the defaults and then
// applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Server.BaseURL = getEnv("BASE_URL", cfg.Server.BaseURL)
	cfg.Server.JWTSecret = getEnv("JWT_SECRET", cfg.Server.JWTSecret)
	cfg.Server.StreamSecret = getEnv("STREAM_SECRET", cfg.Server.StreamSecret)
	cfg.Server.MaxUploadBytes = getEnvInt64("MAX_UPLOAD_BYTES", cfg.Server.MaxUploadBytes)
	cfg.Server.EnableDocs = getEnvBool("API_DOCS_ENABLED", cfg.Server.EnableDocs)
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.Server.TrustedProxies = splitList(v)
	}

	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)

	cfg.Storage.Endpoint = getEnv("S3_ENDPOINT", cfg.Storage.Endpoint)
	cfg.Storage.PublicEndpoint = getEnv("S3_PUBLIC_ENDPOINT", cfg.Storage.PublicEndpoint)
	cfg.Storage.Bucket = getEnv("S3_BUCKET", cfg.Storage.Bucket)
	cfg.Storage.AccessKey = getEnv("S3_ACCESS_KEY", cfg.Storage.AccessKey)
	cfg.Storage.SecretKey = getEnv("S3_SECRET_KEY", cfg.Storage.SecretKey)
	cfg.Storage.Region = getEnv("S3_REGION", cfg.Storage.Region)

	cfg.SMTP.Host = getEnv("SMTP_HOST", cfg.SMTP.Host)
	cfg.SMTP.Port = int(getEnvInt64("SMTP_PORT", int64(cfg.SMTP.Port)))
	cfg.SMTP.Username = getEnv("SMTP_USERNAME", cfg.SMTP.Username)
	cfg.SMTP.Password = getEnv("SMTP_PASSWORD", cfg.SMTP.Password)
	cfg.SMTP.From = getEnv("SMTP_FROM", cfg.SMTP.From)
	if v := os.Getenv("EMAIL_ALLOWLIST"); v != "" {
		cfg.SMTP.Allowlist = splitList(v)
	}

	cfg.Stripe.SecretKey = getEnv("STRIPE_SECRET_KEY", cfg.Stripe.SecretKey)
	cfg.Stripe.WebhookSecret = getEnv("STRIPE_WEBHOOK_SECRET", cfg.Stripe.WebhookSecret)
	for _, slug := range []string{"basic", "premium"} {
		if v := os.Getenv("STRIPE_PRICE_" + strings.ToUpper(slug)); v != "" {
			if cfg.Stripe.Prices == nil {
				cfg.Stripe.Prices = map[string]string{}
			}
			cfg.Stripe.Prices[slug] = v
		}
	}

	cfg.Stream.ChunkBytes = getEnvInt64("STREAM_CHUNK_BYTES", cfg.Stream.ChunkBytes)
	cfg.Stream.TokenTTL = int(getEnvInt64("STREAM_TOKEN_TTL_SECONDS", int64(cfg.Stream.TokenTTL)))

	cfg.Workers.FFmpegPath = getEnv("FFMPEG_PATH", cfg.Workers.FFmpegPath)
	cfg.Workers.FFprobePath = getEnv("FFPROBE_PATH", cfg.Workers.FFprobePath)

	cfg.Notify.WebhookURL = getEnv("NOTIFY_WEBHOOK_URL", cfg.Notify.WebhookURL)
	cfg.Notify.WebhookSecret = getEnv("NOTIFY_WEBHOOK_SECRET", cfg.Notify.WebhookSecret)
	cfg.Notify.SlackWebhookURL = getEnv("SLACK_WEBHOOK_URL", cfg.Notify.SlackWebhookURL)

	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.GeoIPDBPath = getEnv("GEOIP_DB_PATH", cfg.GeoIPDBPath)
	cfg.SentryDSN = getEnv("SENTRY_DSN", cfg.SentryDSN)
	cfg.Environment = getEnv("VIDSTREAM_ENV", cfg.Environment)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)
}

// Validate reports the first missing or inconsistent setting.
func (c Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.Server.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.Stream.ChunkBytes < 64*1024 {
		return fmt.Errorf("stream chunk size %d is below the 64 KiB minimum", c.Stream.ChunkBytes)
	}
	if c.Stream.TokenTTL <= 0 {
		return errors.New("stream token TTL must be positive")
	}
	if _, err := ratelimit.ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		return err
	}
	if c.Notify.WebhookURL != "" && c.Notify.WebhookSecret == "" {
		return errors.New("NOTIFY_WEBHOOK_SECRET is required when a notify webhook is configured")
	}
	return nil
}

// StreamSigningSecret falls back to the JWT secret when no dedicated stream
// secret is configured.
func (c Config) StreamSigningSecret() string {
	if c.Server.StreamSecret != "" {
		return c.Server.StreamSecret
	}
	return c.Server.JWTSecret
}

func (c Config) SecureCookies() bool {
	return strings.HasPrefix(c.Server.BaseURL, "https://")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true"
	}
	return fallback
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

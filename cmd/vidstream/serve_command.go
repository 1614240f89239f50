package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vidstream/vidstream/internal/auth"
	"github.com/vidstream/vidstream/internal/config"
	"github.com/vidstream/vidstream/internal/database"
	"github.com/vidstream/vidstream/internal/email"
	"github.com/vidstream/vidstream/internal/geoip"
	"github.com/vidstream/vidstream/internal/notify"
	"github.com/vidstream/vidstream/internal/ratelimit"
	"github.com/vidstream/vidstream/internal/server"
	"github.com/vidstream/vidstream/internal/storage"
	"github.com/vidstream/vidstream/internal/telemetry"
	"github.com/vidstream/vidstream/internal/transcode"
	"github.com/vidstream/vidstream/internal/video"
)

const (
	loginMaxFailures = 5
	loginWindow      = 15 * time.Minute
	shutdownTimeout  = 10 * time.Second
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var noWorkers bool
	var noMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, serveOptions{workers: !noWorkers, migrate: !noMigrate})
		},
	}
	cmd.Flags().BoolVar(&noWorkers, "no-workers", false, "Do not run the transcode and cleanup workers in this process")
	cmd.Flags().BoolVar(&noMigrate, "no-migrate", false, "Skip applying pending migrations on startup")
	return cmd
}

type serveOptions struct {
	workers bool
	migrate bool
}

func runServe(parent context.Context, cfg config.Config, opts serveOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := telemetry.Init(cfg.SentryDSN, cfg.Environment, version); err != nil {
		slog.Warn("serve: telemetry disabled", "error", err)
	}
	defer telemetry.Flush()

	proxies, err := ratelimit.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}
	ratelimit.SetTrustedProxies(proxies)

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := database.Connect(connectCtx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if opts.migrate {
		if err := db.Migrate(cfg.Database.URL); err != nil {
			return fmt.Errorf("database migration failed: %w", err)
		}
		slog.Info("serve: database migrations applied")
	}

	store, err := storage.New(connectCtx, storage.Config{
		Endpoint:       cfg.Storage.Endpoint,
		PublicEndpoint: cfg.Storage.PublicEndpoint,
		Bucket:         cfg.Storage.Bucket,
		AccessKey:      cfg.Storage.AccessKey,
		SecretKey:      cfg.Storage.SecretKey,
		Region:         cfg.Storage.Region,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}
	if err := store.EnsureBucket(connectCtx); err != nil {
		return fmt.Errorf("storage bucket check failed: %w", err)
	}
	slog.Info("serve: storage bucket ready", "bucket", cfg.Storage.Bucket)
	if err := store.SetCORS(connectCtx, []string{cfg.Server.BaseURL}); err != nil {
		slog.Warn("serve: bucket CORS not applied, browser uploads may be blocked", "origin", cfg.Server.BaseURL, "error", err)
	}

	mailer := email.New(email.Config{
		Host:      cfg.SMTP.Host,
		Port:      cfg.SMTP.Port,
		Username:  cfg.SMTP.Username,
		Password:  cfg.SMTP.Password,
		From:      cfg.SMTP.From,
		Allowlist: cfg.SMTP.Allowlist,
	})

	var loginGuard auth.LoginGuard
	var statsCache video.Cache
	if cfg.RedisURL != "" {
		client, err := ratelimit.ConnectRedis(connectCtx, cfg.RedisURL)
		if err != nil {
			slog.Warn("serve: redis unavailable, login throttling and stats cache disabled", "error", err)
		} else {
			defer func() { _ = client.Close() }()
			redisStore := ratelimit.NewRedisStore(client)
			loginGuard = ratelimit.NewLoginGuard(redisStore, loginMaxFailures, loginWindow)
			statsCache = redisStore
		}
	}

	var countries video.CountryResolver
	resolver, err := geoip.New(cfg.GeoIPDBPath)
	if err != nil {
		return fmt.Errorf("geoip: %w", err)
	}
	defer func() { _ = resolver.Close() }()
	if resolver.Enabled() {
		countries = resolver
	}

	publishers := []notify.Publisher{notify.NewInApp(db.Pool), notify.NewEmail(db.Pool, mailer)}
	if cfg.Notify.WebhookURL != "" {
		publishers = append(publishers, notify.NewWebhook(cfg.Notify.WebhookURL, cfg.Notify.WebhookSecret))
	}
	if cfg.Notify.SlackWebhookURL != "" {
		publishers = append(publishers, notify.NewSlack(cfg.Notify.SlackWebhookURL))
	}
	publisher := notify.NewMulti(publishers...)

	srv := server.New(server.Config{
		DB:                  db.Pool,
		Pinger:              db,
		Storage:             store,
		JWTSecret:           cfg.Server.JWTSecret,
		StreamSecret:        cfg.StreamSigningSecret(),
		BaseURL:             cfg.Server.BaseURL,
		MaxUploadBytes:      cfg.Server.MaxUploadBytes,
		StreamChunkBytes:    cfg.Stream.ChunkBytes,
		StreamTokenTTL:      time.Duration(cfg.Stream.TokenTTL) * time.Second,
		S3PublicEndpoint:    cfg.Storage.PublicEndpoint,
		EnableDocs:          cfg.Server.EnableDocs,
		EmailSender:         mailer,
		LoginGuard:          loginGuard,
		Publisher:           publisher,
		CountryResolver:     countries,
		StatsCache:          statsCache,
		StripeSecretKey:     cfg.Stripe.SecretKey,
		StripeWebhookSecret: cfg.Stripe.WebhookSecret,
		StripePrices:        cfg.Stripe.Prices,
		BillingMailer:       mailer,
	})
	defer srv.Close()

	if cfg.Stripe.SecretKey != "" {
		slog.Info("serve: stripe billing enabled")
	}

	if opts.workers {
		worker := video.NewHandler(db.Pool, store, cfg.Server.BaseURL, cfg.Server.MaxUploadBytes, cfg.StreamSigningSecret())
		worker.SetTranscoder(transcode.New(cfg.Workers.FFmpegPath, cfg.Workers.FFprobePath))
		worker.SetPublisher(publisher)
		worker.StartTranscodeLoop(ctx, seconds(cfg.Workers.TranscodeIntervalSeconds, 15*time.Second))
		video.StartCleanupLoop(ctx, db.Pool, store, seconds(cfg.Workers.CleanupIntervalSeconds, 10*time.Minute))
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("serve: listening", "addr", httpServer.Addr, "version", version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("serve: shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	slog.Info("serve: shutdown complete")
	return nil
}

func seconds(n int, fallback time.Duration) time.Duration {
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}

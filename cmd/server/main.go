package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/httprate"

	"samadhan/internal/api"
	"samadhan/internal/auth"
	"samadhan/internal/config"
	"samadhan/internal/db"
	"samadhan/internal/email"
	"samadhan/internal/identity"
	"samadhan/internal/imagehost"
	"samadhan/internal/ratelimit"
	"samadhan/internal/sms"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.Info("starting server", "name", cfg.Server.Name, "environment", cfg.Server.Environment)
	if cfg.Auth.AutoVerify {
		slog.Warn("auto verify enabled, new identities skip verification")
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.Info("database opened", "path", cfg.Database.Path)

	identities := db.NewIdentityRepository(database)
	challenges := db.NewChallengeRepository(database)
	refreshTokens := db.NewRefreshTokenRepository(database)

	cleanupService := db.NewCleanupService(challenges, refreshTokens)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	go cleanupService.Start(cleanupCtx)

	emailService := email.NewSMTPService(email.Options{
		Host:             cfg.Email.SMTP.Host,
		Port:             cfg.Email.SMTP.Port,
		Username:         cfg.Email.SMTP.Username,
		Password:         cfg.Email.SMTP.Password,
		From:             cfg.Email.SMTP.From,
		AppName:          cfg.Server.Name,
		FrontendURL:      cfg.Server.FrontendURL,
		VerifyTokenTTL:   cfg.Auth.EmailTokenTTL,
		PasswordResetTTL: cfg.Auth.PasswordResetTTL,
	})
	slog.Info("email configured", "host", cfg.Email.SMTP.Host, "port", cfg.Email.SMTP.Port)

	smsService, err := sms.New(cfg.SMS, cfg.Server.Name, cfg.Auth.PhoneCodeTTL)
	if err != nil {
		slog.Error("failed to configure sms", "error", err)
		os.Exit(1)
	}
	slog.Info("sms configured", "provider", cfg.SMS.Provider)

	store, media, err := openImageStore(context.Background(), cfg.Storage)
	if err != nil {
		slog.Error("failed to initialize image storage", "error", err)
		os.Exit(1)
	}
	images, err := imagehost.NewService(store, cfg.Storage.UploadMaxBytes, cfg.Storage.ImageMaxEdge)
	if err != nil {
		slog.Error("failed to initialize image host", "error", err)
		os.Exit(1)
	}
	slog.Info("image storage initialized", "backend", cfg.Storage.Backend, "upload_max_bytes", cfg.Storage.UploadMaxBytes)

	deps := api.ServerDeps{
		Config:   cfg,
		Database: database,
		Media:    media,
	}

	if cfg.Redis.Addr != "" {
		client, err := ratelimit.NewClient(context.Background(), cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer client.Close()

		prefix := cfg.Redis.Prefix
		deps.Counters = func(name string) httprate.LimitCounter {
			return ratelimit.NewRedisCounter(client, prefix+name)
		}
		deps.Redis = ratelimit.HealthCheck{Client: client}
		slog.Info("rate limit counters shared through redis", "addr", cfg.Redis.Addr)
	}

	verifier := identity.NewVerifier(challenges, emailService, smsService, identity.VerifierConfig{
		EmailTokenTTL:    cfg.Auth.EmailTokenTTL,
		PhoneCodeTTL:     cfg.Auth.PhoneCodeTTL,
		PasswordResetTTL: cfg.Auth.PasswordResetTTL,
		MaxAttempts:      cfg.Auth.MaxCodeAttempts,
	})

	deps.Service = identity.NewService(identity.Deps{
		Identities:    identities,
		RefreshTokens: refreshTokens,
		Verifier:      verifier,
		Tokens: auth.NewTokenService(
			cfg.Auth.AccessTokenSecret,
			cfg.Auth.RefreshTokenSecret,
			cfg.Auth.AccessTokenTTL,
			cfg.Auth.RefreshTokenTTL,
		),
		Hasher:     auth.NewPasswordHasher(cfg.Auth.BcryptCost),
		Images:     images,
		AutoVerify: cfg.Auth.AutoVerify,
	})

	server, err := api.NewServer(deps)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	addr := cfg.Addr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		slog.Info("server listening", "addr", addr, "base_url", cfg.Server.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down")

	cleanupCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

// openImageStore returns the configured store. Disk stores are also served
// back over HTTP, so they are returned as media files too.
func openImageStore(ctx context.Context, cfg config.StorageConfig) (imagehost.Store, api.MediaFiles, error) {
	if cfg.Backend == config.StorageBackendS3 {
		store, err := imagehost.NewS3Store(ctx, imagehost.S3Config{
			Bucket:        cfg.S3.Bucket,
			Region:        cfg.S3.Region,
			Endpoint:      cfg.S3.Endpoint,
			AccessKey:     cfg.S3.AccessKey,
			SecretKey:     cfg.S3.SecretKey,
			PublicBaseURL: cfg.PublicBaseURL,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	}

	store, err := imagehost.NewDiskStore(cfg.ImageRoot, cfg.PublicBaseURL)
	if err != nil {
		return nil, nil, err
	}
	return store, store, nil
}

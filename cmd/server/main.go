// Package main is the entry point for the Proteeti server.
//
// main only reads configuration, builds the optional integrations the
// configuration asks for and hands them to internal/server. Everything else
// lives in internal/.
//
// OPTIONAL INTEGRATIONS:
//
//	redis.addr            → pending registrations + rate-limit counters in Redis
//	smtp.username/password→ real email, otherwise messages are logged
//	emailcheck.api_key    → mailboxlayer deliverability check at registration
//	mqtt.broker           → SOS events published to the broker
//	s3.bucket             → SOS audio archived to S3
//	auth.*_client_id      → Google / GitHub sign-in
package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/sakif/proteeti/internal/auth"
	"github.com/sakif/proteeti/internal/config"
	"github.com/sakif/proteeti/internal/emailcheck"
	"github.com/sakif/proteeti/internal/notify"
	redisRepo "github.com/sakif/proteeti/internal/repository/redis"
	"github.com/sakif/proteeti/internal/server"
	"github.com/sakif/proteeti/internal/storage"
)

func main() {
	// === 1. CONFIGURATION ===
	// PROTEETI_CONFIG points at a YAML file; without it the default
	// locations are searched and a missing file is fine.
	cfg, err := config.Load(os.Getenv("PROTEETI_CONFIG"))
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. DATABASE DIRECTORY ===
	if cfg.Database.Path != ":memory:" {
		dbDir := filepath.Dir(cfg.Database.Path)
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", dbDir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	// === 3. OPTIONAL INTEGRATIONS ===
	deps := server.Dependencies{
		Checker: emailcheck.New(cfg.EmailCheck.BaseURL, cfg.EmailCheck.APIKey, cfg.EmailCheck.Timeout, cfg.Server.DevMode, logger),
		Providers: auth.NewProviders(cfg.Auth.CallbackBaseURL,
			auth.OAuthCredentials{ClientID: cfg.Auth.GoogleClientID, ClientSecret: cfg.Auth.GoogleClientSecret},
			auth.OAuthCredentials{ClientID: cfg.Auth.GitHubClientID, ClientSecret: cfg.Auth.GitHubClientSecret},
		),
	}

	if cfg.SMTP.Enabled() && !cfg.Server.DevMode {
		mailer, err := notify.NewSMTPMailer(notify.SMTPSettings{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			FromName: cfg.SMTP.FromName,
			Timeout:  cfg.SMTP.Timeout,
		})
		if err != nil {
			logger.Error("failed to configure smtp", slog.String("error", err.Error()))
			os.Exit(1)
		}
		deps.Mailer = mailer
	} else {
		logger.Warn("SMTP not configured, emails will only be logged")
	}

	if cfg.Redis.Enabled() {
		rdb, err := redisRepo.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("failed to connect to redis", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer rdb.Close()
		deps.Pending = redisRepo.NewPendingStore(rdb)
		deps.Counter = rdb
		logger.Info("redis enabled", slog.String("addr", cfg.Redis.Addr))
	}

	if cfg.MQTT.Broker != "" {
		events, err := notify.NewMQTTPublisher(notify.MQTTSettings{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		}, logger)
		if err != nil {
			// Alerts still go out by email; responders just miss the event feed.
			logger.Warn("mqtt unavailable, SOS events disabled", slog.String("error", err.Error()))
		} else {
			deps.Events = events
		}
	}

	if cfg.S3.Bucket != "" {
		store, err := storage.NewS3Store(context.Background(), cfg.S3.Bucket, cfg.S3.Region, cfg.S3.Prefix)
		if err != nil {
			logger.Error("failed to configure s3", slog.String("error", err.Error()))
			os.Exit(1)
		}
		deps.Audio = store
	}

	if !cfg.Push.Enabled() {
		logger.Warn("VAPID keys not set, web push disabled (generate with: proteetictl vapid-keys)")
	}

	// === 4. CREATE AND START THE SERVER ===
	srv, err := server.New(cfg, deps, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

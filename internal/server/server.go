// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the wiring layer. It decides which URL patterns map to
// which handlers, which middleware runs where, and how the server starts
// and stops.
//
// DEPENDENCY INJECTION FLOW:
//
//	main.go builds config + optional integrations (Dependencies)
//	Server.New() opens sqlite.DB → services → handlers → routes
//
// Every optional integration has a working default: a nil Mailer logs
// messages, a nil Counter rate-limits in memory, a nil PendingStore keeps
// pending registrations in SQLite, and so on. A bare config with only the
// secrets set gives a complete single-process server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/proteeti/internal/auth"
	"github.com/sakif/proteeti/internal/config"
	"github.com/sakif/proteeti/internal/emailcheck"
	"github.com/sakif/proteeti/internal/handler"
	"github.com/sakif/proteeti/internal/middleware"
	"github.com/sakif/proteeti/internal/notify"
	"github.com/sakif/proteeti/internal/repository"
	sqliteRepo "github.com/sakif/proteeti/internal/repository/sqlite"
	"github.com/sakif/proteeti/internal/service"
	"github.com/sakif/proteeti/internal/storage"
)

// Dependencies are the integrations main.go builds from config. Nil fields
// fall back to the in-process implementations.
type Dependencies struct {
	Mailer    notify.Mailer
	Checker   emailcheck.Checker
	Pending   repository.PendingStore
	Counter   middleware.Counter
	Events    notify.EventPublisher
	Audio     storage.AudioStore
	Providers auth.Providers
	// Passwords overrides the bcrypt cost; tests use a cheap one.
	Passwords *auth.PasswordService
	// ExposeCode returns verification codes in the register response.
	// New turns it on in dev mode and when no Mailer is given.
	ExposeCode bool
}

// Server owns the database, the notification workers and the router.
type Server struct {
	router     *chi.Mux
	config     *config.Config
	logger     *slog.Logger
	db         *sqliteRepo.DB
	dispatcher *notify.Dispatcher
	events     notify.EventPublisher
}

// New opens the database and wires every layer.
func New(cfg *config.Config, deps Dependencies, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.JWTTTL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	deps.ExposeCode = deps.ExposeCode || cfg.Server.DevMode || deps.Mailer == nil
	deps = withDefaults(deps, db, logger)

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
		events: deps.Events,
	}
	s.dispatcher = notify.NewDispatcher(deps.Mailer, db, notify.DispatcherConfig{
		Async:          cfg.Notify.Async,
		Workers:        cfg.Notify.Workers,
		QueueSize:      cfg.Notify.QueueSize,
		AttemptTimeout: cfg.Notify.AttemptTimeout,
	}, logger)

	s.setupRoutes(deps, tokens)
	s.dispatcher.Start()

	return s, nil
}

func withDefaults(deps Dependencies, db *sqliteRepo.DB, logger *slog.Logger) Dependencies {
	if deps.Mailer == nil {
		deps.Mailer = notify.LogMailer{Logger: logger}
	}
	if deps.Checker == nil {
		deps.Checker = emailcheck.NoopChecker{}
	}
	if deps.Pending == nil {
		deps.Pending = db
	}
	if deps.Counter == nil {
		deps.Counter = middleware.NewMemoryCounter()
	}
	if deps.Events == nil {
		deps.Events = notify.NoopPublisher{}
	}
	if deps.Audio == nil {
		deps.Audio = storage.NoopStore{}
	}
	if deps.Providers == nil {
		deps.Providers = auth.Providers{}
	}
	if deps.Passwords == nil {
		deps.Passwords = auth.NewPasswordService()
	}
	return deps
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET  /healthz, /metrics                      → operations
//	POST /register, /verify-email, /login        → rate limited, public
//	GET  /logout, /auth/{provider}/*             → public
//	GET  /api/reports, /api/push/vapid-public-key→ public
//	/account, /send_sos, /map, /api/rating, ...  → user JWT required
//	/admin/setup, /admin/login                   → public (login rate limited)
//	/admin, /api/admin/*                         → admin session required
//
// MIDDLEWARE ORDER MATTERS:
// RequestID and RealIP first so the logger and rate limiter see them,
// Recoverer before our handlers so a panic still gets logged as a 500.
func (s *Server) setupRoutes(deps Dependencies, tokens *auth.TokenService) {
	cfg := s.config

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Metrics)
	s.router.Use(middleware.CORS(cfg.Server.CORSOrigins))

	// === Services ===
	pusher := notify.NewPusher(notify.VAPIDKeys{
		Public:     cfg.Push.VAPIDPublicKey,
		Private:    cfg.Push.VAPIDPrivateKey,
		Subscriber: cfg.Push.Subscriber,
	}, s.db, s.logger)

	accounts := service.NewAuthService(s.db, deps.Pending, tokens, deps.Passwords, deps.Checker, deps.Mailer,
		service.AuthOptions{PendingTTL: cfg.Auth.PendingTTL, ExposeCode: deps.ExposeCode}, s.logger)
	profiles := service.NewProfileService(s.db, s.logger)
	alerts := service.NewSOSService(s.db, s.db, s.db, s.dispatcher, deps.Audio, deps.Events, s.logger)
	reports := service.NewReportService(s.db, s.db, s.db, pusher, s.logger)
	maps := service.NewMapService(s.db, s.db)
	ratings := service.NewRatingService(s.db, s.logger)
	push := service.NewPushService(s.db, pusher, s.logger)
	admins := service.NewAdminService(s.db, s.db, deps.Passwords, s.logger)
	analytics := service.NewAnalyticsService(s.db, s.db, s.db)

	// === Handlers ===
	authHandler := handler.NewAuthHandler(accounts, deps.Providers, tokens.TTL(), cfg.Server.SecureCookies, s.logger)
	profileHandler := handler.NewProfileHandler(accounts, profiles, s.logger)
	sosHandler := handler.NewSOSHandler(alerts, s.logger)
	reportHandler := handler.NewReportHandler(reports, maps, s.logger)
	ratingHandler := handler.NewRatingHandler(ratings, s.logger)
	pushHandler := handler.NewPushHandler(push, s.logger)

	sessions := auth.NewAdminSessions(cfg.Auth.SessionSecret, cfg.Server.SecureCookies, s.db)
	adminHandler := handler.NewAdminHandler(handler.AdminServices{
		Admins:    admins,
		Alerts:    alerts,
		Reports:   reports,
		Analytics: analytics,
		Ratings:   ratings,
		Push:      push,
	}, sessions, s.logger)

	limit := middleware.RateLimit(deps.Counter, middleware.RateLimitConfig{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
	}, s.logger)

	// === Operations ===
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	// === Public ===
	s.router.With(limit).Post("/register", authHandler.HandleRegister)
	s.router.With(limit).Post("/verify-email", authHandler.HandleVerifyEmail)
	s.router.With(limit).Post("/login", authHandler.HandleLogin)
	s.router.Get("/logout", authHandler.HandleLogout)
	s.router.Get("/auth/{provider}/login", authHandler.HandleOAuthLogin)
	s.router.Get("/auth/{provider}/callback", authHandler.HandleOAuthCallback)
	s.router.Get("/api/reports", reportHandler.HandleList)
	s.router.Get("/api/push/vapid-public-key", pushHandler.HandlePublicKey)

	// === Signed-in users ===
	s.router.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(tokens))

		r.Get("/account", profileHandler.HandleAccount)
		r.Get("/profile", profileHandler.HandleAccount)
		r.Post("/account", profileHandler.HandleUpdateAccount)
		r.Post("/update_account", profileHandler.HandleUpdateAccount)
		r.Post("/onboarding", profileHandler.HandleOnboarding)
		r.Post("/edit-profile", profileHandler.HandleEditProfile)
		r.Post("/add_trusted_contact", profileHandler.HandleAddContact)
		r.Post("/remove_trusted_contact", profileHandler.HandleRemoveContact)
		r.Post("/delete_account", authHandler.HandleDeleteAccount)

		r.Post("/send_sos", sosHandler.HandleSend)
		r.Post("/send_sos_audio", sosHandler.HandleSendAudio)
		r.Get("/api/sos-alerts", sosHandler.HandleListMine)
		r.Get("/api/sos/{id}/notifications", sosHandler.HandleAttempts)

		r.Post("/submit_report", reportHandler.HandleSubmit)
		r.Get("/map", reportHandler.HandleMap)
		r.Get("/resources", reportHandler.HandleResources)

		r.Get("/api/rating", ratingHandler.HandleGet)
		r.Post("/api/rating", ratingHandler.HandleRate)
		r.Post("/api/push/subscribe", pushHandler.HandleSubscribe)
		r.Post("/api/push/unsubscribe", pushHandler.HandleUnsubscribe)
	})

	// === Admin ===
	s.router.Get("/admin/setup", adminHandler.HandleSetupStatus)
	s.router.Post("/admin/setup", adminHandler.HandleSetup)
	s.router.With(limit).Post("/admin/login", adminHandler.HandleLogin)
	s.router.Get("/admin/logout", adminHandler.HandleLogout)
	s.router.With(sessions.RequireAdmin).Get("/admin", adminHandler.HandleDashboard)

	s.router.Route("/api/admin", func(r chi.Router) {
		r.Use(sessions.RequireAdmin)

		r.Get("/users", adminHandler.HandleListUsers)
		r.Get("/sos-alerts", adminHandler.HandleListAlerts)
		r.Post("/sos-alerts/{id}/resolve", adminHandler.HandleResolveAlert)
		r.Delete("/reports/{id}", adminHandler.HandleDeleteReport)

		r.Get("/admins", adminHandler.HandleListAdmins)
		r.Post("/admins", adminHandler.HandleCreateAdmin)
		r.Delete("/admins/{id}", adminHandler.HandleDeleteAdmin)
		r.Post("/change-password", adminHandler.HandleChangePassword)
		r.Post("/delete-account", adminHandler.HandleDeleteSelf)

		r.Get("/analytics/overview", adminHandler.HandleOverview)
		r.Get("/analytics/trends", adminHandler.HandleTrends)
		r.Get("/analytics/heatmap-data", adminHandler.HandleHeatmap)
		r.Get("/ratings", adminHandler.HandleRatings)

		r.Post("/push/send-hazard", adminHandler.HandleSendHazard)
		r.Post("/push/send-community", adminHandler.HandleSendCommunity)

		r.Get("/export/reports.xlsx", adminHandler.HandleExportReports)
		r.Get("/export/alerts.xlsx", adminHandler.HandleExportAlerts)
	})
}

// handleHealth reports 503 when the database does not answer.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := s.db.Ping(ctx); err != nil {
		s.logger.Error("health check failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Close stops the workers (sending whatever is queued), disconnects from
// the broker and closes the database, in that order.
func (s *Server) Close() error {
	s.dispatcher.Stop()
	s.events.Close()
	return s.db.Close()
}

// Start runs the HTTP server until SIGINT or SIGTERM.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new connections
//  2. Wait for in-flight requests (30s)
//  3. Drain the notification queue so no SOS email is lost
//  4. Close the broker connection and the database
func (s *Server) Start() error {
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Error("closing server resources failed", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Server.Port)),
			slog.String("database", s.config.Database.Path),
			slog.Bool("async_notifications", s.dispatcher.Async()),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

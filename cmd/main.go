package main

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

	"github.com/Fecu3799/app-fuchibol-sub000/config"
	"github.com/Fecu3799/app-fuchibol-sub000/db"
	"github.com/Fecu3799/app-fuchibol-sub000/handlers"
	"github.com/Fecu3799/app-fuchibol-sub000/live"
	"github.com/Fecu3799/app-fuchibol-sub000/repositories"
	api "github.com/Fecu3799/app-fuchibol-sub000/routes"
	"github.com/Fecu3799/app-fuchibol-sub000/services"
	"github.com/Fecu3799/app-fuchibol-sub000/storage"
	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
)

const schedulerInterval = 1 * time.Minute

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("configuration loaded", slog.Int("port", cfg.ServerPort))

	dbConn, err := db.Connect(cfg.DatabaseURL, 5*time.Second)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("failed to close database connection", slog.Any("error", err))
		} else {
			logger.Info("database connection closed")
		}
	}()
	logger.Info("database connection established")

	var uploader storage.FileUploader
	if cfg.R2AccountID != "" {
		uploader, err = storage.NewCloudflareR2Uploader(storage.CloudflareR2UploaderConfig{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicBaseURL:   cfg.R2PublicBaseURL,
		})
		if err != nil {
			logger.Error("failed to initialize Cloudflare R2 uploader", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("Cloudflare R2 uploader initialized")
	} else {
		logger.Info("avatar uploads disabled, R2 is not configured")
	}

	hub := live.NewHub(logger)
	go hub.Run()
	logger.Info("live hub started")

	userRepo := repositories.NewPostgresUserRepository(dbConn)
	matchRepo := repositories.NewPostgresMatchRepository(dbConn)
	participantRepo := repositories.NewPostgresParticipantRepository(dbConn)
	idemRepo := repositories.NewPostgresIdempotencyRepository(dbConn)
	logger.Info("repositories initialized")

	clock := services.SystemClock()
	runner := services.NewSQLTxRunner(dbConn)
	snapshots := services.NewSnapshotBuilder(matchRepo, participantRepo, clock)
	coordinator := services.NewIdempotencyCoordinator(runner, idemRepo, clock, cfg.IdempotencyTTL, logger)

	authService := services.NewAuthService(userRepo)
	userService := services.NewUserService(userRepo, uploader)
	matchService := services.NewMatchService(
		runner,
		matchRepo,
		participantRepo,
		snapshots,
		coordinator,
		clock,
		hub,
		logger,
	)
	participationService := services.NewParticipationService(
		runner,
		matchRepo,
		participantRepo,
		userRepo,
		snapshots,
		coordinator,
		clock,
		hub,
		logger,
	)
	logger.Info("services initialized")

	// Background maintenance: expired idempotency records and matches past
	// their grace window.
	go func() {
		ticker := time.NewTicker(schedulerInterval)
		defer ticker.Stop()
		logger.Info("maintenance scheduler started", slog.Duration("interval", schedulerInterval))

		for range ticker.C {
			if err := coordinator.Sweep(context.Background()); err != nil {
				logger.Error("idempotency sweep failed", slog.Any("error", err))
			}
			if err := matchService.AutoMarkPlayedMatches(context.Background()); err != nil {
				logger.Error("auto mark played failed", slog.Any("error", err))
			}
		}
	}()

	authHandler := handlers.NewAuthHandler(authService, cfg.JWTSecretKey)
	userHandler := handlers.NewUserHandler(userService)
	matchHandler := handlers.NewMatchHandler(matchService)
	participationHandler := handlers.NewParticipationHandler(participationService)
	webSocketHandler := handlers.NewWebSocketHandler(hub, logger)
	logger.Info("HTTP handlers initialized")

	router := chi.NewRouter()
	api.SetupRoutes(
		router,
		cfg.JWTSecretKey,
		authHandler,
		userHandler,
		matchHandler,
		participationHandler,
		webSocketHandler,
	)
	logger.Info("routes configured")

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("server stopped gracefully")
	case sig := <-quit:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancelShutdown()

		logger.Info("shutting down server", slog.Duration("timeout", 15*time.Second))
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", slog.Any("error", err))
			if closeErr := server.Close(); closeErr != nil {
				logger.Error("failed to force close server", slog.Any("error", closeErr))
			}
			os.Exit(1)
		}
		logger.Info("server shutdown complete")
	}
	logger.Info("application exited")
}

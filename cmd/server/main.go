package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agrobid/marketplace/internal/api"
	"github.com/agrobid/marketplace/internal/auth"
	"github.com/agrobid/marketplace/internal/config"
	"github.com/agrobid/marketplace/internal/db"
	"github.com/agrobid/marketplace/internal/notify"
	"github.com/agrobid/marketplace/internal/profile"
	"github.com/agrobid/marketplace/internal/settlement"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Main entry point: loads configuration, connects to Postgres and
// serves the marketplace API.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfgPath := os.Getenv("MARKETPLACE_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.toml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx := context.Background()

	database, err := db.NewDB(ctx, cfg.Database.URL, cfg.Location())
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer database.Close()

	profiles, err := profile.NewDirectory(database, 512)
	if err != nil {
		logger.Error("failed to create profile directory", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sink := notify.NewLogSink(logger)
	engine := settlement.NewEngine(database, profiles, sink, cfg.Settlement.CommissionRate, logger)
	authService := auth.NewAuthService(database, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL.Duration)
	handler := api.NewHandler(database, engine, authService, profiles, logger)

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(cfg.Server.RequestTimeout.Duration))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Mount("/", handler.Routes())

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go expireLoop(sweepCtx, database, cfg.Settlement.ExpirySweep.Duration, logger)

	go func() {
		logger.Info("starting server", slog.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", slog.String("error", err.Error()))
	}
	logger.Info("server stopped")
}

// expireLoop periodically transitions active listings past their
// deadline to expired, rejecting their pending bids.
func expireLoop(ctx context.Context, database *db.DB, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := database.ExpireDueListings(ctx, time.Now())
			if err != nil {
				logger.Error("listing expiry sweep failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				logger.Info("expired listings", slog.Int("count", n))
			}
		}
	}
}

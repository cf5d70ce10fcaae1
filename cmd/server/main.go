package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/newsave/newsave/internal/config"
	"github.com/newsave/newsave/internal/constants"
	"github.com/newsave/newsave/internal/extractor"
	"github.com/newsave/newsave/internal/history"
	"github.com/newsave/newsave/internal/httpapp"
	"github.com/newsave/newsave/internal/logger"
	"github.com/newsave/newsave/internal/scheduler"
	"github.com/newsave/newsave/internal/storage"
	"github.com/newsave/newsave/internal/store"
	"github.com/newsave/newsave/internal/tagging"
	"github.com/newsave/newsave/internal/ws"
)

func main() {
	cfg := config.Load()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	// Initialize Logger
	appLogger := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	// Initialize DB
	db, err := store.NewSQLiteDB(cfg.DBPath)
	if err != nil {
		appLogger.Error("Failed to init DB", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Persisted settings win over environment defaults once they exist.
	settings, err := db.LoadSettings()
	if err != nil {
		appLogger.Error("Failed to load settings", "error", err)
		os.Exit(1)
	}
	if v, _ := db.GetSetting(store.SettingMaxConcurrent); v == "" {
		settings.MaxConcurrent = cfg.MaxConcurrent
	}

	if err := storage.EnsureDir(cfg.DownloadsDir); err != nil {
		appLogger.Error("Failed to create downloads directory", "error", err, "path", cfg.DownloadsDir)
		os.Exit(1)
	}

	// Initialize WebSocket hub
	hub := ws.NewHub(appLogger)
	go hub.Run()

	// Initialize History
	historySvc := history.NewService(db, tagging.New(appLogger), appLogger, settings.KeepHistory)
	historySvc.OnChange(hub.NotifyHistoryChanged)

	// Initialize yt-dlp wrappers
	runner := extractor.NewRunner(cfg.YtDlpPath, appLogger)
	fetcher := extractor.NewFetcher(cfg.YtDlpPath, appLogger)

	// Initialize Scheduler
	sched := scheduler.New(runner, fetcher, historySvc, hub, appLogger, cfg.DownloadsDir, settings.MaxConcurrent)
	sched.Start()

	// Initialize Router
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	h := httpapp.NewHandler(sched, historySvc, fetcher, db, hub, appLogger)
	h.RegisterRoutes(r)

	// Start Server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Printf("Server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", "error", err)
	}
	if err := sched.Stop(ctx); err != nil {
		appLogger.Error("Scheduler forced to shutdown", "error", err)
	}

	log.Println("Server exiting")
}

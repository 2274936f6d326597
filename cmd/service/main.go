package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/asadbukhari/weather-alert-cache/internal/alerts"
	"github.com/asadbukhari/weather-alert-cache/internal/client"
	"github.com/asadbukhari/weather-alert-cache/internal/config"
	"github.com/asadbukhari/weather-alert-cache/internal/fetch"
	httphandler "github.com/asadbukhari/weather-alert-cache/internal/http"
	"github.com/asadbukhari/weather-alert-cache/internal/maintenance"
	"github.com/asadbukhari/weather-alert-cache/internal/models"
	"github.com/asadbukhari/weather-alert-cache/internal/observability"
	"github.com/asadbukhari/weather-alert-cache/internal/store"
	"github.com/asadbukhari/weather-alert-cache/internal/tasks"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	regions, err := models.LoadRegions(cfg.RegionsFile)
	if err != nil {
		logger.Fatal("regions", zap.Error(err))
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	st := store.New(db, logger)
	logger.Info("store ready", zap.String("path", cfg.DatabasePath))

	forecastClient, err := client.NewOpenMeteoClientWithRetry(
		cfg.ForecastAPIURL,
		cfg.Timezone,
		cfg.ForecastAPITimeout,
		cfg.RetryAttempts,
		cfg.RetryBaseDelay,
		cfg.RetryMaxDelay,
	)
	if err != nil {
		logger.Fatal("forecast client", zap.Error(err))
	}

	fetcher := fetch.New(st, forecastClient, logger, cfg.FetchWorkers, cfg.CacheTTL)
	runner := tasks.NewRunner(cfg.TaskWorkers, cfg.TaskQueueSize, logger)

	var generator alerts.Generator
	if cfg.GeneratorURL != "" {
		generator, err = alerts.NewHTTPGenerator(cfg.GeneratorURL, cfg.GeneratorTimeout)
		if err != nil {
			logger.Fatal("alert generator", zap.Error(err))
		}
	} else {
		logger.Warn("no generator URL configured; /generate/alerts will fail")
	}
	pipeline := alerts.NewPipeline(st, fetcher, generator, logger, cfg.CacheTTL)

	sweeper := maintenance.NewSweeper(st, runner, logger,
		maintenance.WithSchedule(cfg.CleanupSchedule),
		maintenance.WithTaskRetention(cfg.TaskRetention),
	)
	if err := sweeper.Start(); err != nil {
		logger.Fatal("maintenance sweeper", zap.Error(err))
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	handler := httphandler.NewHandler(st, fetcher, pipeline, runner, regions, logger)

	router := mux.NewRouter()
	router.Use(httphandler.CorrelationIDMiddleware(logger))
	router.Use(httphandler.MetricsMiddleware)
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())

	api := router.PathPrefix("/").Subrouter()
	api.Use(httphandler.RateLimitMiddleware(limiter))
	api.Use(httphandler.TimeoutMiddleware(cfg.RequestTimeout))
	api.HandleFunc("/forecast/{region}/{location}/{days}", handler.GetForecast).Methods("GET")
	api.HandleFunc("/alert/{region}/{location}/{days}", handler.GetAlert).Methods("GET")
	api.HandleFunc("/alerts/{days}", handler.GetAllAlerts).Methods("GET")
	api.HandleFunc("/generate/forecast", handler.PostGenerateForecast).Methods("POST")
	api.HandleFunc("/generate/alerts", handler.PostGenerateAlerts).Methods("POST")
	api.HandleFunc("/tasks/{id}", handler.GetTask).Methods("GET")
	api.HandleFunc("/purge", handler.PostPurge).Methods("POST")

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	<-sweeper.Stop().Done()

	if err := runner.Stop(shutdownCtx); err != nil {
		logger.Warn("background tasks not completed", zap.Error(err))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	logger.Info("shutdown complete")
}

package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/afroash/envmon/internal/config"
	"github.com/afroash/envmon/internal/logging"
	"github.com/afroash/envmon/internal/metrics"
	"github.com/afroash/envmon/internal/predict"
	"github.com/afroash/envmon/internal/server"
	"github.com/afroash/envmon/internal/storage"
)

const version = "v0.3.0"

func main() {
	configPath := flag.String("config", "configs/predictd.yaml", "path to config file")
	envPath := flag.String("env", ".env", "optional .env file")
	flag.Parse()

	if err := config.LoadDotEnv(*envPath); err != nil {
		log.Fatalf("Failed to load env: %v", err)
	}
	cfg, err := config.LoadAppConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, logCloser, err := logging.New(cfg.Logging, "predictd")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logCloser.Close()

	logger.Info().
		Str("version", version).
		Int("port", cfg.Server.Port).
		Msg("Starting prediction service")
	logger.Debug().Msg(cfg.String())

	air, err := predict.LoadClassifier(cfg.Models.Air, predict.AirQualityRules())
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load air quality model")
	}
	fire, err := predict.LoadClassifier(cfg.Models.Fire, predict.DefaultFireRules())
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load fire model")
	}
	zone, err := predict.LoadClassifier(cfg.Models.Zone, predict.DefaultZoneRules())
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load zone model")
	}

	m := metrics.New()
	store := server.NewMemoryStore(cfg.Storage.BufferSize)

	// Setup database
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0o755); err != nil {
		logger.Fatal().Err(err).Msg("Failed to create data directory")
	}
	sqliteStore, err := storage.NewSQLiteStore(cfg.Storage.DBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create SQLite store")
	}

	dbWriter := storage.NewDBWriter(sqliteStore, storage.DBWriterConfig{}, logger)
	dbWriter.SetDropCounter(m)

	retentionCleaner, err := storage.NewRetentionCleaner(sqliteStore, storage.RetentionCleanerConfig{
		RetentionDays: cfg.Storage.RetentionDays,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to start retention cleaner")
	}

	predictHandler := server.NewPredictHandler(air, fire, zone, logger)
	predictHandler.SetObserver(m)

	streamHandler := server.NewHandler(cfg.Server.AuthToken, store, logger, cfg.Server.AllowedOrigins...)
	streamHandler.SetDBWriter(dbWriter)
	streamHandler.SetObserver(m)

	router := server.NewRouter(server.Routes{
		Version: version,
		API:     server.NewAPIHandlerWithHistory(store, sqliteStore, logger),
		Predict: predictHandler,
		Stream:  streamHandler,
		Metrics: m,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      server.Wrap(router, logger.With().Str("component", "access").Logger(), cfg.Server.AllowedOrigins...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for shutdown signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
	}

	dbWriter.Stop()
	logger.Info().Msg("DBWriter stopped")
	retentionCleaner.Stop()
	logger.Info().Msg("RetentionCleaner stopped")
	if err := sqliteStore.Close(); err != nil {
		logger.Error().Err(err).Msg("SQLite close error")
	}

	logger.Info().Msg("Server stopped")
}

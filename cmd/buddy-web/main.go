package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/scrypster/buddy/internal/config"
	"github.com/scrypster/buddy/internal/gateway"
	"github.com/scrypster/buddy/internal/server"
	"github.com/scrypster/buddy/internal/shell"
	"github.com/scrypster/buddy/internal/storage"
	"github.com/scrypster/buddy/internal/storage/postgres"
	"github.com/scrypster/buddy/internal/storage/sqlite"
)

func main() {
	modelsPath := flag.String("models", "", "Path to YAML model override file (default: config/models.yaml if present)")
	flag.Parse()

	// .env is optional; real deployments set environment variables directly.
	_ = godotenv.Load()

	log := logrus.WithField("component", "main")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}

	if *modelsPath == "" {
		defaultPath := "config/models.yaml"
		if _, err := os.Stat(defaultPath); err == nil {
			*modelsPath = defaultPath
		}
	}
	if *modelsPath != "" {
		if err := cfg.ApplyModelsFile(*modelsPath); err != nil {
			log.WithError(err).Fatal("failed to apply models file")
		}
		log.WithField("path", *modelsPath).Info("model overrides applied")
	}

	if cfg.Gateway.APIKey == "" {
		log.Warn("BUDDY_API_KEY is not set; backend requests will be rejected")
	}

	store := openStore(cfg, log)

	gw := gateway.New(gateway.NewClient(gateway.ClientConfig{
		APIKey:  cfg.Gateway.APIKey,
		BaseURL: cfg.Gateway.BaseURL,
	}), gateway.Config{
		FlashModel:   cfg.Gateway.FlashModel,
		FastModel:    cfg.Gateway.FastModel,
		FullModel:    cfg.Gateway.FullModel,
		MapsModel:    cfg.Gateway.MapsModel,
		ImageModel:   cfg.Gateway.ImageModel,
		VoiceModel:   cfg.Voice.Model,
		DefaultVoice: cfg.Voice.DefaultVoice,
		Cooldown:     cfg.Gateway.Cooldown,
	})

	app := shell.New(store, gw)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Init(ctx); err != nil {
		log.WithError(err).Fatal("failed to initialize application state")
	}

	addr, err := server.Start(ctx, cfg, app, gw)
	if err != nil {
		log.WithError(err).Fatal("failed to start server")
	}
	log.WithField("addr", "http://"+addr).Info("buddy running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down gracefully")
	cancel()

	if err := app.Close(); err != nil {
		log.WithError(err).Error("error closing application")
	}
	time.Sleep(1 * time.Second) // Give time for connections to close
}

// openStore initializes the configured storage engine with the settings
// mirror for fast startup reads. An engine that cannot be opened degrades
// to an in-memory database with a warning; the app always comes up, it
// just won't persist across restarts.
func openStore(cfg *config.Config, log *logrus.Entry) storage.Store {
	var durable storage.Store
	var err error

	switch cfg.Storage.StorageEngine {
	case "postgres":
		durable, err = postgres.New(cfg.Storage.PostgresDSN)
	default:
		if mkErr := os.MkdirAll(cfg.Storage.DataPath, 0o755); mkErr != nil {
			err = fmt.Errorf("%w: failed to create data directory: %v", storage.ErrInitFailed, mkErr)
		} else {
			durable, err = sqlite.New(filepath.Join(cfg.Storage.DataPath, "buddy.db"))
		}
	}

	if err != nil {
		log.WithError(err).Warn("storage init failed, continuing with in-memory defaults")
		durable, err = sqlite.New(":memory:")
		if err != nil {
			log.WithError(err).Fatal("failed to initialize fallback storage")
		}
	}

	return storage.WithMirror(durable, storage.NewSettingsMirror(cfg.Storage.DataPath))
}

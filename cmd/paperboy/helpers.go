package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/matsen/paperboy/internal/config"
	"github.com/matsen/paperboy/internal/embedding"
	"github.com/matsen/paperboy/internal/logging"
	"github.com/matsen/paperboy/internal/search"
	"github.com/matsen/paperboy/internal/store"
)

// mustLoadConfig loads the config file plus environment overrides,
// exiting on malformed input.
func mustLoadConfig() *config.Config {
	cfg, err := config.Load(config.Path(configPath))
	if err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	return cfg
}

func newLogger(cfg *config.Config) *slog.Logger {
	return logging.New(cfg.LogLevel)
}

func mustOpenStore(ctx context.Context, cfg *config.Config) store.Store {
	st, err := store.Open(ctx, cfg.StoreConfig())
	if err != nil {
		exitWithError(ExitError, "opening store: %v", err)
	}
	return st
}

func mustEmbeddingClient(cfg *config.Config) *embedding.Client {
	client, err := embedding.New(cfg.EmbedURL)
	if err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	return client
}

func searchService(st store.Store, cfg *config.Config, log *slog.Logger) *search.Service {
	return search.New(mustEmbeddingClient(cfg), st, log)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

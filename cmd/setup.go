package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/csvquery/csvbrowse/internal/config"
	"github.com/csvquery/csvbrowse/internal/metacache"
	"github.com/csvquery/csvbrowse/internal/query"
	"github.com/csvquery/csvbrowse/internal/store"
)

// handleSignals returns a context cancelled on SIGINT or SIGTERM.
func handleSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// setupLogging installs the default logger. Debug output is enabled by
// DEBUG or CSVBROWSE_DEBUG.
func setupLogging(service string, w io.Writer) *slog.Logger {
	var opts *slog.HandlerOptions
	if os.Getenv("DEBUG") != "" || os.Getenv("CSVBROWSE_DEBUG") != "" {
		opts = &slog.HandlerOptions{Level: slog.LevelDebug}
	}
	logger := slog.New(slog.NewTextHandler(w, opts)).With(slog.String("service", service))
	slog.SetDefault(logger)
	return logger
}

// app is the wired set of components shared by the serve and daemon
// commands.
type app struct {
	cfg    *config.Config
	store  *store.Store
	cache  *metacache.Cache
	engine *query.Engine
	logger *slog.Logger
}

func newApp(service string) (*app, error) {
	logger := setupLogging(service, os.Stdout)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	readOpts, err := cfg.CSV.ReaderOptions()
	if err != nil {
		return nil, err
	}

	st, err := store.New(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	cache := metacache.New(cfg.Cache)
	engine := query.NewEngine(st, cache,
		query.WithReaderOptions(readOpts),
		query.WithLogger(logger),
	)
	st.OnDelete(engine.OnFileDeleted)

	return &app{
		cfg:    cfg,
		store:  st,
		cache:  cache,
		engine: engine,
		logger: logger,
	}, nil
}

func (a *app) Close() {
	a.cache.Close()
}

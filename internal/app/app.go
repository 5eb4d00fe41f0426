// Package app wires configuration into a ready-to-run pipeline. Every
// command builds its dependencies through here.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/tendant/simple-docparser/internal/config"
	"github.com/tendant/simple-docparser/internal/converters"
	"github.com/tendant/simple-docparser/internal/dispatch"
	"github.com/tendant/simple-docparser/internal/metrics"
	"github.com/tendant/simple-docparser/internal/pipeline"
	"github.com/tendant/simple-docparser/internal/resolver"
	"github.com/tendant/simple-docparser/internal/storage"
	"github.com/tendant/simple-docparser/internal/upload"
)

type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Store     storage.Store
	Client    *upload.Client
	Converter converters.Converter
	Pipeline  *pipeline.Pipeline
	Metrics   *metrics.Metrics
}

// New opens the store, selects the converter and dispatcher, and builds the
// pipeline. Extra observers receive lifecycle events alongside metrics.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, observers ...pipeline.Observer) (*App, error) {
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	client := upload.NewClient(store, cfg.Pipeline.OutputPrefix)

	conv, err := converters.GetConverter(cfg.Converter)
	if err != nil {
		closeStore(store)
		return nil, err
	}
	if api, ok := conv.(*converters.API); ok {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := api.Ping(pingCtx); err != nil {
			logger.Warn("conversion api not reachable yet", "url", cfg.Converter.APIURL, "err", err)
		}
		cancel()
	}
	disp, err := dispatch.New(cfg.Pipeline.Mode, conv, cfg.Pipeline.Options)
	if err != nil {
		closeStore(store)
		return nil, err
	}

	res := resolver.New(client, resolver.Options{
		DefaultLang:  cfg.Pipeline.DefaultLang,
		MaxDocuments: cfg.Pipeline.MaxDocuments,
	}, logger)

	m := metrics.New()
	p := pipeline.New(cfg.Pipeline.WorkDir, res, disp, client,
		pipeline.WithLogger(logger),
		pipeline.WithObserver(append(pipeline.Observers{m}, observers...)),
		pipeline.WithReleaseHook(m.WorkspaceReleased),
	)

	logger.Info("pipeline ready",
		"storage", store.Name(),
		"bucket", cfg.Storage.Bucket,
		"converter", conv.Name(),
		"mode", disp.Mode(),
		"backend", cfg.Pipeline.Options.Backend,
		"work_dir", cfg.Pipeline.WorkDir,
	)

	return &App{
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		Client:    client,
		Converter: conv,
		Pipeline:  p,
		Metrics:   m,
	}, nil
}

// Close releases the store client.
func (a *App) Close() {
	closeStore(a.Store)
}

func closeStore(s storage.Store) {
	if c, ok := s.(io.Closer); ok {
		_ = c.Close()
	}
}

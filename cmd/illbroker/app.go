package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/yourusername/open-ill-broker/pkg/borrower"
	"github.com/yourusername/open-ill-broker/pkg/config"
	"github.com/yourusername/open-ill-broker/pkg/holds"
	"github.com/yourusername/open-ill-broker/pkg/ill"
	"github.com/yourusername/open-ill-broker/pkg/importer"
	"github.com/yourusername/open-ill-broker/pkg/index"
	"github.com/yourusername/open-ill-broker/pkg/notify"
	"github.com/yourusername/open-ill-broker/pkg/provider"
	"github.com/yourusername/open-ill-broker/pkg/search"
	"github.com/yourusername/open-ill-broker/pkg/sip2"
	"github.com/yourusername/open-ill-broker/pkg/transport"
	"github.com/yourusername/open-ill-broker/pkg/z3950/pool"
)

// app holds every long-lived component built from the configuration.
type app struct {
	cfg     *config.Config
	targets *config.TargetTable
	store   provider.Store
	index   *index.Manager
	sru     *search.SRU
	z3950   *search.Z3950
	broker  ill.Handler

	stopPool context.CancelFunc
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := provider.Open(ctx, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.DB.Provider, err)
	}
	slog.Info("store ready", "provider", cfg.DB.Provider)

	idx, err := index.NewManager(cfg.Index.Path)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening request index: %w", err)
	}

	client := transport.New(
		transport.WithTimeout(cfg.Holds.Timeout),
		transport.WithRateLimit(cfg.Transport.RatePerSecond, cfg.Transport.Burst),
	)

	sessions := pool.NewPool(pool.DefaultConfig)
	poolCtx, stopPool := context.WithCancel(context.Background())
	go sessions.Run(poolCtx, time.Minute)

	targets := cfg.TargetTable()
	sru := search.NewSRU(client)
	zb := search.NewZ3950(sessions)
	searcher := search.New(targets, store,
		search.WithBackend(config.ProtocolSRU, sru),
		search.WithBackend(config.ProtocolZ3950, zb),
		search.WithTimeout(cfg.Search.Timeout),
		search.WithMaxParallel(cfg.Search.MaxParallel),
		search.WithPageSize(cfg.Search.PageSize),
	)

	var dir borrower.Directory = store
	if cfg.SIP2.Enabled() {
		dir = sip2.NewDirectory(store, sip2.NewVerifier(cfg.SIP2))
		slog.Info("sip2 patron verification enabled", "host", cfg.SIP2.Host, "port", cfg.SIP2.Port)
	}

	broker := ill.New(ill.Deps{
		Store:     store,
		Targets:   targets,
		Resolver:  borrower.NewResolver(dir),
		Searcher:  searcher,
		Importer:  importer.New(store, cfg.Catalog.Framework),
		Holds:     holds.New(client, cfg.Holds),
		Notifier:  notify.New(cfg.SMTP),
		Index:     idx,
		Framework: cfg.Catalog.Framework,
	})

	return &app{
		cfg:      cfg,
		targets:  targets,
		store:    store,
		index:    idx,
		sru:      sru,
		z3950:    zb,
		broker:   broker,
		stopPool: stopPool,
	}, nil
}

// ping checks that a target's search endpoint answers.
func (a *app) ping(ctx context.Context, t config.Target) error {
	switch t.Protocol {
	case config.ProtocolSRU:
		return a.sru.Explain(ctx, t)
	case config.ProtocolZ3950:
		return a.z3950.Ping(ctx, t)
	}
	return fmt.Errorf("target %s: unknown protocol %q", t.Name, t.Protocol)
}

func (a *app) Close() {
	a.stopPool()
	if err := a.index.Close(); err != nil {
		slog.Warn("closing index", "error", err)
	}
	if err := a.store.Close(); err != nil {
		slog.Warn("closing store", "error", err)
	}
}

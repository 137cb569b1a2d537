package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"nemesis/config"
	"nemesis/internal/adapter/cache"
	"nemesis/internal/adapter/embedding"
	"nemesis/internal/adapter/memstore"
	"nemesis/internal/adapter/pgstore"
	"nemesis/internal/adapter/scorer"
	"nemesis/internal/adapter/store"
	"nemesis/internal/port"
	"nemesis/internal/tracing"
	"nemesis/internal/usecase"
)

// app holds everything a command needs; close releases it in reverse order.
type app struct {
	store   port.Store
	engine  *usecase.Engine
	closers []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn().Err(err).Msg("shutdown")
		}
	}
}

// openApp opens the configured store, caches and tracer and builds the engine.
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}

	shutdown, err := tracing.Setup(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Endpoint:    cfg.Tracing.Endpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}
	a.closers = append(a.closers, func() error { return shutdown(context.Background()) })

	if err := a.openStore(ctx, cfg); err != nil {
		a.close()
		return nil, err
	}

	opts := usecase.Options{
		Generator:              embedding.NewSyntheticGenerator(cfg.Embedding.Dimension),
		Scorer:                 scorer.New(cfg.Discovery.Scorer),
		DefaultLimit:           cfg.Discovery.DefaultLimit,
		MaxLimit:               cfg.Discovery.MaxLimit,
		SerializeUserMutations: cfg.Engine.SerializeUserMutations,
		MaintainerRetries:      cfg.Engine.MaintainerRetries,
		MaintainerBackoff:      cfg.Engine.MaintainerBackoff,
		Concurrency:            cfg.Engine.Concurrency,
		Logger:                 logger,
	}

	if cfg.Cache.TagCacheSize > 0 {
		tc, err := cache.NewTagEmbeddingCache(cfg.Cache.TagCacheSize)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to create tag cache: %w", err)
		}
		opts.TagCache = tc
		a.closers = append(a.closers, func() error { tc.Close(); return nil })
	}

	switch cfg.Cache.Discovery {
	case "memory":
		opts.DiscoveryCache = cache.NewMemoryDiscoveryCache(cfg.Cache.DiscoverySize, cfg.Cache.DiscoveryTTL)
	case "redis":
		rc, err := cache.NewRedisDiscoveryCache(ctx, cfg.Cache.RedisURL,
			cache.WithTTL(cfg.Cache.DiscoveryTTL),
			cache.WithKeyPrefix(cfg.Cache.RedisKeyPrefix),
			cache.WithLogger(logger),
		)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		opts.DiscoveryCache = rc
		a.closers = append(a.closers, rc.Close)
	}

	a.engine = usecase.NewEngine(a.store, opts)
	return a, nil
}

func (a *app) openStore(ctx context.Context, cfg *config.Config) error {
	switch cfg.Store.Driver {
	case "memory":
		a.store = memstore.NewMemoryStore(cfg.Embedding.Dimension)

	case "postgres":
		st, err := pgstore.Open(ctx, cfg.Store.DSN, cfg.Embedding.Dimension)
		if err != nil {
			return fmt.Errorf("failed to open postgres store: %w", err)
		}
		a.store = st

	default:
		if err := config.EnsureDir(cfg.Store.Path); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
		st, err := store.NewBoltStore(cfg.Store.Path, cfg.Embedding.Dimension)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		a.store = st

		result, err := st.CheckMigration(cfg)
		if err != nil {
			st.Close()
			return fmt.Errorf("failed to check migration: %w", err)
		}
		if result.NeedsRebuild {
			st.Close()
			return fmt.Errorf("embeddings must be rebuilt (%s): run 'nemesis migrate'", result.Reason)
		}
		if result.NeedsMigration {
			logger.Info().Str("reason", result.Reason).Msg("running schema migration")
			if err := st.Migrate(cfg); err != nil {
				st.Close()
				return fmt.Errorf("migration failed: %w", err)
			}
		}
	}

	a.closers = append(a.closers, a.store.Close)
	return nil
}

func printJSON(w io.Writer, v any) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(output))
	return err
}

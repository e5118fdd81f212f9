package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fixpoint-repair/buyback/internal/catalog"
	"github.com/fixpoint-repair/buyback/internal/fetcher"
	"github.com/fixpoint-repair/buyback/internal/ingest"
	"github.com/fixpoint-repair/buyback/internal/pricing"
	"github.com/fixpoint-repair/buyback/internal/resilience"
	"github.com/fixpoint-repair/buyback/internal/settings"
	"github.com/fixpoint-repair/buyback/internal/store"
)

// pricingEnv holds the store and every pricing component the commands use.
type pricingEnv struct {
	Store    store.Store
	Margins  *settings.Resolver
	Quotes   *pricing.Service
	Prices   *pricing.Aggregator
	Recalc   *pricing.Recalculator
	Ingester *ingest.Ingester

	redis *settings.RedisBackend // nil unless settings.backend is redis
}

// Close releases resources held by the environment.
func (e *pricingEnv) Close() {
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates the config for mode, opens and migrates the store and
// wires the pricing components. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*pricingEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	env := &pricingEnv{Store: st}

	var backend settings.Backend = settings.NewStoreBackend(st)
	if cfg.Settings.Backend == "redis" {
		rb, err := settings.NewRedisBackend(ctx, cfg.Settings.RedisURL, cfg.Settings.RedisDB)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.redis = rb
		backend = rb
	}

	breaker := resilience.NewBreaker("settings",
		cfg.Settings.BreakerFailures,
		time.Duration(cfg.Settings.BreakerResetSecs)*time.Second,
	)
	env.Margins = settings.NewResolver(backend, cfg.Settings.Key, cfg.Settings.CacheTTL(), settings.WithBreaker(breaker))

	cat := catalog.New()
	env.Quotes = pricing.NewService(st, env.Margins, cat)
	env.Prices = pricing.NewAggregator(st, env.Margins, cat, cfg.Pricing.MaxPriceConcurrency)
	env.Recalc = pricing.NewRecalculator(st, env.Margins)

	timeout := time.Duration(cfg.Ingest.TimeoutSecs) * time.Second
	env.Ingester = ingest.New(st, cat,
		ingest.WithHTTP(fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent:  cfg.Ingest.UserAgent,
			Timeout:    timeout,
			MaxRetries: cfg.Ingest.MaxRetries,
		})),
		ingest.WithFTP(fetcher.NewFTPFetcher(fetcher.FTPOptions{Timeout: timeout})),
		ingest.WithSheetName(cfg.Ingest.SheetName),
	)

	zap.L().Debug("pricing environment ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("settings_backend", cfg.Settings.Backend),
	)
	return env, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

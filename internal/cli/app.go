package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"ibkr-dashboard/internal/broker"
	"ibkr-dashboard/internal/config"
	"ibkr-dashboard/internal/enrich"
	apperrors "ibkr-dashboard/internal/errors"
	"ibkr-dashboard/internal/observability"
	"ibkr-dashboard/internal/resilience"
	"ibkr-dashboard/internal/staging"
	"ibkr-dashboard/internal/store"
	"ibkr-dashboard/internal/watchlist"
)

// App holds the application dependencies.
type App struct {
	Config     *config.Config
	Logger     zerolog.Logger
	Metrics    *observability.Metrics
	Gateway    broker.Gateway
	Watchlists *watchlist.Service
	Staging    *staging.Coordinator

	configDir string
	closers   []io.Closer
}

// Setup wires the gateway client, stores and services from the loaded
// configuration. Dependencies that are already set are kept.
func (a *App) Setup(ctx context.Context) error {
	if a.Watchlists != nil && a.Staging != nil {
		return nil
	}
	if a.Config == nil {
		return fmt.Errorf("configuration not loaded")
	}
	cfg := a.Config

	if a.Metrics == nil {
		a.Metrics = observability.NewMetrics("")
	}

	if a.Gateway == nil {
		a.Gateway = broker.NewIBKRClient(cfg.Broker.BaseURL,
			broker.WithTimeout(cfg.Broker.Timeout),
			broker.WithInsecureTLS(cfg.Broker.InsecureTLS),
			broker.WithAccountID(cfg.Broker.AccountID),
			broker.WithBreaker(resilience.Config{
				FailureThreshold: cfg.Broker.FailureThreshold,
				SuccessThreshold: 1,
				Timeout:          cfg.Broker.BreakerTimeout,
			}),
			broker.WithLogger(a.Logger),
			broker.WithMetrics(a.Metrics),
		)
	}

	if a.Watchlists == nil {
		backend, err := store.Open(cfg.Storage.Backend, cfg.Storage.Path)
		if err != nil {
			return apperrors.Wrapf(err, "opening %s store", cfg.Storage.Backend)
		}
		a.closers = append(a.closers, backend)
		a.Logger.Debug().Str("backend", cfg.Storage.Backend).Str("path", cfg.Storage.Path).Msg("watchlist store opened")

		enricher := enrich.New(a.Gateway,
			enrich.WithConcurrency(cfg.Enrichment.Concurrency),
			enrich.WithCacheTTL(cfg.Enrichment.CacheTTL),
			enrich.WithLogger(a.Logger),
			enrich.WithMetrics(a.Metrics),
		)
		a.Watchlists = watchlist.NewService(backend, enricher,
			watchlist.WithUniqueNames(cfg.Watchlists.UniqueNames),
			watchlist.WithLogger(a.Logger),
			watchlist.WithMetrics(a.Metrics),
		)
	}

	if a.Staging == nil {
		sessions, err := a.sessionStore(ctx)
		if err != nil {
			return err
		}
		a.Staging = staging.NewCoordinator(a.Gateway, a.Watchlists, sessions,
			staging.WithConcurrency(cfg.Enrichment.Concurrency),
			staging.WithLogger(a.Logger),
			staging.WithMetrics(a.Metrics),
		)
	}

	return nil
}

func (a *App) sessionStore(ctx context.Context) (staging.SessionStore, error) {
	cfg := a.Config.Staging
	if cfg.Backend != "redis" {
		return staging.NewMemoryStore(cfg.TTL), nil
	}

	rs, err := staging.DialRedis(ctx, cfg.RedisAddr, cfg.TTL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, rs)
	a.Logger.Debug().Str("addr", cfg.RedisAddr).Msg("staging store connected to Redis")
	return rs, nil
}

// Close releases stores opened by Setup.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// Package staging runs the two-step CSV import: resolve an upload into a
// staged batch, then add the user's selection to a watchlist.
package staging

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/iter"

	"ibkr-dashboard/internal/broker"
	apperrors "ibkr-dashboard/internal/errors"
	"ibkr-dashboard/internal/logging"
	"ibkr-dashboard/internal/models"
	"ibkr-dashboard/internal/observability"
	"ibkr-dashboard/internal/symbols"
)

// Watchlists is the part of the watchlist service the coordinator needs.
type Watchlists interface {
	Exists(ctx context.Context, name string) (bool, error)
	AddMany(ctx context.Context, name string, instruments []models.Instrument) (int, error)
}

// ConfirmResult reports what a confirm did.
type ConfirmResult struct {
	Watchlist string `json:"watchlist"`
	Selected  int    `json:"selected"`
	Added     int    `json:"added"`
}

// DefaultConcurrency caps parallel resolver calls for one upload.
const DefaultConcurrency = 8

// Coordinator stages uploads per session and confirms them into watchlists.
type Coordinator struct {
	resolver    broker.Resolver
	watchlists  Watchlists
	sessions    SessionStore
	concurrency int
	logger      zerolog.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithConcurrency caps parallel resolver calls.
func WithConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(resolver broker.Resolver, watchlists Watchlists, sessions SessionStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		resolver:    resolver,
		watchlists:  watchlists,
		sessions:    sessions,
		concurrency: DefaultConcurrency,
		logger:      zerolog.Nop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stage extracts symbols from text, resolves each one and stores the result
// as the session's batch, replacing any earlier batch. When nothing could be
// resolved the partially filled batch is returned with a validation error and
// the session is left as it was.
func (c *Coordinator) Stage(ctx context.Context, sessionID, watchlist, text string) (*models.StagingBatch, error) {
	logger := logging.WithWatchlist(c.logger, watchlist)

	ok, err := c.watchlists.Exists(ctx, watchlist)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.ErrWatchlistNotFound
	}

	found := symbols.Extract(text)
	if len(found) == 0 {
		return nil, apperrors.NewValidationError("file", nil, apperrors.ErrNoSymbols.Error())
	}

	batch := c.resolveAll(ctx, watchlist, found)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logging.LogStaging(logger, watchlist, len(found), len(batch.Successful), len(batch.Failed))

	if len(batch.Successful) == 0 {
		return batch, apperrors.NewValidationError("file", len(found), apperrors.ErrNoResolvedSymbols.Error())
	}

	if err := c.sessions.Put(ctx, sessionID, batch); err != nil {
		logger.Error().Err(err).Msg("failed to store staging batch")
		return nil, err
	}
	c.metrics.RecordStaged()
	return batch, nil
}

type resolution struct {
	inst models.Instrument
	fail *models.FailedSymbol
}

func (c *Coordinator) resolveAll(ctx context.Context, watchlist string, found []string) *models.StagingBatch {
	mapper := iter.Mapper[string, resolution]{MaxGoroutines: c.concurrency}
	results := mapper.Map(found, func(symbol *string) resolution {
		inst, err := c.resolver.Resolve(ctx, *symbol)
		c.metrics.RecordResolution(err)
		if err != nil {
			logger := logging.WithSymbol(c.logger, *symbol)
			logger.Debug().Err(err).Msg("symbol not resolved")
			return resolution{fail: &models.FailedSymbol{Symbol: *symbol, Reason: reason(*symbol, err)}}
		}
		return resolution{inst: inst}
	})

	batch := &models.StagingBatch{
		WatchlistName: watchlist,
		Successful:    []models.Instrument{},
		Failed:        []models.FailedSymbol{},
		CreatedAt:     c.now(),
	}
	for _, r := range results {
		if r.fail != nil {
			batch.Failed = append(batch.Failed, *r.fail)
			continue
		}
		batch.Successful = append(batch.Successful, r.inst)
	}
	return batch
}

func reason(symbol string, err error) string {
	var re *apperrors.ResolutionError
	if apperrors.As(err, &re) {
		return re.Reason()
	}
	return apperrors.NewResolutionError(symbol, err).Reason()
}

// Batch returns the session's batch for watchlist. A missing batch, or one
// staged for another watchlist, yields ErrStaleStaging and is left in place.
func (c *Coordinator) Batch(ctx context.Context, sessionID, watchlist string) (*models.StagingBatch, error) {
	batch, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if batch == nil || batch.WatchlistName != watchlist {
		return nil, apperrors.ErrStaleStaging
	}
	return batch, nil
}

// Confirm adds the staged instruments whose conid is in selected to the
// watchlist and discards the batch. An empty selection still discards it.
// If the watchlist cannot be saved the batch is kept so the user can retry.
func (c *Coordinator) Confirm(ctx context.Context, sessionID, watchlist string, selected []models.Conid) (ConfirmResult, error) {
	batch, err := c.Batch(ctx, sessionID, watchlist)
	if err != nil {
		return ConfirmResult{}, err
	}

	chosen := make(map[models.Conid]bool, len(selected))
	for _, id := range selected {
		chosen[id] = true
	}

	var picked []models.Instrument
	for _, inst := range batch.Successful {
		if chosen[inst.Conid] {
			picked = append(picked, inst)
			delete(chosen, inst.Conid)
		}
	}

	result := ConfirmResult{Watchlist: watchlist, Selected: len(picked)}
	if len(picked) > 0 {
		added, err := c.watchlists.AddMany(ctx, watchlist, picked)
		if err != nil {
			return result, err
		}
		result.Added = added
	}

	if err := c.sessions.Delete(ctx, sessionID); err != nil {
		return result, err
	}
	c.metrics.RecordConfirmed(result.Added)
	logger := logging.WithWatchlist(c.logger, watchlist)
	logger.Info().
		Int("selected", result.Selected).
		Int("added", result.Added).
		Msg("staged symbols confirmed")
	return result, nil
}

// Discard drops the session's batch, if any.
func (c *Coordinator) Discard(ctx context.Context, sessionID string) error {
	return c.sessions.Delete(ctx, sessionID)
}

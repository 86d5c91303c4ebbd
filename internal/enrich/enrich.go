// Package enrich attaches market snapshots to watchlist instruments.
package enrich

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/iter"

	"ibkr-dashboard/internal/broker"
	"ibkr-dashboard/internal/logging"
	"ibkr-dashboard/internal/models"
	"ibkr-dashboard/internal/observability"
)

// Status describes what happened to one instrument's price fields.
type Status string

const (
	// StatusEnriched means a fresh snapshot was applied.
	StatusEnriched Status = "enriched"
	// StatusCached means a recent snapshot was reused.
	StatusCached Status = "cached"
	// StatusSkipped means the price fields were left as they were.
	StatusSkipped Status = "skipped"
)

// Result is the outcome of enriching one instrument. Err is set when the
// instrument was skipped because of a failure; it is informational only.
type Result struct {
	Instrument models.Instrument
	Status     Status
	Err        error
}

// DefaultConcurrency caps parallel snapshot requests.
const DefaultConcurrency = 8

type cachedQuote struct {
	quote     models.Quote
	fetchedAt time.Time
}

// Enricher refreshes instrument prices from a QuoteSource. Failures never
// propagate; the instrument keeps its previous values.
type Enricher struct {
	source      broker.QuoteSource
	concurrency int
	ttl         time.Duration
	logger      zerolog.Logger
	metrics     *observability.Metrics
	now         func() time.Time

	mu    sync.Mutex
	cache map[models.Conid]cachedQuote
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithConcurrency caps parallel snapshot requests in EnrichAll.
func WithConcurrency(n int) Option {
	return func(e *Enricher) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithCacheTTL reuses a snapshot for ttl. Zero disables the cache.
func WithCacheTTL(ttl time.Duration) Option {
	return func(e *Enricher) {
		e.ttl = ttl
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Enricher) {
		e.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Enricher) {
		e.metrics = m
	}
}

// New creates an Enricher reading from source.
func New(source broker.QuoteSource, opts ...Option) *Enricher {
	e := &Enricher{
		source:      source,
		concurrency: DefaultConcurrency,
		logger:      zerolog.Nop(),
		now:         time.Now,
		cache:       make(map[models.Conid]cachedQuote),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enrich returns inst with fresh price fields, or unchanged on any failure.
func (e *Enricher) Enrich(ctx context.Context, inst models.Instrument) Result {
	res := e.enrich(ctx, inst)
	e.metrics.RecordEnrichment(string(res.Status))
	if res.Err != nil {
		logger := logging.WithSymbol(e.logger, inst.Symbol)
		logger.Warn().
			Err(res.Err).
			Str("conid", inst.Conid.String()).
			Msg("price refresh skipped")
	}
	return res
}

func (e *Enricher) enrich(ctx context.Context, inst models.Instrument) Result {
	out := inst.Clone()
	if inst.Conid == "" || e.source == nil {
		return Result{Instrument: out, Status: StatusSkipped}
	}

	if q, ok := e.cached(inst.Conid); ok {
		out.Apply(q)
		return Result{Instrument: out, Status: StatusCached}
	}

	if err := ctx.Err(); err != nil {
		return Result{Instrument: out, Status: StatusSkipped, Err: err}
	}

	q, err := e.source.Snapshot(ctx, inst.Conid)
	if err != nil {
		return Result{Instrument: out, Status: StatusSkipped, Err: err}
	}
	if q.Timestamp.IsZero() {
		q.Timestamp = e.now()
	}
	e.store(inst.Conid, q)

	out.Apply(q)
	return Result{Instrument: out, Status: StatusEnriched}
}

// EnrichAll enriches instruments concurrently and returns them in input order.
func (e *Enricher) EnrichAll(ctx context.Context, instruments []models.Instrument) []Result {
	if len(instruments) == 0 {
		return nil
	}
	mapper := iter.Mapper[models.Instrument, Result]{MaxGoroutines: e.concurrency}
	return mapper.Map(instruments, func(inst *models.Instrument) Result {
		return e.Enrich(ctx, *inst)
	})
}

func (e *Enricher) cached(conid models.Conid) (models.Quote, bool) {
	if e.ttl <= 0 {
		return models.Quote{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.cache[conid]
	if !ok {
		return models.Quote{}, false
	}
	if e.now().Sub(c.fetchedAt) >= e.ttl {
		delete(e.cache, conid)
		return models.Quote{}, false
	}
	return c.quote, true
}

func (e *Enricher) store(conid models.Conid, q models.Quote) {
	if e.ttl <= 0 {
		return
	}
	e.mu.Lock()
	e.cache[conid] = cachedQuote{quote: q, fetchedAt: e.now()}
	e.mu.Unlock()
}

// Package watchlist manages named watchlists on top of a store backend.
package watchlist

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"ibkr-dashboard/internal/enrich"
	apperrors "ibkr-dashboard/internal/errors"
	"ibkr-dashboard/internal/logging"
	"ibkr-dashboard/internal/models"
	"ibkr-dashboard/internal/observability"
	"ibkr-dashboard/internal/store"
)

// PriceEnricher refreshes instrument prices. Implementations never fail; a
// skipped instrument comes back unchanged.
type PriceEnricher interface {
	Enrich(ctx context.Context, inst models.Instrument) enrich.Result
	EnrichAll(ctx context.Context, instruments []models.Instrument) []enrich.Result
}

// Service implements watchlist operations. Every mutation is a full
// load-modify-save of the backend document, serialised by mu.
type Service struct {
	backend     store.Backend
	enricher    PriceEnricher
	uniqueNames bool
	logger      zerolog.Logger
	metrics     *observability.Metrics

	mu sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithUniqueNames rejects Create when the name is already taken.
func WithUniqueNames(unique bool) Option {
	return func(s *Service) {
		s.uniqueNames = unique
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService creates a Service. A nil enricher disables price refreshes.
func NewService(backend store.Backend, enricher PriceEnricher, opts ...Option) *Service {
	s := &Service{
		backend:  backend,
		enricher: enricher,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns every watchlist with instruments enriched, then sorted, then
// filtered. Enriched prices are not written back.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]models.Watchlist, error) {
	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	lists := s.enrichLists(ctx, doc.Watchlists)
	for i := range lists {
		Sort(lists[i].Instruments, opts.SortBy)
		lists[i].Instruments = Apply(lists[i].Instruments, opts.Filter)
	}
	return lists, nil
}

// Get returns the first watchlist called name, enriched, sorted and filtered.
func (s *Service) Get(ctx context.Context, name string, opts ListOptions) (models.Watchlist, error) {
	doc, err := s.load(ctx)
	if err != nil {
		return models.Watchlist{}, err
	}

	for _, w := range doc.Watchlists {
		if w.Name != name {
			continue
		}
		w = s.enrichLists(ctx, []models.Watchlist{w})[0]
		Sort(w.Instruments, opts.SortBy)
		w.Instruments = Apply(w.Instruments, opts.Filter)
		return w, nil
	}
	return models.Watchlist{}, apperrors.ErrWatchlistNotFound
}

// Names returns the stored watchlist names in order without touching prices.
func (s *Service) Names(ctx context.Context) ([]string, error) {
	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(doc.Watchlists))
	for i, w := range doc.Watchlists {
		names[i] = w.Name
	}
	return names, nil
}

// Exists reports whether a watchlist called name is stored.
func (s *Service) Exists(ctx context.Context, name string) (bool, error) {
	names, err := s.Names(ctx)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

// Create appends an empty watchlist.
func (s *Service) Create(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperrors.NewValidationError("name", name, "Watchlist name is required")
	}

	return s.mutate(ctx, "create", name, func(doc *models.Document) (bool, error) {
		if s.uniqueNames {
			for _, w := range doc.Watchlists {
				if w.Name == name {
					return false, apperrors.ErrWatchlistExists
				}
			}
		}
		doc.Watchlists = append(doc.Watchlists, models.Watchlist{Name: name, Instruments: []models.Instrument{}})
		return true, nil
	})
}

// Add enriches inst and appends it to every watchlist called name that does
// not already hold its conid. It reports whether anything was appended; a
// missing watchlist is not an error.
func (s *Service) Add(ctx context.Context, name string, inst models.Instrument) (bool, error) {
	n, err := s.AddMany(ctx, name, []models.Instrument{inst})
	return n > 0, err
}

// AddMany enriches instruments concurrently and appends each one the way Add
// does, in a single save. It returns how many instruments were appended.
func (s *Service) AddMany(ctx context.Context, name string, instruments []models.Instrument) (int, error) {
	for _, inst := range instruments {
		if err := validateInstrument(inst); err != nil {
			return 0, err
		}
	}
	if len(instruments) == 0 {
		return 0, nil
	}

	enriched := s.enrichInstruments(ctx, instruments)

	added := 0
	err := s.mutate(ctx, "add", name, func(doc *models.Document) (bool, error) {
		for i := range doc.Watchlists {
			w := &doc.Watchlists[i]
			if w.Name != name {
				continue
			}
			for _, inst := range enriched {
				if contains(w.Instruments, inst.Conid) {
					continue
				}
				w.Instruments = append(w.Instruments, inst.Clone())
				added++
			}
		}
		return added > 0, nil
	})
	if err != nil {
		return 0, err
	}

	if added > 0 {
		logger := logging.WithWatchlist(s.logger, name)
		logger.Info().Int("added", added).Msg("instruments added")
	}
	return added, nil
}

// Remove drops instruments with conid from every watchlist called name and
// returns how many were removed.
func (s *Service) Remove(ctx context.Context, name string, conid models.Conid) (int, error) {
	removed := 0
	err := s.mutate(ctx, "remove", name, func(doc *models.Document) (bool, error) {
		found := false
		for i := range doc.Watchlists {
			w := &doc.Watchlists[i]
			if w.Name != name {
				continue
			}
			found = true
			kept := w.Instruments[:0]
			for _, inst := range w.Instruments {
				if inst.Conid == conid {
					removed++
					continue
				}
				kept = append(kept, inst)
			}
			w.Instruments = kept
		}
		if !found {
			return false, apperrors.ErrWatchlistNotFound
		}
		return removed > 0, nil
	})
	return removed, err
}

// Delete removes every watchlist called name.
func (s *Service) Delete(ctx context.Context, name string) error {
	return s.mutate(ctx, "delete", name, func(doc *models.Document) (bool, error) {
		kept := doc.Watchlists[:0]
		for _, w := range doc.Watchlists {
			if w.Name != name {
				kept = append(kept, w)
			}
		}
		if len(kept) == len(doc.Watchlists) {
			return false, apperrors.ErrWatchlistNotFound
		}
		doc.Watchlists = kept
		return true, nil
	})
}

// Replace overwrites the instruments of every watchlist called name, creating
// one if none exists. Instruments are enriched before they are stored.
func (s *Service) Replace(ctx context.Context, name string, instruments []models.Instrument) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperrors.NewValidationError("name", name, "Watchlist name is required")
	}
	for _, inst := range instruments {
		if err := validateInstrument(inst); err != nil {
			return err
		}
	}

	deduped := make([]models.Instrument, 0, len(instruments))
	for _, inst := range instruments {
		if !contains(deduped, inst.Conid) {
			deduped = append(deduped, inst)
		}
	}
	deduped = s.enrichInstruments(ctx, deduped)

	return s.mutate(ctx, "replace", name, func(doc *models.Document) (bool, error) {
		found := false
		for i := range doc.Watchlists {
			if doc.Watchlists[i].Name == name {
				doc.Watchlists[i].Instruments = models.Watchlist{Instruments: deduped}.Clone().Instruments
				found = true
			}
		}
		if !found {
			doc.Watchlists = append(doc.Watchlists, models.Watchlist{Name: name, Instruments: deduped})
		}
		return true, nil
	})
}

// mutate runs fn against a freshly loaded document and saves it when fn
// reports a change.
func (s *Service) mutate(ctx context.Context, op, name string, fn func(doc *models.Document) (bool, error)) error {
	logger := logging.WithOperation(logging.WithWatchlist(s.logger, name), op)

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.backend.Load(ctx)
	s.metrics.RecordStoreOp("load", err)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load watchlists")
		return persistence("load", err)
	}

	changed, err := fn(doc)
	if err != nil {
		logger.Debug().Err(err).Msg("watchlist operation rejected")
		return err
	}
	if !changed {
		return nil
	}

	err = s.backend.Save(ctx, doc)
	s.metrics.RecordStoreOp("save", err)
	if err != nil {
		logger.Error().Err(err).Msg("failed to save watchlists")
		return persistence("save", err)
	}
	logger.Debug().Msg("watchlists saved")
	return nil
}

func (s *Service) load(ctx context.Context) (*models.Document, error) {
	s.mu.Lock()
	doc, err := s.backend.Load(ctx)
	s.mu.Unlock()

	s.metrics.RecordStoreOp("load", err)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load watchlists")
		return nil, persistence("load", err)
	}
	return doc, nil
}

// enrichLists refreshes every instrument in lists with one bounded fan-out.
func (s *Service) enrichLists(ctx context.Context, lists []models.Watchlist) []models.Watchlist {
	out := make([]models.Watchlist, len(lists))
	var flat []models.Instrument
	for i, w := range lists {
		out[i] = w.Clone()
		flat = append(flat, w.Instruments...)
	}
	if s.enricher == nil || len(flat) == 0 {
		return out
	}

	enriched := s.enrichInstruments(ctx, flat)
	k := 0
	for i := range out {
		for j := range out[i].Instruments {
			out[i].Instruments[j] = enriched[k]
			k++
		}
	}
	return out
}

func (s *Service) enrichInstruments(ctx context.Context, instruments []models.Instrument) []models.Instrument {
	out := make([]models.Instrument, len(instruments))
	if s.enricher == nil {
		for i, inst := range instruments {
			out[i] = inst.Clone()
		}
		return out
	}
	for i, r := range s.enricher.EnrichAll(ctx, instruments) {
		out[i] = r.Instrument
	}
	return out
}

// persistence tags err as a store failure unless the backend already did.
func persistence(op string, err error) error {
	if apperrors.IsPersistence(err) {
		return err
	}
	return apperrors.NewPersistenceError(op, err)
}

func validateInstrument(inst models.Instrument) error {
	if strings.TrimSpace(inst.Symbol) == "" {
		return apperrors.NewValidationError("symbol", inst.Symbol, "Symbol is required")
	}
	if strings.TrimSpace(inst.Conid.String()) == "" {
		return apperrors.NewValidationError("conid", inst.Conid, "conid is required")
	}
	return nil
}

func contains(instruments []models.Instrument, conid models.Conid) bool {
	for _, inst := range instruments {
		if inst.Conid == conid {
			return true
		}
	}
	return false
}

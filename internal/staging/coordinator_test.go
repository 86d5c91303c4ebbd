package staging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "ibkr-dashboard/internal/errors"
	"ibkr-dashboard/internal/models"
	"ibkr-dashboard/internal/store"
	"ibkr-dashboard/internal/watchlist"
)

type fakeResolver struct {
	mu      sync.Mutex
	known   map[string]models.Instrument
	failing map[string]error
	calls   []string
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		known: map[string]models.Instrument{
			"AAPL": {Symbol: "AAPL", Conid: "265598", CompanyName: "APPLE INC", Description: "NASDAQ"},
			"MSFT": {Symbol: "MSFT", Conid: "272093", CompanyName: "MICROSOFT CORP", Description: "NASDAQ"},
			"GOOG": {Symbol: "GOOG", Conid: "208813720", CompanyName: "ALPHABET INC-CL C", Description: "NASDAQ"},
		},
		failing: map[string]error{},
	}
}

func (f *fakeResolver) Resolve(_ context.Context, symbol string) (models.Instrument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, symbol)
	if err, ok := f.failing[symbol]; ok {
		return models.Instrument{}, apperrors.NewResolutionError(symbol, err)
	}
	inst, ok := f.known[symbol]
	if !ok {
		return models.Instrument{}, apperrors.NewResolutionError(symbol, apperrors.ErrSymbolNotFound)
	}
	return inst, nil
}

type fixture struct {
	coord    *Coordinator
	svc      *watchlist.Service
	backend  *store.MemoryBackend
	sessions *MemoryStore
	resolver *fakeResolver
}

func newFixture(t *testing.T, lists ...string) *fixture {
	t.Helper()
	backend := store.NewMemoryBackend()
	svc := watchlist.NewService(backend, nil)
	for _, name := range lists {
		require.NoError(t, svc.Create(context.Background(), name))
	}
	sessions := NewMemoryStore(0)
	resolver := newFakeResolver()
	return &fixture{
		coord:    NewCoordinator(resolver, svc, sessions, WithConcurrency(2)),
		svc:      svc,
		backend:  backend,
		sessions: sessions,
		resolver: resolver,
	}
}

func (f *fixture) instruments(t *testing.T, name string) []models.Instrument {
	t.Helper()
	w, err := f.svc.Get(context.Background(), name, watchlist.ListOptions{})
	require.NoError(t, err)
	return w.Instruments
}

func TestStagePartitionsResults(t *testing.T) {
	f := newFixture(t, "Tech")
	ctx := context.Background()

	batch, err := f.coord.Stage(ctx, "s1", "Tech", "Symbol,Name\nAAPL,Apple\nZZZZ,Nope\nmsft,Microsoft\n")
	require.NoError(t, err)

	assert.Equal(t, "Tech", batch.WatchlistName)
	require.Len(t, batch.Successful, 2)
	assert.Equal(t, "AAPL", batch.Successful[0].Symbol)
	assert.Equal(t, "MSFT", batch.Successful[1].Symbol)
	assert.Equal(t, []models.FailedSymbol{{Symbol: "ZZZZ", Reason: "Symbol not found"}}, batch.Failed)

	held, err := f.coord.Batch(ctx, "s1", "Tech")
	require.NoError(t, err)
	assert.Equal(t, batch, held)

	assert.Empty(t, f.instruments(t, "Tech"), "staging must not touch the watchlist")
}

func TestStageTransportFailureReason(t *testing.T) {
	f := newFixture(t, "Tech")
	f.resolver.failing["MSFT"] = errors.New("connection refused")

	batch, err := f.coord.Stage(context.Background(), "s1", "Tech", "AAPL\nMSFT\n")
	require.NoError(t, err)
	require.Len(t, batch.Failed, 1)
	assert.Equal(t, "MSFT", batch.Failed[0].Symbol)
	assert.Contains(t, batch.Failed[0].Reason, "connection refused")
}

func TestStageNoSymbols(t *testing.T) {
	f := newFixture(t, "Tech")

	_, err := f.coord.Stage(context.Background(), "s1", "Tech", "   \n\n")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Contains(t, err.Error(), apperrors.ErrNoSymbols.Error())
	assert.Empty(t, f.resolver.calls)
	assert.Zero(t, f.sessions.Len())
}

func TestStageNothingResolvedKeepsPreviousBatch(t *testing.T) {
	f := newFixture(t, "Tech")
	ctx := context.Background()

	_, err := f.coord.Stage(ctx, "s1", "Tech", "AAPL\n")
	require.NoError(t, err)

	batch, err := f.coord.Stage(ctx, "s1", "Tech", "NOPE\nNADA\n")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	require.NotNil(t, batch)
	assert.Len(t, batch.Failed, 2)

	held, err := f.coord.Batch(ctx, "s1", "Tech")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", held.Successful[0].Symbol)
}

func TestStageUnknownWatchlist(t *testing.T) {
	f := newFixture(t)

	_, err := f.coord.Stage(context.Background(), "s1", "Ghost", "AAPL\n")
	assert.ErrorIs(t, err, apperrors.ErrWatchlistNotFound)
	assert.Empty(t, f.resolver.calls)
}

func TestStageOverwritesPreviousBatch(t *testing.T) {
	f := newFixture(t, "Tech", "Search")
	ctx := context.Background()

	_, err := f.coord.Stage(ctx, "s1", "Tech", "AAPL\n")
	require.NoError(t, err)
	_, err = f.coord.Stage(ctx, "s1", "Search", "GOOG\n")
	require.NoError(t, err)

	_, err = f.coord.Batch(ctx, "s1", "Tech")
	assert.ErrorIs(t, err, apperrors.ErrStaleStaging)

	held, err := f.coord.Batch(ctx, "s1", "Search")
	require.NoError(t, err)
	assert.Equal(t, "GOOG", held.Successful[0].Symbol)
}

func TestStageIsolatesSessions(t *testing.T) {
	f := newFixture(t, "Tech")
	ctx := context.Background()

	_, err := f.coord.Stage(ctx, "s1", "Tech", "AAPL\n")
	require.NoError(t, err)

	_, err = f.coord.Batch(ctx, "s2", "Tech")
	assert.ErrorIs(t, err, apperrors.ErrStaleStaging)
}

func TestConfirmAddsSelection(t *testing.T) {
	f := newFixture(t, "Tech")
	ctx := context.Background()

	_, err := f.coord.Stage(ctx, "s1", "Tech", "AAPL\nMSFT\nGOOG\n")
	require.NoError(t, err)

	res, err := f.coord.Confirm(ctx, "s1", "Tech", []models.Conid{"272093", "208813720", "999"})
	require.NoError(t, err)
	assert.Equal(t, ConfirmResult{Watchlist: "Tech", Selected: 2, Added: 2}, res)

	got := f.instruments(t, "Tech")
	require.Len(t, got, 2)
	assert.Equal(t, "MSFT", got[0].Symbol)
	assert.Equal(t, "GOOG", got[1].Symbol)

	_, err = f.coord.Batch(ctx, "s1", "Tech")
	assert.ErrorIs(t, err, apperrors.ErrStaleStaging)
}

func TestConfirmSkipsExistingConids(t *testing.T) {
	f := newFixture(t, "Tech")
	ctx := context.Background()
	_, err := f.svc.Add(ctx, "Tech", models.Instrument{Symbol: "AAPL", Conid: "265598"})
	require.NoError(t, err)

	_, err = f.coord.Stage(ctx, "s1", "Tech", "AAPL\nMSFT\n")
	require.NoError(t, err)

	res, err := f.coord.Confirm(ctx, "s1", "Tech", []models.Conid{"265598", "272093"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Selected)
	assert.Equal(t, 1, res.Added)
	assert.Len(t, f.instruments(t, "Tech"), 2)
}

func TestConfirmEmptySelectionClearsBatch(t *testing.T) {
	f := newFixture(t, "Tech")
	ctx := context.Background()

	_, err := f.coord.Stage(ctx, "s1", "Tech", "AAPL\nMSFT\n")
	require.NoError(t, err)

	res, err := f.coord.Confirm(ctx, "s1", "Tech", nil)
	require.NoError(t, err)
	assert.Zero(t, res.Added)
	assert.Empty(t, f.instruments(t, "Tech"))
	assert.Zero(t, f.sessions.Len())
}

func TestConfirmMismatchLeavesBatch(t *testing.T) {
	f := newFixture(t, "Tech", "Energy")
	ctx := context.Background()

	_, err := f.coord.Stage(ctx, "s1", "Tech", "AAPL\n")
	require.NoError(t, err)

	_, err = f.coord.Confirm(ctx, "s1", "Energy", []models.Conid{"265598"})
	assert.ErrorIs(t, err, apperrors.ErrStaleStaging)
	assert.Empty(t, f.instruments(t, "Energy"))

	held, err := f.coord.Batch(ctx, "s1", "Tech")
	require.NoError(t, err)
	assert.Len(t, held.Successful, 1)
}

func TestConfirmWithoutBatch(t *testing.T) {
	f := newFixture(t, "Tech")

	_, err := f.coord.Confirm(context.Background(), "s1", "Tech", []models.Conid{"265598"})
	assert.ErrorIs(t, err, apperrors.ErrStaleStaging)
}

type failingWatchlists struct{}

func (failingWatchlists) Exists(context.Context, string) (bool, error) { return true, nil }

func (failingWatchlists) AddMany(context.Context, string, []models.Instrument) (int, error) {
	return 0, apperrors.NewPersistenceError("save", fmt.Errorf("disk full"))
}

func TestConfirmPersistenceFailureKeepsBatch(t *testing.T) {
	sessions := NewMemoryStore(0)
	coord := NewCoordinator(newFakeResolver(), failingWatchlists{}, sessions)
	ctx := context.Background()

	_, err := coord.Stage(ctx, "s1", "Tech", "AAPL\n")
	require.NoError(t, err)

	_, err = coord.Confirm(ctx, "s1", "Tech", []models.Conid{"265598"})
	require.Error(t, err)
	assert.True(t, apperrors.IsPersistence(err))

	_, err = coord.Batch(ctx, "s1", "Tech")
	assert.NoError(t, err)
}

func TestDiscard(t *testing.T) {
	f := newFixture(t, "Tech")
	ctx := context.Background()

	_, err := f.coord.Stage(ctx, "s1", "Tech", "AAPL\n")
	require.NoError(t, err)
	require.NoError(t, f.coord.Discard(ctx, "s1"))

	_, err = f.coord.Batch(ctx, "s1", "Tech")
	assert.ErrorIs(t, err, apperrors.ErrStaleStaging)
}

func TestValidateUpload(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  []byte
		want     string
		errMsg   string
	}{
		{name: "ok", filename: "list.csv", content: []byte("AAPL\n"), want: "AAPL\n"},
		{name: "upper-case extension", filename: "LIST.CSV", content: []byte("AAPL"), want: "AAPL"},
		{name: "bom stripped", filename: "list.csv", content: []byte("\xEF\xBB\xBFAAPL"), want: "AAPL"},
		{name: "no filename", filename: "", content: []byte("AAPL"), errMsg: MsgNoFilename},
		{name: "wrong extension", filename: "list.txt", content: []byte("AAPL"), errMsg: MsgNotCSV},
		{name: "empty", filename: "list.csv", content: nil, errMsg: MsgEmptyFile},
		{name: "blank", filename: "list.csv", content: []byte(" \r\n\t"), errMsg: MsgEmptyFile},
		{name: "binary", filename: "list.csv", content: []byte{0xff, 0xfe, 0x00}, errMsg: MsgNotText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateUpload(tt.filename, tt.content)
			if tt.errMsg != "" {
				require.Error(t, err)
				assert.True(t, apperrors.IsValidation(err))
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

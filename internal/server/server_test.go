package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ibkr-dashboard/internal/enrich"
	apperrors "ibkr-dashboard/internal/errors"
	"ibkr-dashboard/internal/models"
	"ibkr-dashboard/internal/observability"
	"ibkr-dashboard/internal/resilience"
	"ibkr-dashboard/internal/staging"
	"ibkr-dashboard/internal/store"
	"ibkr-dashboard/internal/watchlist"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeGateway struct {
	instruments map[string]models.Instrument
	prices      map[models.Conid]float64
	accountErr  error
	placed      []models.OrderRequest
	cancelled   []string
	breaker     resilience.Stats
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		instruments: map[string]models.Instrument{
			"AAPL": {Symbol: "AAPL", Conid: "265598", CompanyName: "APPLE INC"},
			"MSFT": {Symbol: "MSFT", Conid: "272093", CompanyName: "MICROSOFT CORP"},
		},
		prices:  map[models.Conid]float64{"265598": 190, "272093": 410},
		breaker: resilience.Stats{Name: "ibkr_gateway", State: resilience.CircuitClosed},
	}
}

func (f *fakeGateway) Resolve(_ context.Context, symbol string) (models.Instrument, error) {
	inst, ok := f.instruments[symbol]
	if !ok {
		return models.Instrument{}, apperrors.NewResolutionError(symbol, apperrors.ErrSymbolNotFound)
	}
	return inst, nil
}

func (f *fakeGateway) Snapshot(_ context.Context, conid models.Conid) (models.Quote, error) {
	p, ok := f.prices[conid]
	if !ok {
		return models.Quote{}, apperrors.ErrUnexpectedResponse
	}
	return models.Quote{Conid: conid, LastPrice: p, ChangePercent: 1, Timestamp: time.Now()}, nil
}

func (f *fakeGateway) Authenticated(context.Context) bool { return true }

func (f *fakeGateway) AccountID(context.Context) (string, error) {
	if f.accountErr != nil {
		return "", f.accountErr
	}
	return "U1234567", nil
}

func (f *fakeGateway) Accounts(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`[{"id":"U1234567"}]`), nil
}

func (f *fakeGateway) AccountSummary(_ context.Context, id string) (json.RawMessage, error) {
	return json.RawMessage(`{"account":"` + id + `"}`), nil
}

func (f *fakeGateway) Positions(context.Context, string) (json.RawMessage, error) {
	return json.RawMessage(`[]`), nil
}

func (f *fakeGateway) Orders(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`[]`), nil
}

func (f *fakeGateway) PlaceOrder(_ context.Context, _ string, req models.OrderRequest) (json.RawMessage, error) {
	f.placed = append(f.placed, req)
	return json.RawMessage(`[{"order_id":"1"}]`), nil
}

func (f *fakeGateway) CancelOrder(_ context.Context, _, orderID string) (json.RawMessage, error) {
	f.cancelled = append(f.cancelled, orderID)
	return json.RawMessage(`{"msg":"Request was submitted"}`), nil
}

func (f *fakeGateway) Search(_ context.Context, symbol string) (json.RawMessage, error) {
	return json.RawMessage(`[{"symbol":"` + symbol + `"}]`), nil
}

func (f *fakeGateway) Contract(_ context.Context, conid models.Conid) (json.RawMessage, error) {
	if conid == "0" {
		return nil, apperrors.NewBrokerError("trsrv_secdef", http.StatusNotFound, "no contract", apperrors.ErrSymbolNotFound)
	}
	return json.RawMessage(`{"conid":` + conid.String() + `}`), nil
}

func (f *fakeGateway) PriceHistory(_ context.Context, _ models.Conid, period, bar string) (json.RawMessage, error) {
	return json.RawMessage(`{"period":"` + period + `","bar":"` + bar + `"}`), nil
}

func (f *fakeGateway) ScannerParams(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (f *fakeGateway) RunScanner(context.Context, models.ScannerRequest) (json.RawMessage, error) {
	return nil, apperrors.NewBrokerError("scanner_run", http.StatusInternalServerError, "boom", apperrors.ErrUnexpectedResponse)
}

func (f *fakeGateway) BreakerStats() resilience.Stats { return f.breaker }

type testServer struct {
	*Server
	gw      *fakeGateway
	svc     *watchlist.Service
	metrics *observability.Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gw := newFakeGateway()
	metrics := observability.NewMetrics("test")
	svc := watchlist.NewService(store.NewMemoryBackend(), enrich.New(gw))
	coord := staging.NewCoordinator(gw, svc, staging.NewMemoryStore(time.Minute))
	return &testServer{
		Server:  New(gw, svc, coord, WithMetrics(metrics), WithMaxUpload(1<<10)),
		gw:      gw,
		svc:     svc,
		metrics: metrics,
	}
}

func (ts *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)
	return w
}

func jsonBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func uploadRequest(t *testing.T, target, filename, content string, cookie *http.Cookie) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "-" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if cookie != nil {
		req.AddCookie(cookie)
	}
	return req
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == DefaultSessionCookie {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func TestWatchlistLifecycle(t *testing.T) {
	ts := newTestServer(t)

	form := url.Values{"watchlist_name": {"Tech"}}
	req := httptest.NewRequest(http.MethodPost, "/api/watchlists", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := ts.do(t, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/api/watchlists/Tech/instruments",
		strings.NewReader(`{"symbol":"aapl","conid":265598,"company_name":"APPLE INC"}`))
	req.Header.Set("Content-Type", "application/json")
	w = ts.do(t, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, jsonBody(t, w)["added"])

	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/watchlists/Tech", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var got models.Watchlist
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got.Instruments, 1)
	assert.Equal(t, "AAPL", got.Instruments[0].Symbol)
	assert.Equal(t, 190.0, models.FloatValue(got.Instruments[0].Price))

	w = ts.do(t, httptest.NewRequest(http.MethodDelete, "/api/watchlists/Tech/instruments/265598", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), jsonBody(t, w)["removed"])

	w = ts.do(t, httptest.NewRequest(http.MethodDelete, "/api/watchlists/Tech", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/watchlists/Tech", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateWatchlistRequiresName(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/watchlists", strings.NewReader(`{"name":"  "}`))
	req.Header.Set("Content-Type", "application/json")
	w := ts.do(t, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Watchlist name is required", jsonBody(t, w)["error"])
}

func TestListWatchlistsSortAndFilter(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, ts.svc.Create(ctx, "Tech"))
	_, err := ts.svc.AddMany(ctx, "Tech", []models.Instrument{
		{Symbol: "AAPL", Conid: "265598"},
		{Symbol: "MSFT", Conid: "272093"},
	})
	require.NoError(t, err)

	w := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/watchlists?sort_by=price", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Watchlists []models.Watchlist `json:"watchlists"`
		Count      int                `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	require.Len(t, body.Watchlists[0].Instruments, 2)
	assert.Equal(t, "MSFT", body.Watchlists[0].Instruments[0].Symbol)

	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/watchlists?price_min=100&price_max=50", nil))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Empty(t, body.Watchlists[0].Instruments)

	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/watchlists?price_min=abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "price_min", jsonBody(t, w)["field"])
}

func TestUploadAndConfirm(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.svc.Create(context.Background(), "Tech"))

	w := ts.do(t, uploadRequest(t, "/api/watchlists/Tech/upload", "list.csv", "Ticker\nAAPL\nMSFT\nNOPE\n", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cookie := sessionCookie(t, w)

	var batch models.StagingBatch
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &batch))
	assert.Len(t, batch.Successful, 2)
	assert.Equal(t, []models.FailedSymbol{{Symbol: "NOPE", Reason: "Symbol not found"}}, batch.Failed)

	req := httptest.NewRequest(http.MethodGet, "/api/watchlists/Tech/stage", nil)
	req.AddCookie(cookie)
	w = ts.do(t, req)
	require.Equal(t, http.StatusOK, w.Code)

	form := url.Values{"selected_symbols": {"272093"}}
	req = httptest.NewRequest(http.MethodPost, "/api/watchlists/Tech/stage/confirm", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(cookie)
	w = ts.do(t, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(1), jsonBody(t, w)["added"])

	wl, err := ts.svc.Get(context.Background(), "Tech", watchlist.ListOptions{})
	require.NoError(t, err)
	require.Len(t, wl.Instruments, 1)
	assert.Equal(t, "MSFT", wl.Instruments[0].Symbol)

	req = httptest.NewRequest(http.MethodGet, "/api/watchlists/Tech/stage", nil)
	req.AddCookie(cookie)
	w = ts.do(t, req)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestConfirmJSONSelection(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.svc.Create(context.Background(), "Tech"))

	w := ts.do(t, uploadRequest(t, "/api/watchlists/Tech/upload", "list.csv", "AAPL\nMSFT\n", nil))
	require.Equal(t, http.StatusOK, w.Code)
	cookie := sessionCookie(t, w)

	req := httptest.NewRequest(http.MethodPost, "/api/watchlists/Tech/stage/confirm",
		strings.NewReader(`{"selected_symbols":[265598,"272093"]}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(cookie)
	w = ts.do(t, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(2), jsonBody(t, w)["added"])
}

func TestConfirmOtherWatchlistIsStale(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, ts.svc.Create(ctx, "Tech"))
	require.NoError(t, ts.svc.Create(ctx, "Energy"))

	w := ts.do(t, uploadRequest(t, "/api/watchlists/Tech/upload", "list.csv", "AAPL\n", nil))
	require.Equal(t, http.StatusOK, w.Code)
	cookie := sessionCookie(t, w)

	req := httptest.NewRequest(http.MethodPost, "/api/watchlists/Energy/stage/confirm", nil)
	req.AddCookie(cookie)
	w = ts.do(t, req)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperrors.ErrStaleStaging.Error(), jsonBody(t, w)["error"])

	req = httptest.NewRequest(http.MethodGet, "/api/watchlists/Tech/stage", nil)
	req.AddCookie(cookie)
	assert.Equal(t, http.StatusOK, ts.do(t, req).Code)
}

func TestUploadValidation(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.svc.Create(context.Background(), "Tech"))

	tests := []struct {
		name     string
		filename string
		content  string
		want     string
	}{
		{"missing file", "-", "", staging.MsgNoFile},
		{"wrong extension", "list.txt", "AAPL", staging.MsgNotCSV},
		{"empty", "list.csv", "", staging.MsgEmptyFile},
		{"no symbols", "list.csv", "Symbol\n", apperrors.ErrNoSymbols.Error()},
		{"nothing resolved", "list.csv", "NOPE\nNADA\n", apperrors.ErrNoResolvedSymbols.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, uploadRequest(t, "/api/watchlists/Tech/upload", tt.filename, tt.content, nil))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.want, jsonBody(t, w)["error"])
		})
	}
}

func TestUploadUnknownWatchlist(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, uploadRequest(t, "/api/watchlists/Ghost/upload", "list.csv", "AAPL\n", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBrokerPassThrough(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/accounts/summary", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"account":"U1234567"}`, w.Body.String())

	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/contracts/265598", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"contract":{"conid":265598},"history":{"period":"5d","bar":"1d"}}`, w.Body.String())

	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/contracts/0", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/lookup", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, httptest.NewRequest(http.MethodPost, "/api/scanner/run", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = ts.do(t, httptest.NewRequest(http.MethodDelete, "/api/orders/42", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"42"}, ts.gw.cancelled)
}

func TestPlaceOrder(t *testing.T) {
	ts := newTestServer(t)

	form := url.Values{"contract_id": {"265598"}, "price": {"185.5"}, "quantity": {"10"}, "side": {"BUY"}}
	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := ts.do(t, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, ts.gw.placed, 1)
	assert.Equal(t, models.OrderRequest{Conid: 265598, Price: 185.5, Quantity: 10, Side: models.OrderSideBuy}, ts.gw.placed[0])

	req = httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(`{"conid":1,"price":0,"quantity":1,"side":"BUY"}`))
	req.Header.Set("Content-Type", "application/json")
	w = ts.do(t, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNoAccount(t *testing.T) {
	ts := newTestServer(t)
	ts.gw.accountErr = apperrors.ErrNoAccount

	w := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/portfolio", nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "Unable to determine account ID", jsonBody(t, w)["error"])
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := jsonBody(t, w)
	assert.Equal(t, "HEALTHY", body["status"])
	components, ok := body["components"].([]any)
	require.True(t, ok)
	require.Len(t, components, 2)
	gateway := components[1].(map[string]any)
	assert.Equal(t, "gateway", gateway["name"])
	assert.Equal(t, true, gateway["details"].(map[string]any)["authenticated"])

	ts.gw.breaker.State = resilience.CircuitOpen
	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DEGRADED", jsonBody(t, w)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, httptest.NewRequest(http.MethodGet, "/api/watchlists", nil))

	w := ts.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `test_http_requests_total{method="GET",route="/api/watchlists",status="200"} 1`)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperrors.NewValidationError("f", nil, "bad"), http.StatusBadRequest},
		{apperrors.ErrStaleStaging, http.StatusConflict},
		{apperrors.ErrWatchlistExists, http.StatusConflict},
		{apperrors.ErrWatchlistNotFound, http.StatusNotFound},
		{apperrors.NewPersistenceError("save", assert.AnError), http.StatusInternalServerError},
		{resilience.ErrCircuitOpen, http.StatusServiceUnavailable},
		{apperrors.NewBrokerError("x", 500, "", apperrors.ErrConnectionFailed), http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

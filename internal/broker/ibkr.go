package broker

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "ibkr-dashboard/internal/errors"
	"ibkr-dashboard/internal/logging"
	"ibkr-dashboard/internal/models"
	"ibkr-dashboard/internal/observability"
	"ibkr-dashboard/internal/resilience"
	"ibkr-dashboard/pkg/utils"
)

// Default configuration values.
const (
	DefaultBaseURL = "https://localhost:5055/v1/api"
	DefaultTimeout = 15 * time.Second

	maxResponseBytes = 8 << 20
)

var _ Gateway = (*IBKRClient)(nil)

// IBKRClient talks to a locally running Client Portal gateway.
type IBKRClient struct {
	baseURL    string
	accountID  string
	client     *http.Client
	breakerCfg resilience.Config
	breaker    *resilience.CircuitBreaker
	retry      utils.RetryConfig
	logger     zerolog.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// ClientOption configures IBKRClient.
type ClientOption func(*IBKRClient)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *IBKRClient) {
		c.client = client
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *IBKRClient) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// WithInsecureTLS skips certificate verification. The gateway ships with a
// self-signed certificate bound to localhost.
func WithInsecureTLS(insecure bool) ClientOption {
	return func(c *IBKRClient) {
		if !insecure {
			return
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // local gateway
		c.client.Transport = transport
	}
}

// WithAccountID sets the account used when the caller does not name one.
func WithAccountID(id string) ClientOption {
	return func(c *IBKRClient) {
		c.accountID = strings.TrimSpace(id)
	}
}

// WithBreaker sets the circuit breaker configuration.
func WithBreaker(cfg resilience.Config) ClientOption {
	return func(c *IBKRClient) {
		c.breakerCfg = cfg
	}
}

// WithRetry sets the retry policy for idempotent reads that the gateway is
// known to answer intermittently.
func WithRetry(cfg utils.RetryConfig) ClientOption {
	return func(c *IBKRClient) {
		c.retry = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *IBKRClient) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) ClientOption {
	return func(c *IBKRClient) {
		c.metrics = m
	}
}

// NewIBKRClient creates a gateway client for baseURL.
func NewIBKRClient(baseURL string, opts ...ClientOption) *IBKRClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &IBKRClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: DefaultTimeout},
		breakerCfg: resilience.DefaultConfig(),
		retry:      utils.DefaultRetryConfig(),
		logger:     zerolog.Nop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.retry.Retryable == nil {
		c.retry.Retryable = retryable
	}

	cfg := c.breakerCfg
	onChange := cfg.OnStateChange
	cfg.OnStateChange = func(name string, from, to resilience.CircuitState) {
		c.logger.Warn().
			Str("breaker", name).
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("gateway circuit state changed")
		if onChange != nil {
			onChange(name, from, to)
		}
	}
	c.breaker = resilience.NewCircuitBreaker("ibkr_gateway", cfg)

	return c
}

func retryable(err error) bool {
	return !apperrors.Is(err, resilience.ErrCircuitOpen) &&
		!apperrors.Is(err, context.Canceled) &&
		!apperrors.Is(err, context.DeadlineExceeded)
}

// BreakerStats reports the gateway circuit breaker state.
func (c *IBKRClient) BreakerStats() resilience.Stats {
	return c.breaker.Stats()
}

// Authenticated reports whether the gateway session is logged in.
func (c *IBKRClient) Authenticated(ctx context.Context) bool {
	var status struct {
		Authenticated bool `json:"authenticated"`
	}
	if err := c.do(ctx, "auth_status", http.MethodPost, "/iserver/auth/status", nil, nil, &status); err != nil {
		return false
	}
	return status.Authenticated
}

type searchResult struct {
	Conid       models.Conid `json:"conid"`
	CompanyName string       `json:"companyName"`
	Symbol      string       `json:"symbol"`
	Description string       `json:"description"`
}

// Resolve looks symbol up on the gateway and returns the first match.
// Failures are returned as *errors.ResolutionError.
func (c *IBKRClient) Resolve(ctx context.Context, symbol string) (models.Instrument, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return models.Instrument{}, apperrors.NewResolutionError(symbol, apperrors.ErrSymbolNotFound)
	}

	var results []searchResult
	if err := c.do(ctx, "secdef_search", http.MethodGet, "/iserver/secdef/search", searchQuery(symbol), nil, &results); err != nil {
		return models.Instrument{}, apperrors.NewResolutionError(symbol, err)
	}
	if len(results) == 0 || results[0].Conid == "" {
		return models.Instrument{}, apperrors.NewResolutionError(symbol, apperrors.ErrSymbolNotFound)
	}

	first := results[0]
	if sym := strings.TrimSpace(first.Symbol); sym != "" {
		symbol = sym
	}
	return models.Instrument{
		Symbol:      symbol,
		Conid:       first.Conid,
		CompanyName: first.CompanyName,
		Description: first.Description,
	}, nil
}

// Search returns the raw gateway search results for symbol.
func (c *IBKRClient) Search(ctx context.Context, symbol string) (json.RawMessage, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, apperrors.NewValidationError("symbol", symbol, "Symbol is required")
	}
	return c.raw(ctx, "secdef_search", http.MethodGet, "/iserver/secdef/search", searchQuery(symbol), nil)
}

func searchQuery(symbol string) url.Values {
	return url.Values{"symbol": {symbol}, "name": {"true"}}
}

// Snapshot fetches last price, change, change percent and volume for conid.
func (c *IBKRClient) Snapshot(ctx context.Context, conid models.Conid) (models.Quote, error) {
	if conid == "" {
		return models.Quote{}, apperrors.NewValidationError("conid", conid, "conid is required")
	}

	var rows []map[string]json.RawMessage
	q := url.Values{"conids": {conid.String()}, "fields": {snapshotFields}}
	if err := c.do(ctx, "marketdata_snapshot", http.MethodGet, "/iserver/marketdata/snapshot", q, nil, &rows); err != nil {
		return models.Quote{}, err
	}

	quote, ok := quoteFromSnapshot(conid, rows)
	if !ok {
		return models.Quote{}, apperrors.NewBrokerError("marketdata_snapshot", http.StatusOK,
			"no last price for conid "+conid.String(), apperrors.ErrUnexpectedResponse)
	}
	quote.Timestamp = c.now()
	return quote, nil
}

// AccountID returns the configured account, or the first account the
// gateway lists.
func (c *IBKRClient) AccountID(ctx context.Context) (string, error) {
	if c.accountID != "" {
		return c.accountID, nil
	}

	var accounts []struct {
		ID        string `json:"id"`
		AccountID string `json:"accountId"`
	}
	if err := c.do(ctx, "portfolio_accounts", http.MethodGet, "/portfolio/accounts", nil, nil, &accounts); err != nil {
		return "", fmt.Errorf("%w: %w", apperrors.ErrNoAccount, err)
	}
	for _, a := range accounts {
		if a.ID != "" {
			return a.ID, nil
		}
		if a.AccountID != "" {
			return a.AccountID, nil
		}
	}
	return "", apperrors.ErrNoAccount
}

// Accounts returns the gateway's account list.
func (c *IBKRClient) Accounts(ctx context.Context) (json.RawMessage, error) {
	return c.raw(ctx, "portfolio_accounts", http.MethodGet, "/portfolio/accounts", nil, nil)
}

// AccountSummary returns the summary ledger for accountID.
func (c *IBKRClient) AccountSummary(ctx context.Context, accountID string) (json.RawMessage, error) {
	return c.raw(ctx, "portfolio_summary", http.MethodGet, "/portfolio/"+url.PathEscape(accountID)+"/summary", nil, nil)
}

// Positions returns the first page of positions for accountID. The gateway
// often fails this call right after login, so it is retried.
func (c *IBKRClient) Positions(ctx context.Context, accountID string) (json.RawMessage, error) {
	path := "/portfolio/" + url.PathEscape(accountID) + "/positions/0"
	return utils.RetryWithResult(ctx, c.retry, func() (json.RawMessage, error) {
		return c.raw(ctx, "portfolio_positions", http.MethodGet, path, nil, nil)
	})
}

// Orders returns the live orders for the session.
func (c *IBKRClient) Orders(ctx context.Context) (json.RawMessage, error) {
	var resp struct {
		Orders json.RawMessage `json:"orders"`
	}
	if err := c.do(ctx, "account_orders", http.MethodGet, "/iserver/account/orders", nil, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Orders) == 0 || string(resp.Orders) == "null" {
		return json.RawMessage("[]"), nil
	}
	return resp.Orders, nil
}

type orderTicket struct {
	AccountID string  `json:"acctId"`
	Conid     int64   `json:"conid"`
	OrderType string  `json:"orderType"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
	Side      string  `json:"side"`
	TIF       string  `json:"tif"`
}

// PlaceOrder submits a GTC limit order.
func (c *IBKRClient) PlaceOrder(ctx context.Context, accountID string, req models.OrderRequest) (json.RawMessage, error) {
	body := map[string][]orderTicket{
		"orders": {{
			AccountID: accountID,
			Conid:     req.Conid,
			OrderType: "LMT",
			Price:     req.Price,
			Quantity:  req.Quantity,
			Side:      string(req.Side),
			TIF:       "GTC",
		}},
	}
	return c.raw(ctx, "place_order", http.MethodPost, "/iserver/account/"+url.PathEscape(accountID)+"/orders", nil, body)
}

// CancelOrder cancels an open order.
func (c *IBKRClient) CancelOrder(ctx context.Context, accountID, orderID string) (json.RawMessage, error) {
	path := "/iserver/account/" + url.PathEscape(accountID) + "/order/" + url.PathEscape(orderID)
	return c.raw(ctx, "cancel_order", http.MethodDelete, path, nil, nil)
}

// Contract returns the security definition for conid.
func (c *IBKRClient) Contract(ctx context.Context, conid models.Conid) (json.RawMessage, error) {
	id, err := strconv.ParseInt(conid.String(), 10, 64)
	if err != nil {
		return nil, apperrors.NewValidationError("conid", conid, "conid must be numeric")
	}

	var resp struct {
		Secdef []json.RawMessage `json:"secdef"`
	}
	body := map[string][]int64{"conids": {id}}
	if err := c.do(ctx, "trsrv_secdef", http.MethodPost, "/trsrv/secdef", nil, body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Secdef) == 0 {
		return nil, apperrors.NewBrokerError("trsrv_secdef", http.StatusNotFound, "contract not found", apperrors.ErrSymbolNotFound)
	}
	return resp.Secdef[0], nil
}

// PriceHistory returns OHLC bars for conid.
func (c *IBKRClient) PriceHistory(ctx context.Context, conid models.Conid, period, bar string) (json.RawMessage, error) {
	if period == "" {
		period = "1m"
	}
	if bar == "" {
		bar = "1d"
	}
	q := url.Values{"conid": {conid.String()}, "period": {period}, "bar": {bar}}
	return c.raw(ctx, "marketdata_history", http.MethodGet, "/iserver/marketdata/history", q, nil)
}

// ScannerParams returns the scanner parameter catalogue.
func (c *IBKRClient) ScannerParams(ctx context.Context) (json.RawMessage, error) {
	return c.raw(ctx, "scanner_params", http.MethodGet, "/iserver/scanner/params", nil, nil)
}

type scannerFilter struct {
	Code  string `json:"code"`
	Value any    `json:"value"`
}

// RunScanner runs a market scanner.
func (c *IBKRClient) RunScanner(ctx context.Context, req models.ScannerRequest) (json.RawMessage, error) {
	body := struct {
		Instrument string          `json:"instrument"`
		Location   string          `json:"location"`
		Type       string          `json:"type"`
		Filter     []scannerFilter `json:"filter"`
	}{
		Instrument: req.Instrument,
		Location:   req.Location,
		Type:       req.Type,
		Filter:     []scannerFilter{},
	}
	if req.FilterCode != "" {
		var value any = req.FilterValue
		if f, err := strconv.ParseFloat(req.FilterValue, 64); err == nil {
			value = f
		}
		body.Filter = append(body.Filter, scannerFilter{Code: req.FilterCode, Value: value})
	}
	return c.raw(ctx, "scanner_run", http.MethodPost, "/iserver/scanner/run", nil, body)
}

func (c *IBKRClient) raw(ctx context.Context, endpoint, method, path string, query url.Values, body any) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, endpoint, method, path, query, body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// do performs one gateway request through the circuit breaker and decodes the
// response into out. endpoint is a stable name used for metrics and errors.
func (c *IBKRClient) do(ctx context.Context, endpoint, method, path string, query url.Values, body, out any) error {
	start := time.Now()
	status := 0

	err := c.breaker.Execute(ctx, func() error {
		var reader io.Reader
		if body != nil {
			payload, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("marshal request: %w", err)
			}
			reader = bytes.NewReader(payload)
		}

		target := c.baseURL + path
		if len(query) > 0 {
			target += "?" + query.Encode()
		}

		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return apperrors.NewBrokerError(endpoint, 0, err.Error(), apperrors.ErrConnectionFailed)
		}
		defer resp.Body.Close()
		status = resp.StatusCode

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return apperrors.NewBrokerError(endpoint, status, "read response", err)
		}
		if status < 200 || status >= 300 {
			return apperrors.NewBrokerError(endpoint, status, summarize(data), apperrors.ErrUnexpectedResponse)
		}
		return decode(endpoint, status, data, out)
	})

	elapsed := time.Since(start)
	c.metrics.ObserveBrokerCall(endpoint, elapsed, err)
	logging.LogAPICall(c.logger, method, path, status, elapsed, err)
	return err
}

func decode(endpoint string, status int, data []byte, out any) error {
	if out == nil {
		return nil
	}
	data = bytes.TrimSpace(data)
	if raw, ok := out.(*json.RawMessage); ok {
		if len(data) == 0 {
			*raw = json.RawMessage("null")
			return nil
		}
		if !json.Valid(data) {
			return apperrors.NewBrokerError(endpoint, status, "invalid JSON in response", apperrors.ErrUnexpectedResponse)
		}
		*raw = append((*raw)[:0], data...)
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperrors.NewBrokerError(endpoint, status, err.Error(), apperrors.ErrUnexpectedResponse)
	}
	return nil
}

func summarize(data []byte) string {
	s := strings.TrimSpace(string(data))
	if s == "" {
		return "empty response"
	}
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

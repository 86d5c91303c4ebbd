// Package broker provides the brokerage gateway interfaces and the IBKR
// Client Portal implementation.
package broker

import (
	"context"
	"encoding/json"

	"ibkr-dashboard/internal/models"
	"ibkr-dashboard/internal/resilience"
)

// Resolver maps a ticker symbol to the gateway's instrument record.
type Resolver interface {
	Resolve(ctx context.Context, symbol string) (models.Instrument, error)
}

// QuoteSource returns a market data snapshot for one contract.
type QuoteSource interface {
	Snapshot(ctx context.Context, conid models.Conid) (models.Quote, error)
}

// Gateway is the full set of gateway operations the dashboard uses. Account,
// order and scanner calls return the gateway payload untouched.
type Gateway interface {
	Resolver
	QuoteSource

	// Authentication
	Authenticated(ctx context.Context) bool

	// Account
	AccountID(ctx context.Context) (string, error)
	Accounts(ctx context.Context) (json.RawMessage, error)
	AccountSummary(ctx context.Context, accountID string) (json.RawMessage, error)
	Positions(ctx context.Context, accountID string) (json.RawMessage, error)

	// Orders
	Orders(ctx context.Context) (json.RawMessage, error)
	PlaceOrder(ctx context.Context, accountID string, req models.OrderRequest) (json.RawMessage, error)
	CancelOrder(ctx context.Context, accountID, orderID string) (json.RawMessage, error)

	// Contracts & market data
	Search(ctx context.Context, symbol string) (json.RawMessage, error)
	Contract(ctx context.Context, conid models.Conid) (json.RawMessage, error)
	PriceHistory(ctx context.Context, conid models.Conid, period, bar string) (json.RawMessage, error)

	// Scanner
	ScannerParams(ctx context.Context) (json.RawMessage, error)
	RunScanner(ctx context.Context, req models.ScannerRequest) (json.RawMessage, error)

	BreakerStats() resilience.Stats
}

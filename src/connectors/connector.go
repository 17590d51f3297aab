package connectors

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrExchangeRejected wraps an order the exchange refused (as opposed to a
// transport failure). Both surface to the job machine as a FAILED reason.
var ErrExchangeRejected = errors.New("order rejected by exchange")

// CreateOrderRequest carries one order attempt. ClientOrderID is the
// caller-supplied idempotency key; re-sending the same id must not
// double-execute on the exchange.
type CreateOrderRequest struct {
	Symbol        string
	Side          string // BUY | SELL
	OrderType     string // MARKET | LIMIT | STOP_LIMIT
	QuoteAmount   decimal.Decimal // for quote-sized MARKET buys
	Quantity      decimal.Decimal // base quantity
	Price         *decimal.Decimal
	ClientOrderID string
}

// OrderResult is the normalized outcome of a create/fetch order call.
type OrderResult struct {
	ExchangeOrderID string
	ClientOrderID   string
	Status          string // NEW | PARTIALLY_FILLED | FILLED | CANCELED | REJECTED
	ExecutedQty     decimal.Decimal
	CummQuoteQty    decimal.Decimal
	AvgPrice        decimal.Decimal
	Raw             string
}

// Ticker is one last-price snapshot.
type Ticker struct {
	Symbol string
	Last   decimal.Decimal
}

// ExchangeConnector is the polymorphic call surface to one exchange
// account. One implementation per exchange; construction goes through the
// factory with a type tag plus decrypted credentials.
type ExchangeConnector interface {
	Name() string
	TestConnection(ctx context.Context) error
	FetchBalance(ctx context.Context) (map[string]decimal.Decimal, error)
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*OrderResult, error)
	FetchOrder(ctx context.Context, exchangeOrderID, symbol string) (*OrderResult, error)
	CancelOrder(ctx context.Context, exchangeOrderID, symbol string) error
	FetchTicker(ctx context.Context, symbol string) (*Ticker, error)
}

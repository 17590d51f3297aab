package connectors

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"
)

// SimConnector is an in-process exchange used when an account runs in
// SIMULATION mode. Market orders fill instantly at the configured last
// price, limit orders rest as NEW until fetched or canceled.
type SimConnector struct {
	mu      sync.Mutex
	prices  map[string]decimal.Decimal
	orders  map[string]*OrderResult
	nextID  int64
	balance map[string]decimal.Decimal
}

func NewSimConnector() *SimConnector {
	return &SimConnector{
		prices:  make(map[string]decimal.Decimal),
		orders:  make(map[string]*OrderResult),
		nextID:  1,
		balance: map[string]decimal.Decimal{"USDT": decimal.NewFromInt(1_000_000)},
	}
}

func (s *SimConnector) Name() string { return "SIMULATION" }

// SetPrice fixes the last price used to fill simulated orders for symbol.
func (s *SimConnector) SetPrice(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}

func (s *SimConnector) TestConnection(ctx context.Context) error { return nil }

func (s *SimConnector) FetchBalance(ctx context.Context) (map[string]decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]decimal.Decimal, len(s.balance))
	for asset, amount := range s.balance {
		out[asset] = amount
	}
	return out, nil
}

func (s *SimConnector) CreateOrder(ctx context.Context, r CreateOrderRequest) (*OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	price, ok := s.prices[r.Symbol]
	if !ok || !price.IsPositive() {
		return nil, fmt.Errorf("simulation: no price set for %s: %w", r.Symbol, ErrExchangeRejected)
	}

	id := strconv.FormatInt(s.nextID, 10)
	s.nextID++

	result := &OrderResult{
		ExchangeOrderID: id,
		ClientOrderID:   r.ClientOrderID,
	}

	switch r.OrderType {
	case "MARKET":
		qty := r.Quantity
		if r.Side == "BUY" && r.QuoteAmount.IsPositive() {
			qty = r.QuoteAmount.DivRound(price, 8)
		}
		if !qty.IsPositive() {
			return nil, fmt.Errorf("simulation: zero quantity for %s: %w", r.Symbol, ErrExchangeRejected)
		}
		result.Status = "FILLED"
		result.ExecutedQty = qty
		result.CummQuoteQty = qty.Mul(price)
		result.AvgPrice = price
	case "LIMIT", "STOP_LIMIT":
		if r.Price == nil {
			return nil, fmt.Errorf("simulation: %s order without price: %w", r.OrderType, ErrExchangeRejected)
		}
		result.Status = "NEW"
		result.ExecutedQty = decimal.Zero
		result.CummQuoteQty = decimal.Zero
		result.AvgPrice = decimal.Zero
	default:
		return nil, fmt.Errorf("simulation: unsupported order type %q: %w", r.OrderType, ErrExchangeRejected)
	}

	s.orders[id] = result
	return cloneResult(result), nil
}

func (s *SimConnector) FetchOrder(ctx context.Context, exchangeOrderID, symbol string) (*OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[exchangeOrderID]
	if !ok {
		return nil, fmt.Errorf("simulation: order %s not found", exchangeOrderID)
	}
	return cloneResult(order), nil
}

func (s *SimConnector) CancelOrder(ctx context.Context, exchangeOrderID, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[exchangeOrderID]
	if !ok {
		return fmt.Errorf("simulation: order %s not found", exchangeOrderID)
	}
	if order.Status == "NEW" {
		order.Status = "CANCELED"
	}
	return nil
}

func (s *SimConnector) FetchTicker(ctx context.Context, symbol string) (*Ticker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	price, ok := s.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("simulation: no price set for %s", symbol)
	}
	return &Ticker{Symbol: symbol, Last: price}, nil
}

func cloneResult(r *OrderResult) *OrderResult {
	clone := *r
	return &clone
}

package connectors

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimConnectorMarketFill(t *testing.T) {
	sim := NewSimConnector()
	sim.SetPrice("ETHUSDT", decimal.NewFromInt(2000))

	result, err := sim.CreateOrder(context.Background(), CreateOrderRequest{
		Symbol:        "ETHUSDT",
		Side:          "BUY",
		OrderType:     "MARKET",
		QuoteAmount:   decimal.NewFromInt(500),
		ClientOrderID: "sim-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "FILLED", result.Status)
	assert.True(t, result.ExecutedQty.Equal(decimal.RequireFromString("0.25")), "qty %s", result.ExecutedQty)
	assert.True(t, result.CummQuoteQty.Equal(decimal.NewFromInt(500)))
	assert.True(t, result.AvgPrice.Equal(decimal.NewFromInt(2000)))

	fetched, err := sim.FetchOrder(context.Background(), result.ExchangeOrderID, "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, "FILLED", fetched.Status)
}

func TestSimConnectorLimitRestsUntilCanceled(t *testing.T) {
	sim := NewSimConnector()
	sim.SetPrice("BTCUSDT", decimal.NewFromInt(50000))

	price := decimal.NewFromInt(45000)
	result, err := sim.CreateOrder(context.Background(), CreateOrderRequest{
		Symbol:        "BTCUSDT",
		Side:          "BUY",
		OrderType:     "LIMIT",
		Quantity:      decimal.RequireFromString("0.01"),
		Price:         &price,
		ClientOrderID: "sim-2",
	})
	require.NoError(t, err)
	assert.Equal(t, "NEW", result.Status)

	require.NoError(t, sim.CancelOrder(context.Background(), result.ExchangeOrderID, "BTCUSDT"))

	fetched, err := sim.FetchOrder(context.Background(), result.ExchangeOrderID, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "CANCELED", fetched.Status)
}

func TestSimConnectorRejectsUnknownSymbol(t *testing.T) {
	sim := NewSimConnector()

	_, err := sim.CreateOrder(context.Background(), CreateOrderRequest{
		Symbol:        "DOGEUSDT",
		Side:          "BUY",
		OrderType:     "MARKET",
		QuoteAmount:   decimal.NewFromInt(10),
		ClientOrderID: "sim-3",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExchangeRejected))
}

func TestFactorySelectsByExchangeTag(t *testing.T) {
	sim, err := NewConnector("simulation", "", "")
	require.NoError(t, err)
	assert.Equal(t, "SIMULATION", sim.Name())

	_, err = NewConnector("MTGOX", "k", "s")
	require.Error(t, err)
}

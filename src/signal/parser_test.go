package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStructuredPayload(t *testing.T) {
	parsed := Parse(`{"ticker":"BINANCE:BTCUSDT.P","action":"buy","price":49990.5}`)

	assert.Equal(t, "BINANCE:BTCUSDT.P", parsed.SymbolRaw)
	assert.Equal(t, "BTCUSDT", parsed.SymbolNormalized)
	assert.Equal(t, ActionBuy, parsed.Action)
	assert.Equal(t, "49990.5", parsed.PriceReference)
}

func TestParseStructuredFieldsWinOverText(t *testing.T) {
	parsed := Parse(`{"symbol":"ETHUSDT","side":"SELL","message":"SOLUSDT buy now (15m)"}`)

	assert.Equal(t, "ETHUSDT", parsed.SymbolNormalized)
	assert.Equal(t, ActionSell, parsed.Action)
	// Timeframe is still mined from the message text.
	assert.Equal(t, "15m", parsed.Timeframe)
}

func TestParseFreeTextBuyWithTimeframe(t *testing.T) {
	parsed := Parse("BTCUSDT compra confirmada (4h) price: 65000.50")

	require.Equal(t, ActionBuy, parsed.Action)
	assert.Equal(t, "BTCUSDT", parsed.SymbolRaw)
	assert.Equal(t, "4h", parsed.Timeframe)
	assert.Equal(t, "65000.50", parsed.PriceReference)
}

func TestParseFreeTextEmojiSell(t *testing.T) {
	parsed := Parse("SOLUSDT 🔴 saída agora")

	assert.Equal(t, ActionSell, parsed.Action)
	assert.Equal(t, "SOLUSDT", parsed.SymbolNormalized)
}

func TestParseUnrecognizableInput(t *testing.T) {
	for _, raw := range []string{"", "   ", "\n\t"} {
		parsed := Parse(raw)
		assert.Equal(t, ActionUnknown, parsed.Action)
		assert.Equal(t, "", parsed.SymbolRaw)
	}

	// A token without any vocabulary still yields the symbol but no action.
	parsed := Parse("DOGEUSDT hello world")
	assert.Equal(t, ActionUnknown, parsed.Action)
	assert.Equal(t, "DOGEUSDT", parsed.SymbolRaw)
}

func TestParseMixedVocabularyStaysUnknown(t *testing.T) {
	parsed := Parse("BTCUSDT buy the dip or sell the rally")
	assert.Equal(t, ActionUnknown, parsed.Action)
}

func TestNormalizeSymbol(t *testing.T) {
	cases := map[string]string{
		"btcusdt":          "BTCUSDT",
		"BTCUSDT.P":        "BTCUSDT",
		"ETHUSDTPERP":      "ETHUSDT",
		"BYBIT:SOLUSDT.P":  "SOLUSDT",
		"  bnbusdt_perp  ": "BNBUSDT",
		"":                 "",
	}
	for raw, want := range cases {
		assert.Equal(t, want, NormalizeSymbol(raw), "input %q", raw)
	}
}

package signal

import (
	"encoding/json"
	"regexp"
	"strings"
)

const (
	ActionBuy     = "BUY_SIGNAL"
	ActionSell    = "SELL_SIGNAL"
	ActionUnknown = "UNKNOWN"
)

// ParsedSignal is the normalized output of one inbound payload.
type ParsedSignal struct {
	SymbolRaw        string `json:"symbol_raw"`
	SymbolNormalized string `json:"symbol_normalized"`
	Action           string `json:"action"`
	Timeframe        string `json:"timeframe,omitempty"`
	PriceReference   string `json:"price_reference,omitempty"`
	PatternName      string `json:"pattern_name,omitempty"`
}

// structuredPayload covers the field aliases structured senders use.
type structuredPayload struct {
	Symbol  string          `json:"symbol"`
	Ticker  string          `json:"ticker"`
	Action  string          `json:"action"`
	Side    string          `json:"side"`
	Price   json.RawMessage `json:"price"`
	Pattern string          `json:"pattern"`
	Message string          `json:"message"`
	Text    string          `json:"text"`
}

var (
	timeframeRe = regexp.MustCompile(`\(([A-Za-z0-9]{1,6})\)`)
	priceRefRe  = regexp.MustCompile(`(?i)(?:price|preço|preco|@)[:\s]*([0-9]+(?:[.,][0-9]+)?)`)

	// Derivative suffixes stripped during symbol normalization.
	// Longest variants first so BTCUSDT_PERP does not strip to BTCUSDT_.
	derivativeSuffixes = []string{"_PERP", ".PERP", ".P", "PERP"}

	buyKeywords = []string{
		"BUY", "LONG", "COMPRA", "COMPRAR", "ENTRADA",
		"BULLISH", "ALTA", "PUMP",
	}
	sellKeywords = []string{
		"SELL", "SHORT", "VENDA", "VENDER", "SAIDA", "SAÍDA",
		"BEARISH", "BAIXA", "EXIT", "CLOSE", "FECHAR",
	}

	buyEmojis  = []string{"🚀", "🟢", "📈", "⬆"}
	sellEmojis = []string{"🔴", "📉", "⬇", "🛑"}
)

// Parse turns a raw inbound payload into a ParsedSignal. The input may be a
// JSON object with structured fields or arbitrary free text. Parse never
// fails: unrecognizable input yields ActionUnknown and an empty symbol.
func Parse(raw string) ParsedSignal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ParsedSignal{Action: ActionUnknown}
	}

	var structured structuredPayload
	if err := json.Unmarshal([]byte(raw), &structured); err == nil {
		if parsed, ok := fromStructured(structured); ok {
			return parsed
		}
		// A JSON body without usable fields falls through to free text on
		// whichever message field carries it.
		if structured.Message != "" {
			return fromFreeText(structured.Message)
		}
		if structured.Text != "" {
			return fromFreeText(structured.Text)
		}
	}

	return fromFreeText(raw)
}

func fromStructured(payload structuredPayload) (ParsedSignal, bool) {
	symbol := payload.Symbol
	if symbol == "" {
		symbol = payload.Ticker
	}

	action := payload.Action
	if action == "" {
		action = payload.Side
	}
	if symbol == "" && action == "" {
		return ParsedSignal{}, false
	}

	parsed := ParsedSignal{
		SymbolRaw:        symbol,
		SymbolNormalized: NormalizeSymbol(symbol),
		Action:           classifyAction(action),
		PatternName:      payload.Pattern,
	}

	if len(payload.Price) > 0 && string(payload.Price) != "null" {
		parsed.PriceReference = strings.Trim(string(payload.Price), `"`)
	}

	// Structured senders still embed the timeframe in the message text.
	if payload.Message != "" {
		if m := timeframeRe.FindStringSubmatch(payload.Message); m != nil {
			parsed.Timeframe = m[1]
		}
	}

	return parsed, true
}

func fromFreeText(text string) ParsedSignal {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ParsedSignal{Action: ActionUnknown}
	}

	// First whitespace-delimited token is treated as the symbol.
	symbolRaw := fields[0]

	parsed := ParsedSignal{
		SymbolRaw:        symbolRaw,
		SymbolNormalized: NormalizeSymbol(symbolRaw),
		Action:           classifyText(text),
	}

	if m := timeframeRe.FindStringSubmatch(text); m != nil {
		parsed.Timeframe = m[1]
	}
	if m := priceRefRe.FindStringSubmatch(text); m != nil {
		parsed.PriceReference = strings.ReplaceAll(m[1], ",", ".")
	}

	return parsed
}

// NormalizeSymbol upper-cases a raw symbol and strips derivative markers so
// BTCUSDT.P and BTCUSDTPERP both resolve to BTCUSDT.
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return ""
	}

	// Exchange-prefixed symbols like BINANCE:BTCUSDT.
	if idx := strings.LastIndex(s, ":"); idx >= 0 {
		s = s[idx+1:]
	}

	for _, suffix := range derivativeSuffixes {
		if strings.HasSuffix(s, suffix) && len(s) > len(suffix) {
			s = strings.TrimSuffix(s, suffix)
			break
		}
	}

	return s
}

func classifyAction(action string) string {
	switch strings.ToUpper(strings.TrimSpace(action)) {
	case "BUY", "LONG", "BUY_SIGNAL", "COMPRA":
		return ActionBuy
	case "SELL", "SHORT", "SELL_SIGNAL", "VENDA", "EXIT", "CLOSE":
		return ActionSell
	}
	return ActionUnknown
}

// classifyText scores buy and sell vocabulary hits over the whole text.
// Best effort only: mixed or absent vocabulary stays UNKNOWN.
func classifyText(text string) string {
	upper := strings.ToUpper(text)

	buyHits := countHits(upper, buyKeywords) + countHits(text, buyEmojis)
	sellHits := countHits(upper, sellKeywords) + countHits(text, sellEmojis)

	switch {
	case buyHits > sellHits:
		return ActionBuy
	case sellHits > buyHits:
		return ActionSell
	}
	return ActionUnknown
}

func countHits(text string, vocabulary []string) int {
	hits := 0
	for _, word := range vocabulary {
		if strings.Contains(text, word) {
			hits++
		}
	}
	return hits
}

package connectors

import (
	"fmt"
	"strings"
)

// NewConnector builds the connector for an exchange type tag with decrypted
// credentials. SIMULATION accounts get the in-process simulator regardless
// of credentials.
func NewConnector(exchange, apiKey, apiSecret string) (ExchangeConnector, error) {
	switch strings.ToUpper(strings.TrimSpace(exchange)) {
	case "SIMULATION":
		return NewSimConnector(), nil
	case "BINANCE":
		config := GetConfig()
		return NewBinanceClient(apiKey, apiSecret, config.BinanceBaseURL, newRequestLimiter(config)), nil
	default:
		return nil, fmt.Errorf("unsupported exchange %q", exchange)
	}
}

package connectors

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	BinanceBaseURL string `envconfig:"BINANCE_BASE_URL" default:"https://api.binance.com"`

	// Requests per second budget for outbound exchange calls, per connector.
	RequestsPerSecond float64 `envconfig:"EXCHANGE_REQUESTS_PER_SECOND" default:"8"`
	RequestBurst      int     `envconfig:"EXCHANGE_REQUEST_BURST" default:"4"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

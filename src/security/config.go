package security

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// ExchangeCRKey is the passphrase the AES key is derived from. It
	// protects exchange API credentials and webhook signing secrets at rest.
	ExchangeCRKey string `envconfig:"EXCHANGE_CREDENTIALS_KEY" default:"local-dev-only-credentials-key"`
	KeySalt       string `envconfig:"EXCHANGE_CREDENTIALS_SALT" default:"tradeexecutor-credentials"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

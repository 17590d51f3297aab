package jobs

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// MinNotional is the smallest quote amount a sized BUY may resolve to.
	MinNotional string `envconfig:"MIN_NOTIONAL" default:"10"`

	// DefaultQuoteAsset backs symbols whose quote asset cannot be derived.
	DefaultQuoteAsset string `envconfig:"DEFAULT_QUOTE_ASSET" default:"USDT"`

	SellLockTTL time.Duration `envconfig:"SELL_LOCK_TTL" default:"600s"`

	// PendingRetryAge is how long a MARKET job may sit PENDING before the
	// dispatch sweep re-drives it. Covers a process dying between create
	// and execute, and sell jobs parked by a busy position lock.
	PendingRetryAge time.Duration `envconfig:"PENDING_RETRY_AGE" default:"1m"`

	// StaleJobAge is how long a non-terminal job may sit untouched before
	// the reconciliation sweep fails it and releases its reservation.
	StaleJobAge time.Duration `envconfig:"STALE_JOB_AGE" default:"30m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

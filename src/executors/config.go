package executors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	LoopPeriod time.Duration `envconfig:"LOOP_PERIOD" default:"30s"`

	// MonitorBatchSize caps how many SL/TP positions and pending limit
	// jobs one tick inspects.
	MonitorBatchSize int `envconfig:"MONITOR_BATCH_SIZE" default:"100"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

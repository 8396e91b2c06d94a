package ledger

import (
	"github.com/rs/zerolog"

	"allocbatch/internal/config"
)

func zerologNop() zerolog.Logger { return zerolog.Nop() }

func testBatching() config.BatchingConfig {
	return config.BatchingConfig{
		MaxBatchSize:   10,
		MaxWaitTime:    config.Int(20),
		MinWaitTime:    config.Int(20),
		AdaptiveDelay:  config.Bool(false),
		MaxRetries:     config.Int(1),
		BaseRetryDelay: 1,
		MaxRetryDelay:  10,
	}
}

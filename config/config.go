// Package config loads node-local tunables from TOML, matching the
// teacher's cmd/geth config-file idiom (BurntSushi/toml).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds every timer and threshold named in §4.3's proposal gate,
// §4.6's synchronizer, and §4.7's Bullshark reputation scoring.
type Config struct {
	// MinHeaderDelay and MaxHeaderDelay bound how long the proposer waits
	// before forcing a round advance (§4.3).
	MinHeaderDelay time.Duration `toml:"min_header_delay"`
	MaxHeaderDelay time.Duration `toml:"max_header_delay"`

	// HeaderResendDelay controls the idempotent re-send timer for an
	// already-persisted last-proposed header.
	HeaderResendDelay time.Duration `toml:"header_resend_delay"`

	// HeaderNumOfBatchesThreshold and MaxHeaderNumOfBatches bound the
	// digest queue drain per proposed header (§4.3).
	HeaderNumOfBatchesThreshold int `toml:"header_num_of_batches_threshold"`
	MaxHeaderNumOfBatches       int `toml:"max_header_num_of_batches"`

	// MaxClockSkew bounds how far into the future a header's created_at
	// may be relative to the voter's local clock (§4.5).
	MaxClockSkew time.Duration `toml:"max_clock_skew"`

	// GCDepth is the number of rounds behind the latest committed leader
	// round that remain live; older rounds are discarded (§4.7).
	GCDepth uint64 `toml:"gc_depth"`

	// NumSubDagsPerSchedule is the sliding reputation-scoring window size
	// (§4.7; "e.g. 300").
	NumSubDagsPerSchedule uint64 `toml:"num_sub_dags_per_schedule"`

	// BadNodesStakeThreshold is the fraction (0,1) of lowest-scoring
	// authorities swapped out of leader slots at each window boundary.
	BadNodesStakeThreshold float64 `toml:"bad_nodes_stake_threshold"`

	// BatchMiningPolicy selects "instant" or "interval" (§4.1).
	BatchMiningPolicy    string        `toml:"batch_mining_policy"`
	BatchMiningInterval  time.Duration `toml:"batch_mining_interval"`
	MaxBatchTransactions int           `toml:"max_batch_transactions"`

	// QuorumWaitTimeout is loaded from the config file but is not passed
	// to the worker; the quorum waiter waits for 2f+1 stake of ACKs until
	// its context is done (§4.1).
	QuorumWaitTimeout time.Duration `toml:"quorum_wait_timeout"`

	// FetchRetryBackoff is the base backoff for retryable network errors
	// (§7 "retry with backoff").
	FetchRetryBackoff time.Duration `toml:"fetch_retry_backoff"`
	MaxFetchRetries   int           `toml:"max_fetch_retries"`

	// MaxBaseFee ceilings the base fee a worker's execution builder may
	// report for a batch; 0 disables the ceiling.
	MaxBaseFee uint64 `toml:"max_base_fee"`

	// MaxResponseBatches bounds how many batches a worker returns from a
	// single RequestBatches call; FetchBatches responses are not bounded.
	MaxResponseBatches int `toml:"max_response_batches"`

	Storage StorageConfig `toml:"storage"`
}

// StorageConfig selects and configures the KV backend (§4.9 expansion).
type StorageConfig struct {
	Backend string `toml:"backend"` // "memory" | "leveldb" | "pebble"
	Path    string `toml:"path"`
}

// Default returns the configuration used throughout the test suite (§8
// "min=max=20ms for tests"), and a reasonable production baseline
// otherwise.
func Default() Config {
	return Config{
		MinHeaderDelay:              20 * time.Millisecond,
		MaxHeaderDelay:              20 * time.Millisecond,
		HeaderResendDelay:           2 * time.Second,
		HeaderNumOfBatchesThreshold: 32,
		MaxHeaderNumOfBatches:       1000,
		MaxClockSkew:                500 * time.Millisecond,
		GCDepth:                     50,
		NumSubDagsPerSchedule:       300,
		BadNodesStakeThreshold:      0.2,
		BatchMiningPolicy:           "instant",
		BatchMiningInterval:         100 * time.Millisecond,
		MaxBatchTransactions:        500,
		QuorumWaitTimeout:           5 * time.Second,
		FetchRetryBackoff:           200 * time.Millisecond,
		MaxFetchRetries:             5,
		MaxResponseBatches:          256,
		Storage:                     StorageConfig{Backend: "memory"},
	}
}

// Load reads a TOML config file, filling unset fields from Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/samuel0642/txengine/internal/types"
)

// Config represents the application configuration
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Storage StorageConfig `yaml:"storage"`
	Pow     PowConfig     `yaml:"pow"`
	Fees    FeeConfig     `yaml:"fees"`
	Chain   ChainConfig   `yaml:"chain"`
	Mempool MempoolConfig `yaml:"mempool"`
	Metrics MetricsConfig `yaml:"metrics"`
	Genesis GenesisConfig `yaml:"genesis"`
}

// LogConfig represents the logging configuration
type LogConfig struct {
	Level      string `yaml:"level"`
	Encoding   string `yaml:"encoding"` // console or json
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// StorageConfig represents the storage configuration
type StorageConfig struct {
	Dir       string `yaml:"dir"`
	Namespace string `yaml:"namespace"`
	InMemory  bool   `yaml:"in_memory"`
}

// PowConfig represents the proof-of-work configuration. Difficulty must
// match across every node of a chain epoch.
type PowConfig struct {
	Difficulty  int           `yaml:"difficulty"`
	Workers     int           `yaml:"workers"`
	MaxAttempts uint64        `yaml:"max_attempts"`
	Timeout     time.Duration `yaml:"timeout"`
}

// FeeConfig represents the fee policy
type FeeConfig struct {
	Charge    bool              `yaml:"charge"`
	PerByte   uint64            `yaml:"per_byte"`
	Base      map[string]uint64 `yaml:"base"` // keyed by transaction type name
	Collector string            `yaml:"collector"`
}

// ChainConfig represents chain economic parameters
type ChainConfig struct {
	BlockReward  uint64   `yaml:"block_reward"`
	SlashPercent uint64   `yaml:"slash_percent"`
	Governance   []string `yaml:"governance"`
}

// MempoolConfig represents the mempool configuration
type MempoolConfig struct {
	MaxSize int `yaml:"max_size"`
}

// MetricsConfig represents the metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// GenesisConfig describes the initial ledger
type GenesisConfig struct {
	Accounts   map[string]uint64 `yaml:"accounts"`
	Validators map[string]uint64 `yaml:"validators"` // address -> self stake
	Contracts  map[string]string `yaml:"contracts"`  // address -> code name
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:      "info",
			Encoding:   "console",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Storage: StorageConfig{
			Dir:       "./data",
			Namespace: "txs",
		},
		Pow: PowConfig{
			Difficulty: 4,
			Workers:    4,
		},
		Fees: FeeConfig{
			Base: make(map[string]uint64),
		},
		Chain: ChainConfig{
			BlockReward:  50,
			SlashPercent: 10,
		},
		Mempool: MempoolConfig{
			MaxSize: 10000,
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9464",
		},
		Genesis: GenesisConfig{
			Accounts:   make(map[string]uint64),
			Validators: make(map[string]uint64),
			Contracts:  make(map[string]string),
		},
	}
}

// LoadConfig loads the configuration from a file on top of the defaults
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Pow.Difficulty < 0 || c.Pow.Difficulty > types.HashLength {
		return fmt.Errorf("pow difficulty must be between 0 and %d", types.HashLength)
	}
	if c.Pow.Workers <= 0 {
		return fmt.Errorf("pow workers must be positive")
	}
	if c.Chain.SlashPercent > 100 {
		return fmt.Errorf("slash percent must not exceed 100")
	}
	if c.Mempool.MaxSize <= 0 {
		return fmt.Errorf("mempool max size must be positive")
	}
	if !c.Storage.InMemory && c.Storage.Dir == "" {
		return fmt.Errorf("storage dir cannot be empty")
	}
	if c.Storage.Namespace == "" {
		return fmt.Errorf("storage namespace cannot be empty")
	}
	for name := range c.Fees.Base {
		if _, err := types.ParseTxType(name); err != nil {
			return fmt.Errorf("fees.base: %w", err)
		}
	}
	if c.Fees.Collector != "" && !types.IsHexAddress(c.Fees.Collector) {
		return fmt.Errorf("fees.collector must be a %d character hex address", types.AddressLength)
	}
	for _, addr := range c.Chain.Governance {
		if !types.IsHexAddress(addr) {
			return fmt.Errorf("governance address %q is malformed", addr)
		}
	}
	for _, set := range []map[string]uint64{c.Genesis.Accounts, c.Genesis.Validators} {
		for addr := range set {
			if !types.IsHexAddress(addr) {
				return fmt.Errorf("genesis address %q is malformed", addr)
			}
		}
	}
	for addr := range c.Genesis.Contracts {
		if !types.IsHexAddress(addr) {
			return fmt.Errorf("genesis contract address %q is malformed", addr)
		}
	}
	return nil
}

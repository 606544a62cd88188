// Package config provides configuration management for Doneth.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// Config holds all Doneth configuration.
type Config struct {
	// Name is the indexer instance name. It keys the sync checkpoint.
	Name string `mapstructure:"name"`

	// Network is the target network (lens-mainnet, lens-testnet, local).
	Network string `mapstructure:"network"`

	// Database is the PostgreSQL connection string.
	Database string `mapstructure:"database"`

	// RPCURL is the RPC endpoint (overrides network preset).
	RPCURL string `mapstructure:"rpc_url"`

	// Factory is the campaign factory whose CampaignCreated events
	// drive campaign discovery.
	Factory ContractConfig `mapstructure:"factory"`

	// Server holds API server configuration.
	Server ServerConfig `mapstructure:"server"`

	// Sync holds synchronization configuration.
	Sync SyncConfig `mapstructure:"sync"`

	// Auth holds wallet login configuration.
	Auth AuthConfig `mapstructure:"auth"`

	// Log holds logging configuration.
	Log LogConfig `mapstructure:"log"`

	// Derived fields (populated from network preset).
	ChainID      uint64
	PollInterval time.Duration
}

// ContractConfig defines a contract to index.
type ContractConfig struct {
	// Address is the contract address.
	Address string `mapstructure:"address"`

	// StartBlock is the block to start indexing from.
	StartBlock uint64 `mapstructure:"start_block"`
}

// ServerConfig holds API server configuration.
type ServerConfig struct {
	// APIPort is the HTTP API port.
	APIPort int `mapstructure:"api_port"`

	// GraphQLPort is the GraphQL server port. Zero disables it.
	GraphQLPort int `mapstructure:"graphql_port"`

	// MetricsPort is the Prometheus metrics port.
	MetricsPort int `mapstructure:"metrics_port"`
}

// SyncConfig holds synchronization configuration.
type SyncConfig struct {
	// BatchSize is the number of blocks to fetch per batch.
	BatchSize uint64 `mapstructure:"batch_size"`

	// MaxRetries is the maximum RPC retry attempts.
	MaxRetries int `mapstructure:"max_retries"`

	// RetryDelay is the initial retry delay.
	RetryDelay time.Duration `mapstructure:"retry_delay"`

	// Confirmations is how many blocks behind head the indexer stays.
	Confirmations uint64 `mapstructure:"confirmations"`

	// AddressChunkSize caps the addresses sent in one eth_getLogs call.
	AddressChunkSize int `mapstructure:"address_chunk_size"`
}

// AuthConfig holds wallet login configuration.
type AuthConfig struct {
	// ChallengeTTL is how long a login challenge stays valid.
	ChallengeTTL time.Duration `mapstructure:"challenge_ttl"`

	// SessionTTL is how long a session stays valid after login.
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `mapstructure:"level"`

	// Format is console or json.
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment.
//
// Returns:
//   - *Config: the loaded configuration
//   - error: nil on success, configuration error on failure
func Load() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadChain reads configuration for commands that only talk to the chain.
// The database is not required.
func LoadChain() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if err := cfg.validateChain(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load() (*Config, error) {
	cfg := &Config{}

	// Set defaults
	setDefaults()

	// Unmarshal configuration
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.applyPreset(); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyPreset fills derived fields from the network preset.
func (c *Config) applyPreset() error {
	preset, ok := NetworkPresets[c.Network]
	if !ok {
		return fmt.Errorf("unknown network: %s (valid: lens-mainnet, lens-testnet, local)", c.Network)
	}

	c.ChainID = preset.ChainID
	c.PollInterval = preset.PollInterval

	// Use preset RPC if not overridden
	if c.RPCURL == "" {
		c.RPCURL = preset.DefaultRPC
	}
	return nil
}

// applyEnvOverrides lets the environment win over file values.
func applyEnvOverrides(cfg *Config) {
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database = dbURL
	}
	if rpcURL := os.Getenv("DONETH_RPC_URL"); rpcURL != "" {
		cfg.RPCURL = rpcURL
	}
	if factory := os.Getenv("FACTORY_ADDRESS"); factory != "" {
		cfg.Factory.Address = factory
	}
}

// Validate checks that all required configuration is present.
//
// Returns:
//   - error: nil if valid, validation error otherwise
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database connection string is required (set DATABASE_URL env var or database in config)")
	}
	if err := c.validateChain(); err != nil {
		return err
	}
	if c.Sync.BatchSize == 0 {
		return fmt.Errorf("sync.batch_size must be greater than zero")
	}

	return nil
}

func (c *Config) validateChain() error {
	if c.Network == "" {
		return fmt.Errorf("network is required")
	}
	if c.Factory.Address == "" {
		return fmt.Errorf("factory address is required (set FACTORY_ADDRESS env var or factory.address in config)")
	}
	if !common.IsHexAddress(c.Factory.Address) {
		return fmt.Errorf("factory address %q is not a valid hex address", c.Factory.Address)
	}
	return nil
}

// FactoryAddress returns the parsed factory address.
func (c *Config) FactoryAddress() common.Address {
	return common.HexToAddress(c.Factory.Address)
}

// setDefaults sets default configuration values.
func setDefaults() {
	viper.SetDefault("name", "doneth")
	viper.SetDefault("network", "lens-testnet")
	viper.SetDefault("server.api_port", 8080)
	viper.SetDefault("server.graphql_port", 8081)
	viper.SetDefault("server.metrics_port", 9090)
	viper.SetDefault("sync.batch_size", 1000)
	viper.SetDefault("sync.max_retries", 3)
	viper.SetDefault("sync.retry_delay", "1s")
	viper.SetDefault("sync.confirmations", 1)
	viper.SetDefault("sync.address_chunk_size", 200)
	viper.SetDefault("auth.challenge_ttl", "5m")
	viper.SetDefault("auth.session_ttl", "24h")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
}

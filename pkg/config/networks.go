package config

import (
	"sort"
	"time"
)

// NetworkPreset contains network-specific default values.
type NetworkPreset struct {
	// ChainID is the network chain ID.
	ChainID uint64

	// PollInterval is the block polling interval.
	PollInterval time.Duration

	// DefaultRPC is the default public RPC endpoint.
	DefaultRPC string

	// BlockTime is the expected block time.
	BlockTime time.Duration

	// NativeSymbol is the symbol of the native currency campaigns raise.
	NativeSymbol string
}

// NetworkPresets contains all supported network configurations.
var NetworkPresets = map[string]NetworkPreset{
	"lens-mainnet": {
		ChainID:      232,
		PollInterval: 2 * time.Second,
		DefaultRPC:   "https://rpc.lens.xyz",
		BlockTime:    1 * time.Second,
		NativeSymbol: "GHO",
	},
	"lens-testnet": {
		ChainID:      37111,
		PollInterval: 2 * time.Second,
		DefaultRPC:   "https://rpc.testnet.lens.dev",
		BlockTime:    1 * time.Second,
		NativeSymbol: "GRASS",
	},
	"local": {
		ChainID:      31337,
		PollInterval: 1 * time.Second,
		DefaultRPC:   "http://127.0.0.1:8545",
		BlockTime:    1 * time.Second,
		NativeSymbol: "ETH",
	},
}

// GetNetworkPreset returns the preset for a network name.
//
// Parameters:
//   - network (string): the network name
//
// Returns:
//   - NetworkPreset: the network preset
//   - bool: true if found, false otherwise
func GetNetworkPreset(network string) (NetworkPreset, bool) {
	preset, ok := NetworkPresets[network]
	return preset, ok
}

// SupportedNetworks returns the supported network names, sorted.
//
// Returns:
//   - []string: list of supported network names
func SupportedNetworks() []string {
	networks := make([]string, 0, len(NetworkPresets))
	for name := range NetworkPresets {
		networks = append(networks, name)
	}
	sort.Strings(networks)
	return networks
}

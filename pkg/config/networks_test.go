package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNetworkPresets(t *testing.T) {
	tests := []struct {
		name        string
		network     string
		wantChainID uint64
		wantPoll    time.Duration
		wantSymbol  string
		wantExists  bool
	}{
		{
			name:        "lens-mainnet",
			network:     "lens-mainnet",
			wantChainID: 232,
			wantPoll:    2 * time.Second,
			wantSymbol:  "GHO",
			wantExists:  true,
		},
		{
			name:        "lens-testnet",
			network:     "lens-testnet",
			wantChainID: 37111,
			wantPoll:    2 * time.Second,
			wantSymbol:  "GRASS",
			wantExists:  true,
		},
		{
			name:        "local devnet",
			network:     "local",
			wantChainID: 31337,
			wantPoll:    time.Second,
			wantSymbol:  "ETH",
			wantExists:  true,
		},
		{
			name:       "unknown network",
			network:    "ethereum-mainnet",
			wantExists: false,
		},
		{
			name:       "empty network",
			network:    "",
			wantExists: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			preset, ok := GetNetworkPreset(tc.network)

			require.Equal(t, tc.wantExists, ok)

			if !tc.wantExists {
				return
			}

			require.Equal(t, tc.wantChainID, preset.ChainID)
			require.Equal(t, tc.wantPoll, preset.PollInterval)
			require.Equal(t, tc.wantSymbol, preset.NativeSymbol)
			require.NotEmpty(t, preset.DefaultRPC)
			require.NotZero(t, preset.BlockTime)
		})
	}
}

func TestSupportedNetworks(t *testing.T) {
	networks := SupportedNetworks()

	require.Equal(t, []string{"lens-mainnet", "lens-testnet", "local"}, networks)
}

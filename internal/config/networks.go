package config

import (
	"fmt"
	"sort"
	"strings"
)

// NetworkConfig describes one DEX deployment. Method names differ between
// Uniswap-V2 forks for the native-currency swap entry points.
type NetworkConfig struct {
	ChainID       int64  `toml:"chain_id"`
	DEX           string `toml:"dex"`
	Router        string `toml:"router"`
	Factory       string `toml:"factory"`
	WrappedNative string `toml:"wrapped_native"`
	Locker        string `toml:"locker"`
	BuyMethod     string `toml:"buy_method"`
	SellMethod    string `toml:"sell_method"`
}

var networkPresets = map[string]NetworkConfig{
	"polygon": {
		ChainID:       137,
		DEX:           "quickswap",
		Router:        "0xa5E0829CaCEd8fFDD4De3c43696c57F7D7A678ff",
		Factory:       "0x5757371414417b8C6CAad45bAeF941aBc7d3Ab32",
		WrappedNative: "0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270",
		Locker:        "0x6cC5F688a315f3dC28A7781717a9A798a59fDA7b",
		BuyMethod:     "swapExactETHForTokens",
		SellMethod:    "swapExactTokensForETH",
	},
	"avalanche": {
		ChainID:       43114,
		DEX:           "traderjoe",
		Router:        "0x60aE616a2155Ee3d9A68541Ba4544862310933d4",
		Factory:       "0x9Ad6C38BE94206cA50bb0d90783181662f0Cfa10",
		WrappedNative: "0xB31f66AA3C1e785363F0875A1B74E27b85FD66c7",
		Locker:        "0x4B1E4c30B12B8564686C9160F8B1253222B66D15",
		BuyMethod:     "swapExactAVAXForTokens",
		SellMethod:    "swapExactTokensForAVAX",
	},
	"fantom": {
		ChainID:       250,
		DEX:           "spookyswap",
		Router:        "0xF491e7B69E4244ad4002BC14e878a34207E38c29",
		Factory:       "0x152eE697f2E276fA89E96742e9bB9aB1F2E61bE3",
		WrappedNative: "0x21be370D5312f44cB42ce377BC9b8a0cEF1A4C83",
		Locker:        "0x7ee058420e5937496F5a2096f04caA7721cF70cc",
		BuyMethod:     "swapExactETHForTokens",
		SellMethod:    "swapExactTokensForETH",
	},
}

// KnownNetworks lists the built-in preset names.
func KnownNetworks() []string {
	out := make([]string, 0, len(networkPresets))
	for k := range networkPresets {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Resolve returns the active network: the preset named by Network with any
// non-empty fields from the matching [chain.networks.<name>] table applied.
// A network without a preset must be fully specified in the table.
func (c ChainConfig) Resolve() (NetworkConfig, error) {
	name := strings.ToLower(c.Network)
	net, ok := networkPresets[name]
	override, hasOverride := c.Networks[name]
	if !ok && !hasOverride {
		return NetworkConfig{}, fmt.Errorf("unknown network %q (known: %s)", c.Network, strings.Join(KnownNetworks(), ", "))
	}
	if hasOverride {
		mergeNetwork(&net, override)
	}
	if net.BuyMethod == "" {
		net.BuyMethod = "swapExactETHForTokens"
	}
	if net.SellMethod == "" {
		net.SellMethod = "swapExactTokensForETH"
	}
	var missing []string
	if net.ChainID <= 0 {
		missing = append(missing, "chain_id")
	}
	if net.Router == "" {
		missing = append(missing, "router")
	}
	if net.Factory == "" {
		missing = append(missing, "factory")
	}
	if net.WrappedNative == "" {
		missing = append(missing, "wrapped_native")
	}
	if len(missing) > 0 {
		return NetworkConfig{}, fmt.Errorf("network %q missing %s", c.Network, strings.Join(missing, ", "))
	}
	return net, nil
}

func mergeNetwork(dst *NetworkConfig, src NetworkConfig) {
	if src.ChainID != 0 {
		dst.ChainID = src.ChainID
	}
	for _, f := range []struct {
		d *string
		s string
	}{
		{&dst.DEX, src.DEX},
		{&dst.Router, src.Router},
		{&dst.Factory, src.Factory},
		{&dst.WrappedNative, src.WrappedNative},
		{&dst.Locker, src.Locker},
		{&dst.BuyMethod, src.BuyMethod},
		{&dst.SellMethod, src.SellMethod},
	} {
		if f.s != "" {
			*f.d = f.s
		}
	}
}

/*

This file contains the closed set of assets positions may be opened on, mapped
to their oracle feed identifiers.

The whitelist is deliberately a fixed map rather than anything dynamic: an
asset the engine does not know about cannot be priced, so it cannot be traded.
Feed identifiers usually match the symbol, but the mapping exists for the
cases where they differ.

*/

package config

var (
	// SupportedAssets maps a tradable asset symbol to its oracle feed identifier.
	SupportedAssets = map[string]string{
		"ATOM": "ATOM",
		"WBTC": "WBTC",
		"WETH": "ETH",
		"TIA":  "TIA",
		"OSMO": "OSMO",
		"SOL":  "SOL",
	}
)

// IsAssetSupported reports whether positions may be opened on the symbol.
func IsAssetSupported(symbol string) bool {
	_, ok := SupportedAssets[symbol]
	return ok
}

// FeedID returns the oracle feed identifier for a supported symbol.
func FeedID(symbol string) (string, bool) {
	id, ok := SupportedAssets[symbol]
	return id, ok
}

// Package oracle is the engine's price boundary. The engine consumes quotes
// as given and never writes back; a zero, negative, or stale quote is a fault
// that makes the consuming operation refuse to run.
package oracle

import (
	sdkmath "cosmossdk.io/math"
)

// Oracle supplies the current price for an asset symbol, per unit of the
// quote asset, as a fixed-point decimal.
//
// Implementations must return types.ErrStaleOracle (wrapped is fine) when the
// quote is missing, non-positive, or older than their freshness window, and
// types.ErrAssetNotSupported when the symbol has no feed at all.
type Oracle interface {
	GetPrice(asset string) (sdkmath.LegacyDec, error)
}

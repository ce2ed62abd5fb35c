/*

This file contains the types for leveraged positions, which carry all the state needed
for valuation, health checks, and liquidation.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// PositionID identifies a position for its whole lifetime. IDs are assigned
// sequentially by the vault and never reused.
type PositionID uint64

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	StatusOpen       PositionStatus = "OPEN"
	StatusClosed     PositionStatus = "CLOSED"
	StatusLiquidated PositionStatus = "LIQUIDATED"
)

// Position is a leveraged exposure backed by stable-asset collateral.
// The record is retained after close or liquidation for history; only the
// status and ClosedAt fields change once the position leaves StatusOpen.
type Position struct {
	ID            PositionID        `json:"id"`
	Owner         string            `json:"owner"`
	Asset         string            `json:"asset"`
	Collateral    sdkmath.LegacyDec `json:"collateral"`     // stable asset, grows via AddCollateral
	Leverage      int64             `json:"leverage"`       // fixed at open
	EntryPrice    sdkmath.LegacyDec `json:"entry_price"`    // oracle price at open
	EntryExposure sdkmath.LegacyDec `json:"entry_exposure"` // collateral at open * leverage, immutable
	Borrowed      sdkmath.LegacyDec `json:"borrowed"`       // pool allocation, collateral at open * (leverage-1)
	Status        PositionStatus    `json:"status"`
	OpenedAt      time.Time         `json:"opened_at"`
	ClosedAt      time.Time         `json:"closed_at,omitempty"` // zero while open
}

// IsOpen reports whether the position can still be mutated or liquidated.
func (p Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// EntryCollateral returns the collateral recorded at open. AddCollateral does
// not change it; it is the denominator input for the health factor.
func (p Position) EntryCollateral() sdkmath.LegacyDec {
	if p.Leverage <= 0 {
		return sdkmath.LegacyZeroDec()
	}
	return p.EntryExposure.QuoInt64(p.Leverage)
}

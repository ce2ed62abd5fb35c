package types

import "errors"

// Engine error taxonomy. Every rejected operation surfaces one of these
// sentinels (possibly wrapped with context); there is no generic failure path.
var (
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidLeverage       = errors.New("invalid leverage")
	ErrAssetNotSupported     = errors.New("asset not supported")
	ErrNotPositionOwner      = errors.New("not position owner")
	ErrPositionNotFound      = errors.New("position not found")
	ErrPositionClosed        = errors.New("position closed")
	ErrNotLiquidatable       = errors.New("position not liquidatable")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrStaleOracle           = errors.New("stale oracle price")
	ErrRatioSumInvalid       = errors.New("fee split ratios do not sum to total")
	ErrEntryAlreadyRecorded  = errors.New("entry already recorded")
	ErrEntryNotFound         = errors.New("entry not found")
)

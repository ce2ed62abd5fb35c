package types

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// FeeSplitTotalBps is the fixed total the three fee split ratios must sum to.
const FeeSplitTotalBps = int64(10000)

// FeeSplit is the three-way division of collected platform fees, in basis
// points. The sum invariant is enforced on every update: an invalid split is
// rejected whole, never partially applied.
type FeeSplit struct {
	TreasuryBps  int64 `json:"treasury_bps"`
	InsuranceBps int64 `json:"insurance_bps"`
	StakerBps    int64 `json:"staker_bps"`
}

// Validate checks the sum invariant and that no ratio is negative.
func (s FeeSplit) Validate() error {
	if s.TreasuryBps < 0 || s.InsuranceBps < 0 || s.StakerBps < 0 {
		return fmt.Errorf("%w: negative ratio", ErrRatioSumInvalid)
	}
	if s.TreasuryBps+s.InsuranceBps+s.StakerBps != FeeSplitTotalBps {
		return fmt.Errorf("%w: got %d, want %d", ErrRatioSumInvalid,
			s.TreasuryBps+s.InsuranceBps+s.StakerBps, FeeSplitTotalBps)
	}
	return nil
}

// DiscountTier maps a minimum staked balance to a platform fee discount.
// Tiers must be ordered by ascending MinStaked with non-decreasing discounts
// so the resulting discount function is monotone in the staked amount.
type DiscountTier struct {
	MinStaked sdkmath.LegacyDec `json:"min_staked"`
	Discount  sdkmath.LegacyDec `json:"discount"` // fraction of the fee waived, e.g. 0.10
}

// ProtocolParameters is the global protocol configuration. It is loaded once
// at startup (from the database, else defaults), passed by reference into
// every component, and lives for the process lifetime.
type ProtocolParameters struct {
	// Interest rate curve (kink model, annualized rates as fractions).
	BaseRate        sdkmath.LegacyDec `json:"base_rate"`
	Slope1          sdkmath.LegacyDec `json:"slope1"`
	Slope2          sdkmath.LegacyDec `json:"slope2"`
	KinkUtilization sdkmath.LegacyDec `json:"kink_utilization"`

	// Pool limits.
	MaxDeposit sdkmath.LegacyDec `json:"max_deposit"` // per-call cap, overflow guard

	// Position constraints.
	MinLeverage          int64             `json:"min_leverage"`
	MaxLeverage          int64             `json:"max_leverage"`
	LiquidationThreshold sdkmath.LegacyDec `json:"liquidation_threshold"` // < 1

	// Fees and rewards.
	PlatformFeeRate   sdkmath.LegacyDec `json:"platform_fee_rate"`   // charged on gains only
	KeeperRewardShare sdkmath.LegacyDec `json:"keeper_reward_share"` // fraction of seized collateral
	FeeSplit          FeeSplit          `json:"fee_split"`
	DiscountTiers     []DiscountTier    `json:"discount_tiers"`
}

// Validate rejects parameter sets that would break engine invariants.
func (p ProtocolParameters) Validate() error {
	if p.MinLeverage < 1 || p.MaxLeverage < p.MinLeverage {
		return fmt.Errorf("%w: leverage bounds [%d,%d]", ErrInvalidLeverage, p.MinLeverage, p.MaxLeverage)
	}
	if p.LiquidationThreshold.IsNil() || !p.LiquidationThreshold.IsPositive() || p.LiquidationThreshold.GTE(sdkmath.LegacyOneDec()) {
		return fmt.Errorf("liquidation threshold must be in (0,1), got %s", p.LiquidationThreshold)
	}
	if p.PlatformFeeRate.IsNil() || p.PlatformFeeRate.IsNegative() || p.PlatformFeeRate.GT(sdkmath.LegacyOneDec()) {
		return fmt.Errorf("platform fee rate must be in [0,1], got %s", p.PlatformFeeRate)
	}
	if p.KeeperRewardShare.IsNil() || p.KeeperRewardShare.IsNegative() || p.KeeperRewardShare.GT(sdkmath.LegacyOneDec()) {
		return fmt.Errorf("keeper reward share must be in [0,1], got %s", p.KeeperRewardShare)
	}
	if p.KinkUtilization.IsNil() || !p.KinkUtilization.IsPositive() || p.KinkUtilization.GT(sdkmath.LegacyOneDec()) {
		return fmt.Errorf("kink utilization must be in (0,1], got %s", p.KinkUtilization)
	}
	if p.BaseRate.IsNil() || p.BaseRate.IsNegative() || p.Slope1.IsNil() || p.Slope1.IsNegative() || p.Slope2.IsNil() || p.Slope2.IsNegative() {
		return fmt.Errorf("interest rate curve components must be non-negative")
	}
	if err := p.FeeSplit.Validate(); err != nil {
		return err
	}
	prevMin := sdkmath.LegacyZeroDec()
	prevDiscount := sdkmath.LegacyZeroDec()
	for i, tier := range p.DiscountTiers {
		if tier.MinStaked.IsNil() || tier.Discount.IsNil() {
			return fmt.Errorf("discount tier %d has nil fields", i)
		}
		if i > 0 && (tier.MinStaked.LTE(prevMin) || tier.Discount.LT(prevDiscount)) {
			return fmt.Errorf("discount tiers must be strictly ascending and monotone at index %d", i)
		}
		if tier.Discount.GT(sdkmath.LegacyOneDec()) {
			return fmt.Errorf("discount tier %d exceeds 100%%", i)
		}
		prevMin = tier.MinStaked
		prevDiscount = tier.Discount
	}
	return nil
}

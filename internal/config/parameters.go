/*

This file contains the default protocol parameters for the engine.

These defaults are used when no active parameter set is found in the database
during initialization. They are calibrated for capital preservation: the
interest curve discourages utilization above the kink, and the liquidation
threshold leaves keepers a margin before positions become truly insolvent.

*/

package config

import (
	"github.com/vmaiops-alt/leveraged-sub002/internal/types"
	"github.com/vmaiops-alt/leveraged-sub002/internal/utils"
)

// DefaultProtocolParameters provides the baseline parameter set for the engine.
var DefaultProtocolParameters = types.ProtocolParameters{
	// --- Interest rate curve (annualized fractions, kink model) ---
	BaseRate: utils.MustDec("0.02"), // 2% floor so idle capital still earns something.

	Slope1: utils.MustDec("0.10"), // Gentle slope below the kink to encourage borrowing.

	Slope2: utils.MustDec("1.00"), // Steep slope above the kink.
	// Rationale: past the target utilization the pool is at risk of not being
	// able to honor withdrawals, so the rate has to climb fast enough to pull
	// utilization back down.

	KinkUtilization: utils.MustDec("0.80"), // Target 80% utilization.

	// --- Pool limits ---
	MaxDeposit: utils.MustDec("100000000"), // Per-call cap; also the overflow guard.

	// --- Position constraints ---
	MinLeverage: 1,
	MaxLeverage: 5,

	LiquidationThreshold: utils.MustDec("0.9"),
	// Rationale: liquidating at 90% of required collateral leaves a margin of
	// seizable value before the position is truly insolvent, which is what
	// keeps the keeper reward funded and the pool whole.

	// --- Fees and rewards ---
	PlatformFeeRate: utils.MustDec("0.25"), // Charged on gains only; losses are never fee-reduced.

	KeeperRewardShare: utils.MustDec("0.10"), // 10% of seized collateral to the keeper, rest to insurance.

	FeeSplit: types.FeeSplit{
		TreasuryBps:  4000,
		InsuranceBps: 2000,
		StakerBps:    4000,
	},

	// Fee discount tiers by staked LVG balance. Must stay strictly ascending.
	DiscountTiers: []types.DiscountTier{
		{MinStaked: utils.MustDec("100"), Discount: utils.MustDec("0.05")},
		{MinStaked: utils.MustDec("1000"), Discount: utils.MustDec("0.10")},
		{MinStaked: utils.MustDec("10000"), Discount: utils.MustDec("0.20")},
		{MinStaked: utils.MustDec("100000"), Discount: utils.MustDec("0.30")},
	},
}

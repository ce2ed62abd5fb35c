package fees

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmaiops-alt/leveraged-sub002/internal/types"
	"github.com/vmaiops-alt/leveraged-sub002/internal/utils"
)

const rewardDenom = "USDC"

type fakeFunder struct {
	funded []sdkmath.LegacyDec
	err    error
}

func (f *fakeFunder) FundRewards(amount sdkmath.LegacyDec) error {
	if f.err != nil {
		return f.err
	}
	f.funded = append(f.funded, amount)
	return nil
}

func defaultSplit() types.FeeSplit {
	return types.FeeSplit{TreasuryBps: 4000, InsuranceBps: 2000, StakerBps: 4000}
}

func TestCollectAccumulatesPending(t *testing.T) {
	c := New(defaultSplit(), rewardDenom, nil, nil)

	require.NoError(t, c.Collect(utils.MustDec("10")))
	require.NoError(t, c.Collect(utils.MustDec("5")))
	require.NoError(t, c.Collect(utils.MustDec("0"))) // no-op
	assert.Equal(t, utils.MustDec("15"), c.PendingFees(rewardDenom))

	err := c.Collect(utils.MustDec("-1"))
	assert.ErrorIs(t, err, types.ErrInvalidAmount)

	err = c.CollectToken("", utils.MustDec("1"))
	assert.ErrorIs(t, err, types.ErrInvalidAmount)
}

func TestCollectTokenKeepsPotsSeparate(t *testing.T) {
	c := New(defaultSplit(), rewardDenom, nil, nil)

	require.NoError(t, c.CollectToken("USDC", utils.MustDec("100")))
	require.NoError(t, c.CollectToken("ATOM", utils.MustDec("40")))

	assert.Equal(t, utils.MustDec("100"), c.PendingFees("USDC"))
	assert.Equal(t, utils.MustDec("40"), c.PendingFees("ATOM"))
	assert.True(t, c.PendingFees("WBTC").IsZero())
}

func TestDistributeTokenSplit(t *testing.T) {
	funder := &fakeFunder{}
	journal := &types.MemoryJournal{}
	c := New(defaultSplit(), rewardDenom, funder, journal)

	require.NoError(t, c.Collect(utils.MustDec("100")))
	d := c.DistributeToken(rewardDenom)

	assert.Equal(t, rewardDenom, d.Token)
	assert.Equal(t, utils.MustDec("100"), d.Total)
	assert.Equal(t, utils.MustDec("40"), d.Treasury)
	assert.Equal(t, utils.MustDec("20"), d.Insurance)
	assert.Equal(t, utils.MustDec("40"), d.Stakers)

	// The legs always sum back to the pot.
	assert.Equal(t, d.Total, d.Treasury.Add(d.Insurance).Add(d.Stakers))

	require.Len(t, funder.funded, 1)
	assert.Equal(t, utils.MustDec("40"), funder.funded[0])
	assert.True(t, c.PendingFees(rewardDenom).IsZero())
	assert.Len(t, journal.ByKind(types.EventFeesDistributed), 1)
}

func TestDistributeFeesCoversEveryToken(t *testing.T) {
	funder := &fakeFunder{}
	c := New(defaultSplit(), rewardDenom, funder, nil)

	require.NoError(t, c.CollectToken("USDC", utils.MustDec("100")))
	require.NoError(t, c.CollectToken("ATOM", utils.MustDec("50")))

	distributions := c.DistributeFees()
	require.Len(t, distributions, 2)

	// Deterministic token order.
	assert.Equal(t, "ATOM", distributions[0].Token)
	assert.Equal(t, "USDC", distributions[1].Token)

	// Only the reward denom pays stakers; the ATOM staker leg lands in
	// treasury because the staking ledger cannot hold ATOM.
	assert.True(t, distributions[0].Stakers.IsZero())
	assert.Equal(t, utils.MustDec("40"), distributions[0].Treasury)
	assert.Equal(t, utils.MustDec("40"), distributions[1].Stakers)

	require.Len(t, funder.funded, 1)
	assert.True(t, c.PendingFees("USDC").IsZero())
	assert.True(t, c.PendingFees("ATOM").IsZero())
}

func TestDistributeIdempotentOnEmptyPots(t *testing.T) {
	journal := &types.MemoryJournal{}
	c := New(defaultSplit(), rewardDenom, nil, journal)

	assert.Empty(t, c.DistributeFees())

	d := c.DistributeToken(rewardDenom)
	assert.True(t, d.Total.IsZero())

	// A drained pot distributes as a no-op too.
	require.NoError(t, c.Collect(utils.MustDec("10")))
	c.DistributeFees()
	assert.Empty(t, c.DistributeFees())

	// No events for empty distributions.
	assert.Len(t, journal.Events(), 1)
}

func TestStakerShareFallsBackToTreasury(t *testing.T) {
	funder := &fakeFunder{err: errors.New("no stakers")}
	c := New(defaultSplit(), rewardDenom, funder, nil)

	require.NoError(t, c.Collect(utils.MustDec("100")))
	d := c.DistributeToken(rewardDenom)

	assert.Equal(t, utils.MustDec("80"), d.Treasury)
	assert.True(t, d.Stakers.IsZero())
	assert.Equal(t, utils.MustDec("80"), c.TreasuryBalance(rewardDenom))
}

func TestNilFunderRoutesStakerShareToTreasury(t *testing.T) {
	c := New(defaultSplit(), rewardDenom, nil, nil)

	require.NoError(t, c.Collect(utils.MustDec("100")))
	d := c.DistributeToken(rewardDenom)

	assert.Equal(t, utils.MustDec("80"), d.Treasury)
	assert.True(t, d.Stakers.IsZero())
}

func TestCreditInsuranceBypassesPot(t *testing.T) {
	c := New(defaultSplit(), rewardDenom, nil, nil)

	c.CreditInsurance(utils.MustDec("33"))
	assert.Equal(t, utils.MustDec("33"), c.InsuranceBalance(rewardDenom))
	assert.True(t, c.PendingFees(rewardDenom).IsZero())
}

func TestUpdateSplitAppliesToNextDistribution(t *testing.T) {
	c := New(defaultSplit(), rewardDenom, nil, nil)

	require.NoError(t, c.Collect(utils.MustDec("100")))
	require.NoError(t, c.UpdateSplit(types.FeeSplit{TreasuryBps: 10000, InsuranceBps: 0, StakerBps: 0}))

	d := c.DistributeToken(rewardDenom)
	assert.Equal(t, utils.MustDec("100"), d.Treasury)
	assert.True(t, d.Insurance.IsZero())
	assert.True(t, d.Stakers.IsZero())
}

func TestUpdateSplitRejectsBadSum(t *testing.T) {
	c := New(defaultSplit(), rewardDenom, nil, nil)

	err := c.UpdateSplit(types.FeeSplit{TreasuryBps: 5000, InsuranceBps: 5000, StakerBps: 5000})
	assert.ErrorIs(t, err, types.ErrRatioSumInvalid)

	// The old split survives a rejected update.
	assert.Equal(t, defaultSplit(), c.Snapshot().Split)
}

func TestSnapshotTotals(t *testing.T) {
	c := New(defaultSplit(), rewardDenom, nil, nil)

	require.NoError(t, c.Collect(utils.MustDec("60")))
	c.DistributeFees()
	require.NoError(t, c.Collect(utils.MustDec("40")))

	v := c.Snapshot()
	assert.Equal(t, rewardDenom, v.RewardDenom)
	assert.Equal(t, utils.MustDec("100"), v.TotalCollected[rewardDenom])
	assert.Equal(t, utils.MustDec("60"), v.TotalDistributed[rewardDenom])
	assert.Equal(t, utils.MustDec("40"), v.Pending[rewardDenom])
}

func TestRunLoopDrainsPendingOnSchedule(t *testing.T) {
	funder := &fakeFunder{}
	c := New(defaultSplit(), rewardDenom, funder, nil)

	require.NoError(t, c.Collect(utils.MustDec("100")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.RunLoop(ctx, 5*time.Millisecond)

	// The loop must drain the pot and pay stakers without any manual call.
	assert.Eventually(t, func() bool {
		return c.PendingFees(rewardDenom).IsZero() &&
			c.TreasuryBalance(rewardDenom).Equal(utils.MustDec("40"))
	}, 2*time.Second, 5*time.Millisecond)

	require.Len(t, funder.funded, 1)
	assert.Equal(t, utils.MustDec("40"), funder.funded[0])

	// Fees collected after a sweep are picked up by a later tick.
	require.NoError(t, c.Collect(utils.MustDec("50")))
	assert.Eventually(t, func() bool {
		return c.PendingFees(rewardDenom).IsZero()
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, utils.MustDec("60"), c.TreasuryBalance(rewardDenom))
}

package staking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmaiops-alt/leveraged-sub002/internal/config"
	"github.com/vmaiops-alt/leveraged-sub002/internal/types"
	"github.com/vmaiops-alt/leveraged-sub002/internal/utils"
)

func newTestStaking() (*Staking, *types.MemoryJournal) {
	journal := &types.MemoryJournal{}
	return New(config.DefaultProtocolParameters.DiscountTiers, journal), journal
}

func TestStakeAndUnstake(t *testing.T) {
	s, journal := newTestStaking()

	require.NoError(t, s.Stake("alice", utils.MustDec("500")))
	assert.Equal(t, utils.MustDec("500"), s.StakedOf("alice"))
	assert.Equal(t, utils.MustDec("500"), s.TotalStaked())

	require.NoError(t, s.Unstake("alice", utils.MustDec("200")))
	assert.Equal(t, utils.MustDec("300"), s.StakedOf("alice"))

	err := s.Unstake("alice", utils.MustDec("301"))
	assert.ErrorIs(t, err, types.ErrInsufficientBalance)

	assert.Len(t, journal.ByKind(types.EventStaked), 1)
	assert.Len(t, journal.ByKind(types.EventUnstaked), 1)
}

func TestStakeValidation(t *testing.T) {
	s, _ := newTestStaking()

	assert.ErrorIs(t, s.Stake("alice", utils.MustDec("0")), types.ErrInvalidAmount)
	assert.ErrorIs(t, s.Stake("", utils.MustDec("10")), types.ErrInvalidAmount)
	assert.ErrorIs(t, s.Unstake("nobody", utils.MustDec("1")), types.ErrInsufficientBalance)
}

func TestRewardsProRata(t *testing.T) {
	s, _ := newTestStaking()

	require.NoError(t, s.Stake("alice", utils.MustDec("300")))
	require.NoError(t, s.Stake("bob", utils.MustDec("100")))

	require.NoError(t, s.FundRewards(utils.MustDec("40")))

	assert.Equal(t, utils.MustDec("30"), s.PendingRewards("alice"))
	assert.Equal(t, utils.MustDec("10"), s.PendingRewards("bob"))
}

func TestRewardsNotRetroactive(t *testing.T) {
	s, _ := newTestStaking()

	require.NoError(t, s.Stake("alice", utils.MustDec("100")))
	require.NoError(t, s.FundRewards(utils.MustDec("50")))

	// Bob stakes after the distribution; none of it is his.
	require.NoError(t, s.Stake("bob", utils.MustDec("100")))
	assert.Equal(t, utils.MustDec("50"), s.PendingRewards("alice"))
	assert.True(t, s.PendingRewards("bob").IsZero())

	// The next distribution splits evenly.
	require.NoError(t, s.FundRewards(utils.MustDec("20")))
	assert.Equal(t, utils.MustDec("60"), s.PendingRewards("alice"))
	assert.Equal(t, utils.MustDec("10"), s.PendingRewards("bob"))
}

func TestUnstakeKeepsEarnedRewards(t *testing.T) {
	s, _ := newTestStaking()

	require.NoError(t, s.Stake("alice", utils.MustDec("100")))
	require.NoError(t, s.FundRewards(utils.MustDec("25")))

	require.NoError(t, s.Unstake("alice", utils.MustDec("100")))
	assert.True(t, s.StakedOf("alice").IsZero())
	assert.Equal(t, utils.MustDec("25"), s.PendingRewards("alice"))
}

func TestClaimRewardsZeroesPending(t *testing.T) {
	s, journal := newTestStaking()

	require.NoError(t, s.Stake("alice", utils.MustDec("100")))
	require.NoError(t, s.FundRewards(utils.MustDec("25")))

	claimed, err := s.ClaimRewards("alice")
	require.NoError(t, err)
	assert.Equal(t, utils.MustDec("25"), claimed)
	assert.True(t, s.PendingRewards("alice").IsZero())

	// Second claim pays nothing and emits nothing.
	claimed, err = s.ClaimRewards("alice")
	require.NoError(t, err)
	assert.True(t, claimed.IsZero())
	assert.Len(t, journal.ByKind(types.EventRewardsClaimed), 1)
}

func TestFundRewardsWithNoStakers(t *testing.T) {
	s, _ := newTestStaking()

	err := s.FundRewards(utils.MustDec("100"))
	assert.ErrorIs(t, err, types.ErrInsufficientBalance)

	// Zero and nil amounts are quietly ignored.
	assert.NoError(t, s.FundRewards(utils.MustDec("0")))
}

func TestFeeDiscountTiers(t *testing.T) {
	s, _ := newTestStaking()

	assert.True(t, s.FeeDiscount("alice").IsZero())

	require.NoError(t, s.Stake("alice", utils.MustDec("99")))
	assert.True(t, s.FeeDiscount("alice").IsZero())

	require.NoError(t, s.Stake("alice", utils.MustDec("1"))) // exactly 100
	assert.Equal(t, utils.MustDec("0.05"), s.FeeDiscount("alice"))

	require.NoError(t, s.Stake("alice", utils.MustDec("900"))) // 1000
	assert.Equal(t, utils.MustDec("0.10"), s.FeeDiscount("alice"))

	require.NoError(t, s.Stake("alice", utils.MustDec("99000"))) // 100000
	assert.Equal(t, utils.MustDec("0.30"), s.FeeDiscount("alice"))
}

func TestFeeDiscountMonotoneInStake(t *testing.T) {
	s, _ := newTestStaking()

	prev := s.FeeDiscount("alice")
	for i := 0; i < 20; i++ {
		require.NoError(t, s.Stake("alice", utils.MustDec("10000")))
		d := s.FeeDiscount("alice")
		assert.True(t, d.GTE(prev), "discount decreased at step %d", i)
		prev = d
	}
}

func TestAccountView(t *testing.T) {
	s, _ := newTestStaking()

	require.NoError(t, s.Stake("alice", utils.MustDec("1000")))
	require.NoError(t, s.FundRewards(utils.MustDec("30")))

	v := s.AccountView("alice")
	assert.Equal(t, utils.MustDec("1000"), v.Staked)
	assert.Equal(t, utils.MustDec("30"), v.Pending)
	assert.Equal(t, utils.MustDec("0.10"), v.Discount)

	empty := s.AccountView("nobody")
	assert.True(t, empty.Staked.IsZero())
	assert.True(t, empty.Pending.IsZero())
	assert.True(t, empty.Discount.IsZero())
}

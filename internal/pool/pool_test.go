package pool

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmaiops-alt/leveraged-sub002/internal/config"
	"github.com/vmaiops-alt/leveraged-sub002/internal/types"
	"github.com/vmaiops-alt/leveraged-sub002/internal/utils"
)

func newTestPool(t *testing.T) (*Pool, *fakeClock, *types.MemoryJournal) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	journal := &types.MemoryJournal{}
	params := config.DefaultProtocolParameters
	p := New(&params, journal).WithClock(clock.Now)
	return p, clock, journal
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestDepositMintsSharesOneToOneWhenEmpty(t *testing.T) {
	p, _, journal := newTestPool(t)

	minted, err := p.Deposit("alice", utils.MustDec("1000"))
	require.NoError(t, err)
	assert.Equal(t, utils.MustDec("1000"), minted)
	assert.Equal(t, utils.MustDec("1000"), p.SharesOf("alice"))
	assert.Equal(t, utils.MustDec("1"), p.SharePrice())
	assert.Len(t, journal.ByKind(types.EventDeposited), 1)
}

func TestDepositProRataAfterGrowth(t *testing.T) {
	p, clock, _ := newTestPool(t)

	_, err := p.Deposit("alice", utils.MustDec("1000"))
	require.NoError(t, err)
	require.NoError(t, p.Allocate(utils.MustDec("500")))

	// A year at 50% utilization: rate = 0.02 + 0.5*0.10 = 0.07 on 500 borrowed.
	clock.Advance(365 * 24 * time.Hour)

	minted, err := p.Deposit("bob", utils.MustDec("1035"))
	require.NoError(t, err)

	// Pool grew to 1035 before bob entered, so his 1035 buys exactly 1000 shares.
	assert.Equal(t, utils.MustDec("1000"), minted)
	assert.Equal(t, utils.MustDec("2070"), p.TotalDeposits())
}

func TestDepositRejectsInvalidAmounts(t *testing.T) {
	p, _, _ := newTestPool(t)

	_, err := p.Deposit("alice", utils.MustDec("0"))
	assert.ErrorIs(t, err, types.ErrInvalidAmount)

	_, err = p.Deposit("alice", utils.MustDec("-5"))
	assert.ErrorIs(t, err, types.ErrInvalidAmount)

	_, err = p.Deposit("alice", utils.MustDec("100000001"))
	assert.ErrorIs(t, err, types.ErrInvalidAmount)

	_, err = p.Deposit("", utils.MustDec("10"))
	assert.ErrorIs(t, err, types.ErrInvalidAmount)
}

func TestWithdrawPaysProportionalClaim(t *testing.T) {
	p, _, journal := newTestPool(t)

	_, err := p.Deposit("alice", utils.MustDec("1000"))
	require.NoError(t, err)
	_, err = p.Deposit("bob", utils.MustDec("500"))
	require.NoError(t, err)

	payout, err := p.Withdraw("alice", utils.MustDec("400"))
	require.NoError(t, err)
	assert.Equal(t, utils.MustDec("400"), payout)
	assert.Equal(t, utils.MustDec("600"), p.SharesOf("alice"))
	assert.Equal(t, utils.MustDec("1100"), p.TotalDeposits())
	assert.Len(t, journal.ByKind(types.EventWithdrawn), 1)
}

func TestWithdrawRejectsMoreThanBalance(t *testing.T) {
	p, _, _ := newTestPool(t)

	_, err := p.Deposit("alice", utils.MustDec("100"))
	require.NoError(t, err)

	_, err = p.Withdraw("alice", utils.MustDec("101"))
	assert.ErrorIs(t, err, types.ErrInsufficientBalance)

	_, err = p.Withdraw("bob", utils.MustDec("1"))
	assert.ErrorIs(t, err, types.ErrInsufficientBalance)
}

func TestWithdrawBlockedByActiveAllocations(t *testing.T) {
	p, _, _ := newTestPool(t)

	_, err := p.Deposit("alice", utils.MustDec("1000"))
	require.NoError(t, err)
	require.NoError(t, p.Allocate(utils.MustDec("800")))

	// Only 200 idle; the full claim cannot be paid.
	_, err = p.Withdraw("alice", utils.MustDec("500"))
	assert.ErrorIs(t, err, types.ErrInsufficientLiquidity)

	// A smaller withdrawal that fits in idle funds goes through.
	payout, err := p.Withdraw("alice", utils.MustDec("200"))
	require.NoError(t, err)
	assert.Equal(t, utils.MustDec("200"), payout)
}

func TestAllocateRespectsIdleFunds(t *testing.T) {
	p, _, _ := newTestPool(t)

	_, err := p.Deposit("alice", utils.MustDec("1000"))
	require.NoError(t, err)

	require.NoError(t, p.Allocate(utils.MustDec("600")))
	assert.Equal(t, utils.MustDec("400"), p.IdleFunds())

	err = p.Allocate(utils.MustDec("401"))
	assert.ErrorIs(t, err, types.ErrInsufficientLiquidity)

	p.Release(utils.MustDec("600"))
	assert.True(t, p.TotalBorrowed().Equal(utils.MustDec("0")))
}

func TestBorrowRateKinkCurve(t *testing.T) {
	p, _, _ := newTestPool(t)

	_, err := p.Deposit("alice", utils.MustDec("1000"))
	require.NoError(t, err)

	// u = 0: base only.
	assert.Equal(t, utils.MustDec("0.02"), p.BorrowRate())

	// u = 0.5, below the kink: 0.02 + 0.5*0.10.
	require.NoError(t, p.Allocate(utils.MustDec("500")))
	assert.Equal(t, utils.MustDec("0.07"), p.BorrowRate())

	// u = 0.8, at the kink exactly: 0.02 + 0.8*0.10.
	require.NoError(t, p.Allocate(utils.MustDec("300")))
	assert.Equal(t, utils.MustDec("0.10"), p.BorrowRate())

	// u = 0.9, past the kink: 0.10 + 0.1*1.00.
	require.NoError(t, p.Allocate(utils.MustDec("100")))
	assert.Equal(t, utils.MustDec("0.20"), p.BorrowRate())
}

func TestBorrowRateMonotoneInUtilization(t *testing.T) {
	p, _, _ := newTestPool(t)

	_, err := p.Deposit("alice", utils.MustDec("1000"))
	require.NoError(t, err)

	prev := p.BorrowRate()
	prevAPY := p.CurrentAPY()
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Allocate(utils.MustDec("100")))
		rate := p.BorrowRate()
		apy := p.CurrentAPY()
		assert.True(t, rate.GTE(prev), "borrow rate decreased at step %d", i)
		assert.True(t, apy.GTE(prevAPY), "APY decreased at step %d", i)
		prev, prevAPY = rate, apy
	}
}

func TestAPYIsBorrowRateScaledByUtilization(t *testing.T) {
	p, _, _ := newTestPool(t)

	_, err := p.Deposit("alice", utils.MustDec("1000"))
	require.NoError(t, err)
	require.NoError(t, p.Allocate(utils.MustDec("500")))

	// 0.07 * 0.5
	assert.Equal(t, utils.MustDec("0.035"), p.CurrentAPY())
}

func TestInterestAccrualRaisesSharePrice(t *testing.T) {
	p, clock, _ := newTestPool(t)

	_, err := p.Deposit("alice", utils.MustDec("1000"))
	require.NoError(t, err)
	require.NoError(t, p.Allocate(utils.MustDec("500")))

	before := p.SharePrice()
	clock.Advance(30 * 24 * time.Hour)

	// Settlement happens on the next mutating call.
	_, err = p.Deposit("bob", utils.MustDec("1"))
	require.NoError(t, err)

	after := p.SharePrice()
	assert.True(t, after.GT(before), "share price should grow with accrued interest")
	assert.True(t, p.Snapshot().InterestAccrued.IsPositive())
}

func TestNoAccrualWithoutBorrows(t *testing.T) {
	p, clock, _ := newTestPool(t)

	_, err := p.Deposit("alice", utils.MustDec("1000"))
	require.NoError(t, err)

	clock.Advance(365 * 24 * time.Hour)
	_, err = p.Deposit("bob", utils.MustDec("1"))
	require.NoError(t, err)

	assert.Equal(t, utils.MustDec("1"), p.SharePrice())
	assert.True(t, p.Snapshot().InterestAccrued.IsZero())
}

func TestAbsorbShortfallLowersSharePrice(t *testing.T) {
	p, _, _ := newTestPool(t)

	_, err := p.Deposit("alice", utils.MustDec("1000"))
	require.NoError(t, err)

	p.AbsorbShortfall(utils.MustDec("100"))
	assert.Equal(t, utils.MustDec("0.9"), p.SharePrice())
	assert.Equal(t, utils.MustDec("100"), p.Snapshot().ShortfallAbsorbed)
}

func TestFundingCostSimpleRate(t *testing.T) {
	p, clock, _ := newTestPool(t)

	_, err := p.Deposit("alice", utils.MustDec("1000"))
	require.NoError(t, err)
	require.NoError(t, p.Allocate(utils.MustDec("500")))

	opened := clock.Now()
	clock.Advance(365 * 24 * time.Hour)

	// 500 * 0.07 * 1yr
	cost := p.FundingCost(utils.MustDec("500"), opened)
	assert.Equal(t, utils.MustDec("35"), cost)

	// Zero held time, zero cost.
	assert.True(t, p.FundingCost(utils.MustDec("500"), clock.Now()).IsZero())
}

func TestCollectFundingDoesNotMoveTotals(t *testing.T) {
	p, _, _ := newTestPool(t)

	_, err := p.Deposit("alice", utils.MustDec("1000"))
	require.NoError(t, err)

	p.CollectFunding(utils.MustDec("12"))
	assert.Equal(t, utils.MustDec("1000"), p.TotalDeposits())
	assert.Equal(t, utils.MustDec("12"), p.Snapshot().FundingCollected)
}

func TestShareConservationAcrossRoundTrip(t *testing.T) {
	p, _, _ := newTestPool(t)

	_, err := p.Deposit("alice", utils.MustDec("1000"))
	require.NoError(t, err)
	_, err = p.Deposit("bob", utils.MustDec("3000"))
	require.NoError(t, err)

	payout, err := p.Withdraw("bob", p.SharesOf("bob"))
	require.NoError(t, err)
	assert.Equal(t, utils.MustDec("3000"), payout)

	payout, err = p.Withdraw("alice", p.SharesOf("alice"))
	require.NoError(t, err)
	assert.Equal(t, utils.MustDec("1000"), payout)

	assert.True(t, p.TotalShares().IsZero())
	assert.True(t, p.TotalDeposits().IsZero())
}

func TestSnapshotConsistency(t *testing.T) {
	p, _, _ := newTestPool(t)

	_, err := p.Deposit("alice", utils.MustDec("2000"))
	require.NoError(t, err)
	require.NoError(t, p.Allocate(utils.MustDec("1000")))

	v := p.Snapshot()
	assert.Equal(t, utils.MustDec("0.5"), v.Utilization)
	assert.Equal(t, v.BorrowRate.Mul(v.Utilization), v.CurrentAPY)
	assert.Equal(t, v.TotalDeposits.Quo(v.TotalShares), v.SharePrice)
}

func TestUtilizationCappedAtOne(t *testing.T) {
	p, _, _ := newTestPool(t)

	_, err := p.Deposit("alice", utils.MustDec("1000"))
	require.NoError(t, err)
	require.NoError(t, p.Allocate(utils.MustDec("1000")))

	// A shortfall shrinks deposits below borrowed; utilization must not
	// blow past 1 and neither may the rate curve.
	p.AbsorbShortfall(utils.MustDec("100"))
	assert.Equal(t, sdkmath.LegacyOneDec(), p.UtilizationRate())
	assert.Equal(t, utils.MustDec("0.30"), p.BorrowRate())
}

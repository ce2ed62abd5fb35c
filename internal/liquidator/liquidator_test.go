package liquidator

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmaiops-alt/leveraged-sub002/internal/config"
	"github.com/vmaiops-alt/leveraged-sub002/internal/fees"
	"github.com/vmaiops-alt/leveraged-sub002/internal/oracle"
	"github.com/vmaiops-alt/leveraged-sub002/internal/pool"
	"github.com/vmaiops-alt/leveraged-sub002/internal/tracker"
	"github.com/vmaiops-alt/leveraged-sub002/internal/types"
	"github.com/vmaiops-alt/leveraged-sub002/internal/utils"
	"github.com/vmaiops-alt/leveraged-sub002/internal/vault"
)

type fixture struct {
	liq    *Liquidator
	vault  *vault.Vault
	pool   *pool.Pool
	oracle *oracle.Static
	fees   *fees.Collector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	params := config.DefaultProtocolParameters
	journal := &types.MemoryJournal{}

	p := pool.New(&params, journal).WithClock(now)
	tr := tracker.New(params.PlatformFeeRate)
	or := oracle.NewStatic(0)
	fc := fees.New(params.FeeSplit, "USDC", nil, journal)
	v := vault.New(&params, p, tr, or, nil, fc, journal).WithClock(now)
	l := New(&params, v, or, fc)

	_, err := p.Deposit("lender", utils.MustDec("10000"))
	require.NoError(t, err)

	return &fixture{liq: l, vault: v, pool: p, oracle: or, fees: fc}
}

func (f *fixture) open(t *testing.T, owner string, collateral string, leverage int64) types.PositionID {
	t.Helper()
	pos, err := f.vault.OpenPosition(owner, "ATOM", utils.MustDec(collateral), leverage)
	require.NoError(t, err)
	return pos.ID
}

func TestLiquidateSplitsSeizedCollateral(t *testing.T) {
	f := newFixture(t)
	f.oracle.SetPrice("ATOM", utils.MustDec("100"))
	id := f.open(t, "alice", "100", 3)

	// Price 90: equity 70 seized; keeper 10% = 7, insurance 63.
	f.oracle.SetPrice("ATOM", utils.MustDec("90"))
	res, err := f.liq.Liquidate("keeper-1", id)
	require.NoError(t, err)

	assert.Equal(t, utils.MustDec("7"), res.KeeperReward)
	assert.Equal(t, utils.MustDec("63"), res.Insurance)
	assert.Equal(t, utils.MustDec("7"), f.liq.Rewards("keeper-1"))
	assert.Equal(t, utils.MustDec("63"), f.fees.InsuranceBalance("USDC"))
}

func TestLiquidateRefusesHealthyAndSettled(t *testing.T) {
	f := newFixture(t)
	f.oracle.SetPrice("ATOM", utils.MustDec("100"))
	id := f.open(t, "alice", "100", 3)

	_, err := f.liq.Liquidate("keeper-1", id)
	assert.ErrorIs(t, err, types.ErrNotLiquidatable)

	f.oracle.SetPrice("ATOM", utils.MustDec("90"))
	_, err = f.liq.Liquidate("keeper-1", id)
	require.NoError(t, err)

	// Second attempt on the settled position.
	_, err = f.liq.Liquidate("keeper-2", id)
	assert.ErrorIs(t, err, types.ErrNotLiquidatable)
	assert.True(t, f.liq.Rewards("keeper-2").IsZero())

	_, err = f.liq.Liquidate("keeper-1", 99)
	assert.ErrorIs(t, err, types.ErrPositionNotFound)
}

func TestLiquidatablePositionsWorstFirst(t *testing.T) {
	f := newFixture(t)
	f.oracle.SetPrice("ATOM", utils.MustDec("100"))

	// Same collateral, increasing leverage: higher leverage suffers more per
	// price tick, so it sorts first.
	id2x := f.open(t, "alice", "100", 2)
	id3x := f.open(t, "bob", "100", 3)
	id5x := f.open(t, "carol", "100", 5)

	f.oracle.SetPrice("ATOM", utils.MustDec("85"))

	// Equities at -15%: 2x 70 (hf .78), 3x 55 (hf .61), 5x 25 (hf .28).
	cands := f.liq.LiquidatablePositions(0)
	require.Len(t, cands, 3)
	assert.Equal(t, id5x, cands[0].Position.ID)
	assert.Equal(t, id3x, cands[1].Position.ID)
	assert.Equal(t, id2x, cands[2].Position.ID)

	// Cap honored, worst kept.
	capped := f.liq.LiquidatablePositions(2)
	require.Len(t, capped, 2)
	assert.Equal(t, id5x, capped[0].Position.ID)
}

func TestLiquidatablePositionsSkipsHealthy(t *testing.T) {
	f := newFixture(t)
	f.oracle.SetPrice("ATOM", utils.MustDec("100"))

	f.open(t, "alice", "100", 2)
	id5x := f.open(t, "bob", "100", 5)

	// -5%: the 5x position is underwater, the 2x one is fine.
	f.oracle.SetPrice("ATOM", utils.MustDec("95"))
	cands := f.liq.LiquidatablePositions(0)
	require.Len(t, cands, 1)
	assert.Equal(t, id5x, cands[0].Position.ID)
}

func TestBatchLiquidateSkipAndContinue(t *testing.T) {
	f := newFixture(t)
	f.oracle.SetPrice("ATOM", utils.MustDec("100"))

	healthy := f.open(t, "alice", "1000", 2)
	sick := f.open(t, "bob", "100", 5)

	f.oracle.SetPrice("ATOM", utils.MustDec("95"))

	results := f.liq.BatchLiquidate("keeper-1", []types.PositionID{healthy, 77, sick})
	require.Len(t, results, 3)

	assert.ErrorIs(t, results[0].Err, types.ErrNotLiquidatable)
	assert.ErrorIs(t, results[1].Err, types.ErrPositionNotFound)
	require.NotNil(t, results[2].Result)
	assert.Equal(t, sick, results[2].Result.PositionID)
}

func TestEstimateReward(t *testing.T) {
	f := newFixture(t)
	f.oracle.SetPrice("ATOM", utils.MustDec("100"))
	id := f.open(t, "alice", "100", 3)

	// Healthy: zero estimate.
	est, err := f.liq.EstimateReward(id)
	require.NoError(t, err)
	assert.True(t, est.IsZero())

	// Price 90: equity 70, keeper share 10% = 7.
	f.oracle.SetPrice("ATOM", utils.MustDec("90"))
	est, err = f.liq.EstimateReward(id)
	require.NoError(t, err)
	assert.Equal(t, utils.MustDec("7"), est)

	// Estimate matches the realized reward.
	res, err := f.liq.Liquidate("keeper-1", id)
	require.NoError(t, err)
	assert.Equal(t, est, res.KeeperReward)

	// Settled: zero again.
	est, err = f.liq.EstimateReward(id)
	require.NoError(t, err)
	assert.True(t, est.IsZero())
}

func TestConcurrentKeepersExactlyOnePaid(t *testing.T) {
	f := newFixture(t)
	f.oracle.SetPrice("ATOM", utils.MustDec("100"))
	id := f.open(t, "alice", "100", 3)
	f.oracle.SetPrice("ATOM", utils.MustDec("90"))

	keepers := []string{"k1", "k2", "k3", "k4"}
	var wg sync.WaitGroup
	for _, k := range keepers {
		wg.Add(1)
		go func(keeper string) {
			defer wg.Done()
			f.liq.Liquidate(keeper, id) //nolint:errcheck
		}(k)
	}
	wg.Wait()

	paid := 0
	total := utils.MustDec("0")
	for _, k := range keepers {
		r := f.liq.Rewards(k)
		if r.IsPositive() {
			paid++
		}
		total = total.Add(r)
	}
	assert.Equal(t, 1, paid)
	assert.Equal(t, utils.MustDec("7"), total)
}

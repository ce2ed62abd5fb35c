// Package fees accumulates platform fees per token and distributes them to
// the treasury, the insurance fund, and LVG stakers according to the
// configured basis-point split.
package fees

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vmaiops-alt/leveraged-sub002/internal/logger"
	"github.com/vmaiops-alt/leveraged-sub002/internal/types"
)

// RewardFunder receives the staker share of a distribution. An error means
// the share could not be placed and the collector reroutes it to treasury.
type RewardFunder interface {
	FundRewards(amount sdkmath.LegacyDec) error
}

// Distribution reports where one token's pending pot went.
type Distribution struct {
	Token     string            `json:"token"`
	Total     sdkmath.LegacyDec `json:"total"`
	Treasury  sdkmath.LegacyDec `json:"treasury"`
	Insurance sdkmath.LegacyDec `json:"insurance"`
	Stakers   sdkmath.LegacyDec `json:"stakers"`
}

// Collector is the fee ledger. Fees accumulate in a per-token pending pot
// until a distribution splits them; insurance credits from liquidations
// bypass the pot and land in the fund directly. Staker rewards are paid in
// the reward denom only: other tokens' staker legs go to treasury, since the
// staking ledger has no way to hold them.
type Collector struct {
	mu sync.Mutex

	split       types.FeeSplit
	rewardDenom string

	pending   map[string]sdkmath.LegacyDec
	treasury  map[string]sdkmath.LegacyDec
	insurance map[string]sdkmath.LegacyDec

	totalCollected   map[string]sdkmath.LegacyDec
	totalDistributed map[string]sdkmath.LegacyDec

	stakers RewardFunder
	now     func() time.Time
	journal types.Journal
	log     zerolog.Logger
}

// New creates a collector with the given split. rewardDenom is the token
// staker rewards are paid in (the stable deposit asset). The split must
// already be validated. stakers may be nil, in which case every staker share
// goes to treasury.
func New(split types.FeeSplit, rewardDenom string, stakers RewardFunder, journal types.Journal) *Collector {
	if journal == nil {
		journal = types.NopJournal{}
	}
	return &Collector{
		split:            split,
		rewardDenom:      rewardDenom,
		pending:          make(map[string]sdkmath.LegacyDec),
		treasury:         make(map[string]sdkmath.LegacyDec),
		insurance:        make(map[string]sdkmath.LegacyDec),
		totalCollected:   make(map[string]sdkmath.LegacyDec),
		totalDistributed: make(map[string]sdkmath.LegacyDec),
		stakers:          stakers,
		now:              time.Now,
		journal:          journal,
		log:              logger.GetForComponent("fee_collector"),
	}
}

// WithClock overrides the time source. Test hook.
func (c *Collector) WithClock(now func() time.Time) *Collector {
	c.now = now
	return c
}

// Collect adds a platform fee in the reward denom. This is the vault's path:
// position gains are measured in the stable asset.
func (c *Collector) Collect(amount sdkmath.LegacyDec) error {
	return c.CollectToken(c.rewardDenom, amount)
}

// CollectToken adds a fee in an arbitrary token to that token's pending pot.
func (c *Collector) CollectToken(token string, amount sdkmath.LegacyDec) error {
	if token == "" {
		return fmt.Errorf("%w: empty token", types.ErrInvalidAmount)
	}
	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("%w: fee must be non-negative", types.ErrInvalidAmount)
	}
	if amount.IsZero() {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[token] = c.balanceLocked(c.pending, token).Add(amount)
	c.totalCollected[token] = c.balanceLocked(c.totalCollected, token).Add(amount)
	return nil
}

// CreditInsurance adds a liquidation remainder straight to the insurance
// fund in the reward denom, outside the pending pot and the split.
func (c *Collector) CreditInsurance(amount sdkmath.LegacyDec) {
	if amount.IsNil() || !amount.IsPositive() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insurance[c.rewardDenom] = c.balanceLocked(c.insurance, c.rewardDenom).Add(amount)
}

// DistributeToken splits one token's pending pot by the configured basis
// points. A zero pot is a no-op with a zero report, so callers can invoke it
// on a schedule without guarding.
func (c *Collector) DistributeToken(token string) Distribution {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.distributeTokenLocked(token)
}

// DistributeFees distributes every token with a pending balance, in
// deterministic token order. Returns one report per token distributed.
func (c *Collector) DistributeFees() []Distribution {
	c.mu.Lock()
	defer c.mu.Unlock()

	tokens := make([]string, 0, len(c.pending))
	for token, amount := range c.pending {
		if amount.IsPositive() {
			tokens = append(tokens, token)
		}
	}
	sort.Strings(tokens)

	out := make([]Distribution, 0, len(tokens))
	for _, token := range tokens {
		out = append(out, c.distributeTokenLocked(token))
	}
	return out
}

// distributeTokenLocked does the split for one token. Caller holds c.mu.
// The staker leg pays into the staking ledger only for the reward denom;
// other tokens' staker legs, and any leg the funder refuses, go to treasury.
func (c *Collector) distributeTokenLocked(token string) Distribution {
	total := c.balanceLocked(c.pending, token)
	if !total.IsPositive() {
		return Distribution{
			Token:     token,
			Total:     sdkmath.LegacyZeroDec(),
			Treasury:  sdkmath.LegacyZeroDec(),
			Insurance: sdkmath.LegacyZeroDec(),
			Stakers:   sdkmath.LegacyZeroDec(),
		}
	}
	c.pending[token] = sdkmath.LegacyZeroDec()

	denom := sdkmath.LegacyNewDec(types.FeeSplitTotalBps)
	treasury := total.Mul(sdkmath.LegacyNewDec(c.split.TreasuryBps)).Quo(denom)
	insurance := total.Mul(sdkmath.LegacyNewDec(c.split.InsuranceBps)).Quo(denom)
	// Remainder rather than a third multiplication, so the legs always sum
	// back to the pot exactly.
	stakers := total.Sub(treasury).Sub(insurance)

	if stakers.IsPositive() && c.stakers != nil && token == c.rewardDenom {
		if err := c.stakers.FundRewards(stakers); err != nil {
			c.log.Warn().
				Err(err).
				Str("token", token).
				Str("amount", stakers.String()).
				Msg("Staker share rerouted to treasury")
			treasury = treasury.Add(stakers)
			stakers = sdkmath.LegacyZeroDec()
		}
	} else if stakers.IsPositive() {
		treasury = treasury.Add(stakers)
		stakers = sdkmath.LegacyZeroDec()
	}

	c.treasury[token] = c.balanceLocked(c.treasury, token).Add(treasury)
	c.insurance[token] = c.balanceLocked(c.insurance, token).Add(insurance)
	c.totalDistributed[token] = c.balanceLocked(c.totalDistributed, token).Add(total)

	c.log.Info().
		Str("token", token).
		Str("total", total.String()).
		Str("treasury", treasury.String()).
		Str("insurance", insurance.String()).
		Str("stakers", stakers.String()).
		Msg("Fees distributed")

	c.journal.Append(types.Event{
		ID:     uuid.New().String(),
		Kind:   types.EventFeesDistributed,
		Asset:  token,
		Amount: total,
		Detail: map[string]string{
			"treasury":  treasury.String(),
			"insurance": insurance.String(),
			"stakers":   stakers.String(),
		},
		OccurredAt: c.now(),
	})

	return Distribution{Token: token, Total: total, Treasury: treasury, Insurance: insurance, Stakers: stakers}
}

// UpdateSplit swaps the split for future distributions. Pending pots are
// untouched; they distribute under the new split.
func (c *Collector) UpdateSplit(split types.FeeSplit) error {
	if err := split.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.split = split
	return nil
}

// PendingFees returns the undistributed pot for a token.
func (c *Collector) PendingFees(token string) sdkmath.LegacyDec {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balanceLocked(c.pending, token)
}

// TreasuryBalance returns the cumulative treasury allocation for a token.
func (c *Collector) TreasuryBalance(token string) sdkmath.LegacyDec {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balanceLocked(c.treasury, token)
}

// InsuranceBalance returns the insurance fund balance for a token.
func (c *Collector) InsuranceBalance(token string) sdkmath.LegacyDec {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balanceLocked(c.insurance, token)
}

// View is the fee ledger summary for the API surface.
type View struct {
	RewardDenom      string                       `json:"reward_denom"`
	Pending          map[string]sdkmath.LegacyDec `json:"pending"`
	Treasury         map[string]sdkmath.LegacyDec `json:"treasury"`
	Insurance        map[string]sdkmath.LegacyDec `json:"insurance"`
	TotalCollected   map[string]sdkmath.LegacyDec `json:"total_collected"`
	TotalDistributed map[string]sdkmath.LegacyDec `json:"total_distributed"`
	Split            types.FeeSplit               `json:"split"`
}

// Snapshot returns the fee ledger under one lock acquisition.
func (c *Collector) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return View{
		RewardDenom:      c.rewardDenom,
		Pending:          copyBalances(c.pending),
		Treasury:         copyBalances(c.treasury),
		Insurance:        copyBalances(c.insurance),
		TotalCollected:   copyBalances(c.totalCollected),
		TotalDistributed: copyBalances(c.totalDistributed),
		Split:            c.split,
	}
}

// RunLoop distributes all pending fees on a fixed interval until the context
// is cancelled. Zero pots make a tick a no-op, so the cadence needs no
// coordination with collection.
func (c *Collector) RunLoop(ctx context.Context, interval time.Duration) {
	c.log.Info().Dur("interval", interval).Msg("Fee distribution loop started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("Fee distribution loop stopped")
			return
		case <-ticker.C:
			distributions := c.DistributeFees()
			for _, d := range distributions {
				c.log.Debug().
					Str("token", d.Token).
					Str("total", d.Total.String()).
					Msg("Scheduled distribution executed")
			}
		}
	}
}

// balanceLocked reads a balance map, treating missing keys as zero. Caller
// holds c.mu.
func (c *Collector) balanceLocked(m map[string]sdkmath.LegacyDec, token string) sdkmath.LegacyDec {
	if v, ok := m[token]; ok && !v.IsNil() {
		return v
	}
	return sdkmath.LegacyZeroDec()
}

func copyBalances(m map[string]sdkmath.LegacyDec) map[string]sdkmath.LegacyDec {
	out := make(map[string]sdkmath.LegacyDec, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Package staking tracks LVG token stakes, distributes the staker share of
// platform fees, and derives each account's fee discount tier.
//
// Reward accounting uses a cumulative reward-per-share accumulator with a
// per-account checkpoint (reward debt). Every mutation settles the account
// against the accumulator first, so rewards earned before the mutation are
// locked in before balances move.
package staking

import (
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vmaiops-alt/leveraged-sub002/internal/logger"
	"github.com/vmaiops-alt/leveraged-sub002/internal/types"
)

type account struct {
	staked     sdkmath.LegacyDec
	rewardDebt sdkmath.LegacyDec
	pending    sdkmath.LegacyDec
}

// Staking is the LVG stake ledger.
type Staking struct {
	mu sync.RWMutex

	totalStaked       sdkmath.LegacyDec
	accRewardPerShare sdkmath.LegacyDec
	accounts          map[string]*account
	tiers             []types.DiscountTier

	now     func() time.Time
	journal types.Journal
	log     zerolog.Logger
}

// New creates an empty stake ledger with the given discount tiers. Tiers must
// already be validated (strictly ascending thresholds and discounts).
func New(tiers []types.DiscountTier, journal types.Journal) *Staking {
	if journal == nil {
		journal = types.NopJournal{}
	}
	return &Staking{
		totalStaked:       sdkmath.LegacyZeroDec(),
		accRewardPerShare: sdkmath.LegacyZeroDec(),
		accounts:          make(map[string]*account),
		tiers:             tiers,
		now:               time.Now,
		journal:           journal,
		log:               logger.GetForComponent("lvg_staking"),
	}
}

// WithClock overrides the time source. Test hook.
func (s *Staking) WithClock(now func() time.Time) *Staking {
	s.now = now
	return s
}

// Stake adds LVG to the account's stake. The discount from the new balance
// applies to fees assessed after this call, never retroactively.
func (s *Staking) Stake(addr string, amount sdkmath.LegacyDec) error {
	if addr == "" {
		return fmt.Errorf("%w: empty address", types.ErrInvalidAmount)
	}
	if amount.IsNil() || !amount.IsPositive() {
		return fmt.Errorf("%w: stake must be positive", types.ErrInvalidAmount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct := s.settleLocked(addr)
	acct.staked = acct.staked.Add(amount)
	acct.rewardDebt = acct.staked.Mul(s.accRewardPerShare)
	s.totalStaked = s.totalStaked.Add(amount)

	s.log.Info().
		Str("account", addr).
		Str("amount", amount.String()).
		Str("staked", acct.staked.String()).
		Msg("Stake added")

	s.journal.Append(types.Event{
		ID:         uuid.New().String(),
		Kind:       types.EventStaked,
		Account:    addr,
		Amount:     amount,
		OccurredAt: s.now(),
	})
	return nil
}

// Unstake removes LVG from the account's stake. Rewards earned up to this
// point stay pending; no unbonding period applies.
func (s *Staking) Unstake(addr string, amount sdkmath.LegacyDec) error {
	if amount.IsNil() || !amount.IsPositive() {
		return fmt.Errorf("%w: unstake must be positive", types.ErrInvalidAmount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct := s.settleLocked(addr)
	if amount.GT(acct.staked) {
		return fmt.Errorf("%w: staked %s, want %s", types.ErrInsufficientBalance, acct.staked, amount)
	}
	acct.staked = acct.staked.Sub(amount)
	acct.rewardDebt = acct.staked.Mul(s.accRewardPerShare)
	s.totalStaked = s.totalStaked.Sub(amount)

	s.journal.Append(types.Event{
		ID:         uuid.New().String(),
		Kind:       types.EventUnstaked,
		Account:    addr,
		Amount:     amount,
		OccurredAt: s.now(),
	})
	return nil
}

// ClaimRewards pays out and zeroes the account's accumulated rewards.
func (s *Staking) ClaimRewards(addr string) (sdkmath.LegacyDec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct := s.settleLocked(addr)
	claimed := acct.pending
	if !claimed.IsPositive() {
		return sdkmath.LegacyZeroDec(), nil
	}
	acct.pending = sdkmath.LegacyZeroDec()

	s.log.Info().
		Str("account", addr).
		Str("amount", claimed.String()).
		Msg("Rewards claimed")

	s.journal.Append(types.Event{
		ID:         uuid.New().String(),
		Kind:       types.EventRewardsClaimed,
		Account:    addr,
		Amount:     claimed,
		OccurredAt: s.now(),
	})
	return claimed, nil
}

// FundRewards distributes a fee payout across current stakers pro rata.
// Returns ErrInsufficientBalance when nobody is staked: the caller must
// reroute the amount rather than let it vanish.
func (s *Staking) FundRewards(amount sdkmath.LegacyDec) error {
	if amount.IsNil() || !amount.IsPositive() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.totalStaked.IsZero() {
		return fmt.Errorf("%w: no stakers to reward", types.ErrInsufficientBalance)
	}
	s.accRewardPerShare = s.accRewardPerShare.Add(amount.Quo(s.totalStaked))
	return nil
}

// PendingRewards returns what ClaimRewards would pay right now.
func (s *Staking) PendingRewards(addr string) sdkmath.LegacyDec {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[addr]
	if !ok {
		return sdkmath.LegacyZeroDec()
	}
	return acct.pending.Add(acct.staked.Mul(s.accRewardPerShare).Sub(acct.rewardDebt))
}

// FeeDiscount returns the discount fraction for the account's current stake:
// the highest tier whose threshold the stake meets, zero below the first tier.
func (s *Staking) FeeDiscount(addr string) sdkmath.LegacyDec {
	s.mu.RLock()
	defer s.mu.RUnlock()

	staked := sdkmath.LegacyZeroDec()
	if acct, ok := s.accounts[addr]; ok {
		staked = acct.staked
	}
	discount := sdkmath.LegacyZeroDec()
	for _, tier := range s.tiers {
		if staked.GTE(tier.MinStaked) {
			discount = tier.Discount
		}
	}
	return discount
}

// StakedOf returns the account's staked LVG balance.
func (s *Staking) StakedOf(addr string) sdkmath.LegacyDec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if acct, ok := s.accounts[addr]; ok {
		return acct.staked
	}
	return sdkmath.LegacyZeroDec()
}

// TotalStaked returns the LVG staked across all accounts.
func (s *Staking) TotalStaked() sdkmath.LegacyDec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalStaked
}

// View is a per-account staking summary for the API surface.
type View struct {
	Staked   sdkmath.LegacyDec `json:"staked"`
	Pending  sdkmath.LegacyDec `json:"pending_rewards"`
	Discount sdkmath.LegacyDec `json:"fee_discount"`
}

// AccountView returns the account's staking state under one lock acquisition.
func (s *Staking) AccountView(addr string) View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	staked := sdkmath.LegacyZeroDec()
	pending := sdkmath.LegacyZeroDec()
	if acct, ok := s.accounts[addr]; ok {
		staked = acct.staked
		pending = acct.pending.Add(acct.staked.Mul(s.accRewardPerShare).Sub(acct.rewardDebt))
	}
	discount := sdkmath.LegacyZeroDec()
	for _, tier := range s.tiers {
		if staked.GTE(tier.MinStaked) {
			discount = tier.Discount
		}
	}
	return View{Staked: staked, Pending: pending, Discount: discount}
}

// settleLocked moves the account's earned-but-unbanked rewards into pending
// and re-checkpoints the debt. Caller holds s.mu; the returned account is the
// live ledger entry.
func (s *Staking) settleLocked(addr string) *account {
	acct, ok := s.accounts[addr]
	if !ok {
		acct = &account{
			staked:     sdkmath.LegacyZeroDec(),
			rewardDebt: sdkmath.LegacyZeroDec(),
			pending:    sdkmath.LegacyZeroDec(),
		}
		s.accounts[addr] = acct
	}
	earned := acct.staked.Mul(s.accRewardPerShare).Sub(acct.rewardDebt)
	if earned.IsPositive() {
		acct.pending = acct.pending.Add(earned)
	}
	acct.rewardDebt = acct.staked.Mul(s.accRewardPerShare)
	return acct
}

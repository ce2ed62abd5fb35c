// Package pool implements the share-based lending pool: depositors hold
// proportional claims on a single growing principal, leveraged positions
// borrow against it, and interest accrues continuously into the share price.
package pool

import (
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vmaiops-alt/leveraged-sub002/internal/logger"
	"github.com/vmaiops-alt/leveraged-sub002/internal/types"
	"github.com/vmaiops-alt/leveraged-sub002/internal/utils"
)

var secondsPerYear = sdkmath.LegacyNewDec(31_536_000)

// Pool is the deposit ledger. All mutating calls settle pending interest
// before touching anything share-price dependent; that ordering is the
// invariant everything else leans on.
type Pool struct {
	mu sync.RWMutex

	// Rate curve (annualized fractions).
	baseRate sdkmath.LegacyDec
	slope1   sdkmath.LegacyDec
	slope2   sdkmath.LegacyDec
	kink     sdkmath.LegacyDec

	maxDeposit sdkmath.LegacyDec

	totalDeposits sdkmath.LegacyDec
	totalShares   sdkmath.LegacyDec
	totalBorrowed sdkmath.LegacyDec
	shares        map[string]sdkmath.LegacyDec

	// Audit counters. Not part of the share-price math.
	interestAccrued   sdkmath.LegacyDec
	fundingCollected  sdkmath.LegacyDec
	shortfallAbsorbed sdkmath.LegacyDec

	lastAccrual time.Time

	now     func() time.Time
	journal types.Journal
	log     zerolog.Logger
}

// New creates an empty pool using the given rate curve.
func New(params *types.ProtocolParameters, journal types.Journal) *Pool {
	if journal == nil {
		journal = types.NopJournal{}
	}
	p := &Pool{
		baseRate:          params.BaseRate,
		slope1:            params.Slope1,
		slope2:            params.Slope2,
		kink:              params.KinkUtilization,
		maxDeposit:        params.MaxDeposit,
		totalDeposits:     sdkmath.LegacyZeroDec(),
		totalShares:       sdkmath.LegacyZeroDec(),
		totalBorrowed:     sdkmath.LegacyZeroDec(),
		shares:            make(map[string]sdkmath.LegacyDec),
		interestAccrued:   sdkmath.LegacyZeroDec(),
		fundingCollected:  sdkmath.LegacyZeroDec(),
		shortfallAbsorbed: sdkmath.LegacyZeroDec(),
		now:               time.Now,
		journal:           journal,
		log:               logger.GetForComponent("lending_pool"),
	}
	p.lastAccrual = p.now()
	return p
}

// WithClock overrides the time source. Test hook.
func (p *Pool) WithClock(now func() time.Time) *Pool {
	p.now = now
	p.lastAccrual = now()
	return p
}

// Deposit adds stable-asset principal and mints shares against the
// post-settlement share price. Returns the shares minted.
func (p *Pool) Deposit(account string, amount sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	if account == "" {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: empty account", types.ErrInvalidAmount)
	}
	if amount.IsNil() || !amount.IsPositive() {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: deposit must be positive", types.ErrInvalidAmount)
	}
	if amount.GT(p.maxDeposit) {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: deposit %s exceeds maximum %s", types.ErrInvalidAmount, amount, p.maxDeposit)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.settleLocked()

	var minted sdkmath.LegacyDec
	if p.totalShares.IsZero() {
		minted = amount
	} else {
		minted = amount.Mul(p.totalShares).Quo(p.totalDeposits)
	}

	p.totalDeposits = p.totalDeposits.Add(amount)
	p.totalShares = p.totalShares.Add(minted)
	p.shares[account] = utils.ZeroIfNil(p.shares[account]).Add(minted)

	p.log.Info().
		Str("account", account).
		Str("amount", amount.String()).
		Str("shares", minted.String()).
		Msg("Deposit accepted")

	p.journal.Append(types.Event{
		ID:         uuid.New().String(),
		Kind:       types.EventDeposited,
		Account:    account,
		Amount:     amount,
		Detail:     map[string]string{"shares": minted.String()},
		OccurredAt: p.now(),
	})

	return minted, nil
}

// Withdraw burns shares and pays out the proportional claim. Withdrawals can
// never force-unwind active positions: the payout must fit in idle funds.
func (p *Pool) Withdraw(account string, shares sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	if shares.IsNil() || !shares.IsPositive() {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: shares must be positive", types.ErrInvalidAmount)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.settleLocked()

	balance := utils.ZeroIfNil(p.shares[account])
	if shares.GT(balance) {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: have %s shares, want %s", types.ErrInsufficientBalance, balance, shares)
	}
	if shares.GT(p.totalShares) {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: %s exceeds total shares %s", types.ErrInsufficientBalance, shares, p.totalShares)
	}

	payout := shares.Mul(p.totalDeposits).Quo(p.totalShares)
	idle := p.totalDeposits.Sub(p.totalBorrowed)
	if payout.GT(idle) {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: payout %s exceeds idle funds %s", types.ErrInsufficientLiquidity, payout, idle)
	}

	p.totalDeposits = p.totalDeposits.Sub(payout)
	p.totalShares = p.totalShares.Sub(shares)
	p.shares[account] = balance.Sub(shares)

	p.log.Info().
		Str("account", account).
		Str("shares", shares.String()).
		Str("payout", payout.String()).
		Msg("Withdrawal paid")

	p.journal.Append(types.Event{
		ID:         uuid.New().String(),
		Kind:       types.EventWithdrawn,
		Account:    account,
		Amount:     payout,
		Detail:     map[string]string{"shares": shares.String()},
		OccurredAt: p.now(),
	})

	return payout, nil
}

// Allocate reserves idle funds against a new position's borrowed amount.
func (p *Pool) Allocate(amount sdkmath.LegacyDec) error {
	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("%w: allocation must be non-negative", types.ErrInvalidAmount)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.settleLocked()

	idle := p.totalDeposits.Sub(p.totalBorrowed)
	if amount.GT(idle) {
		return fmt.Errorf("%w: allocation %s exceeds idle funds %s", types.ErrInsufficientLiquidity, amount, idle)
	}
	p.totalBorrowed = p.totalBorrowed.Add(amount)
	return nil
}

// Release returns a position's allocation to idle funds on close or
// liquidation.
func (p *Pool) Release(amount sdkmath.LegacyDec) {
	if amount.IsNil() || !amount.IsPositive() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.settleLocked()

	p.totalBorrowed = p.totalBorrowed.Sub(amount)
	if p.totalBorrowed.IsNegative() {
		p.log.Error().Str("amount", amount.String()).Msg("Release exceeded total borrowed; clamping")
		p.totalBorrowed = sdkmath.LegacyZeroDec()
	}
}

// CollectFunding records the cash leg of a position's funding charge. The
// depositors' claim already grew through accrual, so only the audit counter
// moves here.
func (p *Pool) CollectFunding(amount sdkmath.LegacyDec) {
	if amount.IsNil() || !amount.IsPositive() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fundingCollected = p.fundingCollected.Add(amount)
}

// AbsorbShortfall passes a liquidation loss through to depositors. This is
// the only path on which the share price may decrease.
func (p *Pool) AbsorbShortfall(amount sdkmath.LegacyDec) {
	if amount.IsNil() || !amount.IsPositive() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.settleLocked()

	if amount.GT(p.totalDeposits) {
		p.log.Error().
			Str("shortfall", amount.String()).
			Str("total_deposits", p.totalDeposits.String()).
			Msg("Shortfall exceeds total deposits; pool is insolvent")
		amount = p.totalDeposits
	}
	p.totalDeposits = p.totalDeposits.Sub(amount)
	p.shortfallAbsorbed = p.shortfallAbsorbed.Add(amount)

	p.log.Warn().Str("shortfall", amount.String()).Msg("Liquidation shortfall absorbed by pool")
}

// FundingCost projects the funding charge for a borrowed amount held since
// openedAt, using the current borrow rate. A simple-rate approximation: the
// rate at close stands in for the path of rates over the holding period.
func (p *Pool) FundingCost(borrowed sdkmath.LegacyDec, openedAt time.Time) sdkmath.LegacyDec {
	if borrowed.IsNil() || !borrowed.IsPositive() {
		return sdkmath.LegacyZeroDec()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	held := p.now().Sub(openedAt)
	if held <= 0 {
		return sdkmath.LegacyZeroDec()
	}
	elapsed := sdkmath.LegacyNewDec(int64(held / time.Second))
	rate := p.borrowRateAt(p.utilizationLocked())
	return borrowed.Mul(rate).Mul(elapsed).Quo(secondsPerYear)
}

// UtilizationRate returns totalBorrowed / totalDeposits, 0 for an empty pool.
func (p *Pool) UtilizationRate() sdkmath.LegacyDec {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.utilizationLocked()
}

// CurrentAPY is the deposit-side yield: borrow rate scaled by utilization.
// Monotone non-decreasing in utilization since both factors are.
func (p *Pool) CurrentAPY() sdkmath.LegacyDec {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u := p.utilizationLocked()
	return p.borrowRateAt(u).Mul(u)
}

// BorrowRate returns the annualized rate positions pay at current utilization.
func (p *Pool) BorrowRate() sdkmath.LegacyDec {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.borrowRateAt(p.utilizationLocked())
}

// SharePrice returns totalDeposits / totalShares, 1 for an empty pool.
func (p *Pool) SharePrice() sdkmath.LegacyDec {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.totalShares.IsZero() {
		return sdkmath.LegacyOneDec()
	}
	return p.totalDeposits.Quo(p.totalShares)
}

// SharesOf returns the account's share balance.
func (p *Pool) SharesOf(account string) sdkmath.LegacyDec {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return utils.ZeroIfNil(p.shares[account])
}

// TotalDeposits returns the pooled principal including accrued interest.
func (p *Pool) TotalDeposits() sdkmath.LegacyDec {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.totalDeposits
}

// TotalShares returns the shares outstanding.
func (p *Pool) TotalShares() sdkmath.LegacyDec {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.totalShares
}

// TotalBorrowed returns the principal allocated to open positions.
func (p *Pool) TotalBorrowed() sdkmath.LegacyDec {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.totalBorrowed
}

// IdleFunds returns the principal available for withdrawals and new positions.
func (p *Pool) IdleFunds() sdkmath.LegacyDec {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.totalDeposits.Sub(p.totalBorrowed)
}

// View is a consistent read of the pool for the API surface.
type View struct {
	TotalDeposits     sdkmath.LegacyDec `json:"total_deposits"`
	TotalShares       sdkmath.LegacyDec `json:"total_shares"`
	TotalBorrowed     sdkmath.LegacyDec `json:"total_borrowed"`
	SharePrice        sdkmath.LegacyDec `json:"share_price"`
	Utilization       sdkmath.LegacyDec `json:"utilization"`
	CurrentAPY        sdkmath.LegacyDec `json:"current_apy"`
	BorrowRate        sdkmath.LegacyDec `json:"borrow_rate"`
	InterestAccrued   sdkmath.LegacyDec `json:"interest_accrued"`
	FundingCollected  sdkmath.LegacyDec `json:"funding_collected"`
	ShortfallAbsorbed sdkmath.LegacyDec `json:"shortfall_absorbed"`
}

// Snapshot returns all pool figures under one lock acquisition.
func (p *Pool) Snapshot() View {
	p.mu.RLock()
	defer p.mu.RUnlock()

	u := p.utilizationLocked()
	price := sdkmath.LegacyOneDec()
	if !p.totalShares.IsZero() {
		price = p.totalDeposits.Quo(p.totalShares)
	}
	return View{
		TotalDeposits:     p.totalDeposits,
		TotalShares:       p.totalShares,
		TotalBorrowed:     p.totalBorrowed,
		SharePrice:        price,
		Utilization:       u,
		CurrentAPY:        p.borrowRateAt(u).Mul(u),
		BorrowRate:        p.borrowRateAt(u),
		InterestAccrued:   p.interestAccrued,
		FundingCollected:  p.fundingCollected,
		ShortfallAbsorbed: p.shortfallAbsorbed,
	}
}

// settleLocked folds interest accrued since the last settlement into
// totalDeposits. Must run before any share-price-dependent calculation in the
// same call. Caller holds p.mu.
func (p *Pool) settleLocked() {
	now := p.now()
	elapsed := now.Sub(p.lastAccrual)
	if elapsed <= 0 {
		return
	}
	p.lastAccrual = now

	if p.totalBorrowed.IsZero() || p.totalDeposits.IsZero() {
		return
	}

	rate := p.borrowRateAt(p.utilizationLocked())
	dt := sdkmath.LegacyNewDec(int64(elapsed / time.Second))
	if dt.IsZero() {
		return
	}
	interest := p.totalBorrowed.Mul(rate).Mul(dt).Quo(secondsPerYear)
	p.totalDeposits = p.totalDeposits.Add(interest)
	p.interestAccrued = p.interestAccrued.Add(interest)
}

// utilizationLocked computes utilization, capped at 1. Caller holds p.mu.
func (p *Pool) utilizationLocked() sdkmath.LegacyDec {
	if p.totalDeposits.IsZero() {
		return sdkmath.LegacyZeroDec()
	}
	u := p.totalBorrowed.Quo(p.totalDeposits)
	if u.GT(sdkmath.LegacyOneDec()) {
		return sdkmath.LegacyOneDec()
	}
	return u
}

// borrowRateAt evaluates the kink curve at utilization u.
func (p *Pool) borrowRateAt(u sdkmath.LegacyDec) sdkmath.LegacyDec {
	if u.LTE(p.kink) {
		return p.baseRate.Add(u.Mul(p.slope1))
	}
	excess := u.Sub(p.kink)
	return p.baseRate.Add(p.kink.Mul(p.slope1)).Add(excess.Mul(p.slope2))
}

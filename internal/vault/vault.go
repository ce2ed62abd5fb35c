// Package vault manages leveraged positions: opening against pool liquidity,
// collateral top-ups, settlement on close, and forced settlement through
// liquidation. The vault owns the position ledger; pricing comes from the
// oracle and value math from the tracker.
package vault

import (
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vmaiops-alt/leveraged-sub002/internal/config"
	"github.com/vmaiops-alt/leveraged-sub002/internal/logger"
	"github.com/vmaiops-alt/leveraged-sub002/internal/oracle"
	"github.com/vmaiops-alt/leveraged-sub002/internal/pool"
	"github.com/vmaiops-alt/leveraged-sub002/internal/tracker"
	"github.com/vmaiops-alt/leveraged-sub002/internal/types"
)

// DiscountSource resolves an owner's platform fee discount at settlement
// time. The staking ledger implements it; a nil source means no discounts.
type DiscountSource interface {
	FeeDiscount(addr string) sdkmath.LegacyDec
}

// FeeSink receives platform fees taken on position gains.
type FeeSink interface {
	Collect(amount sdkmath.LegacyDec) error
}

// CloseResult reports the settlement of a voluntary close.
type CloseResult struct {
	ValueIncrease sdkmath.LegacyDec `json:"value_increase"`
	PlatformFee   sdkmath.LegacyDec `json:"platform_fee"`
	FundingCost   sdkmath.LegacyDec `json:"funding_cost"`
	Payout        sdkmath.LegacyDec `json:"payout"`
}

// LiquidationOutcome reports the forced settlement of an unhealthy position.
type LiquidationOutcome struct {
	DebtRepaid       sdkmath.LegacyDec `json:"debt_repaid"`
	CollateralSeized sdkmath.LegacyDec `json:"collateral_seized"`
	Shortfall        sdkmath.LegacyDec `json:"shortfall"`
}

// Vault is the position ledger. Oracle calls happen before the vault lock is
// taken; position status is re-validated under the lock, so a position
// settled concurrently fails the second caller instead of settling twice.
type Vault struct {
	mu sync.RWMutex

	params  *types.ProtocolParameters
	pool    *pool.Pool
	tracker *tracker.Tracker
	oracle  oracle.Oracle
	stakers DiscountSource
	fees    FeeSink

	positions map[types.PositionID]*types.Position
	nextID    types.PositionID

	now     func() time.Time
	journal types.Journal
	log     zerolog.Logger
}

// New wires the vault to its collaborators. stakers and fees may be nil.
func New(params *types.ProtocolParameters, p *pool.Pool, t *tracker.Tracker, o oracle.Oracle, stakers DiscountSource, fees FeeSink, journal types.Journal) *Vault {
	if journal == nil {
		journal = types.NopJournal{}
	}
	return &Vault{
		params:    params,
		pool:      p,
		tracker:   t,
		oracle:    o,
		stakers:   stakers,
		fees:      fees,
		positions: make(map[types.PositionID]*types.Position),
		nextID:    1,
		now:       time.Now,
		journal:   journal,
		log:       logger.GetForComponent("leveraged_vault"),
	}
}

// WithClock overrides the time source. Test hook.
func (v *Vault) WithClock(now func() time.Time) *Vault {
	v.now = now
	return v
}

// OpenPosition borrows collateral*(leverage-1) from the pool and opens a
// leveraged exposure on the asset at the current oracle price.
func (v *Vault) OpenPosition(owner, asset string, collateral sdkmath.LegacyDec, leverage int64) (*types.Position, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: empty owner", types.ErrInvalidAmount)
	}
	if collateral.IsNil() || !collateral.IsPositive() {
		return nil, fmt.Errorf("%w: collateral must be positive", types.ErrInvalidAmount)
	}
	if !config.IsAssetSupported(asset) {
		return nil, fmt.Errorf("%w: %s", types.ErrAssetNotSupported, asset)
	}
	if leverage < v.params.MinLeverage || leverage > v.params.MaxLeverage {
		return nil, fmt.Errorf("%w: %dx outside [%d,%d]", types.ErrInvalidLeverage, leverage, v.params.MinLeverage, v.params.MaxLeverage)
	}

	price, err := v.oracle.GetPrice(asset)
	if err != nil {
		return nil, fmt.Errorf("refusing to open %s position: %w", asset, err)
	}

	borrowed := collateral.MulInt64(leverage - 1)
	if err := v.pool.Allocate(borrowed); err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	id := v.nextID
	exposure := collateral.MulInt64(leverage)
	if err := v.tracker.RecordEntry(id, asset, price, exposure); err != nil {
		v.pool.Release(borrowed)
		return nil, err
	}
	v.nextID++

	pos := &types.Position{
		ID:            id,
		Owner:         owner,
		Asset:         asset,
		Collateral:    collateral,
		Leverage:      leverage,
		EntryPrice:    price,
		EntryExposure: exposure,
		Borrowed:      borrowed,
		Status:        types.StatusOpen,
		OpenedAt:      v.now(),
	}
	v.positions[id] = pos

	v.log.Info().
		Uint64("position_id", uint64(id)).
		Str("owner", owner).
		Str("asset", asset).
		Str("collateral", collateral.String()).
		Int64("leverage", leverage).
		Str("entry_price", price.String()).
		Msg("Position opened")

	v.journal.Append(types.Event{
		ID:         uuid.New().String(),
		Kind:       types.EventPositionOpened,
		Account:    owner,
		PositionID: id,
		Asset:      asset,
		Amount:     collateral,
		Detail: map[string]string{
			"leverage":    fmt.Sprintf("%d", leverage),
			"entry_price": price.String(),
			"borrowed":    borrowed.String(),
		},
		OccurredAt: v.now(),
	})

	snapshot := *pos
	return &snapshot, nil
}

// AddCollateral tops up an open position's collateral, raising its health
// factor. Borrowed amount and entry exposure are unchanged.
func (v *Vault) AddCollateral(owner string, id types.PositionID, amount sdkmath.LegacyDec) (*types.Position, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return nil, fmt.Errorf("%w: top-up must be positive", types.ErrInvalidAmount)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	pos, ok := v.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", types.ErrPositionNotFound, id)
	}
	if pos.Owner != owner {
		return nil, fmt.Errorf("%w: position %d", types.ErrNotPositionOwner, id)
	}
	if !pos.IsOpen() {
		return nil, fmt.Errorf("%w: position %d is %s", types.ErrPositionClosed, id, pos.Status)
	}

	pos.Collateral = pos.Collateral.Add(amount)

	v.journal.Append(types.Event{
		ID:         uuid.New().String(),
		Kind:       types.EventCollateralAdded,
		Account:    owner,
		PositionID: id,
		Asset:      pos.Asset,
		Amount:     amount,
		OccurredAt: v.now(),
	})

	snapshot := *pos
	return &snapshot, nil
}

// ClosePosition settles an open position at the current oracle price: the
// platform fee comes out of any gain, the funding charge out of the payout,
// and the borrowed principal returns to the pool.
func (v *Vault) ClosePosition(owner string, id types.PositionID) (CloseResult, error) {
	asset, err := v.assetOf(id)
	if err != nil {
		return CloseResult{}, err
	}
	price, err := v.oracle.GetPrice(asset)
	if err != nil {
		return CloseResult{}, fmt.Errorf("refusing to close position %d: %w", id, err)
	}

	discount := sdkmath.LegacyZeroDec()
	if v.stakers != nil {
		discount = v.stakers.FeeDiscount(owner)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	pos, ok := v.positions[id]
	if !ok {
		return CloseResult{}, fmt.Errorf("%w: %d", types.ErrPositionNotFound, id)
	}
	if pos.Owner != owner {
		return CloseResult{}, fmt.Errorf("%w: position %d", types.ErrNotPositionOwner, id)
	}
	if !pos.IsOpen() {
		return CloseResult{}, fmt.Errorf("%w: position %d is %s", types.ErrPositionClosed, id, pos.Status)
	}

	breakdown, err := v.tracker.CalculateValueIncrease(id, price, discount)
	if err != nil {
		return CloseResult{}, err
	}
	funding := v.pool.FundingCost(pos.Borrowed, pos.OpenedAt)

	payout := pos.Collateral.Add(breakdown.UserValueGain).Sub(funding)
	if payout.IsNegative() {
		// Losses beyond the collateral fall on the pool.
		v.pool.AbsorbShortfall(payout.Neg())
		payout = sdkmath.LegacyZeroDec()
	}

	pos.Status = types.StatusClosed
	pos.ClosedAt = v.now()
	v.pool.Release(pos.Borrowed)
	v.pool.CollectFunding(funding)
	v.tracker.Remove(id)

	if v.fees != nil && breakdown.PlatformFee.IsPositive() {
		if err := v.fees.Collect(breakdown.PlatformFee); err != nil {
			v.log.Error().Err(err).Uint64("position_id", uint64(id)).Msg("Platform fee not collected")
		}
	}

	v.log.Info().
		Uint64("position_id", uint64(id)).
		Str("owner", owner).
		Str("exit_price", price.String()).
		Str("value_increase", breakdown.ValueIncrease.String()).
		Str("platform_fee", breakdown.PlatformFee.String()).
		Str("funding_cost", funding.String()).
		Str("payout", payout.String()).
		Msg("Position closed")

	v.journal.Append(types.Event{
		ID:         uuid.New().String(),
		Kind:       types.EventPositionClosed,
		Account:    owner,
		PositionID: id,
		Asset:      pos.Asset,
		Amount:     payout,
		Detail: map[string]string{
			"exit_price":     price.String(),
			"value_increase": breakdown.ValueIncrease.String(),
			"platform_fee":   breakdown.PlatformFee.String(),
			"funding_cost":   funding.String(),
		},
		OccurredAt: v.now(),
	})

	return CloseResult{
		ValueIncrease: breakdown.ValueIncrease,
		PlatformFee:   breakdown.PlatformFee,
		FundingCost:   funding,
		Payout:        payout,
	}, nil
}

// HealthFactor returns current position value over the liquidation floor.
// Exactly 1.0 is healthy; only strictly below 1.0 is liquidatable.
func (v *Vault) HealthFactor(id types.PositionID) (sdkmath.LegacyDec, error) {
	asset, err := v.assetOf(id)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	price, err := v.oracle.GetPrice(asset)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	pos, ok := v.positions[id]
	if !ok {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: %d", types.ErrPositionNotFound, id)
	}
	return v.healthFactorLocked(pos, price)
}

// IsLiquidatable reports whether the position is open with a health factor
// strictly below 1 at the current oracle price.
func (v *Vault) IsLiquidatable(id types.PositionID) (bool, error) {
	asset, err := v.assetOf(id)
	if err != nil {
		return false, err
	}
	price, err := v.oracle.GetPrice(asset)
	if err != nil {
		return false, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	pos, ok := v.positions[id]
	if !ok {
		return false, fmt.Errorf("%w: %d", types.ErrPositionNotFound, id)
	}
	if !pos.IsOpen() {
		return false, nil
	}
	hf, err := v.healthFactorLocked(pos, price)
	if err != nil {
		return false, err
	}
	return hf.LT(sdkmath.LegacyOneDec()), nil
}

// Liquidate force-settles an unhealthy position at the given price. The
// status transition happens under the vault lock, so of two concurrent
// attempts exactly one succeeds and the other gets ErrNotLiquidatable.
func (v *Vault) Liquidate(id types.PositionID, price sdkmath.LegacyDec) (LiquidationOutcome, error) {
	if price.IsNil() || !price.IsPositive() {
		return LiquidationOutcome{}, fmt.Errorf("%w: settlement price must be positive", types.ErrInvalidAmount)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	pos, ok := v.positions[id]
	if !ok {
		return LiquidationOutcome{}, fmt.Errorf("%w: %d", types.ErrPositionNotFound, id)
	}
	if !pos.IsOpen() {
		return LiquidationOutcome{}, fmt.Errorf("%w: position %d is %s", types.ErrNotLiquidatable, id, pos.Status)
	}
	hf, err := v.healthFactorLocked(pos, price)
	if err != nil {
		return LiquidationOutcome{}, err
	}
	if hf.GTE(sdkmath.LegacyOneDec()) {
		return LiquidationOutcome{}, fmt.Errorf("%w: position %d health factor %s", types.ErrNotLiquidatable, id, hf)
	}

	vi, err := v.tracker.ValueIncrease(id, price)
	if err != nil {
		return LiquidationOutcome{}, err
	}

	equity := pos.Collateral.Add(vi)
	seized := equity
	shortfall := sdkmath.LegacyZeroDec()
	if seized.IsNegative() {
		shortfall = seized.Neg()
		seized = sdkmath.LegacyZeroDec()
	}

	pos.Status = types.StatusLiquidated
	pos.ClosedAt = v.now()
	v.pool.Release(pos.Borrowed)
	if shortfall.IsPositive() {
		v.pool.AbsorbShortfall(shortfall)
	}
	v.tracker.Remove(id)

	v.log.Warn().
		Uint64("position_id", uint64(id)).
		Str("owner", pos.Owner).
		Str("price", price.String()).
		Str("health_factor", hf.String()).
		Str("seized", seized.String()).
		Str("shortfall", shortfall.String()).
		Msg("Position liquidated")

	v.journal.Append(types.Event{
		ID:         uuid.New().String(),
		Kind:       types.EventPositionLiquidated,
		Account:    pos.Owner,
		PositionID: id,
		Asset:      pos.Asset,
		Amount:     seized,
		Detail: map[string]string{
			"price":         price.String(),
			"health_factor": hf.String(),
			"debt_repaid":   pos.Borrowed.String(),
			"shortfall":     shortfall.String(),
		},
		OccurredAt: v.now(),
	})

	return LiquidationOutcome{
		DebtRepaid:       pos.Borrowed,
		CollateralSeized: seized,
		Shortfall:        shortfall,
	}, nil
}

// Position returns a copy of the position record, open or settled.
func (v *Vault) Position(id types.PositionID) (*types.Position, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	pos, ok := v.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", types.ErrPositionNotFound, id)
	}
	snapshot := *pos
	return &snapshot, nil
}

// OpenPositions returns copies of every position still in StatusOpen.
func (v *Vault) OpenPositions() []types.Position {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]types.Position, 0, len(v.positions))
	for _, pos := range v.positions {
		if pos.IsOpen() {
			out = append(out, *pos)
		}
	}
	return out
}

// Positions returns copies of all position records, settled ones included.
func (v *Vault) Positions() []types.Position {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]types.Position, 0, len(v.positions))
	for _, pos := range v.positions {
		out = append(out, *pos)
	}
	return out
}

// healthFactorLocked computes the health factor at the given price. Caller
// holds v.mu. AddCollateral raises the numerator; the floor is fixed at open.
func (v *Vault) healthFactorLocked(pos *types.Position, price sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	vi, err := v.tracker.ValueIncrease(pos.ID, price)
	if err != nil {
		// Settled positions have no tracker entry and no meaningful health.
		if pos.Status != types.StatusOpen {
			return sdkmath.LegacyDec{}, fmt.Errorf("%w: position %d is %s", types.ErrPositionClosed, pos.ID, pos.Status)
		}
		return sdkmath.LegacyDec{}, err
	}
	floor := pos.EntryCollateral().Mul(v.params.LiquidationThreshold)
	if floor.IsZero() {
		return sdkmath.LegacyDec{}, fmt.Errorf("position %d has a zero liquidation floor", pos.ID)
	}
	return pos.Collateral.Add(vi).Quo(floor), nil
}

// assetOf resolves a position's asset without holding the lock across the
// subsequent oracle call.
func (v *Vault) assetOf(id types.PositionID) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	pos, ok := v.positions[id]
	if !ok {
		return "", fmt.Errorf("%w: %d", types.ErrPositionNotFound, id)
	}
	return pos.Asset, nil
}

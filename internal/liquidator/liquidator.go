// Package liquidator is the keeper-facing surface: it scans the vault for
// unhealthy positions, force-settles them, and splits the seized collateral
// between the calling keeper and the insurance fund.
package liquidator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/vmaiops-alt/leveraged-sub002/internal/logger"
	"github.com/vmaiops-alt/leveraged-sub002/internal/oracle"
	"github.com/vmaiops-alt/leveraged-sub002/internal/types"
	"github.com/vmaiops-alt/leveraged-sub002/internal/vault"
)

// InsuranceSink receives the non-keeper remainder of seized collateral.
type InsuranceSink interface {
	CreditInsurance(amount sdkmath.LegacyDec)
}

// Result reports one successful liquidation from the keeper's side.
type Result struct {
	PositionID   types.PositionID         `json:"position_id"`
	Outcome      vault.LiquidationOutcome `json:"outcome"`
	KeeperReward sdkmath.LegacyDec        `json:"keeper_reward"`
	Insurance    sdkmath.LegacyDec        `json:"insurance"`
}

// BatchResult pairs a position with either its liquidation result or the
// error that skipped it.
type BatchResult struct {
	PositionID types.PositionID `json:"position_id"`
	Result     *Result          `json:"result,omitempty"`
	Err        error            `json:"-"`
}

// Candidate is an open position currently below the health floor.
type Candidate struct {
	Position     types.Position    `json:"position"`
	HealthFactor sdkmath.LegacyDec `json:"health_factor"`
}

// Liquidator drives forced settlements against the vault.
type Liquidator struct {
	mu sync.Mutex

	vault     *vault.Vault
	oracle    oracle.Oracle
	insurance InsuranceSink

	rewardShare sdkmath.LegacyDec
	threshold   sdkmath.LegacyDec

	// Cumulative reward owed per keeper identity.
	rewards map[string]sdkmath.LegacyDec

	log zerolog.Logger
}

// New wires the liquidator. insurance may be nil in tests.
func New(params *types.ProtocolParameters, v *vault.Vault, o oracle.Oracle, insurance InsuranceSink) *Liquidator {
	return &Liquidator{
		vault:       v,
		oracle:      o,
		insurance:   insurance,
		rewardShare: params.KeeperRewardShare,
		threshold:   params.LiquidationThreshold,
		rewards:     make(map[string]sdkmath.LegacyDec),
		log:         logger.GetForComponent("liquidator"),
	}
}

// Liquidate force-settles one position on behalf of keeper. The vault makes
// the liquidatability call at the freshly fetched price; a healthy or
// already-settled position comes back as ErrNotLiquidatable.
func (l *Liquidator) Liquidate(keeper string, id types.PositionID) (*Result, error) {
	if keeper == "" {
		return nil, fmt.Errorf("%w: empty keeper identity", types.ErrInvalidAmount)
	}

	pos, err := l.vault.Position(id)
	if err != nil {
		return nil, err
	}
	price, err := l.oracle.GetPrice(pos.Asset)
	if err != nil {
		return nil, fmt.Errorf("refusing to liquidate position %d: %w", id, err)
	}

	outcome, err := l.vault.Liquidate(id, price)
	if err != nil {
		return nil, err
	}

	reward := outcome.CollateralSeized.Mul(l.rewardShare)
	remainder := outcome.CollateralSeized.Sub(reward)

	l.mu.Lock()
	prev, ok := l.rewards[keeper]
	if !ok {
		prev = sdkmath.LegacyZeroDec()
	}
	l.rewards[keeper] = prev.Add(reward)
	l.mu.Unlock()

	if l.insurance != nil && remainder.IsPositive() {
		l.insurance.CreditInsurance(remainder)
	}

	l.log.Info().
		Str("keeper", keeper).
		Uint64("position_id", uint64(id)).
		Str("seized", outcome.CollateralSeized.String()).
		Str("keeper_reward", reward.String()).
		Str("insurance", remainder.String()).
		Msg("Liquidation executed")

	return &Result{
		PositionID:   id,
		Outcome:      outcome,
		KeeperReward: reward,
		Insurance:    remainder,
	}, nil
}

// BatchLiquidate attempts every listed position, skipping failures rather
// than aborting: a position rescued or raced away mid-batch must not block
// the rest.
func (l *Liquidator) BatchLiquidate(keeper string, ids []types.PositionID) []BatchResult {
	out := make([]BatchResult, 0, len(ids))
	for _, id := range ids {
		res, err := l.Liquidate(keeper, id)
		if err != nil {
			l.log.Debug().
				Uint64("position_id", uint64(id)).
				Err(err).
				Msg("Batch entry skipped")
			out = append(out, BatchResult{PositionID: id, Err: err})
			continue
		}
		out = append(out, BatchResult{PositionID: id, Result: res})
	}
	return out
}

// LiquidatablePositions returns up to max open positions with a health
// factor below 1, worst first. Positions whose quote is unavailable are
// skipped: no price, no judgment.
func (l *Liquidator) LiquidatablePositions(max int) []Candidate {
	var out []Candidate
	for _, pos := range l.vault.OpenPositions() {
		hf, err := l.vault.HealthFactor(pos.ID)
		if err != nil {
			continue
		}
		if hf.LT(sdkmath.LegacyOneDec()) {
			out = append(out, Candidate{Position: pos, HealthFactor: hf})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].HealthFactor.Equal(out[j].HealthFactor) {
			return out[i].Position.ID < out[j].Position.ID
		}
		return out[i].HealthFactor.LT(out[j].HealthFactor)
	})
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

// EstimateReward projects the keeper reward for liquidating the position at
// the current price. Zero when the position is not currently liquidatable.
func (l *Liquidator) EstimateReward(id types.PositionID) (sdkmath.LegacyDec, error) {
	pos, err := l.vault.Position(id)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	if !pos.IsOpen() {
		return sdkmath.LegacyZeroDec(), nil
	}
	price, err := l.oracle.GetPrice(pos.Asset)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	vi := pos.EntryExposure.Mul(price.Sub(pos.EntryPrice)).Quo(pos.EntryPrice)
	equity := pos.Collateral.Add(vi)
	floor := pos.EntryCollateral().Mul(l.threshold)
	// Equity at or above the floor means health factor >= 1.
	if equity.GTE(floor) || equity.IsNegative() {
		return sdkmath.LegacyZeroDec(), nil
	}
	return equity.Mul(l.rewardShare), nil
}

// Rewards returns the cumulative reward owed to a keeper identity.
func (l *Liquidator) Rewards(keeper string) sdkmath.LegacyDec {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.rewards[keeper]; ok {
		return r
	}
	return sdkmath.LegacyZeroDec()
}

// RunLoop scans for unhealthy positions on a fixed interval and liquidates
// them as keeper until the context is cancelled.
func (l *Liquidator) RunLoop(ctx context.Context, keeper string, interval time.Duration, batchSize int) {
	l.log.Info().
		Str("keeper", keeper).
		Dur("interval", interval).
		Int("batch_size", batchSize).
		Msg("Keeper loop started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.log.Info().Msg("Keeper loop stopped")
			return
		case <-ticker.C:
			candidates := l.LiquidatablePositions(batchSize)
			if len(candidates) == 0 {
				continue
			}
			ids := make([]types.PositionID, len(candidates))
			for i, c := range candidates {
				ids[i] = c.Position.ID
			}
			results := l.BatchLiquidate(keeper, ids)

			executed := 0
			for _, r := range results {
				if r.Err == nil {
					executed++
				}
			}
			l.log.Info().
				Int("candidates", len(candidates)).
				Int("executed", executed).
				Msg("Keeper sweep complete")
		}
	}
}

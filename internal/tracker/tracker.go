// Package tracker records position entry values and prices gains against them.
// It is the single source of truth for "how much did this exposure move",
// which both settlement and fee assessment consume.
package tracker

import (
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/vmaiops-alt/leveraged-sub002/internal/logger"
	"github.com/vmaiops-alt/leveraged-sub002/internal/types"
)

// Entry is the frozen snapshot taken when a position opens. Nothing here
// changes over the position's life.
type Entry struct {
	Asset      string
	EntryPrice sdkmath.LegacyDec
	Exposure   sdkmath.LegacyDec
}

// Breakdown splits a position's raw value change into the fee taken by the
// platform and what the owner keeps. Fees apply to gains only: a losing
// position pays no platform fee and its loss is never reduced.
type Breakdown struct {
	ValueIncrease sdkmath.LegacyDec
	PlatformFee   sdkmath.LegacyDec
	UserValueGain sdkmath.LegacyDec
}

// Tracker maps open positions to their entry snapshots.
type Tracker struct {
	mu      sync.RWMutex
	entries map[types.PositionID]Entry

	feeRate sdkmath.LegacyDec
	log     zerolog.Logger
}

// New creates a tracker assessing platform fees at feeRate on gains.
func New(feeRate sdkmath.LegacyDec) *Tracker {
	return &Tracker{
		entries: make(map[types.PositionID]Entry),
		feeRate: feeRate,
		log:     logger.GetForComponent("value_tracker"),
	}
}

// RecordEntry freezes the entry snapshot for a newly opened position.
// Recording the same position twice is a bug in the caller and is refused.
func (t *Tracker) RecordEntry(id types.PositionID, asset string, entryPrice, exposure sdkmath.LegacyDec) error {
	if entryPrice.IsNil() || !entryPrice.IsPositive() {
		return fmt.Errorf("%w: entry price must be positive", types.ErrInvalidAmount)
	}
	if exposure.IsNil() || !exposure.IsPositive() {
		return fmt.Errorf("%w: exposure must be positive", types.ErrInvalidAmount)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[id]; ok {
		return fmt.Errorf("%w: position %d", types.ErrEntryAlreadyRecorded, id)
	}
	t.entries[id] = Entry{Asset: asset, EntryPrice: entryPrice, Exposure: exposure}

	t.log.Debug().
		Uint64("position_id", uint64(id)).
		Str("asset", asset).
		Str("entry_price", entryPrice.String()).
		Str("exposure", exposure.String()).
		Msg("Entry recorded")
	return nil
}

// Entry returns the snapshot for a tracked position.
func (t *Tracker) Entry(id types.PositionID) (Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: position %d", types.ErrEntryNotFound, id)
	}
	return e, nil
}

// ValueIncrease returns the signed change in position value at the given
// price: exposure * (price - entryPrice) / entryPrice. Negative for losses.
func (t *Tracker) ValueIncrease(id types.PositionID, price sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	e, err := t.Entry(id)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	if price.IsNil() || !price.IsPositive() {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: price must be positive", types.ErrInvalidAmount)
	}
	return e.Exposure.Mul(price.Sub(e.EntryPrice)).Quo(e.EntryPrice), nil
}

// CalculateValueIncrease settles a position's value change at the given
// price, applying the platform fee (reduced by the owner's staking discount)
// to the gain. On a loss the fee is zero and the full loss flows through.
func (t *Tracker) CalculateValueIncrease(id types.PositionID, price, discount sdkmath.LegacyDec) (Breakdown, error) {
	vi, err := t.ValueIncrease(id, price)
	if err != nil {
		return Breakdown{}, err
	}

	fee := sdkmath.LegacyZeroDec()
	if vi.IsPositive() {
		effectiveRate := t.feeRate.Mul(sdkmath.LegacyOneDec().Sub(discount))
		fee = vi.Mul(effectiveRate)
	}
	return Breakdown{
		ValueIncrease: vi,
		PlatformFee:   fee,
		UserValueGain: vi.Sub(fee),
	}, nil
}

// Remove drops a settled position's snapshot. Idempotent.
func (t *Tracker) Remove(id types.PositionID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}

// TrackedCount returns the number of live snapshots.
func (t *Tracker) TrackedCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

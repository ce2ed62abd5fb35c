package types

import (
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
)

// EventKind tags an entry in the engine's event journal.
type EventKind string

const (
	EventDeposited          EventKind = "DEPOSITED"
	EventWithdrawn          EventKind = "WITHDRAWN"
	EventPositionOpened     EventKind = "POSITION_OPENED"
	EventPositionClosed     EventKind = "POSITION_CLOSED"
	EventPositionLiquidated EventKind = "POSITION_LIQUIDATED"
	EventCollateralAdded    EventKind = "COLLATERAL_ADDED"
	EventStaked             EventKind = "STAKED"
	EventUnstaked           EventKind = "UNSTAKED"
	EventRewardsClaimed     EventKind = "REWARDS_CLAIMED"
	EventFeesDistributed    EventKind = "FEES_DISTRIBUTED"
)

// Event is an observable fact emitted after a committed state transition.
// It carries the identifiers and amounts needed to reconstruct the ledger
// without re-reading full engine state.
type Event struct {
	ID         string            `json:"id"`
	Kind       EventKind         `json:"kind"`
	Account    string            `json:"account,omitempty"`
	PositionID PositionID        `json:"position_id,omitempty"`
	Asset      string            `json:"asset,omitempty"`
	Amount     sdkmath.LegacyDec `json:"amount"`
	Detail     map[string]string `json:"detail,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Journal receives events after the emitting operation has committed.
// Implementations must not fail the operation: persistence errors are the
// journal's problem, not the ledger's.
type Journal interface {
	Append(ev Event)
}

// NopJournal discards everything. Used when no persistence is configured.
type NopJournal struct{}

func (NopJournal) Append(Event) {}

// MemoryJournal collects events in memory. Test helper.
type MemoryJournal struct {
	mu     sync.Mutex
	events []Event
}

func (j *MemoryJournal) Append(ev Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, ev)
}

// Events returns a copy of everything appended so far.
func (j *MemoryJournal) Events() []Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Event, len(j.events))
	copy(out, j.events)
	return out
}

// ByKind returns the appended events matching kind, in append order.
func (j *MemoryJournal) ByKind(kind EventKind) []Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []Event
	for _, ev := range j.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// ./internal/state/events.go
package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/vmaiops-alt/leveraged-sub002/internal/types"
	"github.com/vmaiops-alt/leveraged-sub002/internal/utils"
)

// EventStore persists engine events to the engine_events table. It implements
// types.Journal: Append never surfaces an error to the emitting operation, a
// failed insert is logged and dropped.
type EventStore struct{}

// NewEventStore returns a store backed by the global DB.
func NewEventStore() *EventStore {
	return &EventStore{}
}

// Append implements types.Journal.
func (s *EventStore) Append(ev types.Event) {
	if DB == nil {
		log.Warn().Str("kind", string(ev.Kind)).Msg("Event dropped: database not initialized")
		return
	}

	var detailJSON []byte
	if ev.Detail != nil {
		var err error
		detailJSON, err = json.Marshal(ev.Detail)
		if err != nil {
			log.Error().Err(err).Str("event_id", ev.ID).Msg("Failed to marshal event detail")
			detailJSON = nil
		}
	}

	var positionID sql.NullInt64
	if ev.PositionID != 0 {
		positionID = sql.NullInt64{Int64: int64(ev.PositionID), Valid: true}
	}
	var amount sql.NullString
	if !ev.Amount.IsNil() {
		amount = sql.NullString{String: ev.Amount.String(), Valid: true}
	}

	stmt := `
        INSERT INTO engine_events (event_id, kind, account, position_id, asset, amount, detail, occurred_at)
        VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), $6, $7, $8)
        ON CONFLICT (event_id) DO NOTHING;`

	_, err := DB.Exec(stmt, ev.ID, string(ev.Kind), ev.Account, positionID, ev.Asset, amount, detailJSON, ev.OccurredAt)
	if err != nil {
		log.Error().
			Err(err).
			Str("event_id", ev.ID).
			Str("kind", string(ev.Kind)).
			Msg("Failed to persist event")
	}
}

// RecentEvents returns up to limit events, newest first, optionally filtered
// by kind (empty kind means all).
func RecentEvents(kind string, limit int) ([]types.Event, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
        SELECT event_id, kind, COALESCE(account, ''), COALESCE(position_id, 0),
               COALESCE(asset, ''), amount, detail, occurred_at
        FROM engine_events
        WHERE ($1 = '' OR kind = $1)
        ORDER BY occurred_at DESC
        LIMIT $2;`

	rows, err := DB.Query(query, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []types.Event
	for rows.Next() {
		var (
			ev         types.Event
			positionID int64
			amount     sql.NullString
			detailJSON []byte
		)
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.Account, &positionID, &ev.Asset, &amount, &detailJSON, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		ev.PositionID = types.PositionID(positionID)
		if amount.Valid {
			if ev.Amount, err = utils.ScanDec(amount.String); err != nil {
				return nil, fmt.Errorf("bad amount on event %s: %w", ev.ID, err)
			}
		}
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &ev.Detail); err != nil {
				return nil, fmt.Errorf("bad detail on event %s: %w", ev.ID, err)
			}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("event row iteration failed: %w", err)
	}
	return out, nil
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/swapd/internal/core/domain"
)

// ErrNotFound is returned when an aggregate or command result is absent.
var ErrNotFound = errors.New("not found")

type eventRow struct {
	EventID       uuid.UUID `db:"event_id"`
	AggregateID   uuid.UUID `db:"aggregate_id"`
	AggregateType string    `db:"aggregate_type"`
	EventType     string    `db:"event_type"`
	Sequence      int64     `db:"sequence"`
	Payload       []byte    `db:"payload"`
	OccurredAt    time.Time `db:"occurred_at"`
}

func (r eventRow) toDomain() domain.Event {
	return domain.Event{
		ID:            r.EventID,
		AggregateID:   r.AggregateID,
		AggregateType: r.AggregateType,
		Type:          r.EventType,
		Sequence:      uint64(r.Sequence),
		Payload:       json.RawMessage(r.Payload),
		OccurredAt:    r.OccurredAt,
	}
}

// Load restores an aggregate from its current state row. The row is written
// atomically with its events, so it is always at an exact event version.
func (db *DB) Load(ctx context.Context, agg domain.Aggregate) error {
	var row struct {
		Version int64  `db:"version"`
		State   []byte `db:"state"`
	}
	err := db.GetContext(ctx, &row,
		`SELECT version, state FROM aggregates WHERE id = $1 AND type = $2`,
		agg.AggregateID(), agg.AggregateType())
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, agg.AggregateType(), agg.AggregateID())
	}
	if err != nil {
		return fmt.Errorf("load aggregate: %w", err)
	}

	snap, ok := agg.(domain.Snapshotter)
	if !ok {
		return fmt.Errorf("aggregate %s does not support state restore", agg.AggregateType())
	}
	return snap.RestoreSnapshot(row.State, uint64(row.Version))
}

// LoadFromHistory rehydrates an aggregate purely by folding events, seeded
// from the latest snapshot when one exists. Slower than Load; used when the
// state row is distrusted or absent.
func (db *DB) LoadFromHistory(ctx context.Context, agg domain.Aggregate) error {
	fromSeq := uint64(0)

	if snap, ok := agg.(domain.Snapshotter); ok {
		var row struct {
			Version int64  `db:"version"`
			State   []byte `db:"state"`
		}
		err := db.GetContext(ctx, &row,
			`SELECT version, state FROM snapshots
			 WHERE aggregate_id = $1 ORDER BY version DESC LIMIT 1`,
			agg.AggregateID())
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("load snapshot: %w", err)
		default:
			if err := snap.RestoreSnapshot(row.State, uint64(row.Version)); err != nil {
				return err
			}
			fromSeq = uint64(row.Version)
		}
	}

	events, err := db.Events(ctx, agg.AggregateID(), fromSeq, 0)
	if err != nil {
		return err
	}
	if fromSeq == 0 && len(events) == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, agg.AggregateType(), agg.AggregateID())
	}
	return domain.Replay(agg, events)
}

// Events returns the aggregate's events with sequence > afterSeq in order.
// limit 0 means no limit.
func (db *DB) Events(ctx context.Context, aggregateID uuid.UUID, afterSeq uint64, limit int) ([]domain.Event, error) {
	q := `SELECT event_id, aggregate_id, aggregate_type, event_type, sequence, payload, occurred_at
	      FROM events WHERE aggregate_id = $1 AND sequence > $2 ORDER BY sequence`
	args := []any{aggregateID, int64(afterSeq)}
	if limit > 0 {
		q += ` LIMIT $3`
		args = append(args, limit)
	}

	var rows []eventRow
	if err := db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}

	events := make([]domain.Event, len(rows))
	for i, r := range rows {
		events[i] = r.toDomain()
	}
	return events, nil
}

// CommandResult returns the stored result for an idempotency key, or
// ErrNotFound for a fresh key.
func (db *DB) CommandResult(ctx context.Context, key string) (json.RawMessage, error) {
	var result []byte
	err := db.GetContext(ctx, &result,
		`SELECT result FROM commands WHERE idempotency_key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: command %q", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("load command result: %w", err)
	}
	return result, nil
}

// AggregateIDsByType lists aggregate ids of one type whose state matches the
// given JSON containment filter (pass nil for all). Serves the reconciler's
// pending-transaction scan.
func (db *DB) AggregateIDsByType(ctx context.Context, aggType string, stateFilter map[string]any) ([]uuid.UUID, error) {
	q := `SELECT id FROM aggregates WHERE type = $1`
	args := []any{aggType}
	if stateFilter != nil {
		filter, err := json.Marshal(stateFilter)
		if err != nil {
			return nil, fmt.Errorf("marshal state filter: %w", err)
		}
		q += ` AND state @> $2`
		args = append(args, filter)
	}
	q += ` ORDER BY updated_at`

	var ids []uuid.UUID
	if err := db.SelectContext(ctx, &ids, q, args...); err != nil {
		return nil, fmt.Errorf("list aggregates: %w", err)
	}
	return ids, nil
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/vietddude/swapd/internal/core/domain"
)

// UnitOfWork bundles aggregate state, event, outbox, and idempotency writes
// into a single database transaction: no event is recorded without its state
// commit and vice versa.
type UnitOfWork struct {
	db *DB
	tx *sqlx.Tx
}

// NewUnitOfWork creates a new unit of work with an active transaction.
func (db *DB) NewUnitOfWork(ctx context.Context) (*UnitOfWork, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &UnitOfWork{db: db, tx: tx}, nil
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("transaction already completed")
	}
	err := u.tx.Commit()
	u.tx = nil
	return err
}

// Rollback rolls back the transaction. Safe to call multiple times.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil
	}
	err := u.tx.Rollback()
	u.tx = nil
	return err
}

// Save persists an aggregate's pending events, its state row guarded by the
// expected version, and matching outbox entries. A version race surfaces as
// domain.ErrConcurrencyConflict; the caller reloads and retries.
func (u *UnitOfWork) Save(ctx context.Context, agg domain.Aggregate) error {
	pending := agg.PendingEvents()
	if len(pending) == 0 {
		return nil
	}
	expected := agg.Version() - uint64(len(pending))

	state, err := stateJSON(agg)
	if err != nil {
		return err
	}

	if expected == 0 {
		_, err = u.tx.ExecContext(ctx,
			`INSERT INTO aggregates (id, type, version, state, updated_at)
			 VALUES ($1, $2, $3, $4, now())`,
			agg.AggregateID(), agg.AggregateType(), agg.Version(), state)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s %s already exists",
				domain.ErrConcurrencyConflict, agg.AggregateType(), agg.AggregateID())
		}
	} else {
		var res sql.Result
		res, err = u.tx.ExecContext(ctx,
			`UPDATE aggregates SET version = $1, state = $2, updated_at = now()
			 WHERE id = $3 AND version = $4`,
			agg.Version(), state, agg.AggregateID(), expected)
		if err == nil {
			n, raErr := res.RowsAffected()
			if raErr != nil {
				return fmt.Errorf("save aggregate: %w", raErr)
			}
			if n == 0 {
				return fmt.Errorf("%w: %s %s expected version %d",
					domain.ErrConcurrencyConflict, agg.AggregateType(), agg.AggregateID(), expected)
			}
		}
	}
	if err != nil {
		return fmt.Errorf("save aggregate: %w", err)
	}

	if err := u.appendEvents(ctx, pending); err != nil {
		return err
	}
	if err := u.appendOutbox(ctx, pending); err != nil {
		return err
	}
	if err := u.maybeSnapshot(ctx, agg, expected); err != nil {
		return err
	}
	return nil
}

// appendEvents writes the batch with a multi-row insert over unnested
// arrays. The (aggregate_id, sequence) primary key backs the gapless,
// never-rewritten guarantee even against writers that skipped the version
// guard.
func (u *UnitOfWork) appendEvents(ctx context.Context, events []domain.Event) error {
	ids := make([]string, len(events))
	aggIDs := make([]string, len(events))
	aggTypes := make([]string, len(events))
	types := make([]string, len(events))
	seqs := make([]int64, len(events))
	payloads := make([]string, len(events))
	occurred := make([]time.Time, len(events))

	for i, e := range events {
		ids[i] = e.ID.String()
		aggIDs[i] = e.AggregateID.String()
		aggTypes[i] = e.AggregateType
		types[i] = e.Type
		seqs[i] = int64(e.Sequence)
		payloads[i] = string(e.Payload)
		occurred[i] = e.OccurredAt
	}

	_, err := u.tx.ExecContext(ctx,
		`INSERT INTO events (event_id, aggregate_id, aggregate_type, event_type, sequence, payload, occurred_at)
		 SELECT unnest($1::uuid[]), unnest($2::uuid[]), unnest($3::text[]),
		        unnest($4::text[]), unnest($5::bigint[]), unnest($6::jsonb[]), unnest($7::timestamptz[])`,
		pq.Array(ids), pq.Array(aggIDs), pq.Array(aggTypes),
		pq.Array(types), pq.Array(seqs), pq.Array(payloads), pq.Array(occurred))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: event sequence already written", domain.ErrConcurrencyConflict)
	}
	if err != nil {
		return fmt.Errorf("append events: %w", err)
	}
	return nil
}

func (u *UnitOfWork) appendOutbox(ctx context.Context, events []domain.Event) error {
	for _, e := range events {
		_, err := u.tx.ExecContext(ctx,
			`INSERT INTO outbox (event_id, aggregate_id, aggregate_type, event_type, sequence, payload, occurred_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			e.ID, e.AggregateID, e.AggregateType, e.Type, int64(e.Sequence), string(e.Payload), e.OccurredAt)
		if err != nil {
			return fmt.Errorf("append outbox: %w", err)
		}
	}
	return nil
}

// maybeSnapshot writes a snapshot row when the aggregate's version crossed a
// configured boundary within this commit.
func (u *UnitOfWork) maybeSnapshot(ctx context.Context, agg domain.Aggregate, expected uint64) error {
	every := u.db.cfg.SnapshotEvery
	if every == 0 {
		return nil
	}
	if agg.Version()/every == expected/every {
		return nil
	}
	snap, ok := agg.(domain.Snapshotter)
	if !ok {
		return nil
	}
	stateAny, err := snap.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", agg.AggregateID(), err)
	}
	state, err := json.Marshal(stateAny)
	if err != nil {
		return fmt.Errorf("marshal snapshot %s: %w", agg.AggregateID(), err)
	}
	_, err = u.tx.ExecContext(ctx,
		`INSERT INTO snapshots (aggregate_id, version, state)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (aggregate_id, version) DO NOTHING`,
		agg.AggregateID(), agg.Version(), state)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// StoreCommandResult records an idempotency-keyed command result inside the
// same atomic unit as the state it produced.
func (u *UnitOfWork) StoreCommandResult(ctx context.Context, key, commandType string, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal command result: %w", err)
	}
	_, err = u.tx.ExecContext(ctx,
		`INSERT INTO commands (idempotency_key, command_type, result)
		 VALUES ($1, $2, $3)`,
		key, commandType, data)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: idempotency key %q already used", domain.ErrConcurrencyConflict, key)
	}
	if err != nil {
		return fmt.Errorf("store command result: %w", err)
	}
	return nil
}

func stateJSON(agg domain.Aggregate) ([]byte, error) {
	snap, ok := agg.(domain.Snapshotter)
	if !ok {
		return nil, fmt.Errorf("aggregate %s does not expose state", agg.AggregateType())
	}
	stateAny, err := snap.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("aggregate state: %w", err)
	}
	data, err := json.Marshal(stateAny)
	if err != nil {
		return nil, fmt.Errorf("marshal aggregate state: %w", err)
	}
	return data, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

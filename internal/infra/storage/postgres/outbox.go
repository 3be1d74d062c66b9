package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/vietddude/swapd/internal/core/domain"
	"github.com/vietddude/swapd/internal/metrics"
)

// OutboxEntry is one committed event awaiting delivery.
type OutboxEntry struct {
	ID    int64
	Event domain.Event
}

// FetchUndelivered returns up to limit undelivered outbox rows in commit
// order. Rows are marked delivered only after broker ack, so a crash
// mid-drain redelivers; consumers deduplicate by event id.
func (db *DB) FetchUndelivered(ctx context.Context, limit int) ([]OutboxEntry, error) {
	var rows []struct {
		ID int64 `db:"id"`
		eventRow
	}
	err := db.SelectContext(ctx, &rows,
		`SELECT id, event_id, aggregate_id, aggregate_type, event_type, sequence, payload, occurred_at
		 FROM outbox WHERE delivered_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch outbox: %w", err)
	}

	entries := make([]OutboxEntry, len(rows))
	for i, r := range rows {
		entries[i] = OutboxEntry{ID: r.ID, Event: r.eventRow.toDomain()}
	}
	return entries, nil
}

// MarkDelivered stamps outbox rows after the broker acknowledged them.
func (db *DB) MarkDelivered(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := db.ExecContext(ctx,
		`UPDATE outbox SET delivered_at = $1 WHERE id = ANY($2)`,
		at, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("mark outbox delivered: %w", err)
	}
	return nil
}

// PendingOutbox counts undelivered rows, for the lag gauge.
func (db *DB) PendingOutbox(ctx context.Context) (int64, error) {
	var n int64
	err := db.GetContext(ctx, &n,
		`SELECT count(*) FROM outbox WHERE delivered_at IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("count outbox: %w", err)
	}
	metrics.OutboxPending.Set(float64(n))
	return n, nil
}

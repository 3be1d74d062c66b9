// Package publish drains the transactional outbox to the event broker.
// Delivery is at-least-once: rows are marked delivered only after broker ack,
// so a crash between publish and mark causes redelivery and consumers must
// deduplicate by event id.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/swapd/internal/core/domain"
	"github.com/vietddude/swapd/internal/infra/storage/postgres"
	"github.com/vietddude/swapd/internal/metrics"
)

// Outbox is the committed-event source; the postgres store satisfies it.
type Outbox interface {
	FetchUndelivered(ctx context.Context, limit int) ([]postgres.OutboxEntry, error)
	MarkDelivered(ctx context.Context, ids []int64, at time.Time) error
	PendingOutbox(ctx context.Context) (int64, error)
}

// EventPublisher is the broker boundary; the redis stream client satisfies it.
type EventPublisher interface {
	PublishEvent(ctx context.Context, e domain.Event) error
}

// Config holds drainer settings.
type Config struct {
	// Interval is the drain cadence, default 1s.
	Interval time.Duration `yaml:"interval"`
	// BatchSize caps rows per drain pass, default 100.
	BatchSize int `yaml:"batch_size"`
}

func (c Config) normalized() Config {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	return c
}

// Drainer forwards committed events to the broker in commit order.
type Drainer struct {
	outbox Outbox
	pub    EventPublisher
	cfg    Config
	log    *slog.Logger
}

func New(outbox Outbox, pub EventPublisher, cfg Config) *Drainer {
	return &Drainer{
		outbox: outbox,
		pub:    pub,
		cfg:    cfg.normalized(),
		log:    slog.With("component", "publish"),
	}
}

// Run drains until ctx is cancelled.
func (d *Drainer) Run(ctx context.Context) error {
	d.log.Info("outbox drainer started", "interval", d.cfg.Interval)
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := d.Drain(ctx); err != nil && ctx.Err() == nil {
			d.log.Error("drain pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			d.log.Info("outbox drainer stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Drain runs one pass: fetch a batch, publish in order, mark what the broker
// acknowledged. A publish failure stops the batch so commit order is kept;
// already-acked rows are still marked to avoid needless redelivery.
func (d *Drainer) Drain(ctx context.Context) error {
	entries, err := d.outbox.FetchUndelivered(ctx, d.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	var (
		delivered  []int64
		publishErr error
	)
	for _, entry := range entries {
		if err := d.pub.PublishEvent(ctx, entry.Event); err != nil {
			publishErr = fmt.Errorf("publish event %s: %w", entry.Event.ID, err)
			break
		}
		delivered = append(delivered, entry.ID)
		metrics.EventsPublished.WithLabelValues(entry.Event.Type).Inc()
	}

	if len(delivered) > 0 {
		if err := d.outbox.MarkDelivered(ctx, delivered, time.Now().UTC()); err != nil {
			// The events went out but the marks did not stick; the next pass
			// redelivers them, which at-least-once permits.
			return fmt.Errorf("mark delivered: %w", err)
		}
	}
	if pending, err := d.outbox.PendingOutbox(ctx); err != nil {
		d.log.Warn("refresh outbox gauge", "error", err)
	} else {
		metrics.OutboxPending.Set(float64(pending))
	}
	return publishErr
}

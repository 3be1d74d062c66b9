// Package redisx wraps the Redis operations the engine needs: the
// wallet-scoped submission lease and the event stream the outbox drains to.
package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/swapd/internal/core/domain"
)

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`

	// Stream is the Redis Stream committed events are forwarded to.
	Stream string `yaml:"stream"`

	// LeaseTTL bounds how long a crashed holder can block a wallet.
	LeaseTTL time.Duration `yaml:"lease_ttl"`
}

// Client wraps Redis operations.
type Client struct {
	rdb *redis.Client
	cfg Config
}

// ErrLeaseHeld is returned when another submission holds the wallet lease.
var ErrLeaseHeld = errors.New("wallet lease held")

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.Stream == "" {
		cfg.Stream = "swapd:events"
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 2 * time.Minute
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb, cfg: cfg}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks broker reachability.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func leaseKey(walletID string) string {
	return fmt.Sprintf("wallet_lease:%s", walletID)
}

// Lease is a held wallet lease. Release promptly after submission ack; the
// TTL is only the crash backstop.
type Lease struct {
	c     *Client
	key   string
	token string
}

// AcquireWalletLease takes the wallet-scoped submission lease, guaranteeing
// at most one in-flight submission per wallet. token identifies the holder
// so a slow holder cannot release a successor's lease.
func (c *Client) AcquireWalletLease(ctx context.Context, walletID, token string) (*Lease, error) {
	key := leaseKey(walletID)
	ok, err := c.rdb.SetNX(ctx, key, token, c.cfg.LeaseTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire wallet lease: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: wallet %s", ErrLeaseHeld, walletID)
	}
	return &Lease{c: c, key: key, token: token}, nil
}

// releaseScript deletes the lease only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Release frees the lease. Safe to call after TTL expiry.
func (l *Lease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.c.rdb, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release wallet lease: %w", err)
	}
	return nil
}

// Refresh extends the lease TTL while a long submission is in flight.
func (l *Lease) Refresh(ctx context.Context) error {
	ok, err := l.c.rdb.Expire(ctx, l.key, l.c.cfg.LeaseTTL).Result()
	if err != nil {
		return fmt.Errorf("refresh wallet lease: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: lease for %s expired", ErrLeaseHeld, l.key)
	}
	return nil
}

// PublishEvent appends a committed event to the broker stream. Consumers
// deduplicate on event_id; delivery is at-least-once.
func (c *Client) PublishEvent(ctx context.Context, e domain.Event) error {
	err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.Stream,
		Values: map[string]any{
			"event_id":       e.ID.String(),
			"aggregate_id":   e.AggregateID.String(),
			"aggregate_type": e.AggregateType,
			"event_type":     e.Type,
			"sequence":       e.Sequence,
			"payload":        string(e.Payload),
			"occurred_at":    e.OccurredAt.Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish event %s: %w", e.ID, err)
	}
	return nil
}

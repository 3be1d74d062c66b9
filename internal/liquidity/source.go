// Package liquidity supplies the pool snapshot route planning runs over. The
// pool set is configured; reserves are read on-chain and cached briefly so a
// burst of swap commands does not hammer the RPC providers.
package liquidity

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/vietddude/swapd/internal/core/domain"
	"github.com/vietddude/swapd/internal/infra/chainrpc"
	"github.com/vietddude/swapd/internal/planner"
)

const pairABIJSON = `[
	{"type":"function","name":"getReserves","stateMutability":"view","inputs":[],
		"outputs":[
			{"name":"reserveX","type":"uint128"},
			{"name":"reserveY","type":"uint128"}]}
]`

var pairABI = mustABI(pairABIJSON)

func mustABI(s string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return a
}

// PoolConfig declares one tradable pair. An empty token address denotes the
// native side of the pair; the executor substitutes the wrapped token when it
// builds calldata.
type PoolConfig struct {
	Address string `yaml:"address"`
	TokenX  string `yaml:"token_x"`
	TokenY  string `yaml:"token_y"`
	BinStep uint16 `yaml:"bin_step"`
	Version uint8  `yaml:"version"`
}

// Config holds the pool set and cache settings.
type Config struct {
	Pools []PoolConfig `yaml:"pools"`

	// RefreshTTL is how long a reserve snapshot stays fresh, default 10s.
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
}

func (c Config) normalized() Config {
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = 10 * time.Second
	}
	return c
}

// ChainClient reads pool reserves; the chain RPC adapter satisfies it.
type ChainClient interface {
	Call(ctx context.Context, msg chainrpc.CallMsg) ([]byte, error)
}

// Source serves TTL-cached pool snapshots.
type Source struct {
	chain ChainClient
	cfg   Config
	log   *slog.Logger

	mu        sync.Mutex
	cached    []planner.Pool
	fetchedAt time.Time
}

// NewSource creates a source over the configured pool set.
func NewSource(chain ChainClient, cfg Config) *Source {
	return &Source{
		chain: chain,
		cfg:   cfg.normalized(),
		log:   slog.With("component", "liquidity"),
	}
}

// ListPools returns the current snapshot, refreshing reserves when the cache
// expired. The full set is returned; the planner prunes unreachable pools.
func (s *Source) ListPools(ctx context.Context, _ domain.Address) ([]planner.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Since(s.fetchedAt) < s.cfg.RefreshTTL && s.cached != nil {
		return append([]planner.Pool(nil), s.cached...), nil
	}

	var pools []planner.Pool
	for _, pc := range s.cfg.Pools {
		pool, err := s.fetchPool(ctx, pc)
		if err != nil {
			s.log.Warn("skipping pool, reserve read failed", "pool", pc.Address, "error", err)
			continue
		}
		pools = append(pools, pool)
	}
	if len(pools) == 0 {
		return nil, fmt.Errorf("no pool reserves readable (%d configured)", len(s.cfg.Pools))
	}

	s.cached = pools
	s.fetchedAt = time.Now()
	return append([]planner.Pool(nil), pools...), nil
}

func (s *Source) fetchPool(ctx context.Context, pc PoolConfig) (planner.Pool, error) {
	data, err := pairABI.Pack("getReserves")
	if err != nil {
		return planner.Pool{}, fmt.Errorf("encode getReserves: %w", err)
	}
	out, err := s.chain.Call(ctx, chainrpc.CallMsg{
		To:   domain.Address(pc.Address),
		Data: hexutil.Encode(data),
	})
	if err != nil {
		return planner.Pool{}, err
	}

	vals, err := pairABI.Unpack("getReserves", out)
	if err != nil || len(vals) != 2 {
		return planner.Pool{}, fmt.Errorf("decode getReserves: %w", err)
	}
	rx, okX := vals[0].(*big.Int)
	ry, okY := vals[1].(*big.Int)
	if !okX || !okY {
		return planner.Pool{}, fmt.Errorf("decode getReserves: unexpected types %T, %T", vals[0], vals[1])
	}

	reserveX, err := domain.NewAmount(rx.String())
	if err != nil {
		return planner.Pool{}, err
	}
	reserveY, err := domain.NewAmount(ry.String())
	if err != nil {
		return planner.Pool{}, err
	}

	return planner.Pool{
		Address:   domain.Address(pc.Address),
		TokenX:    domain.Address(pc.TokenX),
		TokenY:    domain.Address(pc.TokenY),
		BinStep:   domain.BinStep(pc.BinStep),
		Version:   domain.PoolVersion(pc.Version),
		ReserveX:  reserveX,
		ReserveY:  reserveY,
		Liquidity: liquidityMetric(rx, ry),
	}, nil
}

// liquidityMetric is the geometric mean of the reserves, comparable across
// pools regardless of which side is deeper.
func liquidityMetric(rx, ry *big.Int) decimal.Decimal {
	product := new(big.Int).Mul(rx, ry)
	return decimal.NewFromBigInt(new(big.Int).Sqrt(product), 0)
}

// Package planner computes the best multi-hop route for a swap from a pool
// liquidity snapshot. Pools are weighted edges between token nodes; the edge
// weight is the negative logarithm of the per-hop exchange rate, so the
// maximum-rate path is the minimum-weight path under additive weights.
package planner

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/vietddude/swapd/internal/core/domain"
)

// Pool is one liquidity pool in the snapshot supplied by the quote provider.
type Pool struct {
	Address  domain.Address
	TokenX   domain.Address
	TokenY   domain.Address
	BinStep  domain.BinStep
	Version  domain.PoolVersion
	ReserveX domain.Amount
	ReserveY domain.Amount

	// Liquidity is the pool's comparable liquidity metric, used only for the
	// minimum-liquidity floor.
	Liquidity decimal.Decimal
}

// rate returns the marginal exchange rate for traversing the pool from
// "from", derived from the reserve ratio.
func (p Pool) rate(from domain.Address) (decimal.Decimal, bool) {
	rx := decimal.NewFromBigInt(p.ReserveX.Big().ToBig(), 0)
	ry := decimal.NewFromBigInt(p.ReserveY.Big().ToBig(), 0)
	if rx.IsZero() || ry.IsZero() {
		return decimal.Zero, false
	}
	switch from {
	case p.TokenX:
		return ry.Div(rx), true
	case p.TokenY:
		return rx.Div(ry), true
	}
	return decimal.Zero, false
}

// Config bounds the search.
type Config struct {
	// MaxHops caps route length. Zero means the default of 4.
	MaxHops int `yaml:"max_hops"`

	// MinLiquidity excludes pools whose liquidity metric is below it.
	MinLiquidity decimal.Decimal `yaml:"min_liquidity"`
}

// UnmarshalYAML parses the liquidity floor from its YAML scalar form.
func (c *Config) UnmarshalYAML(unmarshal func(any) error) error {
	var raw struct {
		MaxHops      int    `yaml:"max_hops"`
		MinLiquidity string `yaml:"min_liquidity"`
	}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	c.MaxHops = raw.MaxHops
	if raw.MinLiquidity != "" {
		floor, err := decimal.NewFromString(raw.MinLiquidity)
		if err != nil {
			return fmt.Errorf("min_liquidity: %w", err)
		}
		c.MinLiquidity = floor
	}
	return nil
}

func (c Config) maxHops() int {
	if c.MaxHops <= 0 {
		return 4
	}
	return c.MaxHops
}

// Planner finds best routes over a static snapshot.
type Planner struct {
	cfg Config
}

func New(cfg Config) *Planner {
	return &Planner{cfg: cfg}
}

// edge is a directed traversal of one pool.
type edge struct {
	pool   Pool
	from   domain.Address
	to     domain.Address
	weight float64 // -log(rate)
}

// path is a candidate route with its ranking keys.
type path struct {
	weight   float64
	hops     []edge
	variance float64
}

// BestRoute returns the minimum-weight route from tokenIn to tokenOut within
// the hop bound, or domain.ErrNoRouteFound. Ties prefer fewer hops, then
// lower bin-step variance across the route.
func (p *Planner) BestRoute(pools []Pool, tokenIn, tokenOut domain.Address) (domain.Route, error) {
	if tokenIn == tokenOut {
		return nil, domain.Validationf("token-in equals token-out")
	}

	edges := p.buildEdges(pools)
	if len(edges) == 0 {
		return nil, fmt.Errorf("%w: no pools above liquidity floor", domain.ErrNoRouteFound)
	}

	// Bounded relaxation: best[k][token] is the best path to token using
	// exactly ≤ k hops. Hop counts are small so the full frontier is cheap.
	best := map[domain.Address]path{tokenIn: {}}

	var winner *path
	for hop := 1; hop <= p.cfg.maxHops(); hop++ {
		next := make(map[domain.Address]path, len(best))
		for token, known := range best {
			for _, e := range edges {
				if e.from != token {
					continue
				}
				if containsToken(known.hops, e.to, tokenIn) {
					continue // no cycles
				}
				cand := path{
					weight: known.weight + e.weight,
					hops:   append(append([]edge(nil), known.hops...), e),
				}
				cand.variance = binStepVariance(cand.hops)
				if cur, ok := next[e.to]; !ok || better(cand, cur) {
					next[e.to] = cand
				}
			}
		}
		for token, cand := range next {
			if cur, ok := best[token]; !ok || better(cand, cur) {
				best[token] = cand
			}
		}
		if cand, ok := best[tokenOut]; ok {
			if winner == nil || better(cand, *winner) {
				w := cand
				winner = &w
			}
		}
	}

	if winner == nil {
		return nil, fmt.Errorf("%w: %s -> %s within %d hops",
			domain.ErrNoRouteFound, tokenIn, tokenOut, p.cfg.maxHops())
	}

	route := make(domain.Route, len(winner.hops))
	for i, e := range winner.hops {
		route[i] = domain.Hop{
			Pool:     e.pool.Address,
			TokenIn:  e.from,
			TokenOut: e.to,
			BinStep:  e.pool.BinStep,
			Version:  e.pool.Version,
		}
	}
	return route, nil
}

// Quote multiplies the per-hop rates along route over the snapshot to
// estimate the output for amountIn. The executor turns this into
// amount-out-min via the slippage tolerance.
func (p *Planner) Quote(pools []Pool, route domain.Route, amountIn domain.Amount) (domain.Amount, error) {
	byAddr := make(map[domain.Address]Pool, len(pools))
	for _, pool := range pools {
		byAddr[pool.Address] = pool
	}

	out := decimal.NewFromBigInt(amountIn.Big().ToBig(), 0)
	for _, hop := range route {
		pool, ok := byAddr[hop.Pool]
		if !ok {
			return domain.Amount{}, fmt.Errorf("%w: pool %s missing from snapshot",
				domain.ErrNoRouteFound, hop.Pool)
		}
		rate, ok := pool.rate(hop.TokenIn)
		if !ok {
			return domain.Amount{}, fmt.Errorf("%w: pool %s has no rate for %s",
				domain.ErrNoRouteFound, hop.Pool, hop.TokenIn)
		}
		out = out.Mul(rate)
	}

	return domain.NewAmount(out.Floor().String())
}

func (p *Planner) buildEdges(pools []Pool) []edge {
	var edges []edge
	for _, pool := range pools {
		if !p.cfg.MinLiquidity.IsZero() && pool.Liquidity.LessThan(p.cfg.MinLiquidity) {
			continue
		}
		for _, from := range []domain.Address{pool.TokenX, pool.TokenY} {
			rate, ok := pool.rate(from)
			if !ok || rate.LessThanOrEqual(decimal.Zero) {
				continue
			}
			f, _ := rate.Float64()
			if f <= 0 {
				continue
			}
			to := pool.TokenY
			if from == pool.TokenY {
				to = pool.TokenX
			}
			edges = append(edges, edge{
				pool:   pool,
				from:   from,
				to:     to,
				weight: -math.Log(f),
			})
		}
	}
	return edges
}

// better ranks candidates: lower weight, then fewer hops, then lower
// bin-step variance.
func better(a, b path) bool {
	const eps = 1e-12
	if d := a.weight - b.weight; d < -eps {
		return true
	} else if d > eps {
		return false
	}
	if len(a.hops) != len(b.hops) {
		return len(a.hops) < len(b.hops)
	}
	return a.variance < b.variance
}

func containsToken(hops []edge, token, origin domain.Address) bool {
	if token == origin {
		return true
	}
	for _, e := range hops {
		if e.from == token || e.to == token {
			return true
		}
	}
	return false
}

func binStepVariance(hops []edge) float64 {
	if len(hops) == 0 {
		return 0
	}
	var mean float64
	for _, e := range hops {
		mean += float64(e.pool.BinStep)
	}
	mean /= float64(len(hops))

	var v float64
	for _, e := range hops {
		d := float64(e.pool.BinStep) - mean
		v += d * d
	}
	return v / float64(len(hops))
}

package planner

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vietddude/swapd/internal/core/domain"
)

var (
	tokenA = domain.Address("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	tokenB = domain.Address("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	tokenC = domain.Address("0xcccccccccccccccccccccccccccccccccccccccc")
	tokenD = domain.Address("0xdddddddddddddddddddddddddddddddddddddddd")

	poolAB = domain.Address("0x1111111111111111111111111111111111111111")
	poolBC = domain.Address("0x2222222222222222222222222222222222222222")
	poolAC = domain.Address("0x3333333333333333333333333333333333333333")
)

func amt(t *testing.T, s string) domain.Amount {
	t.Helper()
	a, err := domain.NewAmount(s)
	if err != nil {
		t.Fatalf("NewAmount(%q): %v", s, err)
	}
	return a
}

// pool builds a snapshot pool whose X→Y rate is reserveY/reserveX.
func pool(t *testing.T, addr, x, y domain.Address, rx, ry string, binStep domain.BinStep, liq int64) Pool {
	t.Helper()
	return Pool{
		Address:   addr,
		TokenX:    x,
		TokenY:    y,
		BinStep:   binStep,
		Version:   domain.PoolV2,
		ReserveX:  amt(t, rx),
		ReserveY:  amt(t, ry),
		Liquidity: decimal.NewFromInt(liq),
	}
}

func TestTwoHopBeatsWorseDirect(t *testing.T) {
	// A→B rate 2.0, B→C rate 0.5: effective 1.0. Direct A→C rate 0.9.
	pools := []Pool{
		pool(t, poolAB, tokenA, tokenB, "1000000", "2000000", 20, 1000),
		pool(t, poolBC, tokenB, tokenC, "1000000", "500000", 10, 1000),
		pool(t, poolAC, tokenA, tokenC, "1000000", "900000", 25, 1000),
	}

	p := New(Config{MaxHops: 4})
	route, err := p.BestRoute(pools, tokenA, tokenC)
	if err != nil {
		t.Fatalf("BestRoute: %v", err)
	}

	if len(route) != 2 {
		t.Fatalf("route length = %d, want 2 (via B)", len(route))
	}
	if route[0].Pool != poolAB || route[1].Pool != poolBC {
		t.Errorf("route = %v, want A-B then B-C", route)
	}
	if err := route.Validate(tokenA, tokenC); err != nil {
		t.Errorf("planned route invalid: %v", err)
	}
}

func TestDirectWinsWhenBetter(t *testing.T) {
	// Direct rate 1.5 beats the 1.0 two-hop.
	pools := []Pool{
		pool(t, poolAB, tokenA, tokenB, "1000000", "2000000", 20, 1000),
		pool(t, poolBC, tokenB, tokenC, "1000000", "500000", 10, 1000),
		pool(t, poolAC, tokenA, tokenC, "1000000", "1500000", 25, 1000),
	}

	p := New(Config{MaxHops: 4})
	route, err := p.BestRoute(pools, tokenA, tokenC)
	if err != nil {
		t.Fatalf("BestRoute: %v", err)
	}
	if len(route) != 1 || route[0].Pool != poolAC {
		t.Errorf("route = %v, want direct A-C", route)
	}
}

func TestTieBreakPrefersFewerHops(t *testing.T) {
	// Both candidates have effective rate 1.0.
	pools := []Pool{
		pool(t, poolAB, tokenA, tokenB, "1000000", "2000000", 20, 1000),
		pool(t, poolBC, tokenB, tokenC, "1000000", "500000", 10, 1000),
		pool(t, poolAC, tokenA, tokenC, "1000000", "1000000", 25, 1000),
	}

	p := New(Config{MaxHops: 4})
	route, err := p.BestRoute(pools, tokenA, tokenC)
	if err != nil {
		t.Fatalf("BestRoute: %v", err)
	}
	if len(route) != 1 || route[0].Pool != poolAC {
		t.Errorf("route = %v, want the single-hop candidate on a rate tie", route)
	}
}

func TestLiquidityFloorExcludesPools(t *testing.T) {
	pools := []Pool{
		pool(t, poolAC, tokenA, tokenC, "1000000", "900000", 25, 5),
	}

	p := New(Config{MaxHops: 4, MinLiquidity: decimal.NewFromInt(100)})
	_, err := p.BestRoute(pools, tokenA, tokenC)
	if !errors.Is(err, domain.ErrNoRouteFound) {
		t.Fatalf("err = %v, want ErrNoRouteFound", err)
	}
}

func TestHopBoundFailsRoute(t *testing.T) {
	// A-B-C-D needs three hops; bound at two.
	poolCD := domain.Address("0x4444444444444444444444444444444444444444")
	pools := []Pool{
		pool(t, poolAB, tokenA, tokenB, "1", "1", 20, 1000),
		pool(t, poolBC, tokenB, tokenC, "1", "1", 20, 1000),
		pool(t, poolCD, tokenC, tokenD, "1", "1", 20, 1000),
	}

	p := New(Config{MaxHops: 2})
	if _, err := p.BestRoute(pools, tokenA, tokenD); !errors.Is(err, domain.ErrNoRouteFound) {
		t.Fatalf("err = %v, want ErrNoRouteFound", err)
	}

	p = New(Config{MaxHops: 3})
	route, err := p.BestRoute(pools, tokenA, tokenD)
	if err != nil {
		t.Fatalf("BestRoute with 3 hops: %v", err)
	}
	if len(route) != 3 {
		t.Errorf("route length = %d, want 3", len(route))
	}
}

func TestQuoteMultipliesRates(t *testing.T) {
	pools := []Pool{
		pool(t, poolAB, tokenA, tokenB, "1000000", "2000000", 20, 1000),
		pool(t, poolBC, tokenB, tokenC, "1000000", "500000", 10, 1000),
	}
	p := New(Config{MaxHops: 4})
	route, err := p.BestRoute(pools, tokenA, tokenC)
	if err != nil {
		t.Fatal(err)
	}

	out, err := p.Quote(pools, route, amt(t, "100"))
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if out.String() != "100" {
		t.Errorf("Quote = %s, want 100 (rate 2.0 × 0.5)", out)
	}
}

package domain

import (
	"regexp"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

var (
	addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	txHashPattern  = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)
	symbolPattern  = regexp.MustCompile(`^[A-Z0-9]{1,20}$`)
)

// Address is a 20-byte hex account or contract address. The zero value is
// reserved for the chain's native asset.
type Address string

// NewAddress validates and normalizes a hex address.
func NewAddress(s string) (Address, error) {
	if !addressPattern.MatchString(s) {
		return "", Validationf("invalid address %q", s)
	}
	return Address(strings.ToLower(s)), nil
}

// IsNative reports whether the address denotes the native asset.
func (a Address) IsNative() bool { return a == "" }

func (a Address) String() string { return string(a) }

// TxHash is a 32-byte transaction hash, empty until submission.
type TxHash string

func NewTxHash(s string) (TxHash, error) {
	if !txHashPattern.MatchString(s) {
		return "", Validationf("invalid transaction hash %q", s)
	}
	return TxHash(strings.ToLower(s)), nil
}

func (h TxHash) IsZero() bool   { return h == "" }
func (h TxHash) String() string { return string(h) }

// Symbol is an uppercase asset ticker.
type Symbol string

func NewSymbol(s string) (Symbol, error) {
	if !symbolPattern.MatchString(s) {
		return "", Validationf("invalid symbol %q", s)
	}
	return Symbol(s), nil
}

// Amount is a non-negative wei-denominated quantity.
type Amount struct {
	v uint256.Int
}

// NewAmount parses a decimal string into an Amount.
func NewAmount(s string) (Amount, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return Amount{}, Validationf("invalid amount %q", s)
	}
	return Amount{v: *v}, nil
}

// AmountFromUint64 builds an Amount from a machine word.
func AmountFromUint64(v uint64) Amount {
	return Amount{v: *uint256.NewInt(v)}
}

func (a Amount) IsZero() bool          { return a.v.IsZero() }
func (a Amount) Cmp(b Amount) int      { return a.v.Cmp(&b.v) }
func (a Amount) String() string        { return a.v.Dec() }
func (a Amount) Big() *uint256.Int     { return new(uint256.Int).Set(&a.v) }
func (a Amount) MarshalText() ([]byte, error) { return []byte(a.v.Dec()), nil }

func (a *Amount) UnmarshalText(b []byte) error {
	v, err := uint256.FromDecimal(string(b))
	if err != nil {
		return Validationf("invalid amount %q", string(b))
	}
	a.v = *v
	return nil
}

// SlippageTolerance is a percentage in (0, 100].
type SlippageTolerance struct {
	pct decimal.Decimal
}

// NewSlippageTolerance parses and bounds-checks a percentage like "0.5".
func NewSlippageTolerance(s string) (SlippageTolerance, error) {
	pct, err := decimal.NewFromString(s)
	if err != nil {
		return SlippageTolerance{}, Validationf("invalid slippage tolerance %q", s)
	}
	if pct.LessThanOrEqual(decimal.Zero) || pct.GreaterThan(decimal.NewFromInt(100)) {
		return SlippageTolerance{}, Validationf("slippage tolerance %s out of (0, 100]", pct)
	}
	return SlippageTolerance{pct: pct}, nil
}

func (s SlippageTolerance) Percent() decimal.Decimal { return s.pct }
func (s SlippageTolerance) String() string           { return s.pct.String() }

// ApplyTo computes amount × (1 − pct/100), rounding down. Used to turn a
// quoted output into the minimum acceptable output.
func (s SlippageTolerance) ApplyTo(quoted Amount) Amount {
	// Scale the factor to basis-point-of-basis-point precision so the whole
	// computation stays in integer space.
	const scale = 1_000_000
	factor := decimal.NewFromInt(100).Sub(s.pct).
		Div(decimal.NewFromInt(100)).
		Mul(decimal.NewFromInt(scale))

	num := new(uint256.Int).Mul(quoted.Big(), uint256.NewInt(uint64(factor.IntPart())))
	return Amount{v: *num.Div(num, uint256.NewInt(scale))}
}

// Deadline is the instant after which a swap must not be submitted.
type Deadline time.Time

// NewDeadline validates that t is strictly in the future relative to now.
func NewDeadline(t, now time.Time) (Deadline, error) {
	if !t.After(now) {
		return Deadline{}, Validationf("deadline %s is not in the future", t.Format(time.RFC3339))
	}
	return Deadline(t), nil
}

func (d Deadline) Time() time.Time          { return time.Time(d) }
func (d Deadline) Passed(now time.Time) bool { return !now.Before(time.Time(d)) }

// Nonce is a per-wallet monotonic transaction counter.
type Nonce uint64

// BinStep is the price granularity of a Liquidity Book pool, in basis points.
type BinStep uint16

// PoolVersion identifies the pool contract revision a hop routes through.
type PoolVersion uint8

const (
	PoolV1 PoolVersion = 1
	PoolV2 PoolVersion = 2
)

// Hop is one pool traversal in a swap route.
type Hop struct {
	Pool     Address     `json:"pool"`
	TokenIn  Address     `json:"token_in"`
	TokenOut Address     `json:"token_out"`
	BinStep  BinStep     `json:"bin_step"`
	Version  PoolVersion `json:"version"`
}

// Route is an ordered hop list from token-in to token-out.
type Route []Hop

// Validate checks the route is non-empty, contiguous, and starts/ends at the
// given tokens.
func (r Route) Validate(tokenIn, tokenOut Address) error {
	if len(r) == 0 {
		return Validationf("empty route")
	}
	if r[0].TokenIn != tokenIn {
		return Validationf("route starts at %s, want %s", r[0].TokenIn, tokenIn)
	}
	if r[len(r)-1].TokenOut != tokenOut {
		return Validationf("route ends at %s, want %s", r[len(r)-1].TokenOut, tokenOut)
	}
	for i := 1; i < len(r); i++ {
		if r[i].TokenIn != r[i-1].TokenOut {
			return Validationf("route hop %d is not contiguous", i)
		}
	}
	return nil
}

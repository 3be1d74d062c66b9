package executor

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/swapd/internal/core/domain"
)

// Router surface for Liquidity Book swaps. Only the exact-input variants are
// used; the path tuple is (pairBinSteps, versions, tokenPath).
const routerABIJSON = `[
	{"type":"function","name":"swapExactNATIVEForTokens","stateMutability":"payable","inputs":[
		{"name":"amountOutMin","type":"uint256"},
		{"name":"path","type":"tuple","components":[
			{"name":"pairBinSteps","type":"uint256[]"},
			{"name":"versions","type":"uint8[]"},
			{"name":"tokenPath","type":"address[]"}]},
		{"name":"to","type":"address"},
		{"name":"deadline","type":"uint256"}]},
	{"type":"function","name":"swapExactTokensForNATIVE","stateMutability":"nonpayable","inputs":[
		{"name":"amountIn","type":"uint256"},
		{"name":"amountOutMinNATIVE","type":"uint256"},
		{"name":"path","type":"tuple","components":[
			{"name":"pairBinSteps","type":"uint256[]"},
			{"name":"versions","type":"uint8[]"},
			{"name":"tokenPath","type":"address[]"}]},
		{"name":"to","type":"address"},
		{"name":"deadline","type":"uint256"}]},
	{"type":"function","name":"swapExactTokensForTokens","stateMutability":"nonpayable","inputs":[
		{"name":"amountIn","type":"uint256"},
		{"name":"amountOutMin","type":"uint256"},
		{"name":"path","type":"tuple","components":[
			{"name":"pairBinSteps","type":"uint256[]"},
			{"name":"versions","type":"uint8[]"},
			{"name":"tokenPath","type":"address[]"}]},
		{"name":"to","type":"address"},
		{"name":"deadline","type":"uint256"}]}
]`

const erc20ABIJSON = `[
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[
		{"name":"spender","type":"address"},
		{"name":"amount","type":"uint256"}],
		"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[
		{"name":"owner","type":"address"},
		{"name":"spender","type":"address"}],
		"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	routerABI = mustABI(routerABIJSON)
	erc20ABI  = mustABI(erc20ABIJSON)
)

func mustABI(s string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return a
}

// routePath is the ABI shape of the router's path tuple.
type routePath struct {
	PairBinSteps []*big.Int       `abi:"pairBinSteps"`
	Versions     []uint8          `abi:"versions"`
	TokenPath    []common.Address `abi:"tokenPath"`
}

// buildPath flattens a route into the router tuple, substituting the wrapped
// native token for native endpoints.
func buildPath(route domain.Route, wrappedNative common.Address) routePath {
	p := routePath{
		PairBinSteps: make([]*big.Int, len(route)),
		Versions:     make([]uint8, len(route)),
		TokenPath:    make([]common.Address, 0, len(route)+1),
	}
	p.TokenPath = append(p.TokenPath, pathToken(route[0].TokenIn, wrappedNative))
	for i, hop := range route {
		p.PairBinSteps[i] = new(big.Int).SetUint64(uint64(hop.BinStep))
		p.Versions[i] = uint8(hop.Version)
		p.TokenPath = append(p.TokenPath, pathToken(hop.TokenOut, wrappedNative))
	}
	return p
}

func pathToken(a domain.Address, wrappedNative common.Address) common.Address {
	if a.IsNative() {
		return wrappedNative
	}
	return common.HexToAddress(a.String())
}

// swapShape is the router call variant a swap resolves to.
type swapShape int

const (
	shapeTokensForTokens swapShape = iota
	shapeNativeForTokens
	shapeTokensForNative
)

func shapeFor(route domain.Route) swapShape {
	switch {
	case route[0].TokenIn.IsNative():
		return shapeNativeForTokens
	case route[len(route)-1].TokenOut.IsNative():
		return shapeTokensForNative
	default:
		return shapeTokensForTokens
	}
}

// swapCalldata encodes the router call for the swap. Native-in swaps carry
// amountIn as transaction value instead of an argument.
func swapCalldata(swap *domain.Swap, recipient, wrappedNative common.Address, deadline time.Time) ([]byte, error) {
	route := swap.Route()
	path := buildPath(route, wrappedNative)
	ddl := new(big.Int).SetInt64(deadline.Unix())
	outMin := swap.AmountOutMin().Big().ToBig()
	in := swap.AmountIn().Big().ToBig()

	var (
		data []byte
		err  error
	)
	switch shapeFor(route) {
	case shapeNativeForTokens:
		data, err = routerABI.Pack("swapExactNATIVEForTokens", outMin, path, recipient, ddl)
	case shapeTokensForNative:
		data, err = routerABI.Pack("swapExactTokensForNATIVE", in, outMin, path, recipient, ddl)
	default:
		data, err = routerABI.Pack("swapExactTokensForTokens", in, outMin, path, recipient, ddl)
	}
	if err != nil {
		return nil, fmt.Errorf("encode swap calldata: %w", err)
	}
	return data, nil
}

// approveCalldata encodes an ERC-20 approval of spender for amount.
func approveCalldata(spender common.Address, amount *big.Int) ([]byte, error) {
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return nil, fmt.Errorf("encode approve calldata: %w", err)
	}
	return data, nil
}

// allowanceCalldata encodes an allowance(owner, spender) read.
func allowanceCalldata(owner, spender common.Address) ([]byte, error) {
	data, err := erc20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("encode allowance calldata: %w", err)
	}
	return data, nil
}

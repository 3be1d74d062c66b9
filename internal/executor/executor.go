// Package executor turns planned swaps and approvals into signed, broadcast
// transactions in two phases: a read-only prepare phase (calldata, gas
// estimation with a safety buffer, fee pricing) that runs before the wallet
// lease, and a submit phase (nonce allocation from the wallet aggregate,
// signing with ephemeral key material, broadcast over the failover RPC path)
// that runs under it.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/vietddude/swapd/internal/core/domain"
	"github.com/vietddude/swapd/internal/infra/chainrpc"
	"github.com/vietddude/swapd/internal/infra/keyvault"
	"github.com/vietddude/swapd/internal/metrics"
)

// ChainClient is the chain surface the executor needs.
type ChainClient interface {
	EstimateGas(ctx context.Context, msg chainrpc.CallMsg) (uint64, error)
	GasPrice(ctx context.Context) (*uint256.Int, error)
	SendRawTransaction(ctx context.Context, rawTx []byte) (domain.TxHash, error)
	Call(ctx context.Context, msg chainrpc.CallMsg) ([]byte, error)
}

// KeyStore decrypts wallet signing keys by reference.
type KeyStore interface {
	Decrypt(ctx context.Context, ref string) ([]byte, error)
}

// Config holds executor settings.
type Config struct {
	// Router is the Liquidity Book router contract address.
	Router string `yaml:"router"`
	// WrappedNative stands in for the native asset inside token paths.
	WrappedNative string `yaml:"wrapped_native"`

	// GasBufferPct pads the node's gas estimate, default 20.
	GasBufferPct uint64 `yaml:"gas_buffer_pct"`
	// FeeBufferPct pads the suggested gas price, default 10.
	FeeBufferPct uint64 `yaml:"fee_buffer_pct"`
	// TipCapGwei caps the priority fee, default 1.
	TipCapGwei uint64 `yaml:"tip_cap_gwei"`
}

func (c Config) normalized() Config {
	if c.GasBufferPct == 0 {
		c.GasBufferPct = 20
	}
	if c.FeeBufferPct == 0 {
		c.FeeBufferPct = 10
	}
	if c.TipCapGwei == 0 {
		c.TipCapGwei = 1
	}
	return c
}

// Executor signs and broadcasts swap and approval transactions.
type Executor struct {
	chain         ChainClient
	keys          KeyStore
	cfg           Config
	chainID       *big.Int
	router        common.Address
	routerAddr    domain.Address
	wrappedNative common.Address
	log           *slog.Logger
}

// New builds an executor for one chain. networkID is the EIP-155 chain id
// signatures bind to.
func New(chain ChainClient, keys KeyStore, networkID uint64, cfg Config) (*Executor, error) {
	cfg = cfg.normalized()
	router, err := domain.NewAddress(cfg.Router)
	if err != nil {
		return nil, fmt.Errorf("router address: %w", err)
	}
	if _, err := domain.NewAddress(cfg.WrappedNative); err != nil {
		return nil, fmt.Errorf("wrapped native address: %w", err)
	}
	return &Executor{
		chain:         chain,
		keys:          keys,
		cfg:           cfg,
		chainID:       new(big.Int).SetUint64(networkID),
		router:        common.HexToAddress(cfg.Router),
		routerAddr:    router,
		wrappedNative: common.HexToAddress(cfg.WrappedNative),
		log:           slog.With("component", "executor"),
	}, nil
}

// Router is the spender address approvals must target.
func (e *Executor) Router() domain.Address { return e.routerAddr }

// Prepared is a costed transaction awaiting nonce allocation and signature.
// Building one performs only chain reads, so it happens before the caller
// takes the wallet lease.
type Prepared struct {
	To       domain.Address
	Value    *big.Int
	Data     []byte
	GasLimit uint64
	FeeCap   *uint256.Int
	TipCap   *uint256.Int
}

// PrepareSwap builds and costs the swap transaction for the sending wallet
// address. A native or empty recipient defaults to the sender.
func (e *Executor) PrepareSwap(ctx context.Context, from domain.Address, swap *domain.Swap, recipient domain.Address) (*Prepared, error) {
	if deadline := swap.Deadline(); time.Now().After(deadline) {
		return nil, domain.Validationf("swap deadline %s already passed", deadline.Format(time.RFC3339))
	}

	to := recipient
	if to.IsNative() {
		to = from
	}
	data, err := swapCalldata(swap, common.HexToAddress(to.String()), e.wrappedNative, swap.Deadline())
	if err != nil {
		return nil, err
	}

	var value *big.Int
	if shapeFor(swap.Route()) == shapeNativeForTokens {
		value = swap.AmountIn().Big().ToBig()
	}
	return e.prepare(ctx, from, e.routerAddr, value, data)
}

// PrepareApproval builds and costs the ERC-20 approve call backing the
// approval aggregate.
func (e *Executor) PrepareApproval(ctx context.Context, from domain.Address, approval *domain.Approval, tokenContract domain.Address) (*Prepared, error) {
	if tokenContract.IsNative() {
		return nil, domain.Validationf("native asset needs no approval")
	}
	data, err := approveCalldata(common.HexToAddress(approval.Spender().String()), approval.Amount().Big().ToBig())
	if err != nil {
		return nil, err
	}
	return e.prepare(ctx, from, tokenContract, nil, data)
}

// Allowance reads the current on-chain allowance of spender over owner's
// tokens. Used to reconcile the approval aggregate against chain truth.
func (e *Executor) Allowance(ctx context.Context, tokenContract, owner, spender domain.Address) (domain.Amount, error) {
	data, err := allowanceCalldata(common.HexToAddress(owner.String()), common.HexToAddress(spender.String()))
	if err != nil {
		return domain.Amount{}, err
	}
	out, err := e.chain.Call(ctx, chainrpc.CallMsg{
		To:   tokenContract,
		Data: hexutil.Encode(data),
	})
	if err != nil {
		return domain.Amount{}, fmt.Errorf("read allowance: %w", err)
	}
	v := new(big.Int).SetBytes(out)
	allowance, overflow := uint256.FromBig(v)
	if overflow {
		return domain.Amount{}, fmt.Errorf("allowance overflows uint256")
	}
	return domain.NewAmount(allowance.Dec())
}

func (e *Executor) prepare(ctx context.Context, from, to domain.Address, value *big.Int, data []byte) (*Prepared, error) {
	msg := chainrpc.CallMsg{
		From: from,
		To:   to,
		Data: hexutil.Encode(data),
	}
	if value != nil && value.Sign() > 0 {
		msg.Value = hexutil.EncodeBig(value)
	}

	estimate, err := e.chain.EstimateGas(ctx, msg)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues("estimate_failed").Inc()
		return nil, err
	}
	gasLimit := estimate + estimate*e.cfg.GasBufferPct/100

	price, err := e.chain.GasPrice(ctx)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues("gas_price_failed").Inc()
		return nil, fmt.Errorf("gas price: %w", err)
	}
	feeCap := new(uint256.Int).Mul(price, uint256.NewInt(100+e.cfg.FeeBufferPct))
	feeCap.Div(feeCap, uint256.NewInt(100))
	tipCap := uint256.NewInt(e.cfg.TipCapGwei * 1e9)
	if tipCap.Cmp(feeCap) > 0 {
		tipCap.Set(feeCap)
	}

	return &Prepared{
		To:       to,
		Value:    value,
		Data:     data,
		GasLimit: gasLimit,
		FeeCap:   feeCap,
		TipCap:   tipCap,
	}, nil
}

// Submit allocates the nonce, signs, and broadcasts a prepared transaction.
// The caller holds the wallet lease and passes a wallet loaded under it. The
// nonce counter advances whether or not broadcast succeeds, so the caller
// persists the wallet in both outcomes; a broadcast failure returns
// domain.ErrSubmission with the transaction still unsubmitted.
func (e *Executor) Submit(ctx context.Context, wallet *domain.Wallet, tx *domain.Transaction, prep *Prepared) error {
	nonce, err := wallet.AllocateNonce()
	if err != nil {
		return err
	}

	rawTx, err := e.sign(ctx, wallet, &types.DynamicFeeTx{
		ChainID:   e.chainID,
		Nonce:     uint64(nonce),
		GasTipCap: prep.TipCap.ToBig(),
		GasFeeCap: prep.FeeCap.ToBig(),
		Gas:       prep.GasLimit,
		To:        addrPtr(prep.To),
		Value:     prep.Value,
		Data:      prep.Data,
	})
	if err != nil {
		return err
	}

	hash, err := e.chain.SendRawTransaction(ctx, rawTx)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues("broadcast_failed").Inc()
		e.log.Error("broadcast failed",
			"tx_id", tx.AggregateID(), "wallet", wallet.Address(), "nonce", nonce, "error", err)
		return fmt.Errorf("%w: %w", domain.ErrSubmission, err)
	}

	feeCapAmount, err := domain.NewAmount(prep.FeeCap.Dec())
	if err != nil {
		return err
	}
	if err := tx.MarkSubmitted(nonce, hash, prep.GasLimit, feeCapAmount, 1); err != nil {
		return err
	}

	metrics.SubmissionsTotal.WithLabelValues("submitted").Inc()
	e.log.Info("transaction submitted",
		"tx_id", tx.AggregateID(), "hash", hash, "nonce", nonce, "gas_limit", prep.GasLimit)
	return nil
}

// sign decrypts the wallet key, signs, and zeroes the plaintext before
// returning. The key never outlives this call.
func (e *Executor) sign(ctx context.Context, wallet *domain.Wallet, txData *types.DynamicFeeTx) ([]byte, error) {
	material, err := e.keys.Decrypt(ctx, wallet.KeyRef())
	if err != nil {
		return nil, fmt.Errorf("wallet key: %w", err)
	}
	defer keyvault.Zero(material)

	priv, err := crypto.ToECDSA(material)
	if err != nil {
		return nil, fmt.Errorf("wallet key: %w", err)
	}
	defer priv.D.SetInt64(0)

	signer := crypto.PubkeyToAddress(priv.PublicKey)
	if signer != common.HexToAddress(wallet.Address().String()) {
		return nil, fmt.Errorf("wallet key does not match address %s", wallet.Address())
	}

	signed, err := types.SignTx(types.NewTx(txData), types.LatestSignerForChainID(e.chainID), priv)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}
	return raw, nil
}

func addrPtr(a domain.Address) *common.Address {
	addr := common.HexToAddress(a.String())
	return &addr
}

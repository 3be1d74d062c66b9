package chainrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/vietddude/swapd/internal/core/domain"
)

// Config holds adapter settings.
type Config struct {
	// CallTimeout bounds each individual RPC call.
	CallTimeout time.Duration `yaml:"call_timeout"`
	Retry       RetryConfig   `yaml:"retry"`
}

// Receipt is the subset of an execution receipt the engine needs.
type Receipt struct {
	TxHash      domain.TxHash
	Success     bool
	BlockNumber uint64
	GasUsed     uint64
}

// ErrReceiptNotFound is returned while a transaction is still pending.
var ErrReceiptNotFound = errors.New("receipt not found")

// Adapter exposes the chain operations the executor and reconciler need,
// each call failing over across the ordered endpoint list.
type Adapter struct {
	endpoints []*Endpoint
	cfg       Config
}

// NewAdapter builds an adapter over the chain's ordered endpoint URLs,
// primary first.
func NewAdapter(urls []string, cfg Config) (*Adapter, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("chain adapter needs at least one endpoint")
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	endpoints := make([]*Endpoint, len(urls))
	for i, url := range urls {
		endpoints[i] = NewEndpoint(fmt.Sprintf("endpoint-%d", i), url, cfg.CallTimeout)
	}
	return &Adapter{endpoints: endpoints, cfg: cfg}, nil
}

func (a *Adapter) call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	return callWithFailover(ctx, a.endpoints, method, params, a.cfg.Retry)
}

func (a *Adapter) callUint(ctx context.Context, method string, params ...any) (uint64, error) {
	raw, err := a.call(ctx, method, params...)
	if err != nil {
		return 0, err
	}
	var hex string
	if err := json.Unmarshal(raw, &hex); err != nil {
		return 0, fmt.Errorf("%s: parse result: %w", method, err)
	}
	v, err := hexutil.DecodeUint64(hex)
	if err != nil {
		return 0, fmt.Errorf("%s: decode %q: %w", method, hex, err)
	}
	return v, nil
}

// BlockNumber returns the chain head height. Used as the liveness probe.
func (a *Adapter) BlockNumber(ctx context.Context) (uint64, error) {
	return a.callUint(ctx, "eth_blockNumber")
}

// CallMsg is a read-only or estimation call payload.
type CallMsg struct {
	From  domain.Address `json:"from"`
	To    domain.Address `json:"to"`
	Value string         `json:"value,omitempty"` // hex wei
	Data  string         `json:"data,omitempty"`  // hex calldata
}

// EstimateGas asks the chain for a gas estimate.
func (a *Adapter) EstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	gas, err := a.callUint(ctx, "eth_estimateGas", msg)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrGasEstimation, err)
	}
	return gas, nil
}

// GasPrice returns the node's suggested gas price in wei.
func (a *Adapter) GasPrice(ctx context.Context) (*uint256.Int, error) {
	raw, err := a.call(ctx, "eth_gasPrice")
	if err != nil {
		return nil, err
	}
	var hex string
	if err := json.Unmarshal(raw, &hex); err != nil {
		return nil, fmt.Errorf("eth_gasPrice: parse result: %w", err)
	}
	v, err := hexutil.DecodeBig(hex)
	if err != nil {
		return nil, fmt.Errorf("eth_gasPrice: decode %q: %w", hex, err)
	}
	price, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("eth_gasPrice: value overflows uint256")
	}
	return price, nil
}

// PendingNonce returns the chain's view of the account nonce. Used only for
// reconciling a wallet whose local counter drifted, never as the allocation
// source.
func (a *Adapter) PendingNonce(ctx context.Context, addr domain.Address) (uint64, error) {
	return a.callUint(ctx, "eth_getTransactionCount", addr.String(), "pending")
}

// SendRawTransaction broadcasts a signed transaction and returns its hash.
func (a *Adapter) SendRawTransaction(ctx context.Context, rawTx []byte) (domain.TxHash, error) {
	raw, err := a.call(ctx, "eth_sendRawTransaction", hexutil.Encode(rawTx))
	if err != nil {
		return "", err
	}
	var hex string
	if err := json.Unmarshal(raw, &hex); err != nil {
		return "", fmt.Errorf("eth_sendRawTransaction: parse result: %w", err)
	}
	return domain.NewTxHash(hex)
}

// TransactionReceipt fetches the receipt for hash, or ErrReceiptNotFound
// while the transaction is unmined.
func (a *Adapter) TransactionReceipt(ctx context.Context, hash domain.TxHash) (*Receipt, error) {
	raw, err := a.call(ctx, "eth_getTransactionReceipt", hash.String())
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" {
		return nil, ErrReceiptNotFound
	}

	var r struct {
		Status      string `json:"status"`
		BlockNumber string `json:"blockNumber"`
		GasUsed     string `json:"gasUsed"`
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("eth_getTransactionReceipt: parse result: %w", err)
	}

	status, err := hexutil.DecodeUint64(r.Status)
	if err != nil {
		return nil, fmt.Errorf("receipt status %q: %w", r.Status, err)
	}
	block, err := hexutil.DecodeUint64(r.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("receipt block %q: %w", r.BlockNumber, err)
	}
	gasUsed, err := hexutil.DecodeUint64(r.GasUsed)
	if err != nil {
		return nil, fmt.Errorf("receipt gas used %q: %w", r.GasUsed, err)
	}

	return &Receipt{
		TxHash:      hash,
		Success:     status == 1,
		BlockNumber: block,
		GasUsed:     gasUsed,
	}, nil
}

// Call executes a read-only contract call and returns the raw return data.
func (a *Adapter) Call(ctx context.Context, msg CallMsg) ([]byte, error) {
	raw, err := a.call(ctx, "eth_call", msg, "latest")
	if err != nil {
		return nil, err
	}
	var hex string
	if err := json.Unmarshal(raw, &hex); err != nil {
		return nil, fmt.Errorf("eth_call: parse result: %w", err)
	}
	return hexutil.Decode(hex)
}

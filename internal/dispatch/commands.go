package dispatch

import (
	"time"

	"github.com/google/uuid"
)

// Command is one unit of intent. Every command carries an idempotency key;
// resubmitting a key returns the original result instead of re-executing.
type Command interface {
	Name() string
	Key() string
}

// CreateWallet registers a signing wallet. The private key is encrypted into
// the vault before the aggregate is persisted and never stored in plaintext.
type CreateWallet struct {
	IdempotencyKey string
	Address        string
	PrivateKeyHex  string
}

func (CreateWallet) Name() string  { return "create_wallet" }
func (c CreateWallet) Key() string { return c.IdempotencyKey }

// ActivateWallet re-enables a wallet for submissions.
type ActivateWallet struct {
	IdempotencyKey string
	WalletID       uuid.UUID
}

func (ActivateWallet) Name() string  { return "activate_wallet" }
func (c ActivateWallet) Key() string { return c.IdempotencyKey }

// DeactivateWallet blocks a wallet from new submissions. In-flight
// transactions still reconcile.
type DeactivateWallet struct {
	IdempotencyKey string
	WalletID       uuid.UUID
}

func (DeactivateWallet) Name() string  { return "deactivate_wallet" }
func (c DeactivateWallet) Key() string { return c.IdempotencyKey }

// AddChain registers the network with its ordered RPC endpoint list.
type AddChain struct {
	IdempotencyKey string
	NetworkID      uint64
	ChainName      string
	NativeSymbol   string
	Endpoints      []string
}

func (AddChain) Name() string  { return "add_chain" }
func (c AddChain) Key() string { return c.IdempotencyKey }

// UpdateChainEndpoints replaces the chain's ordered RPC endpoint list,
// primary first.
type UpdateChainEndpoints struct {
	IdempotencyKey string
	ChainID        uuid.UUID
	Endpoints      []string
}

func (UpdateChainEndpoints) Name() string  { return "update_chain_endpoints" }
func (c UpdateChainEndpoints) Key() string { return c.IdempotencyKey }

// AddToken registers a tradable token. Native tokens carry no contract.
type AddToken struct {
	IdempotencyKey string
	ChainID        uuid.UUID
	Contract       string
	Symbol         string
	Decimals       uint8
	Native         bool
}

func (AddToken) Name() string  { return "add_token" }
func (c AddToken) Key() string { return c.IdempotencyKey }

// ApproveToken grants the swap router an allowance over the wallet's tokens.
type ApproveToken struct {
	IdempotencyKey string
	WalletID       uuid.UUID
	TokenID        uuid.UUID
	Amount         string
}

func (ApproveToken) Name() string  { return "approve_token" }
func (c ApproveToken) Key() string { return c.IdempotencyKey }

// ExecuteSwap plans, signs, and submits a swap. Recipient defaults to the
// wallet's own address when empty.
type ExecuteSwap struct {
	IdempotencyKey string
	WalletID       uuid.UUID
	TokenIn        uuid.UUID
	TokenOut       uuid.UUID
	AmountIn       string
	SlippagePct    string
	Deadline       time.Time
	Recipient      string
}

func (ExecuteSwap) Name() string  { return "execute_swap" }
func (c ExecuteSwap) Key() string { return c.IdempotencyKey }

// ResubmitTransaction recovers from a Failed transaction by creating and
// submitting a fresh one with the same intent. The failed transaction is
// never mutated.
type ResubmitTransaction struct {
	IdempotencyKey string
	TransactionID  uuid.UUID

	// Deadline replaces the original swap deadline, which has usually passed
	// by the time a resubmission is warranted. Ignored for approvals.
	Deadline time.Time
}

func (ResubmitTransaction) Name() string  { return "resubmit_transaction" }
func (c ResubmitTransaction) Key() string { return c.IdempotencyKey }

// Result is the stored outcome of a command, returned verbatim on
// idempotent resubmission.
type Result struct {
	Command       string    `json:"command"`
	Status        string    `json:"status"`
	WalletID      uuid.UUID `json:"wallet_id,omitempty"`
	ChainID       uuid.UUID `json:"chain_id,omitempty"`
	TokenID       uuid.UUID `json:"token_id,omitempty"`
	ApprovalID    uuid.UUID `json:"approval_id,omitempty"`
	TransactionID uuid.UUID `json:"transaction_id,omitempty"`
	SwapID        uuid.UUID `json:"swap_id,omitempty"`
	Reason        string    `json:"reason,omitempty"`
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// TxStatus is the transaction lifecycle. Transitions are monotonic and the
// terminal states (Confirmed, Reverted, Failed) are immutable.
type TxStatus string

const (
	TxCreated   TxStatus = "created"
	TxSubmitted TxStatus = "submitted"
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxReverted  TxStatus = "reverted"
	TxFailed    TxStatus = "failed"
)

var txStatusRank = map[TxStatus]int{
	TxCreated:   0,
	TxSubmitted: 1,
	TxPending:   2,
	TxConfirmed: 3,
	TxReverted:  3,
	TxFailed:    3,
}

// Terminal reports whether the status admits no further transition.
func (s TxStatus) Terminal() bool {
	return s == TxConfirmed || s == TxReverted || s == TxFailed
}

// TxKind distinguishes what the transaction carries.
type TxKind string

const (
	TxKindSwap     TxKind = "swap"
	TxKindApproval TxKind = "approval"
)

// Transaction is the on-chain submission lifecycle for one signed payload.
type Transaction struct {
	aggregate
	state txState
}

type txState struct {
	WalletID    uuid.UUID  `json:"wallet_id"`
	ChainID     uuid.UUID  `json:"chain_id"`
	Kind        TxKind     `json:"kind"`
	Nonce       Nonce      `json:"nonce"`
	Hash        TxHash     `json:"hash"`
	Status      TxStatus   `json:"status"`
	GasLimit    uint64     `json:"gas_limit"`
	GasFeeCap   Amount     `json:"gas_fee_cap"`
	GasUsed     uint64     `json:"gas_used"`
	BlockNumber uint64     `json:"block_number"`
	RetryCount  int        `json:"retry_count"`
	FailReason  string     `json:"fail_reason,omitempty"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

type txCreatedPayload struct {
	WalletID uuid.UUID `json:"wallet_id"`
	ChainID  uuid.UUID `json:"chain_id"`
	Kind     TxKind    `json:"kind"`
}

type txSubmittedPayload struct {
	Nonce       Nonce     `json:"nonce"`
	Hash        TxHash    `json:"hash"`
	GasLimit    uint64    `json:"gas_limit"`
	GasFeeCap   Amount    `json:"gas_fee_cap"`
	Attempts    int       `json:"attempts"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type txReceiptPayload struct {
	BlockNumber uint64    `json:"block_number"`
	GasUsed     uint64    `json:"gas_used"`
	ObservedAt  time.Time `json:"observed_at"`
}

type txFailedPayload struct {
	Reason   string `json:"reason"`
	Attempts int    `json:"attempts"`
}

// EmptyTransaction returns a zero-state transaction for rehydration.
func EmptyTransaction(id uuid.UUID) *Transaction {
	return &Transaction{aggregate: aggregate{id: id, typ: AggregateTransaction}}
}

// NewTransaction creates a transaction in Created, before nonce assignment.
func NewTransaction(id, walletID, chainID uuid.UUID, kind TxKind) (*Transaction, error) {
	t := EmptyTransaction(id)
	err := t.raise(t, EventTransactionCreated, txCreatedPayload{
		WalletID: walletID,
		ChainID:  chainID,
		Kind:     kind,
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Transaction) WalletID() uuid.UUID   { return t.state.WalletID }
func (t *Transaction) ChainID() uuid.UUID    { return t.state.ChainID }
func (t *Transaction) Kind() TxKind          { return t.state.Kind }
func (t *Transaction) Nonce() Nonce          { return t.state.Nonce }
func (t *Transaction) Hash() TxHash          { return t.state.Hash }
func (t *Transaction) Status() TxStatus      { return t.state.Status }
func (t *Transaction) GasLimit() uint64      { return t.state.GasLimit }
func (t *Transaction) GasFeeCap() Amount     { return t.state.GasFeeCap }
func (t *Transaction) GasUsed() uint64       { return t.state.GasUsed }
func (t *Transaction) BlockNumber() uint64   { return t.state.BlockNumber }
func (t *Transaction) RetryCount() int       { return t.state.RetryCount }
func (t *Transaction) FailReason() string    { return t.state.FailReason }
func (t *Transaction) SubmittedAt() *time.Time { return t.state.SubmittedAt }

func (t *Transaction) guard(to TxStatus) error {
	from := t.state.Status
	if from.Terminal() || txStatusRank[to] <= txStatusRank[from] {
		return invalidTransition(AggregateTransaction, string(from), string(to))
	}
	return nil
}

// MarkSubmitted records a successful broadcast: the consumed nonce, the tx
// hash, the gas parameters used, and how many attempts submission took.
func (t *Transaction) MarkSubmitted(nonce Nonce, hash TxHash, gasLimit uint64, gasFeeCap Amount, attempts int) error {
	if err := t.guard(TxSubmitted); err != nil {
		return err
	}
	if hash.IsZero() {
		return Validationf("submitted transaction needs a hash")
	}
	return t.raise(t, EventTransactionSubmitted, txSubmittedPayload{
		Nonce:       nonce,
		Hash:        hash,
		GasLimit:    gasLimit,
		GasFeeCap:   gasFeeCap,
		Attempts:    attempts,
		SubmittedAt: time.Now().UTC(),
	})
}

// MarkPending records the transaction as seen in the mempool but not yet
// mined. Emitted by the reconciler on first sighting.
func (t *Transaction) MarkPending() error {
	if t.state.Status != TxSubmitted {
		return invalidTransition(AggregateTransaction, string(t.state.Status), string(TxPending))
	}
	return t.raise(t, EventTransactionPending, struct{}{})
}

// Confirm closes the lifecycle with a success receipt.
func (t *Transaction) Confirm(blockNumber, gasUsed uint64) error {
	if err := t.guard(TxConfirmed); err != nil {
		return err
	}
	if t.state.Status == TxCreated {
		return invalidTransition(AggregateTransaction, string(TxCreated), string(TxConfirmed))
	}
	return t.raise(t, EventTransactionConfirmed, txReceiptPayload{
		BlockNumber: blockNumber,
		GasUsed:     gasUsed,
		ObservedAt:  time.Now().UTC(),
	})
}

// Revert closes the lifecycle with a revert receipt.
func (t *Transaction) Revert(blockNumber, gasUsed uint64) error {
	if err := t.guard(TxReverted); err != nil {
		return err
	}
	if t.state.Status == TxCreated {
		return invalidTransition(AggregateTransaction, string(TxCreated), string(TxReverted))
	}
	return t.raise(t, EventTransactionReverted, txReceiptPayload{
		BlockNumber: blockNumber,
		GasUsed:     gasUsed,
		ObservedAt:  time.Now().UTC(),
	})
}

// Fail closes the lifecycle without a receipt: submission exhaustion or
// reconciliation timeout. Recovery is a new transaction via an explicit
// resubmission command, never a transition out of Failed.
func (t *Transaction) Fail(reason string, attempts int) error {
	if err := t.guard(TxFailed); err != nil {
		return err
	}
	return t.raise(t, EventTransactionFailed, txFailedPayload{
		Reason:   reason,
		Attempts: attempts,
	})
}

// Apply folds one transaction event into state.
func (t *Transaction) Apply(e Event) error {
	switch e.Type {
	case EventTransactionCreated:
		var p txCreatedPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		t.state = txState{
			WalletID: p.WalletID,
			ChainID:  p.ChainID,
			Kind:     p.Kind,
			Status:   TxCreated,
		}
	case EventTransactionSubmitted:
		var p txSubmittedPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		t.state.Nonce = p.Nonce
		t.state.Hash = p.Hash
		t.state.GasLimit = p.GasLimit
		t.state.GasFeeCap = p.GasFeeCap
		t.state.RetryCount = p.Attempts - 1
		t.state.Status = TxSubmitted
		at := p.SubmittedAt
		t.state.SubmittedAt = &at
	case EventTransactionPending:
		t.state.Status = TxPending
	case EventTransactionConfirmed, EventTransactionReverted:
		var p txReceiptPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		t.state.BlockNumber = p.BlockNumber
		t.state.GasUsed = p.GasUsed
		at := p.ObservedAt
		t.state.ConfirmedAt = &at
		if e.Type == EventTransactionConfirmed {
			t.state.Status = TxConfirmed
		} else {
			t.state.Status = TxReverted
		}
	case EventTransactionFailed:
		var p txFailedPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		t.state.FailReason = p.Reason
		if p.Attempts > 0 {
			t.state.RetryCount = p.Attempts - 1
		}
		t.state.Status = TxFailed
	default:
		return Validationf("unknown transaction event %q", e.Type)
	}
	t.applied(e)
	return nil
}

func (t *Transaction) Snapshot() (any, error) { return t.state, nil }

func (t *Transaction) RestoreSnapshot(data []byte, v uint64) error {
	if err := unmarshalSnapshot(data, &t.state); err != nil {
		return err
	}
	t.version = v
	return nil
}

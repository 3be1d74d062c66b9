package domain

import (
	"github.com/google/uuid"
)

// ApprovalStatus is the lifecycle of an ERC-20 allowance grant.
type ApprovalStatus string

const (
	ApprovalRequested ApprovalStatus = "requested"
	ApprovalSubmitted ApprovalStatus = "submitted"
	ApprovalConfirmed ApprovalStatus = "confirmed"
	ApprovalFailed    ApprovalStatus = "failed"
)

// Approval tracks how much of a token a wallet has granted to a spender
// (the swap router). A confirmed approval gates swap submission; checking it
// here avoids an allowance RPC on every swap.
type Approval struct {
	aggregate
	state approvalState
}

type approvalState struct {
	WalletID      uuid.UUID      `json:"wallet_id"`
	TokenID       uuid.UUID      `json:"token_id"`
	TransactionID uuid.UUID      `json:"transaction_id,omitempty"`
	Spender       Address        `json:"spender"`
	Amount        Amount         `json:"amount"`
	Status        ApprovalStatus `json:"status"`
}

type approvalSubmittedPayload struct {
	TransactionID uuid.UUID `json:"transaction_id"`
}

type approvalConfirmedPayload struct {
	Amount Amount `json:"amount"`
}

type approvalFailedPayload struct {
	Reason string `json:"reason"`
}

// EmptyApproval returns a zero-state approval for rehydration.
func EmptyApproval(id uuid.UUID) *Approval {
	return &Approval{aggregate: aggregate{id: id, typ: AggregateApproval}}
}

// NewApproval requests an allowance of amount for spender.
func NewApproval(id, walletID, tokenID uuid.UUID, spender Address, amount Amount) (*Approval, error) {
	if spender.IsNative() {
		return nil, Validationf("approval spender address is required")
	}
	if amount.IsZero() {
		return nil, Validationf("approval amount must be positive")
	}
	a := EmptyApproval(id)
	err := a.raise(a, EventApprovalRequested, approvalState{
		WalletID: walletID,
		TokenID:  tokenID,
		Spender:  spender,
		Amount:   amount,
		Status:   ApprovalRequested,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Approval) WalletID() uuid.UUID      { return a.state.WalletID }
func (a *Approval) TokenID() uuid.UUID       { return a.state.TokenID }
func (a *Approval) TransactionID() uuid.UUID { return a.state.TransactionID }
func (a *Approval) Spender() Address         { return a.state.Spender }
func (a *Approval) Amount() Amount           { return a.state.Amount }
func (a *Approval) Status() ApprovalStatus   { return a.state.Status }

// SufficientFor reports whether a confirmed allowance covers required.
func (a *Approval) SufficientFor(required Amount) bool {
	return a.state.Status == ApprovalConfirmed && a.state.Amount.Cmp(required) >= 0
}

// MarkSubmitted records the approval transaction going on-chain. The
// transaction id lets the reconciler route the receipt outcome back here.
func (a *Approval) MarkSubmitted(transactionID uuid.UUID) error {
	if a.state.Status != ApprovalRequested {
		return invalidTransition(AggregateApproval, string(a.state.Status), string(ApprovalSubmitted))
	}
	if transactionID == uuid.Nil {
		return Validationf("approval submission needs a transaction id")
	}
	return a.raise(a, EventApprovalSubmitted, approvalSubmittedPayload{TransactionID: transactionID})
}

// Confirm records the on-chain allowance after the approval tx confirmed.
func (a *Approval) Confirm(amount Amount) error {
	if a.state.Status != ApprovalSubmitted {
		return invalidTransition(AggregateApproval, string(a.state.Status), string(ApprovalConfirmed))
	}
	return a.raise(a, EventApprovalConfirmed, approvalConfirmedPayload{Amount: amount})
}

// Fail marks the approval as failed with a reason.
func (a *Approval) Fail(reason string) error {
	if a.state.Status == ApprovalConfirmed || a.state.Status == ApprovalFailed {
		return invalidTransition(AggregateApproval, string(a.state.Status), string(ApprovalFailed))
	}
	return a.raise(a, EventApprovalFailed, approvalFailedPayload{Reason: reason})
}

// Apply folds one approval event into state.
func (a *Approval) Apply(e Event) error {
	switch e.Type {
	case EventApprovalRequested:
		if err := e.Decode(&a.state); err != nil {
			return err
		}
	case EventApprovalSubmitted:
		var p approvalSubmittedPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		a.state.TransactionID = p.TransactionID
		a.state.Status = ApprovalSubmitted
	case EventApprovalConfirmed:
		var p approvalConfirmedPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		a.state.Amount = p.Amount
		a.state.Status = ApprovalConfirmed
	case EventApprovalFailed:
		a.state.Status = ApprovalFailed
	default:
		return Validationf("unknown approval event %q", e.Type)
	}
	a.applied(e)
	return nil
}

func (a *Approval) Snapshot() (any, error) { return a.state, nil }

func (a *Approval) RestoreSnapshot(data []byte, v uint64) error {
	if err := unmarshalSnapshot(data, &a.state); err != nil {
		return err
	}
	a.version = v
	return nil
}

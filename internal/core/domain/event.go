package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Aggregate type tags, persisted alongside every event.
const (
	AggregateWallet      = "wallet"
	AggregateChain       = "chain"
	AggregateToken       = "token"
	AggregateApproval    = "approval"
	AggregateTransaction = "transaction"
	AggregateSwap        = "swap"
)

// Event type tags.
const (
	EventWalletCreated        = "wallet.created"
	EventWalletActivated      = "wallet.activated"
	EventWalletDeactivated    = "wallet.deactivated"
	EventNonceAllocated       = "wallet.nonce_allocated"
	EventChainAdded           = "chain.added"
	EventChainEndpointsSet    = "chain.endpoints_updated"
	EventTokenAdded           = "token.added"
	EventApprovalRequested    = "approval.requested"
	EventApprovalSubmitted    = "approval.submitted"
	EventApprovalConfirmed    = "approval.confirmed"
	EventApprovalFailed       = "approval.failed"
	EventTransactionCreated   = "transaction.created"
	EventTransactionSubmitted = "transaction.submitted"
	EventTransactionPending   = "transaction.pending"
	EventTransactionConfirmed = "transaction.confirmed"
	EventTransactionReverted  = "transaction.reverted"
	EventTransactionFailed    = "transaction.failed"
	EventSwapCreated          = "swap.created"
	EventSwapCompleted        = "swap.completed"
	EventSwapFailed           = "swap.failed"
)

// Event is an immutable record of one aggregate mutation. Sequence numbers
// are contiguous per aggregate and start at 1.
type Event struct {
	ID            uuid.UUID       `json:"id"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Type          string          `json:"type"`
	Sequence      uint64          `json:"sequence"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Aggregate is the capability shared by every event-sourced entity: expose
// identity and version, stage events on mutation, and fold events back into
// state during rehydration.
type Aggregate interface {
	AggregateID() uuid.UUID
	AggregateType() string

	// Version is the sequence number of the last applied event.
	Version() uint64

	// PendingEvents returns staged, uncommitted events in emission order.
	PendingEvents() []Event

	// ClearPendingEvents drops staged events after a successful commit.
	ClearPendingEvents()

	// Apply folds one event into state. It must be a pure state transition,
	// deterministic and replay-safe from any snapshot point.
	Apply(Event) error
}

// aggregate carries the identity, version and pending-event bookkeeping
// embedded by every concrete aggregate.
type aggregate struct {
	id      uuid.UUID
	typ     string
	version uint64
	pending []Event
}

func (a *aggregate) AggregateID() uuid.UUID { return a.id }
func (a *aggregate) AggregateType() string  { return a.typ }
func (a *aggregate) Version() uint64        { return a.version }
func (a *aggregate) PendingEvents() []Event { return a.pending }
func (a *aggregate) ClearPendingEvents()    { a.pending = nil }

// raise applies a new event through the concrete Apply and stages it for
// commit. self must be the embedding aggregate.
func (a *aggregate) raise(self Aggregate, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	e := Event{
		ID:            uuid.New(),
		AggregateID:   a.id,
		AggregateType: a.typ,
		Type:          eventType,
		Sequence:      a.version + 1,
		Payload:       data,
		OccurredAt:    time.Now().UTC(),
	}
	if err := self.Apply(e); err != nil {
		return err
	}
	a.pending = append(a.pending, e)
	return nil
}

// applied bumps the version after a successful fold step. Concrete Apply
// implementations call it last.
func (a *aggregate) applied(e Event) {
	a.version = e.Sequence
}

// Replay folds a history onto an aggregate, verifying the sequence is
// gapless from the aggregate's current version.
func Replay(a Aggregate, history []Event) error {
	for _, e := range history {
		if e.Sequence != a.Version()+1 {
			return fmt.Errorf("event sequence gap on %s %s: have %d, next event %d",
				a.AggregateType(), a.AggregateID(), a.Version(), e.Sequence)
		}
		if err := a.Apply(e); err != nil {
			return err
		}
	}
	return nil
}

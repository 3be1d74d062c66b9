package domain

import (
	"time"

	"github.com/google/uuid"
)

// SwapStatus mirrors the transaction's terminal states.
type SwapStatus string

const (
	SwapPlanned   SwapStatus = "planned"
	SwapCompleted SwapStatus = "completed"
	SwapReverted  SwapStatus = "reverted"
	SwapFailed    SwapStatus = "failed"
)

// Swap is the trade intent behind exactly one Transaction: tokens, amounts,
// the planned route, and the protection parameters.
type Swap struct {
	aggregate
	state swapState
}

type swapState struct {
	TransactionID uuid.UUID         `json:"transaction_id"`
	TokenIn       uuid.UUID         `json:"token_in"`
	TokenOut      uuid.UUID         `json:"token_out"`
	AmountIn      Amount            `json:"amount_in"`
	AmountOutMin  Amount            `json:"amount_out_min"`
	AmountOut     *Amount           `json:"amount_out,omitempty"`
	Route         Route             `json:"route"`
	SlippagePct   string            `json:"slippage_pct"`
	Deadline      time.Time         `json:"deadline"`
	Status        SwapStatus        `json:"status"`
	FailReason    string            `json:"fail_reason,omitempty"`
}

type swapCreatedPayload struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	TokenIn       uuid.UUID `json:"token_in"`
	TokenOut      uuid.UUID `json:"token_out"`
	AmountIn      Amount    `json:"amount_in"`
	AmountOutMin  Amount    `json:"amount_out_min"`
	Route         Route     `json:"route"`
	SlippagePct   string    `json:"slippage_pct"`
	Deadline      time.Time `json:"deadline"`
}

type swapCompletedPayload struct {
	AmountOut Amount `json:"amount_out"`
}

type swapFailedPayload struct {
	Reason   string `json:"reason"`
	Reverted bool   `json:"reverted"`
}

// EmptySwap returns a zero-state swap for rehydration.
func EmptySwap(id uuid.UUID) *Swap {
	return &Swap{aggregate: aggregate{id: id, typ: AggregateSwap}}
}

// SwapSpec carries the validated inputs for NewSwap.
type SwapSpec struct {
	TransactionID uuid.UUID
	TokenIn       uuid.UUID
	TokenOut      uuid.UUID
	TokenInAddr   Address
	TokenOutAddr  Address
	AmountIn      Amount
	QuotedOut     Amount
	Route         Route
	Slippage      SlippageTolerance
	Deadline      Deadline
}

// NewSwap validates the spec, derives amountOutMin from the quote and the
// slippage tolerance, and stages the swap.
func NewSwap(id uuid.UUID, spec SwapSpec) (*Swap, error) {
	if spec.TokenIn == spec.TokenOut {
		return nil, Validationf("token-in and token-out are the same")
	}
	if spec.AmountIn.IsZero() {
		return nil, Validationf("amount-in must be positive")
	}
	if err := spec.Route.Validate(spec.TokenInAddr, spec.TokenOutAddr); err != nil {
		return nil, err
	}
	s := EmptySwap(id)
	err := s.raise(s, EventSwapCreated, swapCreatedPayload{
		TransactionID: spec.TransactionID,
		TokenIn:       spec.TokenIn,
		TokenOut:      spec.TokenOut,
		AmountIn:      spec.AmountIn,
		AmountOutMin:  spec.Slippage.ApplyTo(spec.QuotedOut),
		Route:         spec.Route,
		SlippagePct:   spec.Slippage.String(),
		Deadline:      spec.Deadline.Time(),
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Swap) TransactionID() uuid.UUID { return s.state.TransactionID }
func (s *Swap) TokenIn() uuid.UUID       { return s.state.TokenIn }
func (s *Swap) TokenOut() uuid.UUID      { return s.state.TokenOut }
func (s *Swap) AmountIn() Amount         { return s.state.AmountIn }
func (s *Swap) AmountOutMin() Amount     { return s.state.AmountOutMin }
func (s *Swap) AmountOut() *Amount       { return s.state.AmountOut }
func (s *Swap) Route() Route             { return s.state.Route }
func (s *Swap) SlippagePct() string      { return s.state.SlippagePct }
func (s *Swap) Deadline() time.Time      { return s.state.Deadline }
func (s *Swap) Status() SwapStatus       { return s.state.Status }

// Complete records the executed output amount after confirmation.
func (s *Swap) Complete(amountOut Amount) error {
	if s.state.Status != SwapPlanned {
		return invalidTransition(AggregateSwap, string(s.state.Status), string(SwapCompleted))
	}
	return s.raise(s, EventSwapCompleted, swapCompletedPayload{AmountOut: amountOut})
}

// Fail closes the swap; reverted distinguishes an on-chain revert from a
// submission failure or timeout.
func (s *Swap) Fail(reason string, reverted bool) error {
	if s.state.Status != SwapPlanned {
		return invalidTransition(AggregateSwap, string(s.state.Status), string(SwapFailed))
	}
	return s.raise(s, EventSwapFailed, swapFailedPayload{Reason: reason, Reverted: reverted})
}

// Apply folds one swap event into state.
func (s *Swap) Apply(e Event) error {
	switch e.Type {
	case EventSwapCreated:
		var p swapCreatedPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		s.state = swapState{
			TransactionID: p.TransactionID,
			TokenIn:       p.TokenIn,
			TokenOut:      p.TokenOut,
			AmountIn:      p.AmountIn,
			AmountOutMin:  p.AmountOutMin,
			Route:         p.Route,
			SlippagePct:   p.SlippagePct,
			Deadline:      p.Deadline,
			Status:        SwapPlanned,
		}
	case EventSwapCompleted:
		var p swapCompletedPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		out := p.AmountOut
		s.state.AmountOut = &out
		s.state.Status = SwapCompleted
	case EventSwapFailed:
		var p swapFailedPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		s.state.FailReason = p.Reason
		if p.Reverted {
			s.state.Status = SwapReverted
		} else {
			s.state.Status = SwapFailed
		}
	default:
		return Validationf("unknown swap event %q", e.Type)
	}
	s.applied(e)
	return nil
}

func (s *Swap) Snapshot() (any, error) { return s.state, nil }

func (s *Swap) RestoreSnapshot(data []byte, v uint64) error {
	if err := unmarshalSnapshot(data, &s.state); err != nil {
		return err
	}
	s.version = v
	return nil
}

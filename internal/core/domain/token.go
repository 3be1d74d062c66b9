package domain

import (
	"github.com/google/uuid"
)

// Token is a tradable asset on the chain. Immutable after creation; native
// assets carry an empty contract address.
type Token struct {
	aggregate
	state tokenState
}

type tokenState struct {
	ChainID  uuid.UUID `json:"chain_id"`
	Contract Address   `json:"contract"`
	Symbol   Symbol    `json:"symbol"`
	Decimals uint8     `json:"decimals"`
	Native   bool      `json:"native"`
}

// EmptyToken returns a zero-state token for rehydration.
func EmptyToken(id uuid.UUID) *Token {
	return &Token{aggregate: aggregate{id: id, typ: AggregateToken}}
}

// NewToken registers a token. contract must be empty iff native.
func NewToken(id, chainID uuid.UUID, contract Address, symbol Symbol, decimals uint8, native bool) (*Token, error) {
	if native != contract.IsNative() {
		return nil, Validationf("native flag and contract address disagree for token %s", symbol)
	}
	if decimals > 30 {
		return nil, Validationf("implausible decimals %d for token %s", decimals, symbol)
	}
	t := EmptyToken(id)
	err := t.raise(t, EventTokenAdded, tokenState{
		ChainID:  chainID,
		Contract: contract,
		Symbol:   symbol,
		Decimals: decimals,
		Native:   native,
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Token) ChainID() uuid.UUID { return t.state.ChainID }
func (t *Token) Contract() Address  { return t.state.Contract }
func (t *Token) Symbol() Symbol     { return t.state.Symbol }
func (t *Token) Decimals() uint8    { return t.state.Decimals }
func (t *Token) Native() bool       { return t.state.Native }

// Apply folds one token event into state.
func (t *Token) Apply(e Event) error {
	switch e.Type {
	case EventTokenAdded:
		if err := e.Decode(&t.state); err != nil {
			return err
		}
	default:
		return Validationf("unknown token event %q", e.Type)
	}
	t.applied(e)
	return nil
}

func (t *Token) Snapshot() (any, error) { return t.state, nil }

func (t *Token) RestoreSnapshot(data []byte, v uint64) error {
	if err := unmarshalSnapshot(data, &t.state); err != nil {
		return err
	}
	t.version = v
	return nil
}

package domain

import (
	"github.com/google/uuid"
)

// Chain describes the single network the engine operates on: its numeric id
// and the ordered RPC endpoint list used for failover (primary first).
type Chain struct {
	aggregate
	state chainState
}

type chainState struct {
	NetworkID    uint64   `json:"network_id"`
	Name         string   `json:"name"`
	NativeSymbol Symbol   `json:"native_symbol"`
	Endpoints    []string `json:"endpoints"`
}

type chainEndpointsPayload struct {
	Endpoints []string `json:"endpoints"`
}

// EmptyChain returns a zero-state chain for rehydration.
func EmptyChain(id uuid.UUID) *Chain {
	return &Chain{aggregate: aggregate{id: id, typ: AggregateChain}}
}

// NewChain registers a chain with at least one RPC endpoint.
func NewChain(id uuid.UUID, networkID uint64, name string, native Symbol, endpoints []string) (*Chain, error) {
	if networkID == 0 {
		return nil, Validationf("chain network id is required")
	}
	if len(endpoints) == 0 {
		return nil, Validationf("chain %s needs at least one RPC endpoint", name)
	}
	c := EmptyChain(id)
	err := c.raise(c, EventChainAdded, chainState{
		NetworkID:    networkID,
		Name:         name,
		NativeSymbol: native,
		Endpoints:    endpoints,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Chain) NetworkID() uint64    { return c.state.NetworkID }
func (c *Chain) Name() string         { return c.state.Name }
func (c *Chain) NativeSymbol() Symbol { return c.state.NativeSymbol }

// Endpoints returns the ordered failover list; callers must not mutate it.
func (c *Chain) Endpoints() []string { return c.state.Endpoints }

// SetEndpoints replaces the failover list, keeping order significant.
func (c *Chain) SetEndpoints(endpoints []string) error {
	if len(endpoints) == 0 {
		return Validationf("chain %s needs at least one RPC endpoint", c.state.Name)
	}
	return c.raise(c, EventChainEndpointsSet, chainEndpointsPayload{Endpoints: endpoints})
}

// Apply folds one chain event into state.
func (c *Chain) Apply(e Event) error {
	switch e.Type {
	case EventChainAdded:
		if err := e.Decode(&c.state); err != nil {
			return err
		}
	case EventChainEndpointsSet:
		var p chainEndpointsPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		c.state.Endpoints = p.Endpoints
	default:
		return Validationf("unknown chain event %q", e.Type)
	}
	c.applied(e)
	return nil
}

func (c *Chain) Snapshot() (any, error) { return c.state, nil }

func (c *Chain) RestoreSnapshot(data []byte, v uint64) error {
	if err := unmarshalSnapshot(data, &c.state); err != nil {
		return err
	}
	c.version = v
	return nil
}

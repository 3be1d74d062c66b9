package domain

import (
	"time"

	"github.com/google/uuid"
)

// Wallet owns nonce allocation for one on-chain account. The private key is
// encrypted at creation and referenced here by vault key id only.
type Wallet struct {
	aggregate
	state walletState
}

type walletState struct {
	Address   Address   `json:"address"`
	KeyRef    string    `json:"key_ref"`
	NextNonce Nonce     `json:"next_nonce"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type walletCreatedPayload struct {
	Address   Address   `json:"address"`
	KeyRef    string    `json:"key_ref"`
	CreatedAt time.Time `json:"created_at"`
}

type nonceAllocatedPayload struct {
	Nonce Nonce `json:"nonce"`
}

// EmptyWallet returns a zero-state wallet for rehydration.
func EmptyWallet(id uuid.UUID) *Wallet {
	return &Wallet{aggregate: aggregate{id: id, typ: AggregateWallet}}
}

// NewWallet creates an active wallet with its nonce counter at zero.
func NewWallet(id uuid.UUID, address Address, keyRef string) (*Wallet, error) {
	if address.IsNative() {
		return nil, Validationf("wallet address is required")
	}
	if keyRef == "" {
		return nil, Validationf("wallet key reference is required")
	}
	w := EmptyWallet(id)
	err := w.raise(w, EventWalletCreated, walletCreatedPayload{
		Address:   address,
		KeyRef:    keyRef,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Wallet) Address() Address { return w.state.Address }
func (w *Wallet) KeyRef() string   { return w.state.KeyRef }
func (w *Wallet) Active() bool     { return w.state.Active }

// NextNonce is the nonce the next allocation will return.
func (w *Wallet) NextNonce() Nonce { return w.state.NextNonce }

// AllocateNonce consumes the next nonce. Allocation is an event so the
// counter advance commits atomically with the transaction that uses it;
// a failed submission never returns its nonce to the pool.
func (w *Wallet) AllocateNonce() (Nonce, error) {
	if !w.state.Active {
		return 0, Validationf("wallet %s is not active", w.id)
	}
	n := w.state.NextNonce
	if err := w.raise(w, EventNonceAllocated, nonceAllocatedPayload{Nonce: n}); err != nil {
		return 0, err
	}
	return n, nil
}

// Activate re-enables the wallet. No-op when already active.
func (w *Wallet) Activate() error {
	if w.state.Active {
		return nil
	}
	return w.raise(w, EventWalletActivated, struct{}{})
}

// Deactivate disables the wallet for new submissions. No-op when inactive.
func (w *Wallet) Deactivate() error {
	if !w.state.Active {
		return nil
	}
	return w.raise(w, EventWalletDeactivated, struct{}{})
}

// Apply folds one wallet event into state.
func (w *Wallet) Apply(e Event) error {
	switch e.Type {
	case EventWalletCreated:
		var p walletCreatedPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		w.state = walletState{
			Address:   p.Address,
			KeyRef:    p.KeyRef,
			Active:    true,
			CreatedAt: p.CreatedAt,
		}
	case EventNonceAllocated:
		var p nonceAllocatedPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		w.state.NextNonce = p.Nonce + 1
	case EventWalletActivated:
		w.state.Active = true
	case EventWalletDeactivated:
		w.state.Active = false
	default:
		return Validationf("unknown wallet event %q", e.Type)
	}
	w.applied(e)
	return nil
}

// Snapshot serializes current state for the snapshot table.
func (w *Wallet) Snapshot() (any, error) { return w.state, nil }

// RestoreSnapshot loads state captured at version v.
func (w *Wallet) RestoreSnapshot(data []byte, v uint64) error {
	if err := unmarshalSnapshot(data, &w.state); err != nil {
		return err
	}
	w.version = v
	return nil
}

// Package query is the read side: current aggregate state views and lazily
// paginated per-aggregate event streams. Reads never gate writes; a lagging
// replica only makes views stale, never blocks a command.
package query

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/swapd/internal/core/domain"
)

// Store is the read surface the API needs; the postgres store satisfies it.
type Store interface {
	LoadWallet(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	LoadTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	LoadSwap(ctx context.Context, id uuid.UUID) (*domain.Swap, error)
	LoadApproval(ctx context.Context, id uuid.UUID) (*domain.Approval, error)
	Events(ctx context.Context, aggregateID uuid.UUID, afterSeq uint64, limit int) ([]domain.Event, error)
}

// API exposes read access.
type API struct {
	store Store
}

func NewAPI(store Store) *API {
	return &API{store: store}
}

// WalletView is the wallet's current state.
type WalletView struct {
	ID        uuid.UUID      `json:"id"`
	Address   domain.Address `json:"address"`
	NextNonce domain.Nonce   `json:"next_nonce"`
	Active    bool           `json:"active"`
	Version   uint64         `json:"version"`
}

func (a *API) Wallet(ctx context.Context, id uuid.UUID) (*WalletView, error) {
	w, err := a.store.LoadWallet(ctx, id)
	if err != nil {
		return nil, err
	}
	return &WalletView{
		ID:        id,
		Address:   w.Address(),
		NextNonce: w.NextNonce(),
		Active:    w.Active(),
		Version:   w.Version(),
	}, nil
}

// TransactionView is the transaction's current state.
type TransactionView struct {
	ID          uuid.UUID       `json:"id"`
	WalletID    uuid.UUID       `json:"wallet_id"`
	ChainID     uuid.UUID       `json:"chain_id"`
	Kind        domain.TxKind   `json:"kind"`
	Status      domain.TxStatus `json:"status"`
	Nonce       domain.Nonce    `json:"nonce"`
	Hash        domain.TxHash   `json:"hash,omitempty"`
	GasLimit    uint64          `json:"gas_limit,omitempty"`
	GasUsed     uint64          `json:"gas_used,omitempty"`
	BlockNumber uint64          `json:"block_number,omitempty"`
	RetryCount  int             `json:"retry_count"`
	FailReason  string          `json:"fail_reason,omitempty"`
	SubmittedAt *time.Time      `json:"submitted_at,omitempty"`
}

func (a *API) Transaction(ctx context.Context, id uuid.UUID) (*TransactionView, error) {
	tx, err := a.store.LoadTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	return &TransactionView{
		ID:          id,
		WalletID:    tx.WalletID(),
		ChainID:     tx.ChainID(),
		Kind:        tx.Kind(),
		Status:      tx.Status(),
		Nonce:       tx.Nonce(),
		Hash:        tx.Hash(),
		GasLimit:    tx.GasLimit(),
		GasUsed:     tx.GasUsed(),
		BlockNumber: tx.BlockNumber(),
		RetryCount:  tx.RetryCount(),
		FailReason:  tx.FailReason(),
		SubmittedAt: tx.SubmittedAt(),
	}, nil
}

// SwapView is the swap's current state.
type SwapView struct {
	ID            uuid.UUID         `json:"id"`
	TransactionID uuid.UUID         `json:"transaction_id"`
	TokenIn       uuid.UUID         `json:"token_in"`
	TokenOut      uuid.UUID         `json:"token_out"`
	AmountIn      domain.Amount     `json:"amount_in"`
	AmountOutMin  domain.Amount     `json:"amount_out_min"`
	AmountOut     *domain.Amount    `json:"amount_out,omitempty"`
	Route         domain.Route      `json:"route"`
	SlippagePct   string            `json:"slippage_pct"`
	Deadline      time.Time         `json:"deadline"`
	Status        domain.SwapStatus `json:"status"`
}

func (a *API) Swap(ctx context.Context, id uuid.UUID) (*SwapView, error) {
	s, err := a.store.LoadSwap(ctx, id)
	if err != nil {
		return nil, err
	}
	return &SwapView{
		ID:            id,
		TransactionID: s.TransactionID(),
		TokenIn:       s.TokenIn(),
		TokenOut:      s.TokenOut(),
		AmountIn:      s.AmountIn(),
		AmountOutMin:  s.AmountOutMin(),
		AmountOut:     s.AmountOut(),
		Route:         s.Route(),
		SlippagePct:   s.SlippagePct(),
		Deadline:      s.Deadline(),
		Status:        s.Status(),
	}, nil
}

// ApprovalView is the approval's current state.
type ApprovalView struct {
	ID            uuid.UUID             `json:"id"`
	WalletID      uuid.UUID             `json:"wallet_id"`
	TokenID       uuid.UUID             `json:"token_id"`
	TransactionID uuid.UUID             `json:"transaction_id,omitempty"`
	Spender       domain.Address        `json:"spender"`
	Amount        domain.Amount         `json:"amount"`
	Status        domain.ApprovalStatus `json:"status"`
}

func (a *API) Approval(ctx context.Context, id uuid.UUID) (*ApprovalView, error) {
	ap, err := a.store.LoadApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ApprovalView{
		ID:            id,
		WalletID:      ap.WalletID(),
		TokenID:       ap.TokenID(),
		TransactionID: ap.TransactionID(),
		Spender:       ap.Spender(),
		Amount:        ap.Amount(),
		Status:        ap.Status(),
	}, nil
}

// Events returns one page of an aggregate's events with sequence > afterSeq.
func (a *API) Events(ctx context.Context, aggregateID uuid.UUID, afterSeq uint64, limit int) ([]domain.Event, error) {
	return a.store.Events(ctx, aggregateID, afterSeq, limit)
}

// EventStream walks one aggregate's event history in sequence order, fetching
// pages on demand. Ordering holds per aggregate only; there is no global
// cross-aggregate order.
type EventStream struct {
	api         *API
	aggregateID uuid.UUID
	pageSize    int

	buf      []domain.Event
	afterSeq uint64
	drained  bool
}

// Stream opens a lazy event stream starting after afterSeq.
func (a *API) Stream(aggregateID uuid.UUID, afterSeq uint64, pageSize int) *EventStream {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &EventStream{
		api:         a,
		aggregateID: aggregateID,
		pageSize:    pageSize,
		afterSeq:    afterSeq,
	}
}

// Next returns the next event, or ok=false when the stream is exhausted at
// the time of the call.
func (s *EventStream) Next(ctx context.Context) (domain.Event, bool, error) {
	if len(s.buf) == 0 {
		if s.drained {
			return domain.Event{}, false, nil
		}
		page, err := s.api.Events(ctx, s.aggregateID, s.afterSeq, s.pageSize)
		if err != nil {
			return domain.Event{}, false, err
		}
		if len(page) == 0 {
			s.drained = true
			return domain.Event{}, false, nil
		}
		if len(page) < s.pageSize {
			s.drained = true
		}
		s.buf = page
		s.afterSeq = page[len(page)-1].Sequence
	}

	e := s.buf[0]
	s.buf = s.buf[1:]
	return e, true, nil
}

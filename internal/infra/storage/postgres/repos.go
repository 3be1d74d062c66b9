package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/vietddude/swapd/internal/core/domain"
)

// Typed loaders over the aggregate store.

func (db *DB) LoadWallet(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	w := domain.EmptyWallet(id)
	if err := db.Load(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

func (db *DB) LoadChain(ctx context.Context, id uuid.UUID) (*domain.Chain, error) {
	c := domain.EmptyChain(id)
	if err := db.Load(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (db *DB) LoadToken(ctx context.Context, id uuid.UUID) (*domain.Token, error) {
	tok := domain.EmptyToken(id)
	if err := db.Load(ctx, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

func (db *DB) LoadTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	tx := domain.EmptyTransaction(id)
	if err := db.Load(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (db *DB) LoadSwap(ctx context.Context, id uuid.UUID) (*domain.Swap, error) {
	s := domain.EmptySwap(id)
	if err := db.Load(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (db *DB) LoadApproval(ctx context.Context, id uuid.UUID) (*domain.Approval, error) {
	a := domain.EmptyApproval(id)
	if err := db.Load(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// SwapIDForTransaction resolves the swap driven by a transaction.
func (db *DB) SwapIDForTransaction(ctx context.Context, txID uuid.UUID) (uuid.UUID, error) {
	return db.oneIDByState(ctx, domain.AggregateSwap, map[string]any{"transaction_id": txID.String()})
}

// ApprovalIDForTransaction resolves the approval driven by a transaction.
func (db *DB) ApprovalIDForTransaction(ctx context.Context, txID uuid.UUID) (uuid.UUID, error) {
	return db.oneIDByState(ctx, domain.AggregateApproval, map[string]any{"transaction_id": txID.String()})
}

func (db *DB) oneIDByState(ctx context.Context, aggType string, filter map[string]any) (uuid.UUID, error) {
	ids, err := db.AggregateIDsByType(ctx, aggType, filter)
	if err != nil {
		return uuid.Nil, err
	}
	if len(ids) == 0 {
		return uuid.Nil, fmt.Errorf("%w: %s matching %v", ErrNotFound, aggType, filter)
	}
	return ids[0], nil
}

// ApprovalFor returns the most recent approval a wallet granted a spender
// over a token, or nil when none exists.
func (db *DB) ApprovalFor(ctx context.Context, walletID, tokenID uuid.UUID, spender domain.Address) (*domain.Approval, error) {
	ids, err := db.AggregateIDsByType(ctx, domain.AggregateApproval, map[string]any{
		"wallet_id": walletID.String(),
		"token_id":  tokenID.String(),
		"spender":   spender.String(),
	})
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return db.LoadApproval(ctx, ids[len(ids)-1])
}

// OpenTransactionIDs lists transactions awaiting a receipt, for the
// reconciler's scan.
func (db *DB) OpenTransactionIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, status := range []domain.TxStatus{domain.TxSubmitted, domain.TxPending} {
		batch, err := db.AggregateIDsByType(ctx, domain.AggregateTransaction,
			map[string]any{"status": string(status)})
		if err != nil {
			return nil, err
		}
		ids = append(ids, batch...)
	}
	return ids, nil
}

// SaveAll persists a group of aggregates in one atomic unit of work.
func (db *DB) SaveAll(ctx context.Context, aggs ...domain.Aggregate) error {
	uow, err := db.NewUnitOfWork(ctx)
	if err != nil {
		return err
	}
	defer uow.Rollback()

	for _, agg := range aggs {
		if err := uow.Save(ctx, agg); err != nil {
			return err
		}
	}
	if err := uow.Commit(); err != nil {
		return err
	}
	for _, agg := range aggs {
		agg.ClearPendingEvents()
	}
	return nil
}

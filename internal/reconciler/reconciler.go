// Package reconciler closes the loop between submitted transactions and chain
// truth: it polls receipts for every open transaction, drives the transaction
// lifecycle to its terminal state, and settles the swap or approval behind it.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/swapd/internal/core/domain"
	"github.com/vietddude/swapd/internal/infra/chainrpc"
	"github.com/vietddude/swapd/internal/metrics"
)

// Store is the persistence surface the reconciler needs.
type Store interface {
	OpenTransactionIDs(ctx context.Context) ([]uuid.UUID, error)
	LoadTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	LoadSwap(ctx context.Context, id uuid.UUID) (*domain.Swap, error)
	LoadApproval(ctx context.Context, id uuid.UUID) (*domain.Approval, error)
	SwapIDForTransaction(ctx context.Context, txID uuid.UUID) (uuid.UUID, error)
	ApprovalIDForTransaction(ctx context.Context, txID uuid.UUID) (uuid.UUID, error)
	SaveAll(ctx context.Context, aggs ...domain.Aggregate) error
}

// ChainClient fetches receipts.
type ChainClient interface {
	TransactionReceipt(ctx context.Context, hash domain.TxHash) (*chainrpc.Receipt, error)
}

// Config holds reconciler settings.
type Config struct {
	// PollInterval is the receipt poll cadence, default 5s.
	PollInterval time.Duration `yaml:"poll_interval"`
	// Grace extends a swap's deadline for receipt propagation, default 30s.
	// A swap mined after its deadline reverts on-chain, so the grace only
	// covers the window between mining and receipt visibility.
	Grace time.Duration `yaml:"grace"`
	// ApprovalTimeout bounds approval confirmation waits, default 10m.
	ApprovalTimeout time.Duration `yaml:"approval_timeout"`
}

func (c Config) normalized() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.Grace <= 0 {
		c.Grace = 30 * time.Second
	}
	if c.ApprovalTimeout <= 0 {
		c.ApprovalTimeout = 10 * time.Minute
	}
	return c
}

// Reconciler tracks open transactions until they reach a terminal state.
type Reconciler struct {
	store Store
	chain ChainClient
	cfg   Config
	log   *slog.Logger

	mu      sync.Mutex
	tracked map[uuid.UUID]struct{}
	wg      sync.WaitGroup
}

// New creates a reconciler.
func New(store Store, chain ChainClient, cfg Config) *Reconciler {
	return &Reconciler{
		store:   store,
		chain:   chain,
		cfg:     cfg.normalized(),
		log:     slog.With("component", "reconciler"),
		tracked: make(map[uuid.UUID]struct{}),
	}
}

// Run scans for open transactions and tracks each until terminal. Blocks
// until ctx is cancelled and all trackers have drained.
func (r *Reconciler) Run(ctx context.Context) error {
	r.log.Info("reconciler started", "poll_interval", r.cfg.PollInterval)
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	r.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			r.log.Info("reconciler stopped")
			return nil
		case <-ticker.C:
			r.scan(ctx)
		}
	}
}

// scan picks up open transactions that no tracker owns yet. Crash recovery
// falls out of this: after a restart the first scan re-adopts everything
// still awaiting a receipt.
func (r *Reconciler) scan(ctx context.Context) {
	ids, err := r.store.OpenTransactionIDs(ctx)
	if err != nil {
		r.log.Error("scan open transactions", "error", err)
		return
	}
	for _, id := range ids {
		r.mu.Lock()
		_, busy := r.tracked[id]
		if !busy {
			r.tracked[id] = struct{}{}
		}
		r.mu.Unlock()
		if busy {
			continue
		}

		r.wg.Add(1)
		metrics.ReconcilerTracked.Inc()
		go func(id uuid.UUID) {
			defer func() {
				r.mu.Lock()
				delete(r.tracked, id)
				r.mu.Unlock()
				metrics.ReconcilerTracked.Dec()
				r.wg.Done()
			}()
			if err := r.track(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
				r.log.Error("track transaction", "tx_id", id, "error", err)
			}
		}(id)
	}
}

// track polls one transaction's receipt until confirmation, revert, or its
// deadline passes.
func (r *Reconciler) track(ctx context.Context, txID uuid.UUID) error {
	tx, err := r.store.LoadTransaction(ctx, txID)
	if err != nil {
		return err
	}
	if tx.Status().Terminal() {
		return nil
	}

	deadline, err := r.deadlineFor(ctx, tx)
	if err != nil {
		return err
	}
	trackCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := r.chain.TransactionReceipt(trackCtx, tx.Hash())
		switch {
		case errors.Is(err, chainrpc.ErrReceiptNotFound):
			if tx.Status() == domain.TxSubmitted {
				if err := tx.MarkPending(); err != nil {
					return err
				}
				if err := r.saveRetrying(ctx, txID, tx); err != nil {
					return err
				}
			}
		case err != nil:
			if trackCtx.Err() == nil {
				r.log.Warn("receipt poll failed", "tx_id", txID, "error", err)
			}
		default:
			return r.finalize(ctx, txID, receipt)
		}

		select {
		case <-trackCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return r.timeout(ctx, txID)
		case <-ticker.C:
		}
	}
}

// deadlineFor bounds the wait: the swap's own deadline plus grace, or the
// configured timeout for approvals, anchored at submission time.
func (r *Reconciler) deadlineFor(ctx context.Context, tx *domain.Transaction) (time.Time, error) {
	if tx.Kind() == domain.TxKindSwap {
		swapID, err := r.store.SwapIDForTransaction(ctx, tx.AggregateID())
		if err != nil {
			return time.Time{}, err
		}
		swap, err := r.store.LoadSwap(ctx, swapID)
		if err != nil {
			return time.Time{}, err
		}
		return swap.Deadline().Add(r.cfg.Grace), nil
	}

	anchor := time.Now()
	if at := tx.SubmittedAt(); at != nil {
		anchor = *at
	}
	return anchor.Add(r.cfg.ApprovalTimeout), nil
}

// finalize applies the receipt outcome to the transaction and its companion
// aggregate atomically.
func (r *Reconciler) finalize(ctx context.Context, txID uuid.UUID, receipt *chainrpc.Receipt) error {
	return r.withFreshState(ctx, txID, func(tx *domain.Transaction, swap *domain.Swap, approval *domain.Approval) error {
		if receipt.Success {
			if err := tx.Confirm(receipt.BlockNumber, receipt.GasUsed); err != nil {
				return err
			}
			if swap != nil {
				// amountOutMin is the contract-enforced floor, so the
				// recorded output is conservative.
				if err := swap.Complete(swap.AmountOutMin()); err != nil {
					return err
				}
			}
			if approval != nil {
				if err := approval.Confirm(approval.Amount()); err != nil {
					return err
				}
			}
			r.log.Info("transaction confirmed",
				"tx_id", txID, "block", receipt.BlockNumber, "gas_used", receipt.GasUsed)
			return nil
		}

		if err := tx.Revert(receipt.BlockNumber, receipt.GasUsed); err != nil {
			return err
		}
		if swap != nil {
			if err := swap.Fail("reverted on chain", true); err != nil {
				return err
			}
		}
		if approval != nil {
			if err := approval.Fail("reverted on chain"); err != nil {
				return err
			}
		}
		r.log.Warn("transaction reverted", "tx_id", txID, "block", receipt.BlockNumber)
		return nil
	})
}

// timeout fails a transaction whose deadline passed without a receipt.
func (r *Reconciler) timeout(ctx context.Context, txID uuid.UUID) error {
	return r.withFreshState(ctx, txID, func(tx *domain.Transaction, swap *domain.Swap, approval *domain.Approval) error {
		reason := fmt.Sprintf("%v", domain.ErrReconciliationTimeout)
		if err := tx.Fail(reason, tx.RetryCount()+1); err != nil {
			return err
		}
		if swap != nil {
			if err := swap.Fail(reason, false); err != nil {
				return err
			}
		}
		if approval != nil {
			if err := approval.Fail(reason); err != nil {
				return err
			}
		}
		r.log.Warn("transaction timed out awaiting receipt", "tx_id", txID)
		return nil
	})
}

// withFreshState reloads the transaction and its companion, applies mutate,
// and saves atomically, retrying on version races with concurrent writers.
func (r *Reconciler) withFreshState(ctx context.Context, txID uuid.UUID, mutate func(*domain.Transaction, *domain.Swap, *domain.Approval) error) error {
	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tx, err := r.store.LoadTransaction(ctx, txID)
		if err != nil {
			return err
		}
		if tx.Status().Terminal() {
			return nil
		}

		var (
			swap     *domain.Swap
			approval *domain.Approval
		)
		switch tx.Kind() {
		case domain.TxKindSwap:
			swapID, err := r.store.SwapIDForTransaction(ctx, txID)
			if err != nil {
				return err
			}
			if swap, err = r.store.LoadSwap(ctx, swapID); err != nil {
				return err
			}
		case domain.TxKindApproval:
			approvalID, err := r.store.ApprovalIDForTransaction(ctx, txID)
			if err != nil {
				return err
			}
			if approval, err = r.store.LoadApproval(ctx, approvalID); err != nil {
				return err
			}
		}

		if err := mutate(tx, swap, approval); err != nil {
			return err
		}

		aggs := []domain.Aggregate{tx}
		if swap != nil {
			aggs = append(aggs, swap)
		}
		if approval != nil {
			aggs = append(aggs, approval)
		}
		lastErr = r.store.SaveAll(ctx, aggs...)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, domain.ErrConcurrencyConflict) {
			return lastErr
		}
		metrics.ConcurrencyConflicts.Inc()
	}
	return lastErr
}

// saveRetrying persists one transaction, reloading on a version race. Used
// for the Submitted to Pending advance where losing the race is harmless.
func (r *Reconciler) saveRetrying(ctx context.Context, txID uuid.UUID, tx *domain.Transaction) error {
	err := r.store.SaveAll(ctx, tx)
	if err == nil || !errors.Is(err, domain.ErrConcurrencyConflict) {
		return err
	}
	metrics.ConcurrencyConflicts.Inc()
	fresh, loadErr := r.store.LoadTransaction(ctx, txID)
	if loadErr != nil {
		return loadErr
	}
	if fresh.Status().Terminal() || fresh.Status() != domain.TxSubmitted {
		return nil
	}
	if err := fresh.MarkPending(); err != nil {
		return err
	}
	return r.store.SaveAll(ctx, fresh)
}

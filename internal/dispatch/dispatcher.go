// Package dispatch is the single write entry point: a static registry maps
// command types to handlers, each executed with idempotency, per-wallet
// serialization via the submission lease, and bounded conflict retries.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/swapd/internal/core/domain"
	"github.com/vietddude/swapd/internal/executor"
	"github.com/vietddude/swapd/internal/metrics"
	"github.com/vietddude/swapd/internal/planner"
)

// Store is the persistence surface. CommandResult returns (nil, nil) for a
// fresh idempotency key; ApprovalFor returns (nil, nil) when no approval
// exists.
type Store interface {
	CommandResult(ctx context.Context, key string) (json.RawMessage, error)
	Begin(ctx context.Context) (UnitOfWork, error)

	LoadWallet(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	LoadChain(ctx context.Context, id uuid.UUID) (*domain.Chain, error)
	LoadToken(ctx context.Context, id uuid.UUID) (*domain.Token, error)
	LoadTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	LoadSwap(ctx context.Context, id uuid.UUID) (*domain.Swap, error)
	LoadApproval(ctx context.Context, id uuid.UUID) (*domain.Approval, error)
	SwapIDForTransaction(ctx context.Context, txID uuid.UUID) (uuid.UUID, error)
	ApprovalIDForTransaction(ctx context.Context, txID uuid.UUID) (uuid.UUID, error)
	ApprovalFor(ctx context.Context, walletID, tokenID uuid.UUID, spender domain.Address) (*domain.Approval, error)
}

// UnitOfWork is one atomic persistence scope.
type UnitOfWork interface {
	Save(ctx context.Context, agg domain.Aggregate) error
	StoreCommandResult(ctx context.Context, key, commandType string, result any) error
	Commit() error
	Rollback() error
}

// Leaser grants the wallet-scoped submission lease.
type Leaser interface {
	AcquireWalletLease(ctx context.Context, walletID, token string) (Lease, error)
}

// Lease is a held wallet lease.
type Lease interface {
	Release(ctx context.Context) error
}

// Submitter costs transactions outside the lease and signs and broadcasts
// them under it; the production implementation is the executor.
type Submitter interface {
	Router() domain.Address
	PrepareSwap(ctx context.Context, from domain.Address, swap *domain.Swap, recipient domain.Address) (*executor.Prepared, error)
	PrepareApproval(ctx context.Context, from domain.Address, approval *domain.Approval, tokenContract domain.Address) (*executor.Prepared, error)
	Submit(ctx context.Context, wallet *domain.Wallet, tx *domain.Transaction, prep *executor.Prepared) error
}

// PoolProvider supplies the liquidity snapshot routes are planned over.
type PoolProvider interface {
	ListPools(ctx context.Context, tokenIn domain.Address) ([]planner.Pool, error)
}

// RoutePlanner plans and quotes over a snapshot.
type RoutePlanner interface {
	BestRoute(pools []planner.Pool, tokenIn, tokenOut domain.Address) (domain.Route, error)
	Quote(pools []planner.Pool, route domain.Route, amountIn domain.Amount) (domain.Amount, error)
}

// KeyWriter stores new wallet key material.
type KeyWriter interface {
	StoreHex(ctx context.Context, ref, hexMaterial string) error
}

// Dispatcher routes commands to handlers.
type Dispatcher struct {
	store    Store
	leaser   Leaser
	exec     Submitter
	pools    PoolProvider
	planner  RoutePlanner
	keys     KeyWriter
	handlers map[string]func(context.Context, Command) (*Result, error)
	log      *slog.Logger
}

// New wires the registry. Handler resolution is static; an unknown command
// name fails validation, never reflection.
func New(store Store, leaser Leaser, exec Submitter, pools PoolProvider, route RoutePlanner, keys KeyWriter) *Dispatcher {
	d := &Dispatcher{
		store:   store,
		leaser:  leaser,
		exec:    exec,
		pools:   pools,
		planner: route,
		keys:    keys,
		log:     slog.With("component", "dispatch"),
	}
	d.handlers = map[string]func(context.Context, Command) (*Result, error){
		CreateWallet{}.Name():         asHandler(d.createWallet),
		ActivateWallet{}.Name():       asHandler(d.activateWallet),
		DeactivateWallet{}.Name():     asHandler(d.deactivateWallet),
		AddChain{}.Name():             asHandler(d.addChain),
		UpdateChainEndpoints{}.Name(): asHandler(d.updateChainEndpoints),
		AddToken{}.Name():             asHandler(d.addToken),
		ApproveToken{}.Name():         asHandler(d.approveToken),
		ExecuteSwap{}.Name():          asHandler(d.executeSwap),
		ResubmitTransaction{}.Name():  asHandler(d.resubmitTransaction),
	}
	return d
}

func asHandler[C Command](h func(context.Context, C) (*Result, error)) func(context.Context, Command) (*Result, error) {
	return func(ctx context.Context, cmd Command) (*Result, error) {
		typed, ok := cmd.(C)
		if !ok {
			return nil, domain.Validationf("command %q has unexpected type %T", cmd.Name(), cmd)
		}
		return h(ctx, typed)
	}
}

// Submit executes one command. Duplicate idempotency keys return the stored
// original result; version races retry up to a bounded attempt count.
func (d *Dispatcher) Submit(ctx context.Context, cmd Command) (*Result, error) {
	handler, ok := d.handlers[cmd.Name()]
	if !ok {
		return nil, domain.Validationf("unknown command %q", cmd.Name())
	}
	if cmd.Key() == "" {
		return nil, domain.Validationf("command %q needs an idempotency key", cmd.Name())
	}

	start := time.Now()
	res, err := d.submit(ctx, cmd, handler)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.CommandsTotal.WithLabelValues(cmd.Name(), outcome).Inc()
	metrics.CommandDuration.WithLabelValues(cmd.Name()).Observe(time.Since(start).Seconds())
	return res, err
}

const maxConflictRetries = 3

func (d *Dispatcher) submit(ctx context.Context, cmd Command, handler func(context.Context, Command) (*Result, error)) (*Result, error) {
	if res, err := d.storedResult(ctx, cmd.Key()); err != nil {
		return nil, err
	} else if res != nil {
		d.log.Debug("duplicate command", "command", cmd.Name(), "key", cmd.Key())
		return res, nil
	}

	var lastErr error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		res, err := handler(ctx, cmd)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			return res, err
		}
		metrics.ConcurrencyConflicts.Inc()
		lastErr = err

		// A conflict on the commands table means a concurrent submission of
		// the same key won; its result is the authoritative one.
		if res, serr := d.storedResult(ctx, cmd.Key()); serr == nil && res != nil {
			return res, nil
		}
		d.log.Warn("command hit version race, retrying",
			"command", cmd.Name(), "attempt", attempt+1)
	}
	return nil, fmt.Errorf("command %q exhausted conflict retries: %w", cmd.Name(), lastErr)
}

func (d *Dispatcher) storedResult(ctx context.Context, key string) (*Result, error) {
	raw, err := d.store.CommandResult(ctx, key)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode stored result for %q: %w", key, err)
	}
	return &res, nil
}

// persist saves the aggregates and the command result in one atomic unit.
func (d *Dispatcher) persist(ctx context.Context, cmd Command, res *Result, aggs ...domain.Aggregate) error {
	uow, err := d.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer uow.Rollback()

	for _, agg := range aggs {
		if err := uow.Save(ctx, agg); err != nil {
			return err
		}
	}
	if err := uow.StoreCommandResult(ctx, cmd.Key(), cmd.Name(), res); err != nil {
		return err
	}
	if err := uow.Commit(); err != nil {
		return err
	}
	for _, agg := range aggs {
		agg.ClearPendingEvents()
	}
	return nil
}

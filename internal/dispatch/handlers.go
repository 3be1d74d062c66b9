package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/swapd/internal/core/domain"
)

func (d *Dispatcher) createWallet(ctx context.Context, c CreateWallet) (*Result, error) {
	addr, err := domain.NewAddress(c.Address)
	if err != nil {
		return nil, err
	}
	if c.PrivateKeyHex == "" {
		return nil, domain.Validationf("wallet key material is required")
	}

	walletID := uuid.New()
	keyRef := "wallet:" + walletID.String()
	if err := d.keys.StoreHex(ctx, keyRef, c.PrivateKeyHex); err != nil {
		return nil, fmt.Errorf("%w: bad key material: %v", domain.ErrValidation, err)
	}

	wallet, err := domain.NewWallet(walletID, addr, keyRef)
	if err != nil {
		return nil, err
	}

	res := &Result{Command: c.Name(), Status: "created", WalletID: walletID}
	if err := d.persist(ctx, c, res, wallet); err != nil {
		return nil, err
	}
	d.log.Info("wallet created", "wallet_id", walletID, "address", addr)
	return res, nil
}

func (d *Dispatcher) activateWallet(ctx context.Context, c ActivateWallet) (*Result, error) {
	wallet, err := d.store.LoadWallet(ctx, c.WalletID)
	if err != nil {
		return nil, err
	}
	if err := wallet.Activate(); err != nil {
		return nil, err
	}
	res := &Result{Command: c.Name(), Status: "active", WalletID: c.WalletID}
	if err := d.persist(ctx, c, res, wallet); err != nil {
		return nil, err
	}
	return res, nil
}

func (d *Dispatcher) deactivateWallet(ctx context.Context, c DeactivateWallet) (*Result, error) {
	wallet, err := d.store.LoadWallet(ctx, c.WalletID)
	if err != nil {
		return nil, err
	}
	if err := wallet.Deactivate(); err != nil {
		return nil, err
	}
	res := &Result{Command: c.Name(), Status: "inactive", WalletID: c.WalletID}
	if err := d.persist(ctx, c, res, wallet); err != nil {
		return nil, err
	}
	return res, nil
}

func (d *Dispatcher) addChain(ctx context.Context, c AddChain) (*Result, error) {
	native, err := domain.NewSymbol(c.NativeSymbol)
	if err != nil {
		return nil, err
	}
	chainID := uuid.New()
	chain, err := domain.NewChain(chainID, c.NetworkID, c.ChainName, native, c.Endpoints)
	if err != nil {
		return nil, err
	}
	res := &Result{Command: c.Name(), Status: "created", ChainID: chainID}
	if err := d.persist(ctx, c, res, chain); err != nil {
		return nil, err
	}
	d.log.Info("chain added", "chain_id", chainID, "network_id", c.NetworkID)
	return res, nil
}

func (d *Dispatcher) updateChainEndpoints(ctx context.Context, c UpdateChainEndpoints) (*Result, error) {
	chain, err := d.store.LoadChain(ctx, c.ChainID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrChainNotFound, err)
	}
	if err := chain.SetEndpoints(c.Endpoints); err != nil {
		return nil, err
	}
	res := &Result{Command: c.Name(), Status: "updated", ChainID: c.ChainID}
	if err := d.persist(ctx, c, res, chain); err != nil {
		return nil, err
	}
	d.log.Info("chain endpoints updated", "chain_id", c.ChainID, "endpoints", len(c.Endpoints))
	return res, nil
}

func (d *Dispatcher) addToken(ctx context.Context, c AddToken) (*Result, error) {
	symbol, err := domain.NewSymbol(c.Symbol)
	if err != nil {
		return nil, err
	}
	var contract domain.Address
	if !c.Native {
		if contract, err = domain.NewAddress(c.Contract); err != nil {
			return nil, err
		}
	}
	if _, err := d.store.LoadChain(ctx, c.ChainID); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrChainNotFound, err)
	}

	tokenID := uuid.New()
	token, err := domain.NewToken(tokenID, c.ChainID, contract, symbol, c.Decimals, c.Native)
	if err != nil {
		return nil, err
	}
	res := &Result{Command: c.Name(), Status: "created", TokenID: tokenID, ChainID: c.ChainID}
	if err := d.persist(ctx, c, res, token); err != nil {
		return nil, err
	}
	return res, nil
}

func (d *Dispatcher) approveToken(ctx context.Context, c ApproveToken) (*Result, error) {
	amount, err := domain.NewAmount(c.Amount)
	if err != nil {
		return nil, err
	}
	if amount.IsZero() {
		return nil, domain.Validationf("approval amount must be positive")
	}

	wallet, err := d.store.LoadWallet(ctx, c.WalletID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrWalletNotFound, err)
	}
	if !wallet.Active() {
		return nil, domain.Validationf("wallet %s is not active", c.WalletID)
	}
	token, err := d.store.LoadToken(ctx, c.TokenID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTokenNotFound, err)
	}
	if token.Native() {
		return nil, domain.Validationf("native asset needs no approval")
	}

	approval, err := domain.NewApproval(uuid.New(), c.WalletID, c.TokenID, d.exec.Router(), amount)
	if err != nil {
		return nil, err
	}
	tx, err := domain.NewTransaction(uuid.New(), c.WalletID, token.ChainID(), domain.TxKindApproval)
	if err != nil {
		return nil, err
	}

	// Costing is read-only and runs outside the lease.
	prep, err := d.exec.PrepareApproval(ctx, wallet.Address(), approval, token.Contract())
	if err != nil {
		return nil, err
	}

	lease, err := d.leaser.AcquireWalletLease(ctx, c.WalletID.String(), c.Key())
	if err != nil {
		return nil, err
	}
	defer lease.Release(ctx)

	// Reload under the lease; the earlier read may predate another
	// submission's nonce allocation.
	wallet, err = d.store.LoadWallet(ctx, c.WalletID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrWalletNotFound, err)
	}
	if !wallet.Active() {
		return nil, domain.Validationf("wallet %s is not active", c.WalletID)
	}

	res := &Result{
		Command:       c.Name(),
		WalletID:      c.WalletID,
		TokenID:       c.TokenID,
		ApprovalID:    approval.AggregateID(),
		TransactionID: tx.AggregateID(),
	}
	if err := d.exec.Submit(ctx, wallet, tx, prep); err != nil {
		return d.failSubmission(ctx, c, res, err, wallet, tx, approval, nil)
	}
	if err := approval.MarkSubmitted(tx.AggregateID()); err != nil {
		return nil, err
	}

	res.Status = "submitted"
	if err := d.persist(ctx, c, res, wallet, tx, approval); err != nil {
		return nil, err
	}
	d.log.Info("approval submitted",
		"approval_id", approval.AggregateID(), "tx_id", tx.AggregateID(), "hash", tx.Hash())
	return res, nil
}

func (d *Dispatcher) executeSwap(ctx context.Context, c ExecuteSwap) (*Result, error) {
	amountIn, err := domain.NewAmount(c.AmountIn)
	if err != nil {
		return nil, err
	}
	if amountIn.IsZero() {
		return nil, domain.Validationf("amount-in must be positive")
	}
	slippage, err := domain.NewSlippageTolerance(c.SlippagePct)
	if err != nil {
		return nil, err
	}
	deadline, err := domain.NewDeadline(c.Deadline, time.Now())
	if err != nil {
		return nil, err
	}
	var recipient domain.Address
	if c.Recipient != "" {
		if recipient, err = domain.NewAddress(c.Recipient); err != nil {
			return nil, err
		}
	}

	wallet, err := d.store.LoadWallet(ctx, c.WalletID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrWalletNotFound, err)
	}
	if !wallet.Active() {
		return nil, domain.Validationf("wallet %s is not active", c.WalletID)
	}
	tokenIn, err := d.store.LoadToken(ctx, c.TokenIn)
	if err != nil {
		return nil, fmt.Errorf("%w: token-in: %v", domain.ErrTokenNotFound, err)
	}
	tokenOut, err := d.store.LoadToken(ctx, c.TokenOut)
	if err != nil {
		return nil, fmt.Errorf("%w: token-out: %v", domain.ErrTokenNotFound, err)
	}
	if tokenIn.ChainID() != tokenOut.ChainID() {
		return nil, domain.Validationf("token-in and token-out live on different chains")
	}

	// Planning is read-only and runs outside the lease.
	pools, err := d.pools.ListPools(ctx, tokenIn.Contract())
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	route, err := d.planner.BestRoute(pools, tokenIn.Contract(), tokenOut.Contract())
	if err != nil {
		return nil, err
	}
	quote, err := d.planner.Quote(pools, route, amountIn)
	if err != nil {
		return nil, err
	}

	if !tokenIn.Native() {
		approval, err := d.store.ApprovalFor(ctx, c.WalletID, c.TokenIn, d.exec.Router())
		if err != nil {
			return nil, err
		}
		if approval == nil || !approval.SufficientFor(amountIn) {
			return nil, fmt.Errorf("%w: wallet %s has no confirmed allowance covering %s %s",
				domain.ErrInsufficientAllowance, c.WalletID, amountIn, tokenIn.Symbol())
		}
	}

	tx, err := domain.NewTransaction(uuid.New(), c.WalletID, tokenIn.ChainID(), domain.TxKindSwap)
	if err != nil {
		return nil, err
	}
	swap, err := domain.NewSwap(uuid.New(), domain.SwapSpec{
		TransactionID: tx.AggregateID(),
		TokenIn:       c.TokenIn,
		TokenOut:      c.TokenOut,
		TokenInAddr:   tokenIn.Contract(),
		TokenOutAddr:  tokenOut.Contract(),
		AmountIn:      amountIn,
		QuotedOut:     quote,
		Route:         route,
		Slippage:      slippage,
		Deadline:      deadline,
	})
	if err != nil {
		return nil, err
	}

	// Costing is read-only and runs outside the lease.
	prep, err := d.exec.PrepareSwap(ctx, wallet.Address(), swap, recipient)
	if err != nil {
		return nil, err
	}

	lease, err := d.leaser.AcquireWalletLease(ctx, c.WalletID.String(), c.Key())
	if err != nil {
		return nil, err
	}
	defer lease.Release(ctx)

	// Reload under the lease; the earlier read may predate another
	// submission's nonce allocation.
	wallet, err = d.store.LoadWallet(ctx, c.WalletID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrWalletNotFound, err)
	}
	if !wallet.Active() {
		return nil, domain.Validationf("wallet %s is not active", c.WalletID)
	}

	res := &Result{
		Command:       c.Name(),
		WalletID:      c.WalletID,
		TransactionID: tx.AggregateID(),
		SwapID:        swap.AggregateID(),
	}
	if err := d.exec.Submit(ctx, wallet, tx, prep); err != nil {
		return d.failSubmission(ctx, c, res, err, wallet, tx, nil, swap)
	}

	res.Status = "submitted"
	if err := d.persist(ctx, c, res, wallet, tx, swap); err != nil {
		return nil, err
	}
	d.log.Info("swap submitted",
		"swap_id", swap.AggregateID(), "tx_id", tx.AggregateID(),
		"hash", tx.Hash(), "nonce", tx.Nonce(), "hops", len(route))
	return res, nil
}

func (d *Dispatcher) resubmitTransaction(ctx context.Context, c ResubmitTransaction) (*Result, error) {
	failed, err := d.store.LoadTransaction(ctx, c.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransactionNotFound, err)
	}
	if failed.Status() != domain.TxFailed {
		return nil, domain.Validationf("transaction %s is %s, only failed transactions resubmit",
			c.TransactionID, failed.Status())
	}

	switch failed.Kind() {
	case domain.TxKindSwap:
		return d.resubmitSwap(ctx, c, failed)
	case domain.TxKindApproval:
		return d.resubmitApproval(ctx, c, failed)
	default:
		return nil, domain.Validationf("transaction %s has unknown kind %q", c.TransactionID, failed.Kind())
	}
}

func (d *Dispatcher) resubmitSwap(ctx context.Context, c ResubmitTransaction, failed *domain.Transaction) (*Result, error) {
	deadline, err := domain.NewDeadline(c.Deadline, time.Now())
	if err != nil {
		return nil, err
	}
	oldSwapID, err := d.store.SwapIDForTransaction(ctx, failed.AggregateID())
	if err != nil {
		return nil, err
	}
	oldSwap, err := d.store.LoadSwap(ctx, oldSwapID)
	if err != nil {
		return nil, err
	}
	wallet, err := d.store.LoadWallet(ctx, failed.WalletID())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrWalletNotFound, err)
	}
	if !wallet.Active() {
		return nil, domain.Validationf("wallet %s is not active", failed.WalletID())
	}
	slippage, err := domain.NewSlippageTolerance(oldSwap.SlippagePct())
	if err != nil {
		return nil, err
	}

	// Keep the original route but refresh the quote against current reserves.
	route := oldSwap.Route()
	tokenInAddr := route[0].TokenIn
	tokenOutAddr := route[len(route)-1].TokenOut
	pools, err := d.pools.ListPools(ctx, tokenInAddr)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	quote, err := d.planner.Quote(pools, route, oldSwap.AmountIn())
	if err != nil {
		return nil, err
	}

	tx, err := domain.NewTransaction(uuid.New(), failed.WalletID(), failed.ChainID(), domain.TxKindSwap)
	if err != nil {
		return nil, err
	}
	swap, err := domain.NewSwap(uuid.New(), domain.SwapSpec{
		TransactionID: tx.AggregateID(),
		TokenIn:       oldSwap.TokenIn(),
		TokenOut:      oldSwap.TokenOut(),
		TokenInAddr:   tokenInAddr,
		TokenOutAddr:  tokenOutAddr,
		AmountIn:      oldSwap.AmountIn(),
		QuotedOut:     quote,
		Route:         route,
		Slippage:      slippage,
		Deadline:      deadline,
	})
	if err != nil {
		return nil, err
	}

	prep, err := d.exec.PrepareSwap(ctx, wallet.Address(), swap, "")
	if err != nil {
		return nil, err
	}

	lease, err := d.leaser.AcquireWalletLease(ctx, failed.WalletID().String(), c.Key())
	if err != nil {
		return nil, err
	}
	defer lease.Release(ctx)

	// Reload under the lease; the earlier read may predate another
	// submission's nonce allocation.
	wallet, err = d.store.LoadWallet(ctx, failed.WalletID())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrWalletNotFound, err)
	}
	if !wallet.Active() {
		return nil, domain.Validationf("wallet %s is not active", failed.WalletID())
	}

	res := &Result{
		Command:       c.Name(),
		WalletID:      failed.WalletID(),
		TransactionID: tx.AggregateID(),
		SwapID:        swap.AggregateID(),
	}
	if err := d.exec.Submit(ctx, wallet, tx, prep); err != nil {
		return d.failSubmission(ctx, c, res, err, wallet, tx, nil, swap)
	}

	res.Status = "submitted"
	if err := d.persist(ctx, c, res, wallet, tx, swap); err != nil {
		return nil, err
	}
	d.log.Info("swap resubmitted",
		"failed_tx_id", failed.AggregateID(), "tx_id", tx.AggregateID(), "nonce", tx.Nonce())
	return res, nil
}

func (d *Dispatcher) resubmitApproval(ctx context.Context, c ResubmitTransaction, failed *domain.Transaction) (*Result, error) {
	oldApprovalID, err := d.store.ApprovalIDForTransaction(ctx, failed.AggregateID())
	if err != nil {
		return nil, err
	}
	oldApproval, err := d.store.LoadApproval(ctx, oldApprovalID)
	if err != nil {
		return nil, err
	}
	wallet, err := d.store.LoadWallet(ctx, failed.WalletID())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrWalletNotFound, err)
	}
	if !wallet.Active() {
		return nil, domain.Validationf("wallet %s is not active", failed.WalletID())
	}
	token, err := d.store.LoadToken(ctx, oldApproval.TokenID())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTokenNotFound, err)
	}

	approval, err := domain.NewApproval(uuid.New(), failed.WalletID(), oldApproval.TokenID(),
		oldApproval.Spender(), oldApproval.Amount())
	if err != nil {
		return nil, err
	}
	tx, err := domain.NewTransaction(uuid.New(), failed.WalletID(), failed.ChainID(), domain.TxKindApproval)
	if err != nil {
		return nil, err
	}

	prep, err := d.exec.PrepareApproval(ctx, wallet.Address(), approval, token.Contract())
	if err != nil {
		return nil, err
	}

	lease, err := d.leaser.AcquireWalletLease(ctx, failed.WalletID().String(), c.Key())
	if err != nil {
		return nil, err
	}
	defer lease.Release(ctx)

	// Reload under the lease; the earlier read may predate another
	// submission's nonce allocation.
	wallet, err = d.store.LoadWallet(ctx, failed.WalletID())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrWalletNotFound, err)
	}
	if !wallet.Active() {
		return nil, domain.Validationf("wallet %s is not active", failed.WalletID())
	}

	res := &Result{
		Command:       c.Name(),
		WalletID:      failed.WalletID(),
		TokenID:       oldApproval.TokenID(),
		ApprovalID:    approval.AggregateID(),
		TransactionID: tx.AggregateID(),
	}
	if err := d.exec.Submit(ctx, wallet, tx, prep); err != nil {
		return d.failSubmission(ctx, c, res, err, wallet, tx, approval, nil)
	}
	if err := approval.MarkSubmitted(tx.AggregateID()); err != nil {
		return nil, err
	}

	res.Status = "submitted"
	if err := d.persist(ctx, c, res, wallet, tx, approval); err != nil {
		return nil, err
	}
	return res, nil
}

// failSubmission records a broadcast failure. The burned nonce, the failed
// transaction, and the command result all commit so the failure is durable
// and a duplicate key returns it instead of re-submitting.
func (d *Dispatcher) failSubmission(ctx context.Context, cmd Command, res *Result, cause error, wallet *domain.Wallet, tx *domain.Transaction, approval *domain.Approval, swap *domain.Swap) (*Result, error) {
	if !errors.Is(cause, domain.ErrSubmission) {
		// Nothing reached the chain and no nonce burned; leave no trace so
		// the same key can retry once the cause clears.
		return nil, cause
	}

	res.Status = "failed"
	res.Reason = cause.Error()

	if err := tx.Fail(cause.Error(), tx.RetryCount()+1); err != nil {
		return nil, errors.Join(cause, err)
	}
	aggs := []domain.Aggregate{wallet, tx}
	if swap != nil {
		if err := swap.Fail(cause.Error(), false); err != nil {
			return nil, errors.Join(cause, err)
		}
		aggs = append(aggs, swap)
	}
	if approval != nil {
		if err := approval.Fail(cause.Error()); err != nil {
			return nil, errors.Join(cause, err)
		}
		aggs = append(aggs, approval)
	}
	if err := d.persist(ctx, cmd, res, aggs...); err != nil {
		return nil, errors.Join(cause, err)
	}
	d.log.Error("submission failed", "command", cmd.Name(), "tx_id", tx.AggregateID(), "error", cause)
	return res, cause
}

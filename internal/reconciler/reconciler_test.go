package reconciler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/swapd/internal/core/domain"
	"github.com/vietddude/swapd/internal/infra/chainrpc"
)

// memStore is an event-log-backed Store: loads replay history, saves append
// with the same sequence conflict check the real store enforces.
type memStore struct {
	mu           sync.Mutex
	logs         map[uuid.UUID][]domain.Event
	swapByTx     map[uuid.UUID]uuid.UUID
	approvalByTx map[uuid.UUID]uuid.UUID
	txIDs        []uuid.UUID
}

func newMemStore() *memStore {
	return &memStore{
		logs:         make(map[uuid.UUID][]domain.Event),
		swapByTx:     make(map[uuid.UUID]uuid.UUID),
		approvalByTx: make(map[uuid.UUID]uuid.UUID),
	}
}

func (m *memStore) SaveAll(_ context.Context, aggs ...domain.Aggregate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, agg := range aggs {
		pending := agg.PendingEvents()
		expected := agg.Version() - uint64(len(pending))
		if uint64(len(m.logs[agg.AggregateID()])) != expected {
			return domain.ErrConcurrencyConflict
		}
	}
	for _, agg := range aggs {
		m.logs[agg.AggregateID()] = append(m.logs[agg.AggregateID()], agg.PendingEvents()...)
		agg.ClearPendingEvents()
	}
	return nil
}

func (m *memStore) seed(t *testing.T, agg domain.Aggregate) {
	t.Helper()
	if err := m.SaveAll(context.Background(), agg); err != nil {
		t.Fatal(err)
	}
}

func (m *memStore) replay(id uuid.UUID, agg domain.Aggregate) error {
	m.mu.Lock()
	history := append([]domain.Event(nil), m.logs[id]...)
	m.mu.Unlock()
	if len(history) == 0 {
		return fmt.Errorf("aggregate %s not found", id)
	}
	return domain.Replay(agg, history)
}

func (m *memStore) LoadTransaction(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	tx := domain.EmptyTransaction(id)
	if err := m.replay(id, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (m *memStore) LoadSwap(_ context.Context, id uuid.UUID) (*domain.Swap, error) {
	s := domain.EmptySwap(id)
	if err := m.replay(id, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (m *memStore) LoadApproval(_ context.Context, id uuid.UUID) (*domain.Approval, error) {
	a := domain.EmptyApproval(id)
	if err := m.replay(id, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (m *memStore) SwapIDForTransaction(_ context.Context, txID uuid.UUID) (uuid.UUID, error) {
	id, ok := m.swapByTx[txID]
	if !ok {
		return uuid.Nil, fmt.Errorf("no swap for tx %s", txID)
	}
	return id, nil
}

func (m *memStore) ApprovalIDForTransaction(_ context.Context, txID uuid.UUID) (uuid.UUID, error) {
	id, ok := m.approvalByTx[txID]
	if !ok {
		return uuid.Nil, fmt.Errorf("no approval for tx %s", txID)
	}
	return id, nil
}

func (m *memStore) OpenTransactionIDs(ctx context.Context) ([]uuid.UUID, error) {
	var open []uuid.UUID
	for _, id := range m.txIDs {
		tx, err := m.LoadTransaction(ctx, id)
		if err != nil {
			return nil, err
		}
		if tx.Status() == domain.TxSubmitted || tx.Status() == domain.TxPending {
			open = append(open, id)
		}
	}
	return open, nil
}

// scriptedChain replays a fixed receipt response sequence, holding the last
// response for further polls.
type scriptedChain struct {
	mu        sync.Mutex
	responses []receiptResponse
}

type receiptResponse struct {
	receipt *chainrpc.Receipt
	err     error
}

func (c *scriptedChain) TransactionReceipt(context.Context, domain.TxHash) (*chainrpc.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.responses[0]
	if len(c.responses) > 1 {
		c.responses = c.responses[1:]
	}
	return r.receipt, r.err
}

const txHash = "0xab00112233445566778899aabbccddeeff00112233445566778899aabbccddee"

func submittedSwapTx(t *testing.T, store *memStore, deadline time.Time) (uuid.UUID, uuid.UUID) {
	t.Helper()
	walletID := uuid.New()
	tx, err := domain.NewTransaction(uuid.New(), walletID, uuid.New(), domain.TxKindSwap)
	if err != nil {
		t.Fatal(err)
	}
	feeCap, _ := domain.NewAmount("27500000000")
	if err := tx.MarkSubmitted(0, domain.TxHash(txHash), 120_000, feeCap, 1); err != nil {
		t.Fatal(err)
	}

	tokenIn := domain.Address("0x1111111111111111111111111111111111111111")
	tokenOut := domain.Address("0x2222222222222222222222222222222222222222")
	pool := domain.Address("0x3333333333333333333333333333333333333333")
	amountIn, _ := domain.NewAmount("1000000")
	quoted, _ := domain.NewAmount("2000000")
	slip, err := domain.NewSlippageTolerance("1")
	if err != nil {
		t.Fatal(err)
	}
	ddl, err := domain.NewDeadline(deadline, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	swap, err := domain.NewSwap(uuid.New(), domain.SwapSpec{
		TransactionID: tx.AggregateID(),
		TokenIn:       uuid.New(),
		TokenOut:      uuid.New(),
		TokenInAddr:   tokenIn,
		TokenOutAddr:  tokenOut,
		AmountIn:      amountIn,
		QuotedOut:     quoted,
		Route: domain.Route{{
			Pool: pool, TokenIn: tokenIn, TokenOut: tokenOut,
			BinStep: 20, Version: domain.PoolV2,
		}},
		Slippage: slip,
		Deadline: ddl,
	})
	if err != nil {
		t.Fatal(err)
	}

	store.seed(t, tx)
	store.seed(t, swap)
	store.swapByTx[tx.AggregateID()] = swap.AggregateID()
	store.txIDs = append(store.txIDs, tx.AggregateID())
	return tx.AggregateID(), swap.AggregateID()
}

func testReconciler(store *memStore, chain ChainClient) *Reconciler {
	return New(store, chain, Config{
		PollInterval: 5 * time.Millisecond,
		Grace:        time.Millisecond,
	})
}

func TestSuccessReceiptConfirmsSwap(t *testing.T) {
	store := newMemStore()
	txID, swapID := submittedSwapTx(t, store, time.Now().Add(time.Minute))
	chain := &scriptedChain{responses: []receiptResponse{
		{err: chainrpc.ErrReceiptNotFound},
		{receipt: &chainrpc.Receipt{Success: true, BlockNumber: 42, GasUsed: 90_000}},
	}}

	r := testReconciler(store, chain)
	if err := r.track(context.Background(), txID); err != nil {
		t.Fatalf("track: %v", err)
	}

	tx, err := store.LoadTransaction(context.Background(), txID)
	if err != nil {
		t.Fatal(err)
	}
	if tx.Status() != domain.TxConfirmed {
		t.Errorf("tx status = %s, want confirmed", tx.Status())
	}
	if tx.BlockNumber() != 42 || tx.GasUsed() != 90_000 {
		t.Errorf("receipt fields: block=%d gas=%d", tx.BlockNumber(), tx.GasUsed())
	}

	swap, err := store.LoadSwap(context.Background(), swapID)
	if err != nil {
		t.Fatal(err)
	}
	if swap.Status() != domain.SwapCompleted {
		t.Errorf("swap status = %s, want completed", swap.Status())
	}
	if swap.AmountOut() == nil || swap.AmountOut().Cmp(swap.AmountOutMin()) < 0 {
		t.Error("completed swap records an output below the floor")
	}
}

func TestMissingReceiptAdvancesToPending(t *testing.T) {
	store := newMemStore()
	txID, _ := submittedSwapTx(t, store, time.Now().Add(time.Minute))
	chain := &scriptedChain{responses: []receiptResponse{
		{err: chainrpc.ErrReceiptNotFound},
		{err: chainrpc.ErrReceiptNotFound},
		{receipt: &chainrpc.Receipt{Success: true, BlockNumber: 7, GasUsed: 1}},
	}}

	r := testReconciler(store, chain)
	if err := r.track(context.Background(), txID); err != nil {
		t.Fatal(err)
	}

	// The event log must show Submitted -> Pending -> Confirmed in order.
	var types []string
	for _, e := range store.logs[txID] {
		types = append(types, e.Type)
	}
	want := []string{
		domain.EventTransactionCreated,
		domain.EventTransactionSubmitted,
		domain.EventTransactionPending,
		domain.EventTransactionConfirmed,
	}
	if len(types) != len(want) {
		t.Fatalf("event log = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event log = %v, want %v", types, want)
		}
	}
}

func TestRevertReceiptFailsSwap(t *testing.T) {
	store := newMemStore()
	txID, swapID := submittedSwapTx(t, store, time.Now().Add(time.Minute))
	chain := &scriptedChain{responses: []receiptResponse{
		{receipt: &chainrpc.Receipt{Success: false, BlockNumber: 42, GasUsed: 120_000}},
	}}

	r := testReconciler(store, chain)
	if err := r.track(context.Background(), txID); err != nil {
		t.Fatal(err)
	}

	tx, _ := store.LoadTransaction(context.Background(), txID)
	if tx.Status() != domain.TxReverted {
		t.Errorf("tx status = %s, want reverted", tx.Status())
	}
	swap, _ := store.LoadSwap(context.Background(), swapID)
	if swap.Status() != domain.SwapReverted {
		t.Errorf("swap status = %s, want reverted", swap.Status())
	}
}

func TestDeadlinePassedFailsSwap(t *testing.T) {
	store := newMemStore()
	txID, swapID := submittedSwapTx(t, store, time.Now().Add(30*time.Millisecond))
	chain := &scriptedChain{responses: []receiptResponse{
		{err: chainrpc.ErrReceiptNotFound},
	}}

	r := testReconciler(store, chain)
	if err := r.track(context.Background(), txID); err != nil {
		t.Fatal(err)
	}

	tx, _ := store.LoadTransaction(context.Background(), txID)
	if tx.Status() != domain.TxFailed {
		t.Errorf("tx status = %s, want failed", tx.Status())
	}
	swap, _ := store.LoadSwap(context.Background(), swapID)
	if swap.Status() != domain.SwapFailed {
		t.Errorf("swap status = %s, want failed", swap.Status())
	}
}

func TestApprovalConfirmation(t *testing.T) {
	store := newMemStore()
	walletID := uuid.New()
	tx, err := domain.NewTransaction(uuid.New(), walletID, uuid.New(), domain.TxKindApproval)
	if err != nil {
		t.Fatal(err)
	}
	feeCap, _ := domain.NewAmount("27500000000")
	if err := tx.MarkSubmitted(3, domain.TxHash(txHash), 60_000, feeCap, 1); err != nil {
		t.Fatal(err)
	}

	amount, _ := domain.NewAmount("5000000")
	spender := domain.Address("0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee")
	approval, err := domain.NewApproval(uuid.New(), walletID, uuid.New(), spender, amount)
	if err != nil {
		t.Fatal(err)
	}
	if err := approval.MarkSubmitted(tx.AggregateID()); err != nil {
		t.Fatal(err)
	}

	store.seed(t, tx)
	store.seed(t, approval)
	store.approvalByTx[tx.AggregateID()] = approval.AggregateID()
	store.txIDs = append(store.txIDs, tx.AggregateID())

	chain := &scriptedChain{responses: []receiptResponse{
		{receipt: &chainrpc.Receipt{Success: true, BlockNumber: 9, GasUsed: 46_000}},
	}}
	r := testReconciler(store, chain)
	if err := r.track(context.Background(), tx.AggregateID()); err != nil {
		t.Fatal(err)
	}

	got, err := store.LoadApproval(context.Background(), approval.AggregateID())
	if err != nil {
		t.Fatal(err)
	}
	if got.Status() != domain.ApprovalConfirmed {
		t.Errorf("approval status = %s, want confirmed", got.Status())
	}
	if !got.SufficientFor(amount) {
		t.Error("confirmed approval must cover the granted amount")
	}
}

func TestRunAdoptsOpenTransactions(t *testing.T) {
	store := newMemStore()
	txID, _ := submittedSwapTx(t, store, time.Now().Add(time.Minute))
	chain := &scriptedChain{responses: []receiptResponse{
		{receipt: &chainrpc.Receipt{Success: true, BlockNumber: 1, GasUsed: 1}},
	}}

	r := testReconciler(store, chain)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		tx, err := store.LoadTransaction(ctx, txID)
		if err != nil {
			t.Fatal(err)
		}
		if tx.Status() == domain.TxConfirmed {
			break
		}
		select {
		case <-deadline:
			t.Fatal("transaction never confirmed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

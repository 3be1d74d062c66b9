package domain

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func newSubmittedTx(t *testing.T) *Transaction {
	t.Helper()
	tx, err := NewTransaction(uuid.New(), uuid.New(), uuid.New(), TxKindSwap)
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	hash := TxHash("0xab00112233445566778899aabbccddeeff00112233445566778899aabbccddee")
	if err := tx.MarkSubmitted(7, hash, 210000, AmountFromUint64(30_000_000_000), 1); err != nil {
		t.Fatalf("MarkSubmitted: %v", err)
	}
	return tx
}

func TestTransactionHappyPath(t *testing.T) {
	tx := newSubmittedTx(t)
	if tx.Status() != TxSubmitted {
		t.Fatalf("status = %s, want %s", tx.Status(), TxSubmitted)
	}
	if tx.Nonce() != 7 {
		t.Errorf("nonce = %d, want 7", tx.Nonce())
	}
	if err := tx.MarkPending(); err != nil {
		t.Fatalf("MarkPending: %v", err)
	}
	if err := tx.Confirm(123456, 180000); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if tx.Status() != TxConfirmed {
		t.Errorf("status = %s, want %s", tx.Status(), TxConfirmed)
	}
	if tx.GasUsed() != 180000 || tx.BlockNumber() != 123456 {
		t.Errorf("receipt metadata not recorded: gas=%d block=%d", tx.GasUsed(), tx.BlockNumber())
	}
}

func TestFailedTransactionNeverConfirms(t *testing.T) {
	tx := newSubmittedTx(t)
	if err := tx.Fail("no receipt before deadline", 1); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	err := tx.Confirm(1, 1)
	if err == nil {
		t.Fatal("Confirm succeeded on failed transaction")
	}
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
	if tx.Status() != TxFailed {
		t.Errorf("status = %s, want %s", tx.Status(), TxFailed)
	}
}

func TestTransactionNoBackwardTransitions(t *testing.T) {
	tx := newSubmittedTx(t)

	// Created-level transition on a submitted tx.
	hash := tx.Hash()
	if err := tx.MarkSubmitted(8, hash, 1, AmountFromUint64(1), 1); err == nil {
		t.Error("second MarkSubmitted accepted")
	}

	if err := tx.Confirm(10, 10); err != nil {
		t.Fatal(err)
	}
	if err := tx.Revert(10, 10); err == nil {
		t.Error("Revert accepted on confirmed transaction")
	}
	if err := tx.Fail("late", 1); err == nil {
		t.Error("Fail accepted on confirmed transaction")
	}
}

func TestTransactionCannotConfirmBeforeSubmission(t *testing.T) {
	tx, err := NewTransaction(uuid.New(), uuid.New(), uuid.New(), TxKindSwap)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Confirm(1, 1); err == nil {
		t.Error("Confirm accepted on created transaction")
	}
	if err := tx.Revert(1, 1); err == nil {
		t.Error("Revert accepted on created transaction")
	}
	// Failing before submission is legal (pre-submission cancellation).
	if err := tx.Fail("cancelled", 0); err != nil {
		t.Errorf("Fail on created transaction: %v", err)
	}
}

func TestTransactionRehydration(t *testing.T) {
	tx := newSubmittedTx(t)
	if err := tx.Confirm(99, 42); err != nil {
		t.Fatal(err)
	}

	replayed := EmptyTransaction(tx.AggregateID())
	if err := Replay(replayed, tx.PendingEvents()); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed.Status() != TxConfirmed || replayed.Nonce() != 7 || replayed.GasUsed() != 42 {
		t.Errorf("replayed state mismatch: %s nonce=%d gas=%d",
			replayed.Status(), replayed.Nonce(), replayed.GasUsed())
	}
}

package chainrpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vietddude/swapd/internal/core/domain"
)

// rpcServer serves canned JSON-RPC responses keyed by method.
func rpcServer(t *testing.T, results map[string]string, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		result, ok := results[req.Method]
		if !ok {
			json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0", "id": req.ID,
				"error": map[string]any{"code": -32601, "message": "method not found"},
			})
			return
		}
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + result + `}`))
	}))
}

func fastRetry() Config {
	return Config{
		CallTimeout: time.Second,
		Retry: RetryConfig{
			MaxAttempts:     2,
			InitialDelay:    time.Millisecond,
			MaxDelay:        5 * time.Millisecond,
			BackoffMultiple: 2,
		},
	}
}

func TestAdapterFailsOverToSecondEndpoint(t *testing.T) {
	var downCalls atomic.Int64
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		downCalls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer down.Close()

	up := rpcServer(t, map[string]string{"eth_blockNumber": `"0x10"`}, nil)
	defer up.Close()

	a, err := NewAdapter([]string{down.URL, up.URL}, fastRetry())
	if err != nil {
		t.Fatal(err)
	}

	n, err := a.BlockNumber(context.Background())
	if err != nil {
		t.Fatalf("BlockNumber: %v", err)
	}
	if n != 16 {
		t.Errorf("block = %d, want 16", n)
	}
	// 429 is endpoint-local: one probe, no same-endpoint retry.
	if downCalls.Load() != 1 {
		t.Errorf("throttled endpoint called %d times, want 1", downCalls.Load())
	}
}

func TestAdapterRetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int64
	flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x2a"}`))
	}))
	defer flaky.Close()

	a, err := NewAdapter([]string{flaky.URL}, fastRetry())
	if err != nil {
		t.Fatal(err)
	}

	n, err := a.BlockNumber(context.Background())
	if err != nil {
		t.Fatalf("BlockNumber: %v", err)
	}
	if n != 42 || calls.Load() != 2 {
		t.Errorf("block = %d after %d calls", n, calls.Load())
	}
}

func TestAdapterFatalErrorSkipsFailover(t *testing.T) {
	fatal := rpcServer(t, nil, nil) // every method answers -32601
	defer fatal.Close()

	var backupCalls atomic.Int64
	backup := rpcServer(t, map[string]string{"eth_blockNumber": `"0x1"`}, &backupCalls)
	defer backup.Close()

	a, err := NewAdapter([]string{fatal.URL, backup.URL}, fastRetry())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := a.BlockNumber(context.Background()); err == nil {
		t.Fatal("want fatal error")
	}
	if backupCalls.Load() != 0 {
		t.Errorf("backup endpoint called %d times after fatal error, want 0", backupCalls.Load())
	}
}

func TestTransactionReceiptParsing(t *testing.T) {
	srv := rpcServer(t, map[string]string{
		"eth_getTransactionReceipt": `{"status":"0x1","blockNumber":"0x4d2","gasUsed":"0x5208"}`,
	}, nil)
	defer srv.Close()

	a, err := NewAdapter([]string{srv.URL}, fastRetry())
	if err != nil {
		t.Fatal(err)
	}

	hash := domain.TxHash("0xabcdefcdefcdefcdefcdefcdefcdefcdefcdefcdefcdefcdefcdefcdefcdef")
	r, err := a.TransactionReceipt(context.Background(), hash)
	if err != nil {
		t.Fatalf("TransactionReceipt: %v", err)
	}
	if !r.Success || r.BlockNumber != 1234 || r.GasUsed != 21000 {
		t.Errorf("receipt = %+v", r)
	}
}

func TestTransactionReceiptPending(t *testing.T) {
	srv := rpcServer(t, map[string]string{"eth_getTransactionReceipt": `null`}, nil)
	defer srv.Close()

	a, err := NewAdapter([]string{srv.URL}, fastRetry())
	if err != nil {
		t.Fatal(err)
	}

	_, err = a.TransactionReceipt(context.Background(), domain.TxHash("0xdead"))
	if !errors.Is(err, ErrReceiptNotFound) {
		t.Errorf("err = %v, want ErrReceiptNotFound", err)
	}
}

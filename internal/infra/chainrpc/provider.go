// Package chainrpc implements the chain adapter over an ordered list of
// JSON-RPC HTTP endpoints with retry, error classification, and failover.
package chainrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/vietddude/swapd/internal/metrics"
)

// Endpoint is a single JSON-RPC HTTP endpoint.
type Endpoint struct {
	name       string
	url        string
	httpClient *http.Client

	mu           sync.Mutex
	successCount int
	failureCount int
	totalLatency time.Duration
}

// NewEndpoint creates an endpoint with a per-call timeout.
func NewEndpoint(name, url string, timeout time.Duration) *Endpoint {
	return &Endpoint{
		name: name,
		url:  url,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (e *Endpoint) Name() string { return e.name }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call makes a single JSON-RPC call and returns the raw result.
func (e *Endpoint) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	start := time.Now()

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		e.record(false, time.Since(start))
		metrics.RPCErrorsTotal.WithLabelValues(e.name, "transport").Inc()
		return nil, fmt.Errorf("rpc call: %w", err)
	}
	defer resp.Body.Close()

	latency := time.Since(start)
	metrics.RPCCallsTotal.WithLabelValues(e.name, method).Inc()
	metrics.RPCLatency.WithLabelValues(e.name, method).Observe(latency.Seconds())

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		e.record(false, latency)
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		e.record(false, latency)
		metrics.RPCErrorsTotal.WithLabelValues(e.name, "http").Inc()
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, respBody)
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		e.record(false, latency)
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if rpcResp.Error != nil {
		e.record(false, latency)
		metrics.RPCErrorsTotal.WithLabelValues(e.name, "rpc").Inc()
		return nil, rpcResp.Error
	}

	e.record(true, latency)
	return rpcResp.Result, nil
}

func (e *Endpoint) record(success bool, latency time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if success {
		e.successCount++
	} else {
		e.failureCount++
	}
	e.totalLatency += latency
}

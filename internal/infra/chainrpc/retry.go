package chainrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// RetryConfig defines the retry/backoff schedule for one endpoint.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialDelay    time.Duration `yaml:"initial_delay"`
	MaxDelay        time.Duration `yaml:"max_delay"`
	BackoffMultiple float64       `yaml:"backoff_multiple"`
}

// DefaultRetryConfig provides sensible defaults.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     3,
	InitialDelay:    500 * time.Millisecond,
	MaxDelay:        10 * time.Second,
	BackoffMultiple: 2.0,
}

func (c RetryConfig) normalized() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultRetryConfig.MaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultRetryConfig.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultRetryConfig.MaxDelay
	}
	if c.BackoffMultiple <= 1 {
		c.BackoffMultiple = DefaultRetryConfig.BackoffMultiple
	}
	return c
}

// ErrorAction determines how to handle an RPC error.
type ErrorAction int

const (
	// ActionRetry retries the same endpoint after backoff (network, 5xx).
	ActionRetry ErrorAction = iota
	// ActionFailover advances to the next endpoint immediately (throttling,
	// auth, endpoint-local trouble).
	ActionFailover
	// ActionFatal aborts the whole call: the request itself is wrong or the
	// node deterministically rejected it, so every endpoint would agree.
	ActionFatal
)

// ClassifyError determines the action for a given error.
func ClassifyError(err error) ErrorAction {
	if err == nil {
		return ActionRetry
	}

	var rpcErr *rpcError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case -32700, -32600, -32601, -32602:
			return ActionFatal
		}
		// Execution errors (estimate revert, nonce too low, underpriced) are
		// deterministic node answers, not transport trouble.
		if rpcErr.Code == 3 || rpcErr.Code == -32000 {
			msg := strings.ToLower(rpcErr.Message)
			if strings.Contains(msg, "revert") ||
				strings.Contains(msg, "nonce too low") ||
				strings.Contains(msg, "already known") ||
				strings.Contains(msg, "insufficient funds") ||
				strings.Contains(msg, "underpriced") {
				return ActionFatal
			}
		}
	}

	s := strings.ToLower(err.Error())
	if strings.Contains(s, "429") || strings.Contains(s, "too many requests") ||
		strings.Contains(s, "403") || strings.Contains(s, "forbidden") ||
		strings.Contains(s, "quota") || strings.Contains(s, "rate limit") ||
		strings.Contains(s, "unauthorized") {
		return ActionFailover
	}

	// Network errors, timeouts, 5xx.
	return ActionRetry
}

// callWithRetry executes one endpoint with exponential backoff.
func callWithRetry(
	ctx context.Context,
	e *Endpoint,
	method string,
	params []any,
	cfg RetryConfig,
) (json.RawMessage, error) {
	cfg = cfg.normalized()
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		result, err := e.Call(ctx, method, params)
		if err == nil {
			return result, nil
		}
		lastErr = err

		switch ClassifyError(err) {
		case ActionFatal, ActionFailover:
			return nil, err
		}

		if attempt == cfg.MaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoffDelay(attempt, cfg)):
		}
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// callWithFailover walks the ordered endpoint list, retrying each.
func callWithFailover(
	ctx context.Context,
	endpoints []*Endpoint,
	method string,
	params []any,
	cfg RetryConfig,
) (json.RawMessage, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no endpoints configured")
	}

	var lastErr error
	for _, e := range endpoints {
		result, err := callWithRetry(ctx, e, method, params, cfg)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ClassifyError(err) == ActionFatal {
			return nil, fmt.Errorf("fatal error from endpoint %s: %w", e.Name(), err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("all endpoints failed: %w", lastErr)
}

func backoffDelay(attempt int, cfg RetryConfig) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.BackoffMultiple, float64(attempt))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}

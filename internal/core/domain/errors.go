package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the engine's error taxonomy. Callers branch with
// errors.Is; handlers decide which ones are retryable.
var (
	// ErrValidation marks a malformed or rule-violating command. Never retried.
	ErrValidation = errors.New("validation error")

	// ErrConcurrencyConflict marks a stale aggregate version at commit time.
	// The dispatcher reloads and retries a bounded number of times.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrNoRouteFound marks a swap request with no viable pool path.
	ErrNoRouteFound = errors.New("no route found")

	// ErrInsufficientAllowance marks a swap gated on a missing token approval.
	ErrInsufficientAllowance = errors.New("insufficient allowance")

	// ErrGasEstimation marks a failed gas estimate from the chain adapter.
	ErrGasEstimation = errors.New("gas estimation failed")

	// ErrSubmission marks a submission that exhausted all endpoints and retries.
	// The allocated nonce is NOT rolled back.
	ErrSubmission = errors.New("submission error")

	// ErrChainRevert marks an on-chain revert captured in a receipt.
	ErrChainRevert = errors.New("chain revert")

	// ErrReconciliationTimeout marks a transaction whose receipt never arrived
	// before the swap deadline.
	ErrReconciliationTimeout = errors.New("reconciliation timeout")

	ErrWalletNotFound      = errors.New("wallet not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTokenNotFound       = errors.New("token not found")
	ErrChainNotFound       = errors.New("chain not found")

	// ErrInvalidTransition marks a backward or terminal-state mutation attempt.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Validationf wraps ErrValidation with a formatted reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func invalidTransition(aggregate, from, to string) error {
	return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, aggregate, from, to)
}

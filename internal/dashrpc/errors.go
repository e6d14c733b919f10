// Package dashrpc talks to a regtest dashd through its companion dash-cli
// tool, one subprocess invocation per RPC call.
package dashrpc

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInsufficientFunds means the node rejected a spend for lack of
	// funds (RPC error -6). The generator's UTXO bookkeeping should make
	// this impossible; seeing it indicates a ledger bug.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// errWarmingUp means dashd is still loading (RPC error -28). Calls
	// hitting it are retried; the readiness poll relies on this.
	errWarmingUp = errors.New("node still warming up")

	// ErrUnreachable means dash-cli could not connect to the node.
	ErrUnreachable = errors.New("cannot connect to node")
)

// CommandError is a dash-cli invocation that returned a non-zero exit
// status for a reason other than the well-known retryable conditions.
type CommandError struct {
	Method string
	Output string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Method, strings.TrimSpace(e.Output))
}

// classifyError maps dash-cli stderr to a typed error.
func classifyError(method, stderr string) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "error code: -6"),
		strings.Contains(lower, "insufficient funds"):
		return ErrInsufficientFunds
	case strings.Contains(lower, "error code: -28"):
		return errWarmingUp
	case strings.Contains(lower, "could not connect"),
		strings.Contains(lower, "connection refused"):
		return ErrUnreachable
	default:
		return &CommandError{Method: method, Output: stderr}
	}
}

// retryable reports whether a call may be re-attempted.
func retryable(err error) bool {
	return errors.Is(err, errWarmingUp) || errors.Is(err, ErrUnreachable)
}

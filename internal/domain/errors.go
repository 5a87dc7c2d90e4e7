package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure taxonomy. Callers match with errors.Is;
// sites that need context wrap these with fmt.Errorf("%w").
var (
	// ErrInsufficientLiquidity means a channel allocation would exceed the
	// pool's caps. The open is rejected; the deposit is untouched.
	ErrInsufficientLiquidity = errors.New("insufficient pool liquidity")

	// ErrLedgerSyncTimeout means the clearing-network balance never caught
	// up with an on-chain top-up within the polling budget.
	ErrLedgerSyncTimeout = errors.New("clearing ledger balance sync timed out")

	// ErrCommitmentMismatch is a fatal fairness violation: a reveal did not
	// reproduce the earlier commitment. The round is void and never
	// affects the balance.
	ErrCommitmentMismatch = errors.New("reveal does not match prior commitment")

	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")

	// ErrRoundInFlight rejects a second round while one is outstanding.
	ErrRoundInFlight = errors.New("a round is already in flight")
)

// ConfigurationError reports a missing required address or key. Fatal for
// channel operations, non-fatal for anchoring.
type ConfigurationError struct {
	Field string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", e.Field)
}

// AuthenticationError reports a challenge or signing failure during
// clearing-network authentication. It aborts the connect attempt.
type AuthenticationError struct {
	Stage string
	Err   error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed at %s: %v", e.Stage, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// ProtocolError reports a malformed or out-of-order message on either
// duplex connection. It aborts the round or session it arrived on.
type ProtocolError struct {
	Method string
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("protocol error: %s", e.Reason)
	}
	return fmt.Sprintf("protocol error in %s: %s", e.Method, e.Reason)
}

// PhaseMismatchError rejects an operation not valid in the session's current phase.
type PhaseMismatchError struct {
	Op   string
	Have Phase
	Want Phase
}

func (e *PhaseMismatchError) Error() string {
	return fmt.Sprintf("%s requires phase %q, session is %q", e.Op, e.Want, e.Have)
}

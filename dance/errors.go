package dance

import (
	"errors"
	"fmt"

	"github.com/opd-ai/lockdance/pattern"
)

// Sentinel errors for Dance failures. Use errors.Is to classify.
var (
	// ErrProtocol indicates a malformed or out-of-sequence instruction.
	ErrProtocol = errors.New("protocol error")

	// ErrPatternMismatch indicates the reconstructed pattern differed from
	// the commitment.
	ErrPatternMismatch = errors.New("pattern mismatch")

	// ErrInvalidTransition indicates an attempted state change outside the
	// transition table.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrAuditFailed indicates the audit oracle denied the Dance.
	ErrAuditFailed = errors.New("audit failed")

	// ErrTimeout indicates the peer did not respond in time.
	ErrTimeout = errors.New("peer timeout")

	// ErrAborted indicates the Dance ended early.
	ErrAborted = errors.New("dance aborted")

	// ErrRejected indicates the peer reported a verification failure.
	ErrRejected = errors.New("peer rejected verification")

	// ErrFinished indicates a step on a session that already reached a
	// terminal state.
	ErrFinished = errors.New("session already finished")
)

// Provisioning errors.
var (
	// ErrInvalidTotal indicates a round count outside [1, MaxRounds].
	ErrInvalidTotal = errors.New("invalid exchange round count")

	// ErrNoOracle indicates a session created without an audit oracle.
	ErrNoOracle = errors.New("no audit oracle")
)

// ProtocolError reports an instruction that is not legal in the current state.
type ProtocolError struct {
	State State
	Got   Instruction
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("unexpected %s in %s", e.Got.Signal(), e.State)
}

func (e *ProtocolError) Unwrap() error { return ErrProtocol }

// PatternMismatchError carries both patterns for in-process diagnostics.
// Its message never includes them.
type PatternMismatchError struct {
	Expected pattern.Pattern
	Got      pattern.Pattern
}

func (e *PatternMismatchError) Error() string {
	return "reconstructed pattern does not match commitment"
}

func (e *PatternMismatchError) Unwrap() error { return ErrPatternMismatch }

// InvalidTransitionError reports a rejected state change.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// AuditDeniedError carries the oracle's denial reason.
type AuditDeniedError struct {
	Reason string
}

func (e *AuditDeniedError) Error() string {
	if e.Reason == "" {
		return ErrAuditFailed.Error()
	}
	return fmt.Sprintf("%s: %s", ErrAuditFailed, e.Reason)
}

func (e *AuditDeniedError) Unwrap() error { return ErrAuditFailed }

// PhaseError names the phase a Dance failed in.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("dance failed in %s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

package dance

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lockdance/audit"
	"github.com/opd-ai/lockdance/crypto"
	"github.com/opd-ai/lockdance/pattern"
)

// Session is one side of one Dance. It is not safe for concurrent use, and
// a finished session cannot be restarted: retrying means a new Session.
type Session struct {
	id         uuid.UUID
	role       Role
	total      int
	paired     pattern.Pattern
	oracle     audit.Oracle
	conditions audit.Conditions

	state State
	err   error

	ownTag  [crypto.KeySize]byte
	peerTag [crypto.KeySize]byte

	// ownNonce goes out after our opening signal; peerNonce collects the
	// peer's after theirs.
	ownNonce  []byte
	peerNonce []byte
	nonceSent int
	opened    bool

	// commitment is fixed once both nonces are known.
	commitment pattern.Pattern
	ours       []byte
	theirs     []byte

	// sent records whether our fragment for the current round went out.
	sent bool

	challengeSent bool

	log *logrus.Entry
}

// NewSession prepares a Dormant session from creds. The session keeps only
// the Tag of creds.Half and draws a fresh nonce, so no two sessions put the
// same fragments on the wire.
func NewSession(creds *Credentials, oracle audit.Oracle, conditions audit.Conditions) (*Session, error) {
	if creds == nil {
		return nil, errors.New("nil credentials")
	}
	if oracle == nil {
		return nil, ErrNoOracle
	}
	total := creds.Total
	if total == 0 {
		total = DefaultRounds
	}
	if total < 1 || total > MaxRounds {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTotal, total)
	}
	if creds.PeerTag == ([crypto.KeySize]byte{}) {
		return nil, fmt.Errorf("%w: missing peer tag", ErrInvalidCredentials)
	}

	nonce, err := NewNonce()
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	if conditions.SessionID == "" {
		conditions.SessionID = id.String()
	}
	conditions.Role = creds.Role.String()

	s := &Session{
		id:         id,
		role:       creds.Role,
		total:      total,
		paired:     creds.Commitment,
		oracle:     oracle,
		conditions: conditions,
		state:      State{Phase: Dormant, Total: total},
		ownTag:     Tag(creds.Half),
		peerTag:    creds.PeerTag,
		ownNonce:   nonce,
		peerNonce:  make([]byte, 0, NonceFragments),
		theirs:     make([]byte, total),
		log: logrus.WithFields(logrus.Fields{
			"package":    "dance",
			"session_id": id.String(),
			"role":       creds.Role.String(),
		}),
	}

	s.log.WithFields(logrus.Fields{
		"function": "NewSession",
		"rounds":   total,
	}).Debug("Session created")

	return s, nil
}

// ID returns the session identifier used in logs and audit conditions.
func (s *Session) ID() uuid.UUID { return s.id }

// Role returns the session's fixed role.
func (s *Session) Role() Role { return s.role }

// State returns the current state.
func (s *Session) State() State { return s.state }

// Err returns the error that ended the session, if any.
func (s *Session) Err() error { return s.err }

// IsComplete reports whether the Dance succeeded.
func (s *Session) IsComplete() bool { return s.state.Phase == Completed }

// IsFailed reports whether the Dance ended in Failed or Aborted.
func (s *Session) IsFailed() bool {
	return s.state.Phase == Failed || s.state.Phase == Aborted
}

// IsTerminal reports whether the session has finished.
func (s *Session) IsTerminal() bool { return s.state.IsTerminal() }

// Step is the only way a session advances. It validates received (nil when
// nothing arrived) against the current state and returns the instruction to
// emit, or nil to wait for the peer. When the Dance fails Step returns the
// error together with the REJECT or ABORT the peer should see.
func (s *Session) Step(ctx context.Context, received *Instruction) (*Instruction, error) {
	if s.state.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", ErrFinished, s.state)
	}

	if received != nil {
		s.log.WithFields(logrus.Fields{
			"function": "Session.Step",
			"state":    s.state.String(),
			"received": received.Signal().String(),
		}).Debug("Instruction received")
	}

	if s.state.Phase == Dormant {
		if err := s.transition(State{Phase: Ready}); err != nil {
			return nil, err
		}
	}

	if received != nil {
		switch received.Signal() {
		case SignalAbort:
			s.err = ErrAborted
			if err := s.transition(State{Phase: Aborted}); err != nil {
				return nil, err
			}
			return nil, ErrAborted
		case SignalReject:
			return s.fail(ErrRejected, nil)
		}
	}

	switch s.state.Phase {
	case Ready:
		return s.stepReady(received)
	case InitSent:
		if out, pending, err := s.sendNonce(received); pending {
			return out, err
		}
		return s.expect(received, SignalAck, func() (*Instruction, error) {
			return nil, s.transition(State{Phase: AwaitChallenge})
		})
	case AwaitChallenge:
		return s.collectNonce(received, SignalChallenge, func() (*Instruction, error) {
			if err := s.bind(); err != nil {
				return s.fail(err, emit(Abort))
			}
			if err := s.transition(s.exchangeState(0)); err != nil {
				return nil, err
			}
			return emit(Response), nil
		})
	case SendChallenge:
		return s.stepSendChallenge(received)
	case Exchange:
		return s.stepExchange(ctx, received)
	case Verifying:
		return s.stepVerify(ctx, received)
	case Auditing:
		if received != nil && received.Signal() != SignalComplete {
			return s.protocolError(received)
		}
		return s.runAudit(ctx)
	}

	return nil, fmt.Errorf("%w: unhandled %s", ErrProtocol, s.state)
}

func (s *Session) stepReady(received *Instruction) (*Instruction, error) {
	if s.role.Initiates() {
		if received != nil {
			return s.protocolError(received)
		}
		if err := s.transition(State{Phase: InitSent}); err != nil {
			return nil, err
		}
		return emit(Init), nil
	}

	return s.collectNonce(received, SignalInit, func() (*Instruction, error) {
		if err := s.transition(State{Phase: SendChallenge}); err != nil {
			return nil, err
		}
		return emit(Ack), nil
	})
}

func (s *Session) stepSendChallenge(received *Instruction) (*Instruction, error) {
	if !s.challengeSent {
		if received != nil {
			return s.protocolError(received)
		}
		s.challengeSent = true
		return emit(Challenge), nil
	}
	if out, pending, err := s.sendNonce(received); pending {
		return out, err
	}

	return s.expect(received, SignalResponse, func() (*Instruction, error) {
		if err := s.bind(); err != nil {
			return s.fail(err, emit(Abort))
		}
		return nil, s.transition(s.exchangeState(0))
	})
}

// sendNonce emits the next fragment of our nonce. pending is false once the
// whole nonce is out; until then nothing may arrive.
func (s *Session) sendNonce(received *Instruction) (out *Instruction, pending bool, err error) {
	if s.nonceSent == NonceFragments {
		return nil, false, nil
	}
	if received != nil {
		out, err = s.protocolError(received)
		return out, true, err
	}
	in := InstructionFromByte(s.ownNonce[s.nonceSent])
	s.nonceSent++
	return &in, true, nil
}

// collectNonce waits for the peer's opening signal, then for its nonce
// fragments, and runs next after the last one.
func (s *Session) collectNonce(received *Instruction, open Signal, next func() (*Instruction, error)) (*Instruction, error) {
	if !s.opened {
		return s.expect(received, open, func() (*Instruction, error) {
			s.opened = true
			return nil, nil
		})
	}
	if received == nil {
		return nil, nil
	}
	if received.Signal() != SignalNone {
		return s.protocolError(received)
	}
	s.peerNonce = append(s.peerNonce, received.ToByte())
	if len(s.peerNonce) < NonceFragments {
		return nil, nil
	}
	return next()
}

// bind derives this Dance's fragments and the commitment they must meet
// from both nonces.
func (s *Session) bind() error {
	keyNonce, lockNonce := s.ownNonce, s.peerNonce
	if s.role == LockHolder {
		keyNonce, lockNonce = lockNonce, keyNonce
	}

	ours, err := SessionFragments(s.ownTag, s.role, s.paired, keyNonce, lockNonce, s.total)
	if err != nil {
		return err
	}
	expected, err := SessionFragments(s.peerTag, s.role.Peer(), s.paired, keyNonce, lockNonce, s.total)
	if err != nil {
		crypto.ZeroBytes(ours)
		return err
	}
	defer crypto.ZeroBytes(expected)

	commitment, err := CommitmentFor(ours, expected)
	if err != nil {
		crypto.ZeroBytes(ours)
		return err
	}
	s.ours = ours
	s.commitment = commitment
	crypto.ZeroBytes(s.ownTag[:])
	crypto.ZeroBytes(s.peerTag[:])
	return nil
}

func (s *Session) stepExchange(ctx context.Context, received *Instruction) (*Instruction, error) {
	r := s.state.Round

	// The initiator opens every round.
	if s.role.Initiates() && !s.sent {
		if received != nil {
			return s.protocolError(received)
		}
		s.sent = true
		return s.fragment(r), nil
	}

	if received == nil {
		return nil, nil
	}
	if received.Signal() != SignalNone {
		return s.protocolError(received)
	}
	s.theirs[r] = received.ToByte()

	var out *Instruction
	if !s.sent {
		out = s.fragment(r)
		s.sent = true
	}

	last := r == s.total-1
	if last {
		if err := s.transition(State{Phase: Verifying}); err != nil {
			return nil, err
		}
	} else {
		if err := s.transition(s.exchangeState(r + 1)); err != nil {
			return nil, err
		}
	}
	s.sent = false

	if out != nil {
		// Responder: our fragment for round r answers theirs.
		return out, nil
	}

	// Initiator: open the next round or move on to verification.
	if last {
		return s.checkCommitment(emit(Verify))
	}
	s.sent = true
	return s.fragment(r + 1), nil
}

func (s *Session) stepVerify(ctx context.Context, received *Instruction) (*Instruction, error) {
	if s.role.Initiates() {
		return s.expect(received, SignalConfirm, func() (*Instruction, error) {
			if err := s.transition(State{Phase: Auditing}); err != nil {
				return nil, err
			}
			return s.runAudit(ctx)
		})
	}

	return s.expect(received, SignalVerify, func() (*Instruction, error) {
		out, err := s.checkCommitment(emit(Confirm))
		if err != nil {
			return out, err
		}
		if err := s.transition(State{Phase: Auditing}); err != nil {
			return nil, err
		}
		return out, nil
	})
}

// checkCommitment compares the reconstructed pattern with the commitment,
// returning onMatch or failing the session with a REJECT.
func (s *Session) checkCommitment(onMatch *Instruction) (*Instruction, error) {
	got, err := CommitmentFor(s.ours, s.theirs)
	if err != nil {
		return s.fail(err, emit(Abort))
	}
	if got != s.commitment {
		return s.fail(&PatternMismatchError{Expected: s.commitment, Got: got}, emit(Reject))
	}

	s.log.WithField("function", "Session.checkCommitment").Info("Reconstructed pattern matches commitment")
	return onMatch, nil
}

func (s *Session) runAudit(ctx context.Context) (*Instruction, error) {
	res, err := s.oracle.Evaluate(ctx, s.conditions)
	if err != nil {
		return s.fail(fmt.Errorf("%w: oracle: %w", ErrAuditFailed, err), emit(Abort))
	}
	if !res.Accepted {
		return s.fail(&AuditDeniedError{Reason: res.Reason}, emit(Abort))
	}

	if err := s.transition(State{Phase: Completed}); err != nil {
		return nil, err
	}
	return emit(Complete), nil
}

// expect waits on nil, runs next on the wanted signal and fails on anything else.
func (s *Session) expect(received *Instruction, want Signal, next func() (*Instruction, error)) (*Instruction, error) {
	if received == nil {
		return nil, nil
	}
	if received.Signal() != want {
		return s.protocolError(received)
	}
	return next()
}

func (s *Session) protocolError(received *Instruction) (*Instruction, error) {
	return s.fail(&ProtocolError{State: s.state, Got: *received}, emit(Abort))
}

// Abort ends a live session and returns the ABORT to emit. It returns nil
// if the session already finished.
func (s *Session) Abort() *Instruction {
	if s.state.IsTerminal() {
		return nil
	}
	s.err = ErrAborted
	if err := s.transition(State{Phase: Aborted}); err != nil {
		return nil
	}
	return emit(Abort)
}

// Fail ends a live session with cause and returns the ABORT to emit.
func (s *Session) Fail(cause error) *Instruction {
	if s.state.IsTerminal() {
		return nil
	}
	if s.state.Phase == Dormant {
		s.err = cause
		_ = s.transition(State{Phase: Aborted})
		return emit(Abort)
	}
	out, _ := s.fail(cause, emit(Abort))
	return out
}

// Close wipes the session's fragment buffers, aborting it if still live.
func (s *Session) Close() {
	if !s.state.IsTerminal() {
		s.Abort()
	}
	s.wipe()
}

func (s *Session) fail(cause error, out *Instruction) (*Instruction, error) {
	s.err = cause
	if err := s.transition(State{Phase: Failed, Reason: cause.Error()}); err != nil {
		return emit(Abort), err
	}

	s.log.WithFields(logrus.Fields{
		"function": "Session.fail",
		"error":    cause.Error(),
	}).Warn("Dance failed")

	return out, cause
}

// transition moves to next if the table allows it. A disallowed move is an
// internal error: the session is forced to Failed.
func (s *Session) transition(next State) error {
	next.Total = s.total
	if !CanTransition(s.state, next) {
		err := &InvalidTransitionError{From: s.state, To: next}
		s.log.WithFields(logrus.Fields{
			"function": "Session.transition",
			"from":     s.state.String(),
			"to":       next.String(),
		}).Error("Invalid state transition")

		s.err = err
		s.state = State{Phase: Failed, Total: s.total, Reason: err.Error()}
		s.wipe()
		return err
	}

	prev := s.state
	s.state = next

	entry := s.log.WithFields(logrus.Fields{
		"function": "Session.transition",
		"from":     prev.String(),
		"to":       next.String(),
	})
	if prev.Phase == next.Phase {
		entry.Debug("Exchange round advanced")
	} else {
		entry.Info("Phase changed")
	}

	if next.IsTerminal() {
		s.wipe()
	}
	return nil
}

func (s *Session) exchangeState(round int) State {
	return State{Phase: Exchange, Round: round, Total: s.total}
}

func (s *Session) fragment(round int) *Instruction {
	in := InstructionFromByte(s.ours[round])
	return &in
}

func (s *Session) wipe() {
	crypto.ZeroBytes(s.ours)
	crypto.ZeroBytes(s.theirs)
	crypto.ZeroBytes(s.ownNonce)
	crypto.ZeroBytes(s.peerNonce)
	crypto.ZeroBytes(s.ownTag[:])
	crypto.ZeroBytes(s.peerTag[:])
}

func emit(i Instruction) *Instruction {
	return &i
}

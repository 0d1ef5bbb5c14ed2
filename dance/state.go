package dance

import "fmt"

// Phase is the coarse position of a Dance.
type Phase uint8

const (
	Dormant Phase = iota
	Ready
	InitSent
	AwaitChallenge
	SendChallenge
	Exchange
	Verifying
	Auditing
	Completed
	Failed
	Aborted
)

var phaseNames = [...]string{
	Dormant:        "Dormant",
	Ready:          "Ready",
	InitSent:       "Init",
	AwaitChallenge: "AwaitChallenge",
	SendChallenge:  "SendChallenge",
	Exchange:       "Exchange",
	Verifying:      "Verify",
	Auditing:       "Audit",
	Completed:      "Complete",
	Failed:         "Failed",
	Aborted:        "Aborted",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", uint8(p))
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == Completed || p == Failed || p == Aborted
}

// State is the full handshake position. Round and Total are meaningful only
// in Exchange; Reason only in Failed.
type State struct {
	Phase  Phase
	Round  int
	Total  int
	Reason string
}

// IsTerminal reports whether s is Complete, Failed or Aborted.
func (s State) IsTerminal() bool { return s.Phase.Terminal() }

func (s State) String() string {
	switch s.Phase {
	case Exchange:
		return fmt.Sprintf("Exchange{%d/%d}", s.Round, s.Total)
	case Failed:
		if s.Reason != "" {
			return fmt.Sprintf("Failed{%s}", s.Reason)
		}
	}
	return s.Phase.String()
}

// same compares states ignoring the failure reason.
func (s State) same(o State) bool {
	if s.Phase != o.Phase {
		return false
	}
	if s.Phase == Exchange {
		return s.Round == o.Round && s.Total == o.Total
	}
	return true
}

// ValidTransitions lists every state reachable from s in one step. Failed
// entries carry no reason; any reason matches.
func ValidTransitions(s State) []State {
	failed := State{Phase: Failed}
	aborted := State{Phase: Aborted}

	switch s.Phase {
	case Dormant:
		return []State{{Phase: Ready}, aborted}
	case Ready:
		return []State{{Phase: InitSent}, {Phase: SendChallenge}, failed, aborted}
	case InitSent:
		return []State{{Phase: AwaitChallenge}, failed, aborted}
	case AwaitChallenge, SendChallenge:
		return []State{{Phase: Exchange, Round: 0, Total: s.Total}, failed, aborted}
	case Exchange:
		if s.Round < s.Total-1 {
			return []State{{Phase: Exchange, Round: s.Round + 1, Total: s.Total}, failed, aborted}
		}
		return []State{{Phase: Verifying}, failed, aborted}
	case Verifying:
		return []State{{Phase: Auditing}, failed, aborted}
	case Auditing:
		return []State{{Phase: Completed}, failed, aborted}
	default:
		return nil
	}
}

// CanTransition reports whether to is in ValidTransitions(from).
func CanTransition(from, to State) bool {
	for _, s := range ValidTransitions(from) {
		if s.same(to) {
			return true
		}
	}
	return false
}

// Role is fixed for the lifetime of a session.
type Role uint8

const (
	// LockHolder holds the Lock half and answers.
	LockHolder Role = iota
	// KeyHolder holds the Key half and initiates.
	KeyHolder
)

func (r Role) String() string {
	switch r {
	case LockHolder:
		return "LockHolder"
	case KeyHolder:
		return "KeyHolder"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// Initiates reports whether this role sends the first instruction.
func (r Role) Initiates() bool { return r == KeyHolder }

// Peer returns the opposite role.
func (r Role) Peer() Role {
	if r == KeyHolder {
		return LockHolder
	}
	return KeyHolder
}

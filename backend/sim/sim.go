// Package sim provides an in-memory loopback pair of Dance devices for tests
// and demos. What one endpoint displays and plays, the other observes.
package sim

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lockdance/dance"
	"github.com/opd-ai/lockdance/pattern"
)

// ErrClosed indicates use of a closed endpoint.
var ErrClosed = errors.New("sim endpoint closed")

// Tamper rewrites an instruction in flight. Returning false drops it.
type Tamper func(seq int, in dance.Instruction) (dance.Instruction, bool)

// Record is one delivered instruction, for test verification.
type Record struct {
	Seq         int
	From        string
	Instruction dance.Instruction
	Dropped     bool
}

// Endpoint is one side of a loopback pair. It implements backend.IO.
type Endpoint struct {
	name string
	peer *Endpoint

	mu      sync.Mutex
	visual  []pattern.VisualOp
	audio   []pattern.AudioOp
	closed  bool
	notify  chan struct{}
	pending *dance.Instruction

	link *link
}

// link is the shared state of a pair.
type link struct {
	mu     sync.Mutex
	seq    int
	tamper Tamper
	log    []Record
}

// NewPair creates two connected endpoints.
func NewPair(a, b string) (*Endpoint, *Endpoint) {
	l := &link{}
	ea := &Endpoint{name: a, notify: make(chan struct{}, 1), link: l}
	eb := &Endpoint{name: b, notify: make(chan struct{}, 1), link: l}
	ea.peer, eb.peer = eb, ea

	logrus.WithFields(logrus.Fields{
		"function": "sim.NewPair",
		"a":        a,
		"b":        b,
	}).Debug("Created simulated device pair")

	return ea, eb
}

// SetTamper installs a hook applied to every instruction on the pair.
func (e *Endpoint) SetTamper(t Tamper) {
	e.link.mu.Lock()
	defer e.link.mu.Unlock()
	e.link.tamper = t
}

// Log returns every instruction sent on the pair so far.
func (e *Endpoint) Log() []Record {
	e.link.mu.Lock()
	defer e.link.mu.Unlock()
	out := make([]Record, len(e.link.log))
	copy(out, e.link.log)
	return out
}

// Display stages a visual op until Flush.
func (e *Endpoint) Display(op pattern.VisualOp) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.pending == nil {
		e.pending = &dance.Instruction{}
	}
	e.pending.Visual = op
	return nil
}

// Play stages an audio op until Flush.
func (e *Endpoint) Play(op pattern.AudioOp) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.pending == nil {
		e.pending = &dance.Instruction{}
	}
	e.pending.Audio = op
	return nil
}

// Clear discards anything staged.
func (e *Endpoint) Clear() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = nil
	return nil
}

// Flush delivers the staged instruction to the peer.
func (e *Endpoint) Flush() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	in := e.pending
	e.pending = nil
	e.mu.Unlock()

	if in == nil {
		return nil
	}

	e.link.mu.Lock()
	seq := e.link.seq
	e.link.seq++
	out, keep := *in, true
	if e.link.tamper != nil {
		out, keep = e.link.tamper(seq, out)
	}
	e.link.log = append(e.link.log, Record{Seq: seq, From: e.name, Instruction: out, Dropped: !keep})
	e.link.mu.Unlock()

	if keep {
		e.peer.deliver(out)
	}
	return nil
}

func (e *Endpoint) deliver(in dance.Instruction) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.visual = append(e.visual, in.Visual)
	e.audio = append(e.audio, in.Audio)
	e.mu.Unlock()

	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// ReceiveVisual pops the oldest observed visual op.
func (e *Endpoint) ReceiveVisual() (pattern.VisualOp, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.visual) == 0 {
		return 0, false
	}
	v := e.visual[0]
	e.visual = e.visual[1:]
	return v, true
}

// ReceiveAudio pops the oldest observed audio op.
func (e *Endpoint) ReceiveAudio() (pattern.AudioOp, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.audio) == 0 {
		return 0, false
	}
	a := e.audio[0]
	e.audio = e.audio[1:]
	return a, true
}

// Available reports whether a complete instruction is waiting.
func (e *Endpoint) Available() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.visual) > 0 && len(e.audio) > 0
}

// Wait blocks until an instruction is waiting or timeout elapses.
func (e *Endpoint) Wait(timeout time.Duration) bool {
	if e.Available() {
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-e.notify:
			if e.Available() {
				return true
			}
		case <-timer.C:
			return e.Available()
		}
	}
}

// Close stops the endpoint; later output fails and input is discarded.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.visual, e.audio = nil, nil
	return nil
}

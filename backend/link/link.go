// Package link carries Dance instructions between two machines over a
// Noise-encrypted stream. Unlike perceptual backends it transmits whole
// instructions, payload nibble included.
package link

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lockdance/dance"
	"github.com/opd-ai/lockdance/noise"
	"github.com/opd-ai/lockdance/pattern"
)

var (
	// ErrClosed indicates use of a closed endpoint.
	ErrClosed = errors.New("link closed")

	// ErrPeerClosed indicates the peer ended the stream. It wraps the
	// transport's io.EOF.
	ErrPeerClosed = errors.New("peer closed link")
)

// Transport moves whole messages. *noise.Conn implements it.
type Transport interface {
	Send(msg []byte) error
	Recv() ([]byte, error)
}

// Endpoint is a backend.IO over a Transport.
type Endpoint struct {
	tr Transport

	mu      sync.Mutex
	pending *dance.Instruction

	inbox chan dance.Instruction
	head  *dance.Instruction

	errMu sync.Mutex
	err   error

	done chan struct{}
	once sync.Once
}

// Dial runs the Noise handshake over rw and starts an endpoint on the
// resulting connection. The Dance key holder should take the initiator role.
func Dial(rw io.ReadWriter, role noise.HandshakeRole, cfg noise.Config) (*Endpoint, error) {
	conn, err := noise.Handshake(rw, role, cfg)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

// New starts an endpoint reading from tr in the background.
func New(tr Transport) *Endpoint {
	e := &Endpoint{
		tr:    tr,
		inbox: make(chan dance.Instruction, 64),
		done:  make(chan struct{}),
	}
	go e.readLoop()
	return e
}

func (e *Endpoint) readLoop() {
	defer close(e.inbox)
	for {
		msg, err := e.tr.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				err = fmt.Errorf("%w: %w", ErrPeerClosed, err)
			}
			e.setErr(err)
			return
		}
		in, err := dance.InstructionFromBytes(msg)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "link.readLoop",
				"size":     len(msg),
				"error":    err.Error(),
			}).Warn("Discarding malformed instruction")
			continue
		}
		select {
		case e.inbox <- in:
		case <-e.done:
			return
		}
	}
}

func (e *Endpoint) setErr(err error) {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	if e.err == nil {
		e.err = err
	}
}

// Err returns the error that stopped the reader, if any.
func (e *Endpoint) Err() error {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.err
}

// WriteInstruction sends in immediately.
func (e *Endpoint) WriteInstruction(in dance.Instruction) error {
	select {
	case <-e.done:
		return ErrClosed
	default:
	}
	return e.tr.Send(in.ToBytes())
}

// Display stages a visual op until Flush.
func (e *Endpoint) Display(op pattern.VisualOp) error {
	e.mu.Lock()
	defer e.mu.Unlock()
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
	if e.pending == nil {
		e.pending = &dance.Instruction{}
	}
	e.pending.Audio = op
	return nil
}

// Clear drops anything staged.
func (e *Endpoint) Clear() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = nil
	return nil
}

// Flush sends a staged instruction, if any.
func (e *Endpoint) Flush() error {
	e.mu.Lock()
	in := e.pending
	e.pending = nil
	e.mu.Unlock()
	if in == nil {
		return nil
	}
	return e.WriteInstruction(*in)
}

// peek moves the next received instruction into head without blocking.
func (e *Endpoint) peek() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.head != nil {
		return true
	}
	select {
	case in, ok := <-e.inbox:
		if !ok {
			return false
		}
		e.head = &in
		return true
	default:
		return false
	}
}

// ReadInstruction pops the next received instruction. Once everything
// received has been read it returns the error that stopped the reader,
// ErrPeerClosed when the peer hung up.
func (e *Endpoint) ReadInstruction() (dance.Instruction, bool, error) {
	if !e.peek() {
		return dance.Instruction{}, false, e.Err()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	in := *e.head
	e.head = nil
	return in, true, nil
}

// ReceiveVisual reports the visual op of the next instruction without
// consuming it; ReceiveAudio consumes it.
func (e *Endpoint) ReceiveVisual() (pattern.VisualOp, bool) {
	if !e.peek() {
		return 0, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.head.Visual, true
}

// ReceiveAudio pops the next instruction and returns its audio op.
func (e *Endpoint) ReceiveAudio() (pattern.AudioOp, bool) {
	in, ok, _ := e.ReadInstruction()
	return in.Audio, ok
}

// Available reports whether an instruction is waiting.
func (e *Endpoint) Available() bool {
	return e.peek()
}

// Wait blocks until an instruction arrives or timeout elapses. It also
// returns true once the reader has stopped so the caller picks up the error
// from ReadInstruction instead of timing out.
func (e *Endpoint) Wait(timeout time.Duration) bool {
	if e.peek() || e.Err() != nil {
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case in, ok := <-e.inbox:
		if !ok {
			return e.Err() != nil
		}
		e.mu.Lock()
		e.head = &in
		e.mu.Unlock()
		return true
	case <-timer.C:
		return e.peek() || e.Err() != nil
	case <-e.done:
		return false
	}
}

// Close stops the reader. The underlying stream is left to its owner.
func (e *Endpoint) Close() error {
	e.once.Do(func() { close(e.done) })
	return nil
}

package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/opd-ai/lockdance/dance"
)

// Stats counts Runner activity. Safe to read while the Runner is running.
type Stats struct {
	Emitted  uint64
	Received uint64
	Timeouts uint64
}

// Runner drives one Session against an output device, an input device and
// a timing policy. Each parameter is independent: any Output pairs with any
// Input. A Runner is not safe for concurrent use; devices shared between
// Runners must be serialized by the caller.
type Runner[O Output, I Input, T Timing] struct {
	session *dance.Session
	out     O
	in      I
	timing  T
	clock   Clock

	emitted  atomic.Uint64
	received atomic.Uint64
	timeouts atomic.Uint64

	log *logrus.Entry
}

// NewRunner binds session to its devices. The Runner uses RealClock until
// WithClock is called.
func NewRunner[O Output, I Input, T Timing](session *dance.Session, out O, in I, timing T) *Runner[O, I, T] {
	return &Runner[O, I, T]{
		session: session,
		out:     out,
		in:      in,
		timing:  timing,
		clock:   RealClock{},
		log: logrus.WithFields(logrus.Fields{
			"package":    "backend",
			"session_id": session.ID().String(),
			"role":       session.Role().String(),
		}),
	}
}

// WithClock replaces the Runner's clock.
func (r *Runner[O, I, T]) WithClock(c Clock) *Runner[O, I, T] {
	if c != nil {
		r.clock = c
	}
	return r
}

// Session returns the driven session.
func (r *Runner[O, I, T]) Session() *dance.Session { return r.session }

// Stats returns a snapshot of the counters.
func (r *Runner[O, I, T]) Stats() Stats {
	return Stats{
		Emitted:  r.emitted.Load(),
		Received: r.received.Load(),
		Timeouts: r.timeouts.Load(),
	}
}

// Step polls input without blocking, feeds the session and emits whatever it
// produced. It reports whether the Dance is complete.
func (r *Runner[O, I, T]) Step(ctx context.Context) (bool, error) {
	_, err := r.step(ctx)
	if err != nil {
		return false, err
	}
	return r.session.IsComplete(), nil
}

// step returns whether an instruction was emitted.
func (r *Runner[O, I, T]) step(ctx context.Context) (bool, error) {
	phase := r.session.State().Phase

	received, err := Receive(r.in)
	if err != nil {
		r.abandon(r.session.Fail(err))
		return false, r.failure(phase, err)
	}
	if received != nil {
		r.received.Inc()
	}

	out, stepErr := r.session.Step(ctx, received)
	emitted, emitErr := r.emit(out)
	if stepErr != nil {
		return emitted, r.failure(phase, stepErr)
	}
	if emitErr != nil {
		phase = r.session.State().Phase
		r.abandon(r.session.Fail(emitErr))
		return false, r.failure(phase, emitErr)
	}
	return emitted, nil
}

// Run repeats Step until the Dance completes or fails. While the session
// waits for the peer it blocks on the input for at most ReceiveTimeout;
// between emitted instructions it sleeps StepDelay.
func (r *Runner[O, I, T]) Run(ctx context.Context) error {
	r.log.WithFields(logrus.Fields{
		"function": "Runner.Run",
		"timeout":  r.timing.ReceiveTimeout().String(),
	}).Debug("Starting dance")

	for {
		if err := ctx.Err(); err != nil {
			return r.cancel(err)
		}

		emitted, err := r.step(ctx)
		if err != nil {
			return err
		}

		if r.session.IsComplete() {
			r.log.WithFields(logrus.Fields{
				"function": "Runner.Run",
				"emitted":  r.emitted.Load(),
				"received": r.received.Load(),
			}).Info("Dance complete")
			return nil
		}
		if r.session.IsTerminal() {
			return r.failure(r.session.State().Phase, r.session.Err())
		}

		if emitted {
			if err := r.clock.Sleep(ctx, r.timing.StepDelay()); err != nil {
				return r.cancel(err)
			}
			continue
		}

		if r.in.Available() {
			continue
		}
		if !r.in.Wait(r.timing.ReceiveTimeout()) {
			if err := ctx.Err(); err != nil {
				return r.cancel(err)
			}
			r.timeouts.Inc()
			phase := r.session.State().Phase
			r.log.WithFields(logrus.Fields{
				"function": "Runner.Run",
				"state":    r.session.State().String(),
				"timeout":  r.timing.ReceiveTimeout().String(),
			}).Warn("Peer timed out")
			r.abandon(r.session.Fail(dance.ErrTimeout))
			return r.failure(phase, dance.ErrTimeout)
		}
	}
}

// cancel aborts the session after ctx ended.
func (r *Runner[O, I, T]) cancel(ctxErr error) error {
	r.abandon(r.session.Abort())
	return errors.Join(ctxErr, dance.ErrAborted)
}

// emit renders in, if any, and flushes.
func (r *Runner[O, I, T]) emit(in *dance.Instruction) (bool, error) {
	if in == nil {
		return false, nil
	}
	if err := Emit(r.out, *in); err != nil {
		r.log.WithFields(logrus.Fields{
			"function":    "Runner.emit",
			"instruction": in.Signal().String(),
			"error":       err.Error(),
		}).Error("Output failed")
		return false, err
	}
	if err := r.out.Flush(); err != nil {
		r.log.WithFields(logrus.Fields{
			"function": "Runner.emit",
			"error":    err.Error(),
		}).Error("Flush failed")
		return false, fmt.Errorf("flush: %w", err)
	}
	r.emitted.Inc()
	return true, nil
}

// abandon emits a final ABORT on a best-effort basis; the session has
// already ended.
func (r *Runner[O, I, T]) abandon(in *dance.Instruction) {
	_, _ = r.emit(in)
}

// failure wraps cause with the phase it happened in. The result always
// matches dance.ErrAborted.
func (r *Runner[O, I, T]) failure(phase dance.Phase, cause error) error {
	if cause == nil {
		cause = dance.ErrAborted
	}
	pe := &dance.PhaseError{Phase: phase, Err: cause}
	if errors.Is(cause, dance.ErrAborted) {
		return pe
	}
	return fmt.Errorf("%w: %w", dance.ErrAborted, pe)
}

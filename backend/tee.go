package backend

import (
	"errors"

	"github.com/opd-ai/lockdance/dance"
	"github.com/opd-ai/lockdance/pattern"
)

// Tee renders on several outputs in order. The first output is usually the
// channel to the peer and the rest are local monitors.
type Tee []Output

// NewTee returns a Tee over outs.
func NewTee(outs ...Output) Tee { return Tee(outs) }

// WriteInstruction emits in on every output, so transmitting outputs keep
// the payload nibble.
func (t Tee) WriteInstruction(in dance.Instruction) error {
	for _, o := range t {
		if err := Emit(o, in); err != nil {
			return err
		}
	}
	return nil
}

func (t Tee) Display(op pattern.VisualOp) error {
	for _, o := range t {
		if err := o.Display(op); err != nil {
			return err
		}
	}
	return nil
}

func (t Tee) Play(op pattern.AudioOp) error {
	for _, o := range t {
		if err := o.Play(op); err != nil {
			return err
		}
	}
	return nil
}

// Clear clears every output even if one fails.
func (t Tee) Clear() error {
	var errs []error
	for _, o := range t {
		errs = append(errs, o.Clear())
	}
	return errors.Join(errs...)
}

func (t Tee) Flush() error {
	for _, o := range t {
		if err := o.Flush(); err != nil {
			return err
		}
	}
	return nil
}

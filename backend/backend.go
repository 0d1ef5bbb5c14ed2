package backend

import (
	"fmt"
	"time"

	"github.com/opd-ai/lockdance/dance"
	"github.com/opd-ai/lockdance/pattern"
)

// Output renders instructions on a device: a console, a canvas, an LED
// driver. Display and Play may buffer until Flush.
type Output interface {
	Display(op pattern.VisualOp) error
	Play(op pattern.AudioOp) error
	Clear() error
	Flush() error
}

// InstructionWriter is implemented by outputs that transmit whole
// instructions, payload included. Emit prefers it over Display and Play.
type InstructionWriter interface {
	WriteInstruction(in dance.Instruction) error
}

// Input observes the peer's device. ReceiveVisual and ReceiveAudio report
// false when nothing is pending. Available never blocks; Wait blocks until
// input is available or timeout elapses and reports which happened.
type Input interface {
	ReceiveVisual() (pattern.VisualOp, bool)
	ReceiveAudio() (pattern.AudioOp, bool)
	Available() bool
	Wait(timeout time.Duration) bool
}

// InstructionReader is implemented by inputs that carry whole instructions.
type InstructionReader interface {
	ReadInstruction() (dance.Instruction, bool, error)
}

// IO is a device that both renders and observes.
type IO interface {
	Output
	Input
}

// Emit renders in on out. Outputs implementing InstructionWriter receive the
// whole instruction; others get Display followed by Play.
func Emit(out Output, in dance.Instruction) error {
	if w, ok := out.(InstructionWriter); ok {
		return w.WriteInstruction(in)
	}
	if err := out.Display(in.Visual); err != nil {
		return fmt.Errorf("display %s: %w", in.Visual, err)
	}
	if err := out.Play(in.Audio); err != nil {
		return fmt.Errorf("play %s: %w", in.Audio, err)
	}
	return nil
}

// Receive reads one instruction from in if one is pending. A visual op
// without its audio half is reported as an error.
func Receive(in Input) (*dance.Instruction, error) {
	if r, ok := in.(InstructionReader); ok {
		instr, ok, err := r.ReadInstruction()
		if err != nil || !ok {
			return nil, err
		}
		return &instr, nil
	}

	if !in.Available() {
		return nil, nil
	}
	v, ok := in.ReceiveVisual()
	if !ok {
		return nil, nil
	}
	a, ok := in.ReceiveAudio()
	if !ok {
		return nil, fmt.Errorf("%w: visual %s without audio", dance.ErrProtocol, v)
	}
	instr := dance.NewInstruction(v, a)
	return &instr, nil
}

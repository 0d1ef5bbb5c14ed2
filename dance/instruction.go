package dance

import (
	"errors"
	"fmt"

	"github.com/opd-ai/lockdance/pattern"
)

// Instruction is the transmissible unit of a Dance: one visual op, one
// audio op and an optional 4-bit payload.
//
// Wire format:
//
//	[VISUAL(4)][AUDIO(4)]                     1 byte
//	[VISUAL(4)][AUDIO(4)][RESERVED(4)][DATA(4)] 2 bytes
//
// Receivers ignore the reserved nibble.
type Instruction struct {
	Visual  pattern.VisualOp
	Audio   pattern.AudioOp
	Data    uint8
	HasData bool
}

// MaxInstructionSize is the largest encoded instruction.
const MaxInstructionSize = 2

var (
	// ErrEmptyInstruction indicates zero input bytes.
	ErrEmptyInstruction = errors.New("empty instruction")

	// ErrInstructionTooLong indicates more than two input bytes.
	ErrInstructionTooLong = errors.New("instruction longer than 2 bytes")
)

// NewInstruction builds a payload-free instruction. Ops are masked to a nibble.
func NewInstruction(v pattern.VisualOp, a pattern.AudioOp) Instruction {
	return Instruction{Visual: v & 0x0F, Audio: a & 0x0F}
}

// WithData returns a copy carrying d masked to 4 bits.
func (i Instruction) WithData(d uint8) Instruction {
	i.Data = d & 0x0F
	i.HasData = true
	return i
}

// ToByte packs the op pair into one byte.
func (i Instruction) ToByte() byte {
	return EncodeDanceByte(i.Visual, i.Audio)
}

// ToBytes encodes the instruction, appending the payload byte if present.
func (i Instruction) ToBytes() []byte {
	if !i.HasData {
		return []byte{i.ToByte()}
	}
	return []byte{i.ToByte(), i.Data & 0x0F}
}

// InstructionFromByte unpacks a single byte.
func InstructionFromByte(b byte) Instruction {
	v, a := DecodeDanceByte(b)
	return Instruction{Visual: v, Audio: a}
}

// InstructionFromBytes decodes one or two bytes.
func InstructionFromBytes(b []byte) (Instruction, error) {
	switch len(b) {
	case 0:
		return Instruction{}, ErrEmptyInstruction
	case 1:
		return InstructionFromByte(b[0]), nil
	case 2:
		return InstructionFromByte(b[0]).WithData(b[1]), nil
	default:
		return Instruction{}, fmt.Errorf("%w: %d bytes", ErrInstructionTooLong, len(b))
	}
}

// EncodeDanceByte packs v into the high nibble and a into the low nibble.
func EncodeDanceByte(v pattern.VisualOp, a pattern.AudioOp) byte {
	return byte(v&0x0F)<<4 | byte(a&0x0F)
}

// DecodeDanceByte is the inverse of EncodeDanceByte.
func DecodeDanceByte(b byte) (pattern.VisualOp, pattern.AudioOp) {
	return pattern.VisualOp(b >> 4), pattern.AudioOp(b & 0x0F)
}

// Signal is the protocol meaning of an instruction.
type Signal uint8

const (
	// SignalNone marks a payload fragment.
	SignalNone Signal = iota
	SignalInit
	SignalAck
	SignalChallenge
	SignalResponse
	SignalVerify
	SignalConfirm
	SignalReject
	SignalComplete
	SignalAbort
)

var signalNames = map[Signal]string{
	SignalNone:      "FRAGMENT",
	SignalInit:      "INIT",
	SignalAck:       "ACK",
	SignalChallenge: "CHALLENGE",
	SignalResponse:  "RESPONSE",
	SignalVerify:    "VERIFY",
	SignalConfirm:   "CONFIRM",
	SignalReject:    "REJECT",
	SignalComplete:  "COMPLETE",
	SignalAbort:     "ABORT",
}

func (s Signal) String() string {
	if n, ok := signalNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Signal(%d)", uint8(s))
}

// The nine protocol instructions. Their visual ops are pairwise distinct,
// as are their audio ops.
var (
	Init      = NewInstruction(pattern.WhiteStrobe, pattern.RisingSweep)
	Ack       = NewInstruction(pattern.GreenSweep, pattern.Chime)
	Challenge = NewInstruction(pattern.VioletBurst, pattern.Trill)
	Response  = NewInstruction(pattern.CyanRipple, pattern.Arpeggio)
	Verify    = NewInstruction(pattern.GoldSparkle, pattern.Bell)
	Confirm   = NewInstruction(pattern.LimeChase, pattern.MajorChord)
	Reject    = NewInstruction(pattern.RedPulse, pattern.MinorChord)
	Complete  = NewInstruction(pattern.TealShimmer, pattern.FallingSweep)
	Abort     = NewInstruction(pattern.DarkFade, pattern.Buzz)
)

var signalsByByte = map[byte]Signal{
	Init.ToByte():      SignalInit,
	Ack.ToByte():       SignalAck,
	Challenge.ToByte(): SignalChallenge,
	Response.ToByte():  SignalResponse,
	Verify.ToByte():    SignalVerify,
	Confirm.ToByte():   SignalConfirm,
	Reject.ToByte():    SignalReject,
	Complete.ToByte():  SignalComplete,
	Abort.ToByte():     SignalAbort,
}

// Signal reports the protocol meaning of the op pair. Payload bits do not
// participate.
func (i Instruction) Signal() Signal {
	return signalsByByte[i.ToByte()]
}

// IsSignal reports whether b encodes a protocol instruction.
func IsSignal(b byte) bool {
	_, ok := signalsByByte[b]
	return ok
}

// ProtocolInstructions lists the nine signals in protocol order.
func ProtocolInstructions() []Instruction {
	return []Instruction{Init, Ack, Challenge, Response, Verify, Confirm, Reject, Complete, Abort}
}

// String renders the instruction for logs.
func (i Instruction) String() string {
	s := fmt.Sprintf("%s(%s+%s)", i.Signal(), i.Visual, i.Audio)
	if i.HasData {
		s += fmt.Sprintf("[%x]", i.Data)
	}
	return s
}

package pattern

import (
	"fmt"
	"math"
)

// VisualOp is the primary visual operation of a pattern (4 bits).
type VisualOp uint8

const (
	RedPulse VisualOp = iota
	OrangeFlash
	YellowGlow
	GreenSweep
	CyanRipple
	BlueWave
	IndigoSpiral
	VioletBurst
	WhiteStrobe
	PinkFade
	AmberBlink
	TealShimmer
	MagentaFlicker
	LimeChase
	GoldSparkle
	DarkFade
)

// NumVisualOps is the size of the visual vocabulary.
const NumVisualOps = 16

var visualOpNames = [NumVisualOps]string{
	"RedPulse", "OrangeFlash", "YellowGlow", "GreenSweep",
	"CyanRipple", "BlueWave", "IndigoSpiral", "VioletBurst",
	"WhiteStrobe", "PinkFade", "AmberBlink", "TealShimmer",
	"MagentaFlicker", "LimeChase", "GoldSparkle", "DarkFade",
}

// String returns the name of the visual operation.
func (v VisualOp) String() string {
	if int(v) < NumVisualOps {
		return visualOpNames[v]
	}
	return fmt.Sprintf("VisualOp(%d)", uint8(v))
}

// Valid reports whether v fits in a nibble.
func (v VisualOp) Valid() bool { return v < NumVisualOps }

// AudioOp is the primary audio operation of a pattern (4 bits).
type AudioOp uint8

const (
	Silence AudioOp = iota
	LowTone
	MidTone
	HighTone
	RisingSweep
	FallingSweep
	MajorChord
	MinorChord
	Arpeggio
	Trill
	Chime
	Click
	Chirp
	Buzz
	Drum
	Bell
)

// NumAudioOps is the size of the audio vocabulary.
const NumAudioOps = 16

var audioOpNames = [NumAudioOps]string{
	"Silence", "LowTone", "MidTone", "HighTone",
	"RisingSweep", "FallingSweep", "MajorChord", "MinorChord",
	"Arpeggio", "Trill", "Chime", "Click",
	"Chirp", "Buzz", "Drum", "Bell",
}

// String returns the name of the audio operation.
func (a AudioOp) String() string {
	if int(a) < NumAudioOps {
		return audioOpNames[a]
	}
	return fmt.Sprintf("AudioOp(%d)", uint8(a))
}

// Valid reports whether a fits in a nibble.
func (a AudioOp) Valid() bool { return a < NumAudioOps }

// Color is a position on a 256-step hue wheel at full saturation.
type Color uint8

// Hue returns the hue angle in degrees, in [0, 360).
func (c Color) Hue() float64 {
	return float64(c) * 360.0 / 256.0
}

// RGB converts the color to 8-bit RGB at full saturation and value.
func (c Color) RGB() (r, g, b uint8) {
	h := c.Hue() / 60.0
	x := 1 - math.Abs(math.Mod(h, 2)-1)
	var rf, gf, bf float64
	switch int(h) {
	case 0:
		rf, gf = 1, x
	case 1:
		rf, gf = x, 1
	case 2:
		gf, bf = 1, x
	case 3:
		gf, bf = x, 1
	case 4:
		rf, bf = x, 1
	default:
		rf, bf = 1, x
	}
	return uint8(math.Round(rf * 255)), uint8(math.Round(gf * 255)), uint8(math.Round(bf * 255))
}

// String returns the color as #rrggbb.
func (c Color) String() string {
	r, g, b := c.RGB()
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}

// Shape is the rendered figure.
type Shape uint8

const (
	Circle Shape = iota
	Square
	Triangle
	Diamond
	Star
	Hexagon
	Ring
	Cross
)

// NumShapes is the number of distinct shapes.
const NumShapes = 8

var shapeNames = [NumShapes]string{"Circle", "Square", "Triangle", "Diamond", "Star", "Hexagon", "Ring", "Cross"}

func (s Shape) String() string {
	if int(s) < NumShapes {
		return shapeNames[s]
	}
	return fmt.Sprintf("Shape(%d)", uint8(s))
}

// Motion is how the figure moves while displayed.
type Motion uint8

const (
	Still Motion = iota
	Pulse
	Rotate
	Bounce
	Slide
	Spiral
	Zoom
	Shake
)

// NumMotions is the number of distinct motions.
const NumMotions = 8

var motionNames = [NumMotions]string{"Still", "Pulse", "Rotate", "Bounce", "Slide", "Spiral", "Zoom", "Shake"}

func (m Motion) String() string {
	if int(m) < NumMotions {
		return motionNames[m]
	}
	return fmt.Sprintf("Motion(%d)", uint8(m))
}

// Frequency is a semitone index above the base pitch.
type Frequency uint8

const (
	// BaseFrequency is the pitch of semitone 0 (A3).
	BaseFrequency = 220.0
	// NumSemitones spans four octaves.
	NumSemitones = 48
)

// Hz returns the equal-tempered pitch of the semitone.
func (f Frequency) Hz() float64 {
	return BaseFrequency * math.Pow(2, float64(f)/12.0)
}

func (f Frequency) String() string {
	return fmt.Sprintf("%.1fHz", f.Hz())
}

// Chord is the harmony layered over the base frequency.
type Chord uint8

const (
	Unison Chord = iota
	Major
	Minor
	Diminished
	Augmented
	Sus2
	Sus4
	Seventh
)

// NumChords is the number of chord kinds.
const NumChords = 8

var chordNames = [NumChords]string{"Unison", "Major", "Minor", "Diminished", "Augmented", "Sus2", "Sus4", "Seventh"}

var chordIntervals = [NumChords][]int{
	{0},
	{0, 4, 7},
	{0, 3, 7},
	{0, 3, 6},
	{0, 4, 8},
	{0, 2, 7},
	{0, 5, 7},
	{0, 4, 7, 10},
}

func (c Chord) String() string {
	if int(c) < NumChords {
		return chordNames[c]
	}
	return fmt.Sprintf("Chord(%d)", uint8(c))
}

// Intervals returns the chord's semitone offsets from the root.
func (c Chord) Intervals() []int {
	if int(c) >= NumChords {
		return []int{0}
	}
	out := make([]int, len(chordIntervals[c]))
	copy(out, chordIntervals[c])
	return out
}

// Rhythm is an 8-step pattern; bit i set means step i sounds. Bit 7 is
// the first step.
type Rhythm uint8

// Steps expands the rhythm into its eight steps.
func (r Rhythm) Steps() [8]bool {
	var s [8]bool
	for i := 0; i < 8; i++ {
		s[i] = r&(0x80>>i) != 0
	}
	return s
}

// Beats counts the sounding steps.
func (r Rhythm) Beats() int {
	n := 0
	for v := uint8(r); v != 0; v &= v - 1 {
		n++
	}
	return n
}

func (r Rhythm) String() string {
	s := r.Steps()
	buf := make([]byte, 8)
	for i, on := range s {
		if on {
			buf[i] = 'x'
		} else {
			buf[i] = '.'
		}
	}
	return string(buf)
}

// VisualInstruction fully describes what to show.
type VisualInstruction struct {
	Op     VisualOp
	Color  Color
	Shape  Shape
	Motion Motion
}

func (v VisualInstruction) String() string {
	return fmt.Sprintf("%s %s %s %s", v.Op, v.Color, v.Shape, v.Motion)
}

// AudioInstruction fully describes what to play.
type AudioInstruction struct {
	Op        AudioOp
	Frequency Frequency
	Chord     Chord
	Rhythm    Rhythm
}

func (a AudioInstruction) String() string {
	return fmt.Sprintf("%s %s %s [%s]", a.Op, a.Frequency, a.Chord, a.Rhythm)
}

// Pattern is the perceivable rendering of a 32-byte hash.
type Pattern struct {
	Visual VisualInstruction
	Audio  AudioInstruction
}

// String renders the pattern for logs and terminals.
func (p Pattern) String() string {
	return p.Visual.String() + " | " + p.Audio.String()
}

// DistinctFrom reports whether p differs from q in its visual or its audio
// component.
func (p Pattern) DistinctFrom(q Pattern) bool {
	return p.Visual != q.Visual || p.Audio != q.Audio
}

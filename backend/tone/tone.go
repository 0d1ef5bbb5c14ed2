// Package tone synthesizes the audio half of Dance instructions and patterns
// as 16-bit mono PCM.
//
// Every AudioOp has its own timbre so a listener, or a microphone-backed
// decoder, can tell the sixteen operations apart. Full patterns layer the
// chord over the pattern's base frequency and gate it with the rhythm.
//
// Device adapts a Synth to backend.Output by streaming little-endian PCM to
// an io.Writer, such as the stdin of `aplay -f S16_LE -r 48000`.
package tone

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lockdance/pattern"
)

// SampleRate is the default output rate in Hz.
const SampleRate = 48000

// DefaultGain leaves headroom for chords.
const DefaultGain = 0.3

// ramp is the attack and release applied to every note.
const ramp = 5 * time.Millisecond

var (
	// ErrInvalidRate is returned for a non-positive sample rate.
	ErrInvalidRate = errors.New("tone: sample rate must be positive")
	// ErrInvalidGain is returned for a gain outside (0, 1].
	ErrInvalidGain = errors.New("tone: gain must be in (0, 1]")
)

// Synth renders audio operations. It holds no mutable state and is safe for
// concurrent use.
type Synth struct {
	rate int
	gain float64
}

// NewSynth creates a synthesizer at rate with linear gain.
func NewSynth(rate int, gain float64) (*Synth, error) {
	if rate <= 0 {
		return nil, ErrInvalidRate
	}
	if gain <= 0 || gain > 1 || math.IsNaN(gain) {
		return nil, ErrInvalidGain
	}
	return &Synth{rate: rate, gain: gain}, nil
}

// Rate returns the sample rate.
func (s *Synth) Rate() int { return s.rate }

// Samples returns the number of samples spanning d.
func (s *Synth) Samples(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(int64(d) * int64(s.rate) / int64(time.Second))
}

// voice is one sounding partial: a frequency track and an amplitude track,
// both functions of normalised time in [0, 1).
type voice struct {
	freq func(t float64) float64
	amp  func(t float64) float64
	wave func(phase float64) float64
}

func constant(v float64) func(float64) float64 { return func(float64) float64 { return v } }

func glide(from, to float64) func(float64) float64 {
	return func(t float64) float64 { return from * math.Pow(to/from, t) }
}

func decay(rate float64) func(float64) float64 {
	return func(t float64) float64 { return math.Exp(-rate * t) }
}

func sine(p float64) float64 { return math.Sin(2 * math.Pi * p) }

func square(p float64) float64 {
	if p-math.Floor(p) < 0.5 {
		return 1
	}
	return -1
}

// Op renders a primary audio operation for d.
func (s *Synth) Op(op pattern.AudioOp, d time.Duration) []int16 {
	n := s.Samples(d)
	out := make([]int16, n)
	if op == pattern.Silence || n == 0 {
		return out
	}

	logrus.WithFields(logrus.Fields{
		"function": "tone.Synth.Op",
		"op":       op.String(),
		"samples":  n,
	}).Debug("Rendering audio op")

	s.mix(out, voicesFor(op), 0, n)
	return out
}

func voicesFor(op pattern.AudioOp) []voice {
	const a4 = 440.0
	semis := func(root float64, iv ...int) []voice {
		vs := make([]voice, len(iv))
		for i, st := range iv {
			vs[i] = voice{freq: constant(root * math.Pow(2, float64(st)/12)), amp: constant(1 / float64(len(iv))), wave: sine}
		}
		return vs
	}

	switch op {
	case pattern.LowTone:
		return []voice{{freq: constant(a4 / 2), amp: constant(1), wave: sine}}
	case pattern.MidTone:
		return []voice{{freq: constant(a4), amp: constant(1), wave: sine}}
	case pattern.HighTone:
		return []voice{{freq: constant(a4 * 2), amp: constant(1), wave: sine}}
	case pattern.RisingSweep:
		return []voice{{freq: glide(330, 880), amp: constant(1), wave: sine}}
	case pattern.FallingSweep:
		return []voice{{freq: glide(880, 330), amp: constant(1), wave: sine}}
	case pattern.MajorChord:
		return semis(a4, 0, 4, 7)
	case pattern.MinorChord:
		return semis(a4, 0, 3, 7)
	case pattern.Arpeggio:
		steps := []float64{0, 4, 7, 12}
		return []voice{{
			freq: func(t float64) float64 {
				return a4 * math.Pow(2, steps[int(t*4)%4]/12)
			},
			amp:  constant(1),
			wave: sine,
		}}
	case pattern.Trill:
		return []voice{{
			freq: func(t float64) float64 {
				if int(t*16)%2 == 0 {
					return a4
				}
				return a4 * math.Pow(2, 2.0/12)
			},
			amp:  constant(1),
			wave: sine,
		}}
	case pattern.Chime:
		return []voice{
			{freq: constant(1320), amp: decay(6), wave: sine},
			{freq: constant(2640), amp: func(t float64) float64 { return 0.4 * math.Exp(-9*t) }, wave: sine},
		}
	case pattern.Click:
		return []voice{{freq: constant(2000), amp: func(t float64) float64 {
			if t < 0.05 {
				return 1
			}
			return 0
		}, wave: square}}
	case pattern.Chirp:
		return []voice{{freq: func(t float64) float64 {
			return 1000 * math.Pow(3, math.Mod(t*4, 1))
		}, amp: constant(0.8), wave: sine}}
	case pattern.Buzz:
		return []voice{{freq: constant(110), amp: constant(0.5), wave: square}}
	case pattern.Drum:
		return []voice{{freq: glide(160, 50), amp: decay(10), wave: sine}}
	case pattern.Bell:
		return []voice{
			{freq: constant(660), amp: decay(3), wave: sine},
			{freq: constant(660 * 2.76), amp: func(t float64) float64 { return 0.5 * math.Exp(-5*t) }, wave: sine},
			{freq: constant(660 * 5.4), amp: func(t float64) float64 { return 0.25 * math.Exp(-8*t) }, wave: sine},
		}
	default:
		return nil
	}
}

// Pattern renders the full audio component of a pattern over d: the chord
// on the base frequency, sounded on the rhythm's active steps.
func (s *Synth) Pattern(a pattern.AudioInstruction, d time.Duration) []int16 {
	n := s.Samples(d)
	out := make([]int16, n)
	if n == 0 {
		return out
	}

	root := a.Frequency.Hz()
	iv := a.Chord.Intervals()
	vs := make([]voice, len(iv))
	for i, st := range iv {
		vs[i] = voice{
			freq: constant(root * math.Pow(2, float64(st)/12)),
			amp:  constant(1 / float64(len(iv))),
			wave: sine,
		}
	}

	steps := a.Rhythm.Steps()
	stepLen := n / len(steps)
	for i, on := range steps {
		if !on || stepLen == 0 {
			continue
		}
		start := i * stepLen
		s.mix(out, vs, start, start+stepLen)
	}
	return out
}

// mix adds voices into out[from:to] with a linear attack and release,
// saturating at the int16 range.
func (s *Synth) mix(out []int16, vs []voice, from, to int) {
	span := to - from
	if span <= 0 {
		return
	}
	edge := s.Samples(ramp)
	if edge*2 > span {
		edge = span / 2
	}
	phases := make([]float64, len(vs))
	dt := 1 / float64(s.rate)

	for k := 0; k < span; k++ {
		t := float64(k) / float64(span)
		env := 1.0
		if edge > 0 {
			switch {
			case k < edge:
				env = float64(k) / float64(edge)
			case k >= span-edge:
				env = float64(span-k-1) / float64(edge)
			}
		}
		var v float64
		for i, vc := range vs {
			v += vc.amp(t) * vc.wave(phases[i])
			phases[i] += vc.freq(t) * dt
		}
		sample := float64(out[from+k]) + v*env*s.gain*math.MaxInt16
		out[from+k] = clamp(sample)
	}
}

func clamp(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}

// Device is an audio-only backend.Output. Display is accepted and ignored.
type Device struct {
	mu     sync.Mutex
	synth  *Synth
	w      io.Writer
	length time.Duration
	staged *pattern.AudioOp
	frames int
}

// NewDevice streams each flushed op for length to w.
func NewDevice(w io.Writer, synth *Synth, length time.Duration) *Device {
	return &Device{w: w, synth: synth, length: length}
}

// Display ignores visual ops.
func (d *Device) Display(pattern.VisualOp) error { return nil }

// Play stages op for the next Flush.
func (d *Device) Play(op pattern.AudioOp) error {
	if !op.Valid() {
		return fmt.Errorf("tone: %s out of range", op)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.staged = &op
	return nil
}

// Clear drops the staged op.
func (d *Device) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.staged = nil
	return nil
}

// Flush renders and writes the staged op.
func (d *Device) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.staged == nil {
		return nil
	}
	pcm := d.synth.Op(*d.staged, d.length)
	d.staged = nil
	if err := binary.Write(d.w, binary.LittleEndian, pcm); err != nil {
		return fmt.Errorf("tone: write pcm: %w", err)
	}
	d.frames += len(pcm)
	return nil
}

// Frames returns the number of samples written so far.
func (d *Device) Frames() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames
}

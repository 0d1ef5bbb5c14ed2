package tone

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/lockdance/backend"
	"github.com/opd-ai/lockdance/dance"
	"github.com/opd-ai/lockdance/pattern"
)

func newSynth(t *testing.T) *Synth {
	t.Helper()
	s, err := NewSynth(SampleRate, DefaultGain)
	require.NoError(t, err)
	return s
}

func crossings(pcm []int16) int {
	n, prev := 0, 0
	for _, v := range pcm {
		sign := 0
		switch {
		case v > 0:
			sign = 1
		case v < 0:
			sign = -1
		}
		if sign != 0 && prev != 0 && sign != prev {
			n++
		}
		if sign != 0 {
			prev = sign
		}
	}
	return n
}

func TestNewSynthValidation(t *testing.T) {
	_, err := NewSynth(0, DefaultGain)
	assert.ErrorIs(t, err, ErrInvalidRate)
	_, err = NewSynth(SampleRate, 0)
	assert.ErrorIs(t, err, ErrInvalidGain)
	_, err = NewSynth(SampleRate, 1.5)
	assert.ErrorIs(t, err, ErrInvalidGain)
}

func TestOpLengthAndSilence(t *testing.T) {
	s := newSynth(t)

	pcm := s.Op(pattern.Silence, 100*time.Millisecond)
	require.Len(t, pcm, 4800)
	for _, v := range pcm {
		require.Zero(t, v)
	}

	assert.Empty(t, s.Op(pattern.MidTone, 0))
}

func TestOpPitch(t *testing.T) {
	s := newSynth(t)

	// 440 Hz for 100ms is 44 cycles, two sign changes each.
	mid := s.Op(pattern.MidTone, 100*time.Millisecond)
	assert.InDelta(t, 88, crossings(mid), 4)

	low := s.Op(pattern.LowTone, 100*time.Millisecond)
	assert.InDelta(t, 44, crossings(low), 4)

	assert.Zero(t, mid[0], "attack starts from silence")
	assert.Zero(t, mid[len(mid)-1], "release ends in silence")
}

func TestOpsAreDistinct(t *testing.T) {
	s := newSynth(t)
	seen := make(map[string]pattern.AudioOp)
	for op := pattern.AudioOp(0); op < pattern.NumAudioOps; op++ {
		pcm := s.Op(op, 50*time.Millisecond)
		var buf bytes.Buffer
		for _, v := range pcm {
			buf.WriteByte(byte(v))
			buf.WriteByte(byte(v >> 8))
		}
		key := buf.String()
		prev, dup := seen[key]
		require.False(t, dup, "%s renders the same as %s", op, prev)
		seen[key] = op
	}
}

func TestPatternRhythmGating(t *testing.T) {
	s := newSynth(t)
	a := pattern.AudioInstruction{Op: pattern.MidTone, Frequency: 12, Chord: pattern.Major}

	a.Rhythm = 0
	for _, v := range s.Pattern(a, 80*time.Millisecond) {
		require.Zero(t, v)
	}

	a.Rhythm = 0x80
	pcm := s.Pattern(a, 80*time.Millisecond)
	step := len(pcm) / 8
	var first, rest int
	for i, v := range pcm {
		if v == 0 {
			continue
		}
		if i < step {
			first++
		} else {
			rest++
		}
	}
	assert.Positive(t, first)
	assert.Zero(t, rest)
}

func TestDeviceStreamsPCM(t *testing.T) {
	s := newSynth(t)
	var buf bytes.Buffer
	dev := NewDevice(&buf, s, 20*time.Millisecond)

	require.NoError(t, backend.Emit(dev, dance.Confirm))
	assert.Zero(t, buf.Len(), "nothing written before Flush")
	require.NoError(t, dev.Flush())
	assert.Equal(t, 960, dev.Frames())
	assert.Equal(t, 960*2, buf.Len())

	require.NoError(t, dev.Play(pattern.Bell))
	require.NoError(t, dev.Clear())
	require.NoError(t, dev.Flush())
	assert.Equal(t, 960, dev.Frames())

	assert.Error(t, dev.Play(pattern.AudioOp(16)))
}

package terminal

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/lockdance/backend"
	"github.com/opd-ai/lockdance/dance"
	"github.com/opd-ai/lockdance/pattern"
)

func TestTerminalFlushWritesLine(t *testing.T) {
	var buf bytes.Buffer
	term := New(&buf, "lock", false)

	require.NoError(t, term.Display(pattern.BlueWave))
	require.NoError(t, term.Play(pattern.MajorChord))
	assert.Empty(t, buf.String(), "nothing written before Flush")
	require.NoError(t, term.Flush())

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "lock   1"))
	assert.Contains(t, out, "BlueWave")
	assert.Contains(t, out, "MajorChord")
	assert.NotContains(t, out, "\x1b[")
	assert.Equal(t, 1, term.Count())
}

func TestTerminalSignalsAndPayload(t *testing.T) {
	var buf bytes.Buffer
	term := New(&buf, "key", true)

	require.NoError(t, backend.Emit(term, dance.Init))
	require.NoError(t, term.WriteInstruction(dance.NewInstruction(pattern.RedPulse, pattern.Bell).WithData(0xA)))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "[INIT]")
	assert.Contains(t, lines[0], "\x1b[48;5;")
	assert.Contains(t, lines[1], "+a")
}

func TestTerminalIncompleteAndClear(t *testing.T) {
	var buf bytes.Buffer
	term := New(&buf, "x", false)

	require.NoError(t, term.Flush())
	require.NoError(t, term.Display(pattern.GreenSweep))
	assert.ErrorIs(t, term.Flush(), ErrIncomplete)

	require.NoError(t, term.Clear())
	require.NoError(t, term.Flush())
	assert.Empty(t, buf.String())

	assert.Error(t, term.Display(pattern.VisualOp(16)))
	assert.Error(t, term.Play(pattern.AudioOp(200)))
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestTerminalWriteError(t *testing.T) {
	term := New(failingWriter{}, "x", false)
	err := term.WriteInstruction(dance.Abort)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
}

func TestRenderPattern(t *testing.T) {
	p := pattern.EncodeBytes([]byte("correct horse battery staple"))

	plain := RenderPattern(p, false)
	assert.Contains(t, plain, p.Visual.Op.String())
	assert.Contains(t, plain, p.Audio.Chord.String())
	assert.Contains(t, plain, p.Audio.Rhythm.String())
	assert.NotContains(t, plain, "\x1b[")

	colored := RenderPattern(p, true)
	assert.Contains(t, colored, "\x1b[38;2;")
	assert.Equal(t, plain, RenderPattern(p, false), "rendering is deterministic")
}

package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/lockdance/dance"
	"github.com/opd-ai/lockdance/pattern"
)

func TestPairDelivers(t *testing.T) {
	a, b := NewPair("a", "b")

	require.NoError(t, a.Display(pattern.BlueWave))
	require.NoError(t, a.Play(pattern.MajorChord))
	assert.False(t, b.Available(), "nothing arrives before Flush")
	require.NoError(t, a.Flush())

	require.True(t, b.Available())
	v, ok := b.ReceiveVisual()
	require.True(t, ok)
	au, ok := b.ReceiveAudio()
	require.True(t, ok)
	assert.Equal(t, pattern.BlueWave, v)
	assert.Equal(t, pattern.MajorChord, au)
	assert.False(t, b.Available())
	assert.False(t, a.Available(), "sender does not observe itself")

	log := a.Log()
	require.Len(t, log, 1)
	assert.Equal(t, "a", log[0].From)
}

func TestWait(t *testing.T) {
	a, b := NewPair("a", "b")
	assert.False(t, b.Wait(10*time.Millisecond))

	go func() {
		time.Sleep(5 * time.Millisecond)
		a.Display(dance.Ack.Visual)
		a.Play(dance.Ack.Audio)
		a.Flush()
	}()
	assert.True(t, b.Wait(2*time.Second))
}

func TestTamperDropAndRewrite(t *testing.T) {
	a, b := NewPair("a", "b")
	a.SetTamper(func(seq int, in dance.Instruction) (dance.Instruction, bool) {
		if seq == 0 {
			return in, false
		}
		in.Visual = pattern.DarkFade
		return in, true
	})

	for i := 0; i < 2; i++ {
		require.NoError(t, a.Display(pattern.RedPulse))
		require.NoError(t, a.Play(pattern.Bell))
		require.NoError(t, a.Flush())
	}

	v, ok := b.ReceiveVisual()
	require.True(t, ok)
	assert.Equal(t, pattern.DarkFade, v)
	_, ok = b.ReceiveVisual()
	assert.False(t, ok)

	log := b.Log()
	require.Len(t, log, 2)
	assert.True(t, log[0].Dropped)
	assert.False(t, log[1].Dropped)
}

func TestClosed(t *testing.T) {
	a, b := NewPair("a", "b")
	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Display(pattern.RedPulse), ErrClosed)
	assert.ErrorIs(t, a.Play(pattern.Bell), ErrClosed)
	assert.ErrorIs(t, a.Flush(), ErrClosed)

	require.NoError(t, b.Close())
	assert.False(t, b.Available())
}

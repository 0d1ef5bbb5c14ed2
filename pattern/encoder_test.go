package pattern

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeOffsets(t *testing.T) {
	t.Parallel()

	var h [HashSize]byte
	h[0] = 0x5A  // high nibble 5
	h[1] = 0x80  // hue 180
	h[2] = 10    // 10 % 8
	h[3] = 7     // Shake
	h[4] = 0x6F  // high nibble 6
	h[5] = 50    // 50 % 48
	h[6] = 9     // 9 % 8
	h[7] = 0xA5
	for i := 8; i < HashSize; i++ {
		h[i] = 0xFF
	}

	p := Encode(h)
	assert.Equal(t, BlueWave, p.Visual.Op)
	assert.Equal(t, Color(0x80), p.Visual.Color)
	assert.InDelta(t, 180.0, p.Visual.Color.Hue(), 1e-9)
	assert.Equal(t, Triangle, p.Visual.Shape)
	assert.Equal(t, Shake, p.Visual.Motion)
	assert.Equal(t, MajorChord, p.Audio.Op)
	assert.Equal(t, Frequency(2), p.Audio.Frequency)
	assert.Equal(t, Major, p.Audio.Chord)
	assert.Equal(t, Rhythm(0xA5), p.Audio.Rhythm)

	// Reserved bytes do not affect the pattern.
	for i := 8; i < HashSize; i++ {
		h[i] = 0
	}
	assert.Equal(t, p, Encode(h))
}

func TestEncodeDeterministicAndSensitive(t *testing.T) {
	t.Parallel()

	for i := 0; i < 64; i++ {
		h1 := sha256.Sum256([]byte{byte(i)})
		h2 := sha256.Sum256([]byte{byte(i), 1})

		assert.Equal(t, Encode(h1), Encode(h1))
		assert.True(t, Encode(h1).DistinctFrom(Encode(h2)), "input %d", i)
	}
}

func TestEncodeSequence(t *testing.T) {
	t.Parallel()

	assert.Empty(t, EncodeSequence(nil))
	assert.Len(t, EncodeSequence([]byte{1}), 1)
	assert.Len(t, EncodeSequence(make([]byte, 8)), 1)
	assert.Len(t, EncodeSequence(make([]byte, 9)), 2)

	// Identical chunks at different offsets encode differently.
	data := bytes.Repeat([]byte("abcdefgh"), 3)
	seq := EncodeSequence(data)
	require.Len(t, seq, 3)
	assert.True(t, seq[0].DistinctFrom(seq[1]))
	assert.True(t, seq[1].DistinctFrom(seq[2]))

	assert.Equal(t, seq, EncodeSequence(data))

	// The whole payload is mixed into each chunk.
	other := append(bytes.Repeat([]byte("abcdefgh"), 2), []byte("abcdefgX")...)
	assert.True(t, seq[0].DistinctFrom(EncodeSequence(other)[0]))
}

func TestOpStrings(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "BlueWave", BlueWave.String())
	assert.Equal(t, "DarkFade", DarkFade.String())
	assert.Equal(t, "VisualOp(16)", VisualOp(16).String())
	assert.Equal(t, "MajorChord", MajorChord.String())
	assert.Equal(t, "Bell", Bell.String())
	assert.False(t, AudioOp(16).Valid())
	assert.Equal(t, "x.x..x.x", Rhythm(0xA5).String())
	assert.Equal(t, 4, Rhythm(0xA5).Beats())
	assert.InDelta(t, 440.0, Frequency(12).Hz(), 1e-9)
	assert.Equal(t, []int{0, 4, 7}, Major.Intervals())
	assert.Equal(t, "#ff0000", Color(0).String())
}

func TestPatternBytes(t *testing.T) {
	t.Parallel()

	for i := 0; i < 64; i++ {
		p := Encode(sha256.Sum256([]byte{byte(i)}))
		assert.Equal(t, p, Decode(p.Bytes()))
	}
}

package pattern

import (
	"crypto/sha256"
	"encoding/binary"
)

// HashSize is the input size of Encode.
const HashSize = 32

// Byte offsets within the hash. Bytes 8..31 are reserved.
const (
	offsetVisualOp  = 0
	offsetColor     = 1
	offsetShape     = 2
	offsetMotion    = 3
	offsetAudioOp   = 4
	offsetFrequency = 5
	offsetChord     = 6
	offsetRhythm    = 7
)

// ChunkSize is the number of data bytes covered by one pattern in
// EncodeSequence.
const ChunkSize = 8

const sequenceDomain = "pattern-seq-v1:"

// Encode maps a hash to its pattern. It is a pure function of hash.
func Encode(hash [HashSize]byte) Pattern {
	return Pattern{
		Visual: VisualInstruction{
			Op:     VisualOp(hash[offsetVisualOp] >> 4),
			Color:  Color(hash[offsetColor]),
			Shape:  Shape(hash[offsetShape] % NumShapes),
			Motion: Motion(hash[offsetMotion] % NumMotions),
		},
		Audio: AudioInstruction{
			Op:        AudioOp(hash[offsetAudioOp] >> 4),
			Frequency: Frequency(hash[offsetFrequency] % NumSemitones),
			Chord:     Chord(hash[offsetChord] % NumChords),
			Rhythm:    Rhythm(hash[offsetRhythm]),
		},
	}
}

// EncodeBytes hashes arbitrary data with SHA-256 and encodes the digest.
func EncodeBytes(data []byte) Pattern {
	return Encode(sha256.Sum256(data))
}

// EncodeSequence encodes data as one pattern per 8-byte chunk. Each chunk
// is hashed together with its index and a digest of the whole payload so
// equal chunks at different offsets encode differently.
func EncodeSequence(data []byte) []Pattern {
	if len(data) == 0 {
		return nil
	}

	whole := sha256.Sum256(data)
	n := (len(data) + ChunkSize - 1) / ChunkSize
	out := make([]Pattern, 0, n)

	buf := make([]byte, 0, len(sequenceDomain)+4+ChunkSize+len(whole))
	for i := 0; i < n; i++ {
		end := (i + 1) * ChunkSize
		if end > len(data) {
			end = len(data)
		}
		buf = buf[:0]
		buf = append(buf, sequenceDomain...)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(i))
		buf = append(buf, data[i*ChunkSize:end]...)
		buf = append(buf, whole[:]...)
		out = append(out, Encode(sha256.Sum256(buf)))
	}
	return out
}

// Bytes packs p into the first ChunkSize bytes of a hash that encodes to p.
func (p Pattern) Bytes() [ChunkSize]byte {
	return [ChunkSize]byte{
		offsetVisualOp:  byte(p.Visual.Op) << 4,
		offsetColor:     byte(p.Visual.Color),
		offsetShape:     byte(p.Visual.Shape),
		offsetMotion:    byte(p.Visual.Motion),
		offsetAudioOp:   byte(p.Audio.Op) << 4,
		offsetFrequency: byte(p.Audio.Frequency),
		offsetChord:     byte(p.Audio.Chord),
		offsetRhythm:    byte(p.Audio.Rhythm),
	}
}

// Decode is the inverse of Pattern.Bytes.
func Decode(b [ChunkSize]byte) Pattern {
	var h [HashSize]byte
	copy(h[:], b[:])
	return Encode(h)
}

package pattern

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"math/big"
)

// MaxDecoys bounds a single GenerateDecoys call.
const MaxDecoys = 64

// maxFlips bounds collision resolution for one decoy. Each flip inverts a
// different pattern-bearing byte of the source.
const maxFlips = ChunkSize

var (
	// ErrDecoyCount indicates a decoy count outside [0, MaxDecoys].
	ErrDecoyCount = errors.New("decoy count out of range")

	// ErrDecoyCollision indicates collision resolution ran out of attempts.
	ErrDecoyCollision = errors.New("could not resolve decoy collision")
)

// GenerateDecoys returns count patterns, each distinct from real and from
// one another. Sources are drawn from crypto/rand; a colliding source has
// one byte flipped and is re-encoded rather than redrawn.
func GenerateDecoys(real Pattern, count int) ([]Pattern, error) {
	return generateDecoys(rand.Reader, real, count)
}

func generateDecoys(r io.Reader, real Pattern, count int) ([]Pattern, error) {
	if count < 0 || count > MaxDecoys {
		return nil, fmt.Errorf("%w: %d", ErrDecoyCount, count)
	}

	out := make([]Pattern, 0, count)
	var src [HashSize]byte
	for len(out) < count {
		if _, err := io.ReadFull(r, src[:]); err != nil {
			return nil, fmt.Errorf("decoy source: %w", err)
		}
		p, err := resolve(src, real, out)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// resolve encodes src, flipping one source byte per attempt until the
// result is distinct from real and every pattern in taken.
func resolve(src [HashSize]byte, real Pattern, taken []Pattern) (Pattern, error) {
	for attempt := 0; ; attempt++ {
		p := Encode(src)
		if isFresh(p, real, taken) {
			return p, nil
		}
		if attempt == maxFlips {
			return Pattern{}, ErrDecoyCollision
		}
		src[attempt] ^= 0xFF
	}
}

func isFresh(p, real Pattern, taken []Pattern) bool {
	if !p.DistinctFrom(real) {
		return false
	}
	for _, t := range taken {
		if !p.DistinctFrom(t) {
			return false
		}
	}
	return true
}

// Lineup presents a real pattern hidden among decoys so a human can pick
// it out. It holds no secret beyond the answer index.
type Lineup struct {
	Patterns []Pattern
	answer   int
}

// NewLineup places real at a uniformly random position among decoys
// freshly generated decoys.
func NewLineup(real Pattern, decoys int) (*Lineup, error) {
	return newLineup(rand.Reader, real, decoys)
}

func newLineup(r io.Reader, real Pattern, decoys int) (*Lineup, error) {
	others, err := generateDecoys(r, real, decoys)
	if err != nil {
		return nil, err
	}

	idx, err := rand.Int(r, big.NewInt(int64(decoys+1)))
	if err != nil {
		return nil, fmt.Errorf("lineup position: %w", err)
	}
	answer := int(idx.Int64())

	patterns := make([]Pattern, 0, decoys+1)
	patterns = append(patterns, others[:answer]...)
	patterns = append(patterns, real)
	patterns = append(patterns, others[answer:]...)

	return &Lineup{Patterns: patterns, answer: answer}, nil
}

// Len returns the number of candidates.
func (l *Lineup) Len() int { return len(l.Patterns) }

// Check reports whether choice selects the real pattern.
func (l *Lineup) Check(choice int) bool {
	if choice < 0 || choice >= len(l.Patterns) {
		return false
	}
	return subtle.ConstantTimeEq(int32(choice), int32(l.answer)) == 1
}

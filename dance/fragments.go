package dance

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/opd-ai/lockdance/crypto"
	"github.com/opd-ai/lockdance/pattern"
)

const (
	// DefaultRounds is the number of Exchange rounds when none is given.
	DefaultRounds = 8
	// MaxRounds bounds the Exchange length.
	MaxRounds = 64

	fragmentDomain = "dance-fragment-v1:"
	sessionDomain  = "dance-fragment-v2:"
	verifyDomain   = "dance-verify-v1:"
	tagDomain      = "dance-tag-v1:"
)

// DeriveFragments derives total one-byte fragments from a half. Bytes that
// would decode as a protocol instruction are skipped so a fragment is never
// mistaken for a signal. The result is static per half and only fixes the
// provisioned commitment; the wire carries SessionFragments.
func DeriveFragments(half [crypto.KeySize]byte, total int) ([]byte, error) {
	if total < 1 || total > MaxRounds {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTotal, total)
	}

	out := make([]byte, 0, total)
	buf := make([]byte, 0, len(fragmentDomain)+crypto.KeySize+4)
	defer crypto.ZeroBytes(buf[:cap(buf)])

	for counter := uint32(0); len(out) < total; counter++ {
		buf = buf[:0]
		buf = append(buf, fragmentDomain...)
		buf = append(buf, half[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, counter)
		block := sha256.Sum256(buf)
		for _, b := range block {
			if IsSignal(b) {
				continue
			}
			out = append(out, b)
			if len(out) == total {
				break
			}
		}
		crypto.ZeroBytes(block[:])
	}
	return out, nil
}

// CommitmentFor computes the pattern both sides must reproduce after
// exchanging fragments a and b.
func CommitmentFor(a, b []byte) (pattern.Pattern, error) {
	if len(a) != len(b) || len(a) == 0 {
		return pattern.Pattern{}, fmt.Errorf("%w: fragment sets of %d and %d", ErrProtocol, len(a), len(b))
	}

	buf := make([]byte, 0, len(verifyDomain)+len(a))
	buf = append(buf, verifyDomain...)
	for i := range a {
		buf = append(buf, a[i]^b[i])
	}
	defer crypto.ZeroBytes(buf)

	return pattern.Encode(sha256.Sum256(buf)), nil
}

// NonceFragments is how many random fragments each side contributes to a
// Dance before the Exchange. Both sets feed every session fragment.
const NonceFragments = 8

// Tag is the one-way image of a half that its peer stores. It lets the peer
// predict this half's session fragments without learning the half.
func Tag(half [crypto.KeySize]byte) [crypto.KeySize]byte {
	buf := make([]byte, 0, len(tagDomain)+crypto.KeySize)
	buf = append(buf, tagDomain...)
	buf = append(buf, half[:]...)
	defer crypto.ZeroBytes(buf)
	return sha256.Sum256(buf)
}

// NewNonce samples NonceFragments random bytes, none of which is a signal.
func NewNonce() ([]byte, error) {
	n, err := readFragments(rand.Reader, NonceFragments)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", crypto.ErrEntropy, err)
	}
	return n, nil
}

// SessionFragments derives the total fragments that the holder of tag sends
// in one Dance as role. Both nonces and the provisioned commitment are
// bound in, so a fragment stream recorded in one Dance is useless in the
// next.
func SessionFragments(tag [crypto.KeySize]byte, role Role, commitment pattern.Pattern, keyNonce, lockNonce []byte, total int) ([]byte, error) {
	if total < 1 || total > MaxRounds {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTotal, total)
	}
	if len(keyNonce) != NonceFragments || len(lockNonce) != NonceFragments {
		return nil, fmt.Errorf("%w: nonces of %d and %d fragments", ErrProtocol, len(keyNonce), len(lockNonce))
	}

	cb := commitment.Bytes()
	info := make([]byte, 0, len(sessionDomain)+1+len(cb)+2*NonceFragments)
	info = append(info, sessionDomain...)
	info = append(info, byte(role))
	info = append(info, cb[:]...)
	info = append(info, keyNonce...)
	info = append(info, lockNonce...)

	return readFragments(hkdf.Expand(sha256.New, tag[:], info), total)
}

// readFragments reads n non-signal bytes from r.
func readFragments(r io.Reader, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	var block [sha256.Size]byte
	defer crypto.ZeroBytes(block[:])

	for len(out) < n {
		if _, err := io.ReadFull(r, block[:]); err != nil {
			crypto.ZeroBytes(out)
			return nil, err
		}
		for _, b := range block {
			if IsSignal(b) {
				continue
			}
			out = append(out, b)
			if len(out) == n {
				break
			}
		}
	}
	return out, nil
}

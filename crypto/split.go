package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
)

const fullSecretContextPrefix = "full-secret-v1:"

// NonceSize is the size of a full-secret derivation nonce.
const NonceSize = 32

// LockKeyPair holds the two halves of a full secret. Lock and Key are
// each uniformly random on their own; only together do they reveal
// FullSecret = Lock XOR Key.
type LockKeyPair struct {
	Lock  [KeySize]byte
	Key   [KeySize]byte
	Nonce [NonceSize]byte
}

// NewNonce samples a fresh derivation nonce.
func NewNonce() ([NonceSize]byte, error) {
	var n [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, n[:]); err != nil {
		return n, fmt.Errorf("%w: %v", ErrEntropy, err)
	}
	return n, nil
}

// ExpandFullSecret derives the full secret for nonce from a project key.
// The caller must wipe the result.
func ExpandFullSecret(projectKey [KeySize]byte, nonce [NonceSize]byte) (full [KeySize]byte, err error) {
	defer zeroKey(&projectKey)
	err = expandFullSecretInto(&full, &projectKey, nonce)
	return full, err
}

func expandFullSecretInto(out, projectKey *[KeySize]byte, nonce [NonceSize]byte) error {
	info := make([]byte, 0, len(fullSecretContextPrefix)+NonceSize)
	info = append(info, fullSecretContextPrefix...)
	info = append(info, nonce[:]...)
	return expandInto(out, projectKey[:], info)
}

// DeriveLockKey splits the full secret for nonce into a fresh random Lock
// and the Key that completes it. Repeated calls with the same inputs
// reconstruct the same full secret from different halves.
func DeriveLockKey(projectKey [KeySize]byte, nonce [NonceSize]byte) (*LockKeyPair, error) {
	return deriveLockKey(rand.Reader, projectKey, nonce)
}

func deriveLockKey(r io.Reader, projectKey [KeySize]byte, nonce [NonceSize]byte) (*LockKeyPair, error) {
	log := NewLogger("DeriveLockKey")
	defer zeroKey(&projectKey)

	var full [KeySize]byte
	defer zeroKey(&full)
	if err := expandFullSecretInto(&full, &projectKey, nonce); err != nil {
		return nil, err
	}

	pair := &LockKeyPair{Nonce: nonce}
	if _, err := io.ReadFull(r, pair.Lock[:]); err != nil {
		pair.Wipe()
		log.WithError(err, "entropy").Error("Failed to sample lock")
		return nil, fmt.Errorf("%w: %v", ErrEntropy, err)
	}
	subtle.XORBytes(pair.Key[:], full[:], pair.Lock[:])

	log.WithFields(SecretFields(pair.Lock[:], "lock")).Debug("Derived lock/key pair")
	return pair, nil
}

// Reconstruct combines the two halves into the full secret. The caller
// must wipe the result.
func (p *LockKeyPair) Reconstruct() [KeySize]byte {
	var full [KeySize]byte
	subtle.XORBytes(full[:], p.Lock[:], p.Key[:])
	return full
}

// Wipe erases both halves.
func (p *LockKeyPair) Wipe() {
	if p == nil {
		return
	}
	zeroKey(&p.Lock)
	zeroKey(&p.Key)
}

// Reconstruct combines a lock and key into the full secret.
func Reconstruct(lock, key [KeySize]byte) [KeySize]byte {
	var full [KeySize]byte
	subtle.XORBytes(full[:], lock[:], key[:])
	return full
}

// XOR combines two equal-length KeySize buffers. Any other length is a
// programming error and returns ErrLengthMismatch.
func XOR(a, b []byte) ([]byte, error) {
	if len(a) != len(b) || len(a) != KeySize {
		return nil, fmt.Errorf("%w: %d and %d bytes", ErrLengthMismatch, len(a), len(b))
	}
	out := make([]byte, KeySize)
	subtle.XORBytes(out, a, b)
	return out, nil
}

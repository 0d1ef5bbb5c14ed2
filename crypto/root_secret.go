package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the size in bytes of every secret in the derivation hierarchy.
	KeySize = 32

	// FingerprintSize is the size of a RootSecret fingerprint.
	FingerprintSize = 8

	// Argon2id parameters for seed stretching.
	SeedArgonTime    = 3
	SeedArgonMemory  = 64 * 1024 // KiB
	SeedArgonThreads = 4
	SeedSaltSize     = 16
)

const (
	seedSaltDomain    = "lockdance-seed-salt-v1:"
	fingerprintDomain = "lockdance-fingerprint-v1:"
)

// Fingerprint identifies a RootSecret without disclosing it.
type Fingerprint [FingerprintSize]byte

// String returns the hex form of the fingerprint.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// RootSecret is the apex of the derivation hierarchy. Call Wipe when done;
// a wiped RootSecret refuses to derive.
type RootSecret struct {
	key   [KeySize]byte
	wiped bool
}

// GenerateRootSecret samples a fresh RootSecret from the OS entropy source.
func GenerateRootSecret() (*RootSecret, error) {
	return generateRootSecret(rand.Reader)
}

func generateRootSecret(r io.Reader) (*RootSecret, error) {
	log := NewLogger("GenerateRootSecret")

	rs := &RootSecret{}
	if _, err := io.ReadFull(r, rs.key[:]); err != nil {
		zeroKey(&rs.key)
		log.WithError(err, "entropy").Error("Entropy source failed")
		return nil, fmt.Errorf("%w: %v", ErrEntropy, err)
	}

	log.WithField("fingerprint", rs.Fingerprint().String()).Debug("Generated root secret")
	return rs, nil
}

// RootSecretFromSeed deterministically reconstructs a RootSecret from a
// human-memorable seed phrase and a salt. The salt passed to Argon2id is
// the first 16 bytes of sha256(domain || salt).
func RootSecretFromSeed(seed, salt string) (*RootSecret, error) {
	log := NewLogger("RootSecretFromSeed")

	password := []byte(seed)
	defer ZeroBytes(password)

	saltInput := make([]byte, 0, len(seedSaltDomain)+len(salt))
	saltInput = append(saltInput, seedSaltDomain...)
	saltInput = append(saltInput, salt...)
	digest := sha256.Sum256(saltInput)

	out := argon2.IDKey(password, digest[:SeedSaltSize], SeedArgonTime, SeedArgonMemory, SeedArgonThreads, KeySize)
	defer ZeroBytes(out)

	if len(out) != KeySize {
		return nil, fmt.Errorf("%w: argon2 produced %d bytes", ErrInvalidKeyLength, len(out))
	}

	rs := &RootSecret{}
	copy(rs.key[:], out)

	log.WithField("fingerprint", rs.Fingerprint().String()).Debug("Reconstructed root secret from seed")
	return rs, nil
}

// RootSecretFromBytes loads a RootSecret from raw bytes, e.g. out of a store.
// The input is copied; the caller still owns and must wipe b.
func RootSecretFromBytes(b []byte) (*RootSecret, error) {
	if len(b) != KeySize {
		return nil, fmt.Errorf("%w: root secret must be %d bytes, got %d", ErrInvalidKeyLength, KeySize, len(b))
	}
	if isZero(b) {
		return nil, fmt.Errorf("%w: all-zero root secret", ErrInvalidKeyLength)
	}
	rs := &RootSecret{}
	copy(rs.key[:], b)
	return rs, nil
}

// Derive expands a 32-byte child keyed by the root secret using
// HKDF-SHA256 with context as the info string. The caller must wipe the
// result; DeriveInto avoids the copy.
func (r *RootSecret) Derive(context []byte) (out [KeySize]byte, err error) {
	err = r.DeriveInto(context, &out)
	return out, err
}

// DeriveInto is Derive writing straight into out. On error out is zeroed.
func (r *RootSecret) DeriveInto(context []byte, out *[KeySize]byte) error {
	if r == nil || r.wiped {
		zeroKey(out)
		return ErrWiped
	}
	return expandInto(out, r.key[:], context)
}

// Fingerprint returns a non-secret 8-byte digest of the root secret.
func (r *RootSecret) Fingerprint() Fingerprint {
	var fp Fingerprint
	if r == nil || r.wiped {
		return fp
	}
	h := sha256.New()
	h.Write([]byte(fingerprintDomain))
	h.Write(r.key[:])
	sum := h.Sum(nil)
	defer ZeroBytes(sum)
	copy(fp[:], sum[:FingerprintSize])
	return fp
}

// Bytes returns a copy of the raw secret. The caller must wipe it.
func (r *RootSecret) Bytes() ([]byte, error) {
	if r == nil || r.wiped {
		return nil, ErrWiped
	}
	out := make([]byte, KeySize)
	copy(out, r.key[:])
	return out, nil
}

// Clone returns an independent copy that must be wiped separately.
func (r *RootSecret) Clone() (*RootSecret, error) {
	if r == nil || r.wiped {
		return nil, ErrWiped
	}
	return &RootSecret{key: r.key}, nil
}

// Wipe erases the secret. Safe to call more than once.
func (r *RootSecret) Wipe() {
	if r == nil {
		return
	}
	zeroKey(&r.key)
	r.wiped = true
}

// IsWiped reports whether Wipe has been called.
func (r *RootSecret) IsWiped() bool {
	return r == nil || r.wiped
}

// expandInto runs HKDF-SHA256 over secret with the given info string and
// writes the result to out.
func expandInto(out *[KeySize]byte, secret, info []byte) error {
	reader := hkdf.New(sha256.New, secret, nil, info)
	if _, err := io.ReadFull(reader, out[:]); err != nil {
		zeroKey(out)
		return fmt.Errorf("hkdf expand: %w", err)
	}
	return nil
}

// String never prints secret material.
func (r *RootSecret) String() string {
	if r.IsWiped() {
		return "RootSecret(wiped)"
	}
	return "RootSecret(" + r.Fingerprint().String() + ")"
}

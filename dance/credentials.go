package dance

import (
	"errors"
	"fmt"

	"github.com/opd-ai/lockdance/crypto"
	"github.com/opd-ai/lockdance/pattern"
)

// Credentials are what one device needs to take part in a Dance: its role,
// its half, the Tag of the peer's half and the pattern that binds the pair.
type Credentials struct {
	Role       Role
	Half       [crypto.KeySize]byte
	PeerTag    [crypto.KeySize]byte
	Commitment pattern.Pattern
	Total      int
}

// Provision builds matching credentials for the lock and key holder of pair.
func Provision(pair *crypto.LockKeyPair, total int) (lock, key *Credentials, err error) {
	if total == 0 {
		total = DefaultRounds
	}

	lockFrags, err := DeriveFragments(pair.Lock, total)
	if err != nil {
		return nil, nil, err
	}
	defer crypto.ZeroBytes(lockFrags)

	keyFrags, err := DeriveFragments(pair.Key, total)
	if err != nil {
		return nil, nil, err
	}
	defer crypto.ZeroBytes(keyFrags)

	commitment, err := CommitmentFor(lockFrags, keyFrags)
	if err != nil {
		return nil, nil, fmt.Errorf("commitment: %w", err)
	}

	lock = &Credentials{Role: LockHolder, Half: pair.Lock, PeerTag: Tag(pair.Key), Commitment: commitment, Total: total}
	key = &Credentials{Role: KeyHolder, Half: pair.Key, PeerTag: Tag(pair.Lock), Commitment: commitment, Total: total}
	return lock, key, nil
}

// credentialsVersion leads the binary form.
const credentialsVersion = 2

// credentialsSize is [version:1][role:1][total:1][commitment:8][half:32][peer tag:32].
const credentialsSize = 3 + pattern.ChunkSize + 2*crypto.KeySize

// ErrInvalidCredentials indicates stored credentials that cannot be decoded.
var ErrInvalidCredentials = errors.New("invalid credentials")

// MarshalBinary encodes c for storage on its device. The result holds the
// half and must be wiped by the caller.
func (c *Credentials) MarshalBinary() ([]byte, error) {
	if c.Total < 1 || c.Total > MaxRounds {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTotal, c.Total)
	}
	commitment := c.Commitment.Bytes()
	out := make([]byte, 0, credentialsSize)
	out = append(out, credentialsVersion, byte(c.Role), byte(c.Total))
	out = append(out, commitment[:]...)
	out = append(out, c.Half[:]...)
	out = append(out, c.PeerTag[:]...)
	return out, nil
}

// UnmarshalBinary decodes credentials written by MarshalBinary.
func (c *Credentials) UnmarshalBinary(data []byte) error {
	if len(data) != credentialsSize {
		return fmt.Errorf("%w: %d bytes", ErrInvalidCredentials, len(data))
	}
	if data[0] != credentialsVersion {
		return fmt.Errorf("%w: version %d", ErrInvalidCredentials, data[0])
	}
	role := Role(data[1])
	if role != LockHolder && role != KeyHolder {
		return fmt.Errorf("%w: %s", ErrInvalidCredentials, role)
	}
	total := int(data[2])
	if total < 1 || total > MaxRounds {
		return fmt.Errorf("%w: %d", ErrInvalidTotal, total)
	}

	var commitment [pattern.ChunkSize]byte
	copy(commitment[:], data[3:3+pattern.ChunkSize])

	c.Role = role
	c.Total = total
	c.Commitment = pattern.Decode(commitment)
	rest := data[3+pattern.ChunkSize:]
	copy(c.Half[:], rest[:crypto.KeySize])
	copy(c.PeerTag[:], rest[crypto.KeySize:])
	return nil
}

// Wipe erases the half and the peer tag.
func (c *Credentials) Wipe() {
	if c == nil {
		return
	}
	crypto.ZeroBytes(c.Half[:])
	crypto.ZeroBytes(c.PeerTag[:])
}

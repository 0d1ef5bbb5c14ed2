package crypto

import "errors"

// Sentinel errors for key derivation and splitting.
// Derivation and splitting failures are not recoverable: callers propagate them.
var (
	// ErrEntropy indicates the operating system entropy source failed.
	ErrEntropy = errors.New("entropy source failure")

	// ErrInvalidKeyLength indicates key material of the wrong size.
	ErrInvalidKeyLength = errors.New("invalid key length")

	// ErrLengthMismatch indicates an XOR between buffers that are not both 32 bytes.
	ErrLengthMismatch = errors.New("xor operands must both be 32 bytes")

	// ErrWiped indicates use of secret material after it was erased.
	ErrWiped = errors.New("secret material has been wiped")

	// ErrInvalidShares indicates Lock escrow shares that cannot be combined.
	ErrInvalidShares = errors.New("invalid lock escrow shares")
)

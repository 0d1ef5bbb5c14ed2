package crypto

import (
	"fmt"

	"github.com/hashicorp/vault/shamir"
)

// SplitSecret escrows secret into parts shares, any threshold of which
// recover it. Shares go to independent custodians; fewer than threshold
// reveal nothing about secret.
func SplitSecret(secret []byte, parts, threshold int) ([][]byte, error) {
	if threshold < 2 || parts < threshold || parts > 255 {
		return nil, fmt.Errorf("%w: %d-of-%d", ErrInvalidShares, threshold, parts)
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty secret", ErrInvalidKeyLength)
	}

	shares, err := shamir.Split(secret, parts, threshold)
	if err != nil {
		return nil, fmt.Errorf("split secret: %w", err)
	}
	return shares, nil
}

// CombineSecret recovers a secret from at least threshold shares. The
// caller must wipe the result.
func CombineSecret(shares [][]byte) ([]byte, error) {
	if len(shares) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 shares, got %d", ErrInvalidShares, len(shares))
	}
	secret, err := shamir.Combine(shares)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShares, err)
	}
	return secret, nil
}

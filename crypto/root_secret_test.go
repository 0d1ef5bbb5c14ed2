package crypto

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("no entropy") }

// TestRootSecretFromSeed covers seed reproducibility and salt sensitivity.
func TestRootSecretFromSeed(t *testing.T) {
	t.Parallel()

	a, err := RootSecretFromSeed("correct horse battery staple", "salt-v1")
	require.NoError(t, err)
	defer a.Wipe()

	b, err := RootSecretFromSeed("correct horse battery staple", "salt-v1")
	require.NoError(t, err)
	defer b.Wipe()

	c, err := RootSecretFromSeed("correct horse battery staple", "salt-v2")
	require.NoError(t, err)
	defer c.Wipe()

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())

	ab, err := a.Bytes()
	require.NoError(t, err)
	bb, err := b.Bytes()
	require.NoError(t, err)
	assert.True(t, bytes.Equal(ab, bb))
	ZeroBytes(ab)
	ZeroBytes(bb)
}

func TestGenerateRootSecret(t *testing.T) {
	t.Parallel()

	a, err := GenerateRootSecret()
	require.NoError(t, err)
	b, err := GenerateRootSecret()
	require.NoError(t, err)
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())

	_, err = generateRootSecret(failingReader{})
	assert.ErrorIs(t, err, ErrEntropy)
}

func TestRootSecretFromBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   []byte
		wantErr error
	}{
		{"valid", bytes.Repeat([]byte{7}, KeySize), nil},
		{"short", make([]byte, 16), ErrInvalidKeyLength},
		{"long", make([]byte, 33), ErrInvalidKeyLength},
		{"all zero", make([]byte, KeySize), ErrInvalidKeyLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs, err := RootSecretFromBytes(tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, rs)
				return
			}
			require.NoError(t, err)
			assert.False(t, rs.IsWiped())
		})
	}
}

// TestDeriveDeterminism checks Derive is a pure function of root and context.
func TestDeriveDeterminism(t *testing.T) {
	t.Parallel()

	root, err := RootSecretFromBytes(bytes.Repeat([]byte{0x42}, KeySize))
	require.NoError(t, err)

	k1, err := root.Derive([]byte("ctx-a"))
	require.NoError(t, err)
	k2, err := root.Derive([]byte("ctx-a"))
	require.NoError(t, err)
	k3, err := root.Derive([]byte("ctx-b"))
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)

	other, err := RootSecretFromBytes(bytes.Repeat([]byte{0x43}, KeySize))
	require.NoError(t, err)
	k4, err := other.Derive([]byte("ctx-a"))
	require.NoError(t, err)
	assert.NotEqual(t, k1, k4)
}

func TestDeriveInto(t *testing.T) {
	t.Parallel()

	root := testRoot(t, 0x42)

	want, err := root.Derive([]byte("ctx-a"))
	require.NoError(t, err)

	var got [KeySize]byte
	require.NoError(t, root.DeriveInto([]byte("ctx-a"), &got))
	assert.Equal(t, want, got)

	var pk [KeySize]byte
	require.NoError(t, DeriveProjectKeyInto(root, "alpha", &pk))
	byValue, err := DeriveProjectKey(root, "alpha")
	require.NoError(t, err)
	assert.Equal(t, byValue, pk)

	// A session key is derived in place and matches the plain derivation.
	anchor := RotationAnchor{Height: 7, Hash: [32]byte{7}}
	sk, err := DeriveSessionKey(root, anchor)
	require.NoError(t, err)
	plain, err := root.Derive(sessionContext(anchor))
	require.NoError(t, err)
	assert.Equal(t, plain, sk.key)

	root.Wipe()
	dirty := [KeySize]byte{1, 2, 3}
	assert.ErrorIs(t, root.DeriveInto([]byte("ctx-a"), &dirty), ErrWiped)
	assert.Equal(t, [KeySize]byte{}, dirty, "output is zeroed on failure")
}

func TestRootSecretWipe(t *testing.T) {
	t.Parallel()

	root, err := RootSecretFromBytes(bytes.Repeat([]byte{1}, KeySize))
	require.NoError(t, err)

	clone, err := root.Clone()
	require.NoError(t, err)

	root.Wipe()
	root.Wipe()
	assert.True(t, root.IsWiped())
	assert.True(t, isZero(root.key[:]))
	assert.Equal(t, "RootSecret(wiped)", root.String())

	_, err = root.Derive([]byte("x"))
	assert.ErrorIs(t, err, ErrWiped)
	_, err = root.Bytes()
	assert.ErrorIs(t, err, ErrWiped)

	// The clone is independent.
	_, err = clone.Derive([]byte("x"))
	assert.NoError(t, err)
}

package crypto

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRoot(t *testing.T, fill byte) *RootSecret {
	t.Helper()
	root, err := RootSecretFromBytes(bytes.Repeat([]byte{fill}, KeySize))
	require.NoError(t, err)
	return root
}

func TestDeriveSessionKey(t *testing.T) {
	t.Parallel()

	root := testRoot(t, 9)
	anchor := RotationAnchor{Height: 100, Hash: [32]byte{1, 2, 3}}

	a, err := DeriveSessionKey(root, anchor)
	require.NoError(t, err)
	b, err := DeriveSessionKey(root, anchor)
	require.NoError(t, err)

	ka, _ := a.Key()
	kb, _ := b.Key()
	assert.Equal(t, ka, kb)

	moved, err := DeriveSessionKey(root, RotationAnchor{Height: 101, Hash: anchor.Hash})
	require.NoError(t, err)
	km, _ := moved.Key()
	assert.NotEqual(t, ka, km)

	rehashed, err := DeriveSessionKey(root, RotationAnchor{Height: 100, Hash: [32]byte{9}})
	require.NoError(t, err)
	kr, _ := rehashed.Key()
	assert.NotEqual(t, ka, kr)

	// The session context is exactly prefix || u64le || hash.
	ctx := sessionContext(anchor)
	assert.Len(t, ctx, len("session-v1:")+8+32)
	assert.Equal(t, byte(100), ctx[len("session-v1:")])
}

func TestSessionKeyShouldRotate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		start    uint64
		current  uint64
		interval uint64
		want     bool
	}{
		{"before end", 100, 149, 50, false},
		{"at end", 100, 150, 50, true},
		{"after end", 100, 500, 50, true},
		{"zero interval", 100, 100, 0, true},
		{"saturating", math.MaxUint64 - 1, math.MaxUint64 - 1, 10, false},
		{"saturating at max", math.MaxUint64 - 1, math.MaxUint64, 10, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sk := &SessionKey{Start: RotationAnchor{Height: tt.start}}
			assert.Equal(t, tt.want, sk.ShouldRotate(tt.current, tt.interval))
		})
	}
}

// TestShouldRotateMonotonic checks that once rotation is due it stays due.
func TestShouldRotateMonotonic(t *testing.T) {
	t.Parallel()

	sk := &SessionKey{Start: RotationAnchor{Height: 10}}
	due := false
	for h := uint64(10); h < 100; h++ {
		now := sk.ShouldRotate(h, 25)
		if due {
			assert.True(t, now, "height %d", h)
		}
		due = due || now
	}
	assert.True(t, due)
}

func TestSessionKeyManager(t *testing.T) {
	t.Parallel()

	root := testRoot(t, 3)
	mgr, err := NewSessionKeyManager(root, RotationAnchor{Height: 0}, 10)
	require.NoError(t, err)
	defer mgr.Cleanup()

	first := mgr.Current()
	firstKey, err := first.Key()
	require.NoError(t, err)

	rotated, err := mgr.Tick(RotationAnchor{Height: 5})
	require.NoError(t, err)
	assert.False(t, rotated)
	assert.Same(t, first, mgr.Current())

	rotated, err = mgr.Tick(RotationAnchor{Height: 10, Hash: [32]byte{1}})
	require.NoError(t, err)
	assert.True(t, rotated)
	second := mgr.Current()
	assert.NotSame(t, first, second)
	assert.Equal(t, uint64(10), second.Start.Height)

	// The superseded key is retained unchanged.
	prev := mgr.Previous()
	require.Len(t, prev, 1)
	prevKey, err := prev[0].Key()
	require.NoError(t, err)
	assert.Equal(t, firstKey, prevKey)

	rotated, err = mgr.Tick(RotationAnchor{Height: 25, Hash: [32]byte{2}})
	require.NoError(t, err)
	assert.True(t, rotated)
	assert.Len(t, mgr.Previous(), 1)
	assert.Same(t, second, mgr.Previous()[0])

	// The evicted key was wiped.
	_, err = first.Key()
	assert.ErrorIs(t, err, ErrWiped)

	_, err = mgr.Tick(RotationAnchor{Height: 3})
	assert.Error(t, err)

	// Wiping the caller's root does not affect the manager's copy.
	root.Wipe()
	_, err = mgr.Tick(RotationAnchor{Height: 40})
	assert.NoError(t, err)
}

func TestSessionKeyManagerCleanup(t *testing.T) {
	t.Parallel()

	mgr, err := NewSessionKeyManager(testRoot(t, 4), RotationAnchor{}, 1)
	require.NoError(t, err)
	cur := mgr.Current()

	mgr.Cleanup()
	assert.Nil(t, mgr.Current())
	_, err = cur.Key()
	assert.ErrorIs(t, err, ErrWiped)

	_, err = mgr.Tick(RotationAnchor{Height: 9})
	assert.ErrorIs(t, err, ErrWiped)
}

func TestDeriveProjectKey(t *testing.T) {
	t.Parallel()

	root := testRoot(t, 5)

	a, err := DeriveProjectKey(root, "alpha")
	require.NoError(t, err)
	again, err := DeriveProjectKey(root, "alpha")
	require.NoError(t, err)
	b, err := DeriveProjectKey(root, "beta")
	require.NoError(t, err)

	assert.Equal(t, a, again)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, NewProjectID("alpha"), NewProjectID("beta"))
}

func TestSessionKeyDeriveNonce(t *testing.T) {
	t.Parallel()

	anchor := RotationAnchor{Height: 50, Hash: [32]byte{5}}
	a, err := DeriveSessionKey(testRoot(t, 6), anchor)
	require.NoError(t, err)
	b, err := DeriveSessionKey(testRoot(t, 6), anchor)
	require.NoError(t, err)

	na, err := a.DeriveNonce("deploy")
	require.NoError(t, err)
	nb, err := b.DeriveNonce("deploy")
	require.NoError(t, err)
	assert.Equal(t, na, nb, "same root and anchor give the same nonce")

	other, err := a.DeriveNonce("staging")
	require.NoError(t, err)
	assert.NotEqual(t, na, other)

	later, err := DeriveSessionKey(testRoot(t, 6), RotationAnchor{Height: 60, Hash: [32]byte{6}})
	require.NoError(t, err)
	nl, err := later.DeriveNonce("deploy")
	require.NoError(t, err)
	assert.NotEqual(t, na, nl)

	a.Wipe()
	_, err = a.DeriveNonce("deploy")
	assert.ErrorIs(t, err, ErrWiped)
}

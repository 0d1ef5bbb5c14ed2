package crypto

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTime struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeTime) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestNonceLedgerConsume(t *testing.T) {
	l := NewNonceLedger(0)
	nonce := [NonceSize]byte{1, 2, 3}

	require.NoError(t, l.Consume(nonce))
	assert.ErrorIs(t, l.Consume(nonce), ErrNonceReused)
	require.NoError(t, l.Consume([NonceSize]byte{9}))
	assert.Equal(t, 2, l.Size())
	assert.NoError(t, l.Save(), "in-memory ledger ignores Save")
}

func TestNonceLedgerExpiry(t *testing.T) {
	clock := &fakeTime{now: time.Unix(1_700_000_000, 0)}
	l := NewNonceLedger(time.Hour)
	l.SetTimeProvider(clock)

	nonce := [NonceSize]byte{7}
	require.NoError(t, l.Consume(nonce))
	clock.advance(30 * time.Minute)
	assert.ErrorIs(t, l.Consume(nonce), ErrNonceReused)

	clock.advance(time.Hour)
	assert.Equal(t, 1, l.Prune())
	assert.Zero(t, l.Size())
	require.NoError(t, l.Consume(nonce))
}

func TestNonceLedgerPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".nonces")
	a, b := [NonceSize]byte{0xA}, [NonceSize]byte{0xB}

	l, err := OpenNonceLedger(path, 0)
	require.NoError(t, err)
	require.NoError(t, l.Consume(a))
	require.NoError(t, l.Consume(b))
	require.NoError(t, l.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	assert.EqualValues(t, 8+2*ledgerRecordSize, info.Size())

	again, err := OpenNonceLedger(path, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Size())
	assert.ErrorIs(t, again.Consume(a), ErrNonceReused)
	assert.ErrorIs(t, again.Consume(b), ErrNonceReused)
}

func TestNonceLedgerDropsExpiredOnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".nonces")

	l, err := OpenNonceLedger(path, time.Second)
	require.NoError(t, err)
	require.NoError(t, l.Consume([NonceSize]byte{1}))
	require.NoError(t, l.Close())

	clock := &fakeTime{now: time.Now().Add(time.Hour)}
	reloaded := NewNonceLedger(time.Second)
	reloaded.path = path
	reloaded.SetTimeProvider(clock)
	require.NoError(t, reloaded.load())
	assert.Zero(t, reloaded.Size())
}

func TestNonceLedgerCorrupt(t *testing.T) {
	dir := t.TempDir()

	short := filepath.Join(dir, "short")
	require.NoError(t, os.WriteFile(short, []byte{1, 2}, 0o600))
	_, err := OpenNonceLedger(short, 0)
	assert.Error(t, err)

	lying := filepath.Join(dir, "lying")
	require.NoError(t, os.WriteFile(lying, []byte{0, 0, 0, 0, 0, 0, 0, 5}, 0o600))
	_, err = OpenNonceLedger(lying, 0)
	assert.Error(t, err)
}

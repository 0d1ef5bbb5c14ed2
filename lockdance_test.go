package lockdance

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/lockdance/audit"
	"github.com/opd-ai/lockdance/backend"
	"github.com/opd-ai/lockdance/backend/sim"
	"github.com/opd-ai/lockdance/backend/terminal"
	"github.com/opd-ai/lockdance/crypto"
	"github.com/opd-ai/lockdance/dance"
	"github.com/opd-ai/lockdance/keystore"
	"github.com/opd-ai/lockdance/noise"
)

func testRoot(t *testing.T) *crypto.RootSecret {
	t.Helper()
	root, err := crypto.RootSecretFromSeed("correct horse battery staple", "salt-v1")
	require.NoError(t, err)
	t.Cleanup(root.Wipe)
	return root
}

func TestNewOptionsValid(t *testing.T) {
	opts := NewOptions()
	require.NoError(t, opts.Validate())
	assert.Equal(t, dance.DefaultRounds, opts.Rounds)
	assert.Equal(t, backend.InteractiveTiming, opts.TimingProfile())
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"zero rounds", func(o *Options) { o.Rounds = 0 }},
		{"too many rounds", func(o *Options) { o.Rounds = dance.MaxRounds + 1 }},
		{"unknown timing", func(o *Options) { o.Timing = "glacial" }},
		{"custom timing without timeout", func(o *Options) { o.CustomTiming = &backend.Profile{} }},
		{"bad contract", func(o *Options) { o.PolicyContract = "0x123"; o.EthRPC = "http://x" }},
		{"contract without rpc", func(o *Options) { o.PolicyContract = "0x000000000000000000000000000000000000dEaD" }},
		{"no keystore", func(o *Options) { o.KeystoreDir = "" }},
		{"threshold above shares", func(o *Options) { o.EscrowShares, o.EscrowThreshold = 2, 3 }},
		{"threshold one", func(o *Options) { o.EscrowThreshold = 1 }},
		{"bad log level", func(o *Options) { o.LogLevel = "chatty" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := NewOptions()
			tt.mutate(opts)
			assert.ErrorIs(t, opts.Validate(), ErrInvalidOptions)
		})
	}
}

func TestOptionsSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "lockdance.json")
	opts := NewOptions()
	opts.Rounds = 12
	opts.Timing = backend.SlowTiming.Name
	opts.Vault = &keystore.VaultConfig{Address: "http://127.0.0.1:8200", Token: "never-saved", Mount: "kv"}

	require.NoError(t, SaveOptions(path, opts))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "never-saved")

	loaded, err := LoadOptions(path)
	require.NoError(t, err)
	assert.Equal(t, 12, loaded.Rounds)
	assert.Equal(t, backend.SlowTiming, loaded.TimingProfile())
	require.NotNil(t, loaded.Vault)
	assert.Equal(t, "kv", loaded.Vault.Mount)
}

func TestLoadOptionsPartialAndInvalid(t *testing.T) {
	dir := t.TempDir()

	partial := filepath.Join(dir, "partial.json")
	require.NoError(t, os.WriteFile(partial, []byte(`{"rounds": 4}`), 0o600))
	opts, err := LoadOptions(partial)
	require.NoError(t, err)
	assert.Equal(t, 4, opts.Rounds)
	assert.Equal(t, backend.InteractiveTiming.Name, opts.Timing)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"rounds": 0}`), 0o600))
	_, err = LoadOptions(bad)
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = LoadOptions(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestIssueReconstructs(t *testing.T) {
	root := testRoot(t)
	var nonce [crypto.NonceSize]byte
	nonce[0] = 1

	issued, err := IssueWithNonce(root, "vault-door", nonce, 4)
	require.NoError(t, err)
	defer issued.Wipe()

	pk, err := crypto.DeriveProjectKey(root, "vault-door")
	require.NoError(t, err)
	full, err := crypto.ExpandFullSecret(pk, nonce)
	require.NoError(t, err)

	assert.Equal(t, full, crypto.Reconstruct(issued.Lock.Half, issued.Key.Half))
	assert.Equal(t, issued.Lock.Commitment, issued.Key.Commitment)
	assert.Equal(t, 4, issued.Key.Total)
	assert.Equal(t, root.Fingerprint(), issued.Fingerprint)

	cond := issued.Conditions(map[string]string{"door": "north"})
	assert.Equal(t, "vault-door", cond.Project)
	assert.Equal(t, root.Fingerprint().String(), cond.Fingerprint)
}

func TestIssueUnique(t *testing.T) {
	root := testRoot(t)
	opts := NewOptions()
	opts.KeystoreDir = t.TempDir()

	ledger, err := OpenLedger(opts)
	require.NoError(t, err)

	nonce, err := crypto.NewNonce()
	require.NoError(t, err)
	issued, err := IssueUnique(ledger, root, "p", nonce, 2)
	require.NoError(t, err)
	issued.Wipe()

	_, err = IssueUnique(ledger, root, "p", nonce, 2)
	assert.ErrorIs(t, err, crypto.ErrNonceReused)
	require.NoError(t, ledger.Close())

	reopened, err := OpenLedger(opts)
	require.NoError(t, err)
	_, err = IssueUnique(reopened, root, "p", nonce, 2)
	assert.ErrorIs(t, err, crypto.ErrNonceReused)
}

func TestEscrowAndRecover(t *testing.T) {
	issued, err := Issue(testRoot(t), "p", 0)
	require.NoError(t, err)
	defer issued.Wipe()

	opts := NewOptions()
	shares, err := Escrow(opts, issued.Lock)
	require.NoError(t, err)
	require.Len(t, shares, opts.EscrowShares)

	lock, err := Recover([][]byte{shares[4], shares[1], shares[2]})
	require.NoError(t, err)
	assert.Equal(t, issued.Lock, lock)

	// The recovered lock still dances with the original key.
	key, err := dance.NewSession(issued.Key, audit.AllowAll, audit.Conditions{})
	require.NoError(t, err)
	recovered, err := dance.NewSession(lock, audit.AllowAll, audit.Conditions{})
	require.NoError(t, err)
	a, b := sim.NewPair("key", "lock")
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = backend.NewRunner(recovered, b, b, backend.FastTiming).Run(context.Background())
	}()
	require.NoError(t, backend.NewRunner(key, a, a, backend.FastTiming).Run(context.Background()))
	wg.Wait()
	assert.True(t, recovered.IsComplete())

	_, err = Recover(shares[:1])
	assert.ErrorIs(t, err, crypto.ErrInvalidShares)

	_, err = Escrow(opts, issued.Key)
	assert.Error(t, err)

	keyShares, err := crypto.SplitSecret(mustMarshal(t, issued.Key), 3, 2)
	require.NoError(t, err)
	_, err = Recover(keyShares[:2])
	assert.ErrorIs(t, err, dance.ErrInvalidCredentials)
}

func mustMarshal(t *testing.T, c *dance.Credentials) []byte {
	t.Helper()
	b, err := c.MarshalBinary()
	require.NoError(t, err)
	return b
}

func TestCredentialsFile(t *testing.T) {
	issued, err := Issue(testRoot(t), "p", 3)
	require.NoError(t, err)
	defer issued.Wipe()

	path := filepath.Join(t.TempDir(), "p.key")
	require.NoError(t, WriteCredentialsFile(path, issued.Key, false))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := ReadCredentialsFile(path)
	require.NoError(t, err)
	assert.Equal(t, issued.Key, got)

	assert.ErrorIs(t, WriteCredentialsFile(path, issued.Key, false), ErrCredentialsFileExists)
	require.NoError(t, WriteCredentialsFile(path, issued.Lock, true))
	got, err = ReadCredentialsFile(path)
	require.NoError(t, err)
	assert.Equal(t, dance.LockHolder, got.Role)

	bad := filepath.Join(t.TempDir(), "bad")
	require.NoError(t, os.WriteFile(bad, []byte("zz\n"), 0o600))
	_, err = ReadCredentialsFile(bad)
	assert.ErrorIs(t, err, dance.ErrInvalidCredentials)
}

// risingSource reports a new anchor step heights above the last on every
// call.
type risingSource struct {
	mu     sync.Mutex
	height uint64
	step   uint64
}

func (s *risingSource) Latest(context.Context) (crypto.RotationAnchor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.height += s.step
	return crypto.RotationAnchor{Height: s.height, Hash: [32]byte{byte(s.height)}}, nil
}

func TestIssueAnchored(t *testing.T) {
	root := testRoot(t)
	ledger := crypto.NewNonceLedger(0)

	anchor := crypto.RotationAnchor{Height: 40, Hash: [32]byte{4}}
	sk, err := crypto.DeriveSessionKey(root, anchor)
	require.NoError(t, err)
	defer sk.Wipe()

	issued, err := IssueAnchored(ledger, root, "door", sk, 4)
	require.NoError(t, err)
	defer issued.Wipe()
	assert.Equal(t, anchor, issued.Anchor)

	want, err := sk.DeriveNonce("door")
	require.NoError(t, err)
	assert.Equal(t, want, issued.Nonce)

	// One pair per rotation window.
	_, err = IssueAnchored(ledger, root, "door", sk, 4)
	assert.ErrorIs(t, err, crypto.ErrNonceReused)
}

func TestWatchIssuesOnRotation(t *testing.T) {
	opts := NewOptions()
	opts.RotationInterval = 10
	opts.Rounds = 2
	src := &risingSource{step: 5}

	errEnough := errors.New("enough")
	var (
		anchors []crypto.RotationAnchor
		nonces  [][crypto.NonceSize]byte
	)
	err := Watch(context.Background(), opts, crypto.NewNonceLedger(0), testRoot(t), src, "door", time.Millisecond,
		func(i *Issued) error {
			anchors = append(anchors, i.Anchor)
			nonces = append(nonces, i.Nonce)
			assert.Equal(t, 2, i.Lock.Total)
			if len(anchors) == 3 {
				return errEnough
			}
			return nil
		})
	assert.ErrorIs(t, err, errEnough)

	require.Len(t, anchors, 3)
	assert.Equal(t, uint64(5), anchors[0].Height)
	assert.GreaterOrEqual(t, anchors[1].Height, anchors[0].Height+opts.RotationInterval)
	assert.GreaterOrEqual(t, anchors[2].Height, anchors[1].Height+opts.RotationInterval)
	assert.NotEqual(t, nonces[0], nonces[1])
	assert.NotEqual(t, nonces[1], nonces[2])
}

func TestWatchStopsWithContext(t *testing.T) {
	opts := NewOptions()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var issued int
	err := Watch(ctx, opts, crypto.NewNonceLedger(0), testRoot(t), &risingSource{step: 1}, "door", time.Millisecond,
		func(*Issued) error {
			issued++
			return nil
		})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, issued, "no rotation within the interval")
}

func TestRekey(t *testing.T) {
	opts := NewOptions()
	opts.KeystoreDir = t.TempDir()

	store, err := OpenStore(opts, []byte("old"))
	require.NoError(t, err)
	require.NoError(t, keystore.PutRoot(context.Background(), store, "root", testRoot(t)))
	require.NoError(t, store.(*keystore.FileStore).Close())

	require.NoError(t, Rekey(opts, []byte("old"), []byte("new")))

	store, err = OpenStore(opts, []byte("new"))
	require.NoError(t, err)
	defer store.(*keystore.FileStore).Close()
	root, err := keystore.GetRoot(context.Background(), store, "root")
	require.NoError(t, err)
	assert.Equal(t, testRoot(t).Fingerprint(), root.Fingerprint())

	assert.ErrorIs(t, Rekey(opts, []byte("wrong"), []byte("newer")), keystore.ErrDecrypt)

	opts.Vault = &keystore.VaultConfig{}
	assert.ErrorIs(t, Rekey(opts, nil, []byte("x")), ErrInvalidOptions)
}

func TestOpenStoreAndOracleDefaults(t *testing.T) {
	opts := NewOptions()
	opts.KeystoreDir = t.TempDir()

	store, err := OpenStore(opts, []byte("pw"))
	require.NoError(t, err)
	fs, ok := store.(*keystore.FileStore)
	require.True(t, ok)
	defer fs.Close()

	oracle, err := NewOracle(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, audit.AllowAll, oracle)

	_, err = NewAnchorSource(context.Background(), opts)
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestDanceBothSides(t *testing.T) {
	issued, err := Issue(testRoot(t), "vault-door", 4)
	require.NoError(t, err)
	defer issued.Wipe()

	opts := NewOptions()
	opts.CustomTiming = &backend.Profile{Name: "test", Visual: time.Millisecond, Audio: time.Millisecond, Timeout: 2 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, b := sim.NewPair("key", "lock")
	var (
		wg       sync.WaitGroup
		lockSess *dance.Session
		lockErr  error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		lockSess, lockErr = Dance(ctx, opts, issued.Lock, audit.AllowAll, issued.Conditions(nil), b, b)
	}()
	keySess, keyErr := Dance(ctx, opts, issued.Key, audit.AllowAll, issued.Conditions(nil), a, a)
	wg.Wait()

	require.NoError(t, keyErr)
	require.NoError(t, lockErr)
	assert.True(t, keySess.IsComplete())
	assert.True(t, lockSess.IsComplete())
}

func TestDanceLinkOverTCP(t *testing.T) {
	issued, err := Issue(testRoot(t), "vault-door", 3)
	require.NoError(t, err)
	defer issued.Wipe()

	opts := NewOptions()
	opts.CustomTiming = &backend.Profile{Name: "test", Timeout: 2 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	psk := bytes.Repeat([]byte{0x42}, 32)
	var (
		wg       sync.WaitGroup
		lockSess *dance.Session
		lockErr  error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		conn, err := l.Accept()
		if err != nil {
			lockErr = err
			return
		}
		defer conn.Close()
		lockSess, lockErr = DanceLink(ctx, opts, issued.Lock, audit.AllowAll,
			issued.Conditions(nil), conn, noise.Config{PSK: psk}, nil)
	}()

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	var monitor bytes.Buffer
	keySess, keyErr := DanceLink(ctx, opts, issued.Key, audit.AllowAll,
		issued.Conditions(nil), conn, noise.Config{PSK: psk}, terminal.New(&monitor, "key", false))
	wg.Wait()

	require.NoError(t, keyErr)
	require.NoError(t, lockErr)
	assert.True(t, keySess.IsComplete())
	assert.True(t, lockSess.IsComplete())
	assert.Contains(t, monitor.String(), "[INIT]")
}

func TestDanceLinkPSKMismatch(t *testing.T) {
	issued, err := Issue(testRoot(t), "vault-door", 2)
	require.NoError(t, err)
	defer issued.Wipe()

	opts := NewOptions()
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var lockErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, lockErr = DanceLink(ctx, opts, issued.Lock, audit.AllowAll,
			issued.Conditions(nil), c2, noise.Config{PSK: bytes.Repeat([]byte{1}, 32)}, nil)
		c2.Close()
	}()
	_, keyErr := DanceLink(ctx, opts, issued.Key, audit.AllowAll,
		issued.Conditions(nil), c1, noise.Config{PSK: bytes.Repeat([]byte{2}, 32)}, nil)
	c1.Close()
	wg.Wait()

	assert.Error(t, keyErr)
	assert.Error(t, lockErr)
}

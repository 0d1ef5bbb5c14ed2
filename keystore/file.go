package keystore

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/opd-ai/lockdance/crypto"
)

const (
	// FileFormatVersion is the current sealed file format version.
	FileFormatVersion = 1
	// SaltSize is the size of the store-wide KDF salt.
	SaltSize = 32

	paramsFile = ".kdf"
	headerSize = 2 + chacha20poly1305.NonceSize
)

// KDFParams are the Argon2id parameters used to derive the store key from
// the passphrase.
type KDFParams struct {
	Time      uint32 `json:"time"`
	MemoryKiB uint32 `json:"memory_kib"`
	Threads   uint8  `json:"threads"`
	Salt      []byte `json:"salt"`
}

// DefaultKDFParams returns interactive-strength Argon2id parameters with
// no salt set.
func DefaultKDFParams() KDFParams {
	return KDFParams{Time: 3, MemoryKiB: 64 * 1024, Threads: 4}
}

// FileStore keeps each secret in its own ChaCha20-Poly1305 sealed file
// under a directory. The store key is derived once with Argon2id; its
// parameters and salt live in a .kdf file beside the secrets.
//
// File format: [version:2][nonce:12][ciphertext+tag]. The secret name is
// bound as additional data, so renamed files fail to open.
type FileStore struct {
	mu     sync.Mutex
	dir    string
	key    [chacha20poly1305.KeySize]byte
	params KDFParams

	// pending holds the staged key between stageRekey and commitRekey.
	pending       [chacha20poly1305.KeySize]byte
	pendingParams KDFParams
}

// OpenFileStore opens or initializes a store in dir with default KDF
// parameters. passphrase is wiped before returning.
func OpenFileStore(dir string, passphrase []byte) (*FileStore, error) {
	return OpenFileStoreWithParams(dir, passphrase, DefaultKDFParams())
}

// OpenFileStoreWithParams is OpenFileStore with explicit parameters for new
// stores. Existing stores keep the parameters they were created with.
func OpenFileStoreWithParams(dir string, passphrase []byte, params KDFParams) (*FileStore, error) {
	defer crypto.ZeroBytes(passphrase)
	if len(passphrase) == 0 {
		return nil, ErrEmptyPassphrase
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("keystore: create directory: %w", err)
	}

	fs := &FileStore{dir: dir}
	if err := fs.recoverRekey(); err != nil {
		return nil, err
	}
	p, err := fs.loadOrCreateParams(params)
	if err != nil {
		return nil, err
	}
	fs.params = p
	fs.key = deriveStoreKey(passphrase, p)

	logrus.WithFields(logrus.Fields{
		"function":   "OpenFileStore",
		"dir":        dir,
		"time":       p.Time,
		"memory_kib": p.MemoryKiB,
	}).Debug("File keystore opened")

	return fs, nil
}

func deriveStoreKey(passphrase []byte, p KDFParams) [chacha20poly1305.KeySize]byte {
	var key [chacha20poly1305.KeySize]byte
	k := argon2.IDKey(passphrase, p.Salt, p.Time, p.MemoryKiB, p.Threads, chacha20poly1305.KeySize)
	copy(key[:], k)
	crypto.ZeroBytes(k)
	return key
}

func (fs *FileStore) loadOrCreateParams(fresh KDFParams) (KDFParams, error) {
	path := filepath.Join(fs.dir, paramsFile)
	data, err := os.ReadFile(path)
	if err == nil {
		var p KDFParams
		if err := json.Unmarshal(data, &p); err != nil {
			return KDFParams{}, fmt.Errorf("keystore: parse %s: %w", paramsFile, err)
		}
		if len(p.Salt) != SaltSize || p.Time == 0 || p.MemoryKiB == 0 || p.Threads == 0 {
			return KDFParams{}, fmt.Errorf("keystore: invalid %s", paramsFile)
		}
		return p, nil
	}
	if !os.IsNotExist(err) {
		return KDFParams{}, fmt.Errorf("keystore: read %s: %w", paramsFile, err)
	}

	p, err := freshParams(fresh)
	if err != nil {
		return KDFParams{}, err
	}
	if err := fs.writeParams(p); err != nil {
		return KDFParams{}, err
	}
	return p, nil
}

func freshParams(p KDFParams) (KDFParams, error) {
	if p.Time == 0 || p.MemoryKiB == 0 || p.Threads == 0 {
		return KDFParams{}, fmt.Errorf("keystore: KDF parameters must be non-zero")
	}
	p.Salt = make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, p.Salt); err != nil {
		return KDFParams{}, fmt.Errorf("%w: %v", crypto.ErrEntropy, err)
	}
	return p, nil
}

func (fs *FileStore) writeParams(p KDFParams) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(filepath.Join(fs.dir, paramsFile), data)
}

// atomicWrite writes through a temporary file and rename.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("keystore: write temporary file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("keystore: rename: %w", err)
	}
	return nil
}

func (fs *FileStore) seal(name string, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(fs.key[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, headerSize, headerSize+len(plaintext)+aead.Overhead())
	binary.BigEndian.PutUint16(out[:2], FileFormatVersion)
	if _, err := io.ReadFull(rand.Reader, out[2:headerSize]); err != nil {
		return nil, fmt.Errorf("%w: %v", crypto.ErrEntropy, err)
	}
	return aead.Seal(out, out[2:headerSize], plaintext, []byte(name)), nil
}

func (fs *FileStore) open(name string, data []byte) ([]byte, error) {
	if len(data) < headerSize+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("%w: %s too short", ErrDecrypt, name)
	}
	if v := binary.BigEndian.Uint16(data[:2]); v != FileFormatVersion {
		return nil, fmt.Errorf("keystore: unsupported format version %d", v)
	}
	aead, err := chacha20poly1305.New(fs.key[:])
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, data[2:headerSize], data[headerSize:], []byte(name))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecrypt, name)
	}
	return pt, nil
}

// Put seals and writes secret under name.
func (fs *FileStore) Put(_ context.Context, name string, secret []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	sealed, err := fs.seal(name, secret)
	if err != nil {
		return err
	}
	return atomicWrite(filepath.Join(fs.dir, name), sealed)
}

// Get reads and opens the secret stored under name.
func (fs *FileStore) Get(_ context.Context, name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.get(name)
}

func (fs *FileStore) get(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(fs.dir, name))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("keystore: read %s: %w", name, err)
	}
	return fs.open(name, data)
}

// Delete overwrites the file with zeros and removes it. Deleting a missing
// name is not an error.
func (fs *FileStore) Delete(_ context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path := filepath.Join(fs.dir, name)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("keystore: stat %s: %w", name, err)
	}
	// Best effort; the remove below is what matters.
	_ = os.WriteFile(path, make([]byte, info.Size()), 0o600)
	return os.Remove(path)
}

// List returns the stored names in sorted order.
func (fs *FileStore) List(context.Context) ([]string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.list()
}

func (fs *FileStore) list() ([]string, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, fmt.Errorf("keystore: list: %w", err)
	}
	var names []string
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || strings.HasPrefix(n, ".") || strings.HasSuffix(n, ".tmp") {
			continue
		}
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// Rekey re-seals every secret under a key derived from a new passphrase and
// a fresh salt. The new parameters and every re-sealed file are staged
// first; renaming the staged parameters over .kdf commits the change. A
// failure before that point leaves the store as it was. After it, the new
// passphrase is in force and the remaining staged files are moved into
// place by Rekey or, after a crash, by the next open.
func (fs *FileStore) Rekey(newPassphrase []byte) error {
	defer crypto.ZeroBytes(newPassphrase)
	if len(newPassphrase) == 0 {
		return ErrEmptyPassphrase
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	names, err := fs.stageRekey(newPassphrase)
	if err != nil {
		fs.discardRekey()
		return err
	}
	if err := fs.commitRekey(); err != nil {
		fs.discardRekey()
		return err
	}
	if err := fs.finishRekey(names); err != nil {
		return fmt.Errorf("keystore: rekey committed, reopen to finish: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "FileStore.Rekey",
		"secrets":  len(names),
	}).Info("File keystore rekeyed")
	return nil
}

const (
	stagedSuffix     = ".rekey"
	stagedParamsFile = paramsFile + stagedSuffix
)

// stagedName never collides with a valid secret name.
func stagedName(name string) string { return "." + name + stagedSuffix }

// stageRekey writes the new parameters and every secret re-sealed under
// the new key beside the live files. The live files and fs are untouched.
func (fs *FileStore) stageRekey(newPassphrase []byte) ([]string, error) {
	names, err := fs.list()
	if err != nil {
		return nil, err
	}

	p, err := freshParams(KDFParams{Time: fs.params.Time, MemoryKiB: fs.params.MemoryKiB, Threads: fs.params.Threads})
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := atomicWrite(filepath.Join(fs.dir, stagedParamsFile), data); err != nil {
		return nil, err
	}

	next := &FileStore{dir: fs.dir, params: p, key: deriveStoreKey(newPassphrase, p)}
	defer crypto.ZeroBytes(next.key[:])

	for _, n := range names {
		b, err := fs.get(n)
		if err != nil {
			return nil, fmt.Errorf("keystore: rekey %s: %w", n, err)
		}
		sealed, err := next.seal(n, b)
		crypto.ZeroBytes(b)
		if err == nil {
			err = atomicWrite(filepath.Join(fs.dir, stagedName(n)), sealed)
		}
		if err != nil {
			return nil, fmt.Errorf("keystore: rekey %s: %w", n, err)
		}
	}

	fs.pending = next.key
	fs.pendingParams = p
	return names, nil
}

// commitRekey moves the staged parameters over .kdf and switches fs to
// the new key.
func (fs *FileStore) commitRekey() error {
	if err := os.Rename(filepath.Join(fs.dir, stagedParamsFile), filepath.Join(fs.dir, paramsFile)); err != nil {
		return fmt.Errorf("keystore: commit rekey: %w", err)
	}
	crypto.ZeroBytes(fs.key[:])
	fs.key, fs.params = fs.pending, fs.pendingParams
	crypto.ZeroBytes(fs.pending[:])
	return nil
}

// finishRekey moves staged secrets over the live ones.
func (fs *FileStore) finishRekey(names []string) error {
	for _, n := range names {
		if err := os.Rename(filepath.Join(fs.dir, stagedName(n)), filepath.Join(fs.dir, n)); err != nil {
			return fmt.Errorf("keystore: rekey %s: %w", n, err)
		}
	}
	return nil
}

// discardRekey removes everything staged by an uncommitted Rekey.
func (fs *FileStore) discardRekey() {
	crypto.ZeroBytes(fs.pending[:])
	_ = os.Remove(filepath.Join(fs.dir, stagedParamsFile))
	staged, err := fs.staged()
	if err != nil {
		return
	}
	for _, n := range staged {
		_ = os.Remove(filepath.Join(fs.dir, stagedName(n)))
	}
}

// staged lists the secret names with a staged file.
func (fs *FileStore) staged() ([]string, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, fmt.Errorf("keystore: list: %w", err)
	}
	var names []string
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || n == stagedParamsFile || !strings.HasPrefix(n, ".") || !strings.HasSuffix(n, stagedSuffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(strings.TrimPrefix(n, "."), stagedSuffix))
	}
	return names, nil
}

// recoverRekey settles a Rekey interrupted by a crash. A staged .kdf means
// the rekey never committed and everything staged is dropped; otherwise
// staged secrets already belong to the committed key and are moved into
// place.
func (fs *FileStore) recoverRekey() error {
	names, err := fs.staged()
	if err != nil {
		return err
	}
	_, statErr := os.Stat(filepath.Join(fs.dir, stagedParamsFile))
	uncommitted := statErr == nil
	if !uncommitted && len(names) == 0 {
		return nil
	}

	entry := logrus.WithFields(logrus.Fields{
		"function": "FileStore.recoverRekey",
		"dir":      fs.dir,
		"secrets":  len(names),
	})
	if uncommitted {
		fs.discardRekey()
		entry.Warn("Discarded interrupted rekey")
		return nil
	}
	if err := fs.finishRekey(names); err != nil {
		return err
	}
	entry.Warn("Completed interrupted rekey")
	return nil
}

// Close wipes the store key. The store must not be used afterwards.
func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	crypto.ZeroBytes(fs.key[:])
	crypto.ZeroBytes(fs.pending[:])
	return nil
}

package crypto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrNonceReused is returned when a derivation nonce has already been
// issued. Reissuing from the same nonce reproduces the same full secret, so
// a retired pair could not be revoked.
var ErrNonceReused = errors.New("derivation nonce already used")

const ledgerRecordSize = NonceSize + 8

// NonceLedger remembers issued derivation nonces, optionally persisted to
// a file so the record survives restarts.
//
// Example usage:
//
//	ledger, err := crypto.OpenNonceLedger(path, 0)
//	if err != nil {
//	    return err
//	}
//	defer ledger.Close()
//	if err := ledger.Consume(nonce); err != nil {
//	    return err // reused
//	}
//
// File format: [count:8] followed by count records of [nonce:32][expiry:8],
// big-endian, expiry in Unix seconds with 0 meaning never.
type NonceLedger struct {
	mu    sync.Mutex
	seen  map[[NonceSize]byte]int64
	path  string
	ttl   time.Duration
	clock TimeProvider
	dirty bool
}

// NewNonceLedger creates an in-memory ledger. A zero ttl keeps nonces
// forever.
func NewNonceLedger(ttl time.Duration) *NonceLedger {
	return &NonceLedger{
		seen:  make(map[[NonceSize]byte]int64),
		ttl:   ttl,
		clock: DefaultTimeProvider{},
	}
}

// OpenNonceLedger loads the ledger stored at path, or starts an empty one
// if the file does not exist. Expired records are dropped on load.
func OpenNonceLedger(path string, ttl time.Duration) (*NonceLedger, error) {
	l := NewNonceLedger(ttl)
	l.path = path
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

// SetTimeProvider replaces the clock. Pass nil to restore the system clock.
func (l *NonceLedger) SetTimeProvider(tp TimeProvider) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if tp == nil {
		tp = DefaultTimeProvider{}
	}
	l.clock = tp
}

// Consume records nonce, failing with ErrNonceReused if it is already
// present and unexpired.
func (l *NonceLedger) Consume(nonce [NonceSize]byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now().Unix()
	if expiry, ok := l.seen[nonce]; ok && (expiry == 0 || expiry > now) {
		logrus.WithFields(logrus.Fields{
			"function": "NonceLedger.Consume",
			"nonce":    fmt.Sprintf("%x", nonce[:4]),
		}).Warn("Derivation nonce reuse refused")
		return ErrNonceReused
	}

	var expiry int64
	if l.ttl > 0 {
		expiry = now + int64(l.ttl/time.Second)
	}
	l.seen[nonce] = expiry
	l.dirty = true
	return nil
}

// Prune drops expired records and reports how many were removed.
func (l *NonceLedger) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now().Unix()
	removed := 0
	for n, expiry := range l.seen {
		if expiry != 0 && expiry <= now {
			delete(l.seen, n)
			removed++
		}
	}
	if removed > 0 {
		l.dirty = true
	}
	return removed
}

// Size returns the number of recorded nonces.
func (l *NonceLedger) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

func (l *NonceLedger) load() error {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read nonce ledger: %w", err)
	}
	if len(data) < 8 {
		return fmt.Errorf("corrupted nonce ledger: %d bytes", len(data))
	}

	count := binary.BigEndian.Uint64(data[:8])
	if count > uint64(len(data)-8)/ledgerRecordSize {
		return fmt.Errorf("corrupted nonce ledger: %d records in %d bytes", count, len(data))
	}

	now := l.clock.Now().Unix()
	offset := 8
	for i := uint64(0); i < count; i++ {
		var n [NonceSize]byte
		copy(n[:], data[offset:offset+NonceSize])
		expiry, err := safeUint64ToInt64(binary.BigEndian.Uint64(data[offset+NonceSize : offset+ledgerRecordSize]))
		offset += ledgerRecordSize
		if err != nil || (expiry != 0 && expiry <= now) {
			continue
		}
		l.seen[n] = expiry
	}

	logrus.WithFields(logrus.Fields{
		"function": "NonceLedger.load",
		"in_file":  count,
		"loaded":   len(l.seen),
	}).Debug("Nonce ledger loaded")
	return nil
}

// Save writes the ledger to its file. In-memory ledgers ignore Save.
func (l *NonceLedger) Save() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.save()
}

func (l *NonceLedger) save() error {
	if l.path == "" || !l.dirty {
		return nil
	}

	buf := make([]byte, 8, 8+len(l.seen)*ledgerRecordSize)
	var count uint64
	for n, expiry := range l.seen {
		e, err := safeInt64ToUint64(expiry)
		if err != nil {
			continue
		}
		buf = append(buf, n[:]...)
		buf = binary.BigEndian.AppendUint64(buf, e)
		count++
	}
	binary.BigEndian.PutUint64(buf[:8], count)

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o600); err != nil {
		return fmt.Errorf("write nonce ledger: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename nonce ledger: %w", err)
	}
	l.dirty = false
	return nil
}

// Close saves the ledger.
func (l *NonceLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.save()
}

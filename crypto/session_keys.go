package crypto

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"

	"github.com/sirupsen/logrus"
)

const sessionContextPrefix = "session-v1:"

// RotationAnchor is an externally published point in a monotonically
// increasing sequence (for example a block height and its hash).
type RotationAnchor struct {
	Height uint64
	Hash   [32]byte
}

// SessionKey is a rotating key derived from the root secret and an anchor.
type SessionKey struct {
	Start RotationAnchor
	key   [KeySize]byte
	wiped bool
}

// sessionContext builds "session-v1:" || u64_le(height) || hash.
func sessionContext(anchor RotationAnchor) []byte {
	ctx := make([]byte, 0, len(sessionContextPrefix)+8+32)
	ctx = append(ctx, sessionContextPrefix...)
	ctx = binary.LittleEndian.AppendUint64(ctx, anchor.Height)
	ctx = append(ctx, anchor.Hash[:]...)
	return ctx
}

// DeriveSessionKey derives the session key valid from anchor onwards.
func DeriveSessionKey(root *RootSecret, anchor RotationAnchor) (*SessionKey, error) {
	sk := &SessionKey{Start: anchor}
	if err := root.DeriveInto(sessionContext(anchor), &sk.key); err != nil {
		return nil, err
	}
	return sk, nil
}

// Key returns the raw session key.
func (s *SessionKey) Key() ([KeySize]byte, error) {
	if s == nil || s.wiped {
		return [KeySize]byte{}, ErrWiped
	}
	return s.key, nil
}

const anchoredNonceContextPrefix = "anchored-nonce-v1:"

// DeriveNonce derives the full-secret nonce for project under this session
// key. Within one rotation window the nonce, and so the full secret, is the
// same for every caller holding the root secret.
func (s *SessionKey) DeriveNonce(project string) (nonce [NonceSize]byte, err error) {
	if s == nil || s.wiped {
		return nonce, ErrWiped
	}
	id := NewProjectID(project)
	info := make([]byte, 0, len(anchoredNonceContextPrefix)+len(id))
	info = append(info, anchoredNonceContextPrefix...)
	info = append(info, id[:]...)
	err = expandInto(&nonce, s.key[:], info)
	return nonce, err
}

// ShouldRotate reports whether currentHeight has reached the start height
// plus interval. The addition saturates; an interval of zero always rotates.
func (s *SessionKey) ShouldRotate(currentHeight, interval uint64) bool {
	end := s.Start.Height + interval
	if end < s.Start.Height {
		end = math.MaxUint64
	}
	return currentHeight >= end
}

// Wipe erases the key material.
func (s *SessionKey) Wipe() {
	if s == nil {
		return
	}
	zeroKey(&s.key)
	s.wiped = true
}

// DefaultMaxPreviousKeys is how many superseded session keys are retained
// so that a peer still on the previous anchor can finish its Dance.
const DefaultMaxPreviousKeys = 1

// SessionKeyManager tracks the active session key and rotates it as new
// anchors arrive. Superseded keys are retained, never mutated.
type SessionKeyManager struct {
	mu              sync.RWMutex
	root            *RootSecret
	current         *SessionKey
	previous        []*SessionKey
	interval        uint64
	MaxPreviousKeys int
}

// NewSessionKeyManager derives the initial session key from anchor. The
// manager holds its own copy of root.
func NewSessionKeyManager(root *RootSecret, anchor RotationAnchor, interval uint64) (*SessionKeyManager, error) {
	clone, err := root.Clone()
	if err != nil {
		return nil, err
	}

	current, err := DeriveSessionKey(clone, anchor)
	if err != nil {
		clone.Wipe()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewSessionKeyManager",
		"height":   anchor.Height,
		"interval": interval,
	}).Debug("Session key manager initialized")

	return &SessionKeyManager{
		root:            clone,
		current:         current,
		interval:        interval,
		MaxPreviousKeys: DefaultMaxPreviousKeys,
	}, nil
}

// Current returns the active session key.
func (m *SessionKeyManager) Current() *SessionKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Previous returns the retained superseded keys, newest first.
func (m *SessionKeyManager) Previous() []*SessionKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*SessionKey, len(m.previous))
	copy(out, m.previous)
	return out
}

// Tick observes a new anchor. When the current key is due it is superseded
// by a key derived from anchor and rotated reports true. Anchors older than
// the current start are rejected.
func (m *SessionKeyManager) Tick(anchor RotationAnchor) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return false, ErrWiped
	}
	if anchor.Height < m.current.Start.Height {
		return false, errors.New("anchor height precedes current session key")
	}
	if !m.current.ShouldRotate(anchor.Height, m.interval) {
		return false, nil
	}

	next, err := DeriveSessionKey(m.root, anchor)
	if err != nil {
		return false, err
	}

	m.previous = append([]*SessionKey{m.current}, m.previous...)
	for len(m.previous) > m.MaxPreviousKeys {
		oldest := m.previous[len(m.previous)-1]
		oldest.Wipe()
		m.previous = m.previous[:len(m.previous)-1]
	}
	m.current = next

	logrus.WithFields(logrus.Fields{
		"function": "SessionKeyManager.Tick",
		"height":   anchor.Height,
		"retained": len(m.previous),
	}).Info("Session key rotated")

	return true, nil
}

// Cleanup wipes all key material held by the manager.
func (m *SessionKeyManager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.current.Wipe()
		m.current = nil
	}
	for i, k := range m.previous {
		k.Wipe()
		m.previous[i] = nil
	}
	m.previous = nil
	m.root.Wipe()
}

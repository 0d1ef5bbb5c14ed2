package noise

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/flynn/noise"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lockdance/crypto"
)

var (
	// ErrHandshakeNotComplete indicates handshake is still in progress
	ErrHandshakeNotComplete = errors.New("handshake not complete")
	// ErrHandshakeComplete indicates handshake is already complete
	ErrHandshakeComplete = errors.New("handshake already complete")
	// ErrOutOfTurn indicates a read or write when it is the peer's turn
	ErrOutOfTurn = errors.New("handshake message out of turn")
	// ErrInvalidPSK indicates a pre-shared key that is not 32 bytes
	ErrInvalidPSK = errors.New("pre-shared key must be 32 bytes")
)

// Prologue is mixed into every link handshake so transcripts from other
// protocols never verify.
const Prologue = "lockdance-link-v1"

// HandshakeRole defines whether we're initiating or responding to handshake
type HandshakeRole uint8

const (
	// Initiator sends the first handshake message
	Initiator HandshakeRole = iota
	// Responder answers it
	Responder
)

func (r HandshakeRole) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

// Config selects the handshake variant.
type Config struct {
	// PSK, when set, upgrades NN to NNpsk0 so only devices provisioned
	// with the same key complete the handshake.
	PSK []byte
	// Extra prologue bytes appended to Prologue, e.g. a session ID.
	Prologue []byte
}

// NNHandshake implements the Noise NN pattern (optionally psk0). Neither
// side has a static key: the channel is confidential against passive
// observers and the Dance that runs over it supplies authentication.
type NNHandshake struct {
	role       HandshakeRole
	state      *noise.HandshakeState
	sendCipher *noise.CipherState
	recvCipher *noise.CipherState
	complete   bool
	writeTurn  bool
}

// NewNNHandshake creates a new NN pattern handshake.
func NewNNHandshake(role HandshakeRole, cfg Config) (*NNHandshake, error) {
	prologue := append([]byte(Prologue), cfg.Prologue...)

	config := noise.Config{
		CipherSuite: noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256),
		Random:      rand.Reader,
		Pattern:     noise.HandshakeNN,
		Initiator:   role == Initiator,
		Prologue:    prologue,
	}

	if cfg.PSK != nil {
		if len(cfg.PSK) != crypto.KeySize {
			return nil, fmt.Errorf("%w: got %d", ErrInvalidPSK, len(cfg.PSK))
		}
		psk := make([]byte, crypto.KeySize)
		copy(psk, cfg.PSK)
		config.PresharedKey = psk
		config.PresharedKeyPlacement = 0
	}

	state, err := noise.NewHandshakeState(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create handshake state: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewNNHandshake",
		"role":     role.String(),
		"psk":      cfg.PSK != nil,
	}).Debug("Created NN handshake")

	return &NNHandshake{
		role:      role,
		state:     state,
		writeTurn: role == Initiator,
	}, nil
}

// WriteMessage produces our next handshake message carrying payload.
//
// Message flow:
//
//	-> e            (initiator)
//	<- e, ee        (responder)
func (h *NNHandshake) WriteMessage(payload []byte) ([]byte, error) {
	if h.complete {
		return nil, ErrHandshakeComplete
	}
	if !h.writeTurn {
		return nil, ErrOutOfTurn
	}

	msg, cs1, cs2, err := h.state.WriteMessage(nil, payload)
	if err != nil {
		return nil, fmt.Errorf("%s write failed: %w", h.role, err)
	}
	h.writeTurn = false
	h.finish(cs1, cs2)
	return msg, nil
}

// ReadMessage consumes the peer's handshake message and returns its payload.
func (h *NNHandshake) ReadMessage(message []byte) ([]byte, error) {
	if h.complete {
		return nil, ErrHandshakeComplete
	}
	if h.writeTurn {
		return nil, ErrOutOfTurn
	}

	payload, cs1, cs2, err := h.state.ReadMessage(nil, message)
	if err != nil {
		return nil, fmt.Errorf("%s read failed: %w", h.role, err)
	}
	h.writeTurn = true
	h.finish(cs1, cs2)
	return payload, nil
}

// finish records the cipher states once the final message is processed.
// cs1 encrypts initiator-to-responder traffic, cs2 the reverse.
func (h *NNHandshake) finish(cs1, cs2 *noise.CipherState) {
	if cs1 == nil || cs2 == nil {
		return
	}
	if h.role == Initiator {
		h.sendCipher, h.recvCipher = cs1, cs2
	} else {
		h.sendCipher, h.recvCipher = cs2, cs1
	}
	h.complete = true
}

// IsComplete returns true if handshake is finished and cipher states are available.
func (h *NNHandshake) IsComplete() bool {
	return h.complete
}

// CipherStates returns the send and receive cipher states after a
// successful handshake.
func (h *NNHandshake) CipherStates() (send, recv *noise.CipherState, err error) {
	if !h.complete {
		return nil, nil, ErrHandshakeNotComplete
	}
	return h.sendCipher, h.recvCipher, nil
}

// ChannelBinding returns the handshake hash, identical on both sides of a
// completed handshake. Displaying it lets users confirm they share a link.
func (h *NNHandshake) ChannelBinding() ([]byte, error) {
	if !h.complete {
		return nil, ErrHandshakeNotComplete
	}
	hash := h.state.ChannelBinding()
	out := make([]byte, len(hash))
	copy(out, hash)
	return out, nil
}

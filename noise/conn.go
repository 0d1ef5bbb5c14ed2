package noise

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/flynn/noise"
)

// MaxFrameSize is the largest frame a Conn reads or writes. Noise caps a
// message at 65535 bytes.
const MaxFrameSize = 65535

// ErrFrameTooLarge indicates a frame beyond MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// Conn is an encrypted, length-prefixed message stream over an
// io.ReadWriter. Send and Recv may be used from different goroutines.
//
// Frame format:
//
//	[LENGTH(2, big-endian)][CIPHERTEXT(LENGTH)]
type Conn struct {
	rw      io.ReadWriter
	binding []byte

	sendMu sync.Mutex
	send   *noise.CipherState

	recvMu sync.Mutex
	recv   *noise.CipherState
}

// Handshake runs an NN handshake over rw and returns the resulting Conn.
func Handshake(rw io.ReadWriter, role HandshakeRole, cfg Config) (*Conn, error) {
	hs, err := NewNNHandshake(role, cfg)
	if err != nil {
		return nil, err
	}

	for !hs.IsComplete() {
		if hs.writeTurn {
			msg, err := hs.WriteMessage(nil)
			if err != nil {
				return nil, err
			}
			if err := writeFrame(rw, msg); err != nil {
				return nil, fmt.Errorf("send handshake: %w", err)
			}
			continue
		}
		msg, err := readFrame(rw)
		if err != nil {
			return nil, fmt.Errorf("receive handshake: %w", err)
		}
		if _, err := hs.ReadMessage(msg); err != nil {
			return nil, err
		}
	}

	send, recv, err := hs.CipherStates()
	if err != nil {
		return nil, err
	}
	binding, err := hs.ChannelBinding()
	if err != nil {
		return nil, err
	}
	return &Conn{rw: rw, send: send, recv: recv, binding: binding}, nil
}

// ChannelBinding returns the handshake hash shared by both ends.
func (c *Conn) ChannelBinding() []byte {
	out := make([]byte, len(c.binding))
	copy(out, c.binding)
	return out
}

// Send encrypts and writes one message.
func (c *Conn) Send(plaintext []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	ct, err := c.send.Encrypt(nil, nil, plaintext)
	if err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}
	return writeFrame(c.rw, ct)
}

// Recv reads and decrypts one message.
func (c *Conn) Recv() ([]byte, error) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	ct, err := readFrame(c.rw)
	if err != nil {
		return nil, err
	}
	pt, err := c.recv.Decrypt(nil, nil, ct)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return pt, nil
}

func writeFrame(w io.Writer, msg []byte) error {
	if len(msg) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(msg))
	}
	buf := make([]byte, 2+len(msg))
	binary.BigEndian.PutUint16(buf, uint16(len(msg)))
	copy(buf[2:], msg)
	_, err := w.Write(buf)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	msg := make([]byte, binary.BigEndian.Uint16(hdr[:]))
	if _, err := io.ReadFull(r, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

package noise

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNNHandshake(t *testing.T) {
	t.Parallel()

	ih, err := NewNNHandshake(Initiator, Config{})
	require.NoError(t, err)
	rh, err := NewNNHandshake(Responder, Config{})
	require.NoError(t, err)

	_, err = rh.WriteMessage(nil)
	assert.ErrorIs(t, err, ErrOutOfTurn)

	msg1, err := ih.WriteMessage([]byte("hello"))
	require.NoError(t, err)
	assert.False(t, ih.IsComplete())

	payload, err := rh.ReadMessage(msg1)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), payload)

	msg2, err := rh.WriteMessage(nil)
	require.NoError(t, err)
	assert.True(t, rh.IsComplete())

	_, err = ih.ReadMessage(msg2)
	require.NoError(t, err)
	assert.True(t, ih.IsComplete())

	_, err = ih.WriteMessage(nil)
	assert.ErrorIs(t, err, ErrHandshakeComplete)

	iSend, iRecv, err := ih.CipherStates()
	require.NoError(t, err)
	rSend, rRecv, err := rh.CipherStates()
	require.NoError(t, err)

	ct, err := iSend.Encrypt(nil, nil, []byte("to responder"))
	require.NoError(t, err)
	pt, err := rRecv.Decrypt(nil, nil, ct)
	require.NoError(t, err)
	assert.Equal(t, []byte("to responder"), pt)

	ct, err = rSend.Encrypt(nil, nil, []byte("to initiator"))
	require.NoError(t, err)
	pt, err = iRecv.Decrypt(nil, nil, ct)
	require.NoError(t, err)
	assert.Equal(t, []byte("to initiator"), pt)

	ib, err := ih.ChannelBinding()
	require.NoError(t, err)
	rb, err := rh.ChannelBinding()
	require.NoError(t, err)
	assert.Equal(t, ib, rb)
}

func TestNNHandshakeNotComplete(t *testing.T) {
	t.Parallel()

	h, err := NewNNHandshake(Initiator, Config{})
	require.NoError(t, err)
	_, _, err = h.CipherStates()
	assert.ErrorIs(t, err, ErrHandshakeNotComplete)
	_, err = h.ChannelBinding()
	assert.ErrorIs(t, err, ErrHandshakeNotComplete)

	_, err = NewNNHandshake(Initiator, Config{PSK: []byte("short")})
	assert.ErrorIs(t, err, ErrInvalidPSK)
}

func handshakePair(t *testing.T, a, b Config) (*Conn, *Conn, error, error) {
	t.Helper()
	c1, c2 := net.Pipe()
	t.Cleanup(func() {
		c1.Close()
		c2.Close()
	})

	type result struct {
		conn *Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := Handshake(c2, Responder, b)
		if err != nil {
			c2.Close()
		}
		done <- result{conn, err}
	}()

	ic, ierr := Handshake(c1, Initiator, a)
	if ierr != nil {
		c1.Close()
	}
	r := <-done
	return ic, r.conn, ierr, r.err
}

func TestConnRoundTrip(t *testing.T) {
	t.Parallel()

	psk := bytes.Repeat([]byte{0x11}, 32)
	ic, rc, ierr, rerr := handshakePair(t, Config{PSK: psk}, Config{PSK: psk})
	require.NoError(t, ierr)
	require.NoError(t, rerr)
	assert.Equal(t, ic.ChannelBinding(), rc.ChannelBinding())

	go func() {
		_ = ic.Send([]byte{0x56, 0x03})
	}()
	got, err := rc.Recv()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x56, 0x03}, got)
}

func TestConnPSKMismatch(t *testing.T) {
	t.Parallel()

	_, _, ierr, rerr := handshakePair(t,
		Config{PSK: bytes.Repeat([]byte{1}, 32)},
		Config{PSK: bytes.Repeat([]byte{2}, 32)})

	assert.True(t, ierr != nil || rerr != nil)
}

func TestFrameTooLarge(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	assert.ErrorIs(t, writeFrame(&buf, make([]byte, MaxFrameSize+1)), ErrFrameTooLarge)
	require.NoError(t, writeFrame(&buf, []byte("abc")))
	got, err := readFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}

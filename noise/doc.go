// Package noise secures the link between two Dance devices with the Noise
// Protocol Framework (flynn/noise, Curve25519, ChaCha20-Poly1305, SHA-256).
//
// The link uses the NN pattern: neither device has a long-term key, since
// the Dance that runs over the link is itself the authentication step. An
// optional pre-shared key turns the pattern into NNpsk0, which restricts
// the link to devices provisioned together.
//
// Message flow:
//
//	Initiator                Responder
//	-> e
//	                         <- e, ee
//	[link established]
//
// Example usage:
//
//	conn, err := noise.Handshake(tcpConn, noise.Initiator, noise.Config{})
//	if err != nil {
//	    return err
//	}
//	err = conn.Send([]byte{0x56})
//
// The handshake hash ([Conn.ChannelBinding]) is identical on both ends and
// can be rendered as a pattern for users to compare.
package noise

// Package dance implements the Dance: the call-and-response handshake in
// which a Lock holder and a Key holder prove, to each other and to a human
// watching, that their halves reconstruct the same full secret.
//
// # Instructions
//
// Every step of the handshake is an [Instruction], a visual op and an audio
// op packed into one byte. Nine fixed pairs carry protocol meaning; every
// other pair is a payload fragment.
//
// # Handshake
//
//	KeyHolder                         LockHolder
//	INIT        ------------------>
//	key nonce   ------------------>
//	            <------------------   ACK
//	            <------------------   CHALLENGE
//	            <------------------   lock nonce
//	RESPONSE    ------------------>
//	fragment 0  ------------------>
//	            <------------------   fragment 0
//	...                               ...
//	fragment N-1 ----------------->
//	            <------------------   fragment N-1
//	VERIFY      ------------------>
//	            <------------------   CONFIRM
//	COMPLETE    ------------------>
//	            <------------------   COMPLETE
//
// Each side opens with NonceFragments random fragments. Exchange fragments
// are derived from the Tag of a half, the role, the provisioned commitment
// and both nonces, so they differ in every Dance. Each device stores the
// Tag of its peer's half and can therefore predict the peer's fragments
// without holding the peer's half. After the last round each side hashes
// the XOR of both fragment sets, encodes the digest as a pattern and
// compares it with the one it predicted when the nonces were exchanged. A
// mismatch is answered with REJECT. Both sides then consult the audit
// oracle before declaring success.
//
// [Session.Step] is the single mutation point. It returns at most one
// instruction to emit; nil means wait for the peer.
package dance

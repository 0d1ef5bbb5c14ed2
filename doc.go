// Package lockdance implements split-knowledge authentication by "Dance".
//
// A root secret derives one key per project. Each project key is split into
// a Lock half and a Key half held by different devices; neither half alone
// reveals anything about the full secret. To authenticate, the two devices
// perform a Dance: a short, human-perceivable exchange of light and sound
// instructions that proves both halves are present without either device
// transmitting its half. A completed exchange is confirmed by an audit
// oracle before either side declares success.
//
// # Getting Started
//
// Derive a root secret, issue credentials for a project and run both sides
// of a Dance over an in-memory device pair:
//
//	root, err := crypto.RootSecretFromSeed("correct horse battery staple", "salt-v1")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer root.Wipe()
//
//	issued, err := lockdance.Issue(root, "vault-door", dance.DefaultRounds)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer issued.Wipe()
//
//	opts := lockdance.NewOptions()
//	a, b := sim.NewPair("key", "lock")
//	go lockdance.Dance(ctx, opts, issued.Lock, audit.AllowAll, issued.Conditions(nil), b, b)
//	session, err := lockdance.Dance(ctx, opts, issued.Key, audit.AllowAll, issued.Conditions(nil), a, a)
//
// Across machines, DanceLink runs the same exchange over any stream, such as
// a net.Conn, inside a Noise channel. Credentials stored by "lockdance
// derive" can be used with "lockdance link" on each device.
//
// # Packages
//
//   - crypto: root secrets, derivation, session key rotation, Lock/Key split
//   - pattern: 32-byte hashes rendered as visual and audio patterns
//   - dance: instruction codec and the handshake state machine
//   - audit: the oracle consulted before success
//   - backend: devices, timing and the Runner; sim, terminal, tone and link devices
//   - anchor: rotation anchors from Ethereum block headers
//   - keystore: file and Vault storage for secrets
//   - noise: Noise_NN channel used by the link device
//
// # Configuration
//
// Options carries rounds, timing, keystore, escrow and Ethereum settings and
// round-trips through JSON with LoadOptions and SaveOptions. The lockdance
// command maps its flags onto Options.
//
// # Logging
//
// All packages log through logrus with "function" fields. Secret material
// is never logged; fingerprints and sizes stand in for it.
package lockdance

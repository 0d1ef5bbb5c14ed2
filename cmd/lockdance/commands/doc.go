// Package commands defines the lockdance CLI.
//
// Commands
//
//   - generate      Create a root secret and store it
//   - fingerprint   Print the fingerprint of a root secret
//   - derive        Issue Lock and Key halves; keep the Lock, export the Key
//   - import        Store credentials exported by derive
//   - recover       Rebuild Lock credentials from escrow shares
//   - rekey         Re-seal the file keystore under a new passphrase
//   - watch         Reissue a project's halves on every anchor rotation
//   - pattern       Render data as Dance patterns
//   - demo          Run both sides of a Dance in this terminal
//   - link          Run one side of a Dance with a peer over TCP
//   - config        Write the effective options to a file
//
// # Implementation
//
// The root command resolves Options once, from --config if present and then
// from flags, before any subcommand runs. Secrets live in the keystore the
// options select; the passphrase comes from --passphrase or
// LOCKDANCE_PASSPHRASE. A keystore holds at most one half of any project:
// derive keeps the Lock and writes the Key to a file for the other device.
package commands

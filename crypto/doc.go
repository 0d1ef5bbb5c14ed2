// Package crypto implements the key hierarchy behind a Dance.
//
// A single 32-byte [RootSecret] sits at the apex. Everything else is derived
// from it with HKDF-SHA256 under fixed, versioned context strings, so the
// hierarchy is fully deterministic given the root and the public inputs.
//
// # Root Secret
//
// A root secret is either sampled from the OS entropy source or stretched
// from a memorable seed phrase with Argon2id:
//
//	root, err := crypto.RootSecretFromSeed("correct horse battery staple", "salt-v1")
//	if err != nil {
//		return err
//	}
//	defer root.Wipe()
//
//	fmt.Println(root.Fingerprint()) // safe to display
//
// # Derived Keys
//
// Session keys rotate with an external anchor sequence (block heights),
// project keys are stable per project name:
//
//	session, _ := crypto.DeriveSessionKey(root, crypto.RotationAnchor{Height: 100, Hash: h})
//	project, _ := crypto.DeriveProjectKey(root, "deploy-prod")
//
// [SessionKeyManager] tracks the current session key and supersedes it when
// [SessionKey.ShouldRotate] fires, retaining one previous key.
//
// # Splitting
//
// A project key and a nonce determine a full secret. [DeriveLockKey] splits
// it into a random Lock and the Key that completes it:
//
//	pair, _ := crypto.DeriveLockKey(project, nonce)
//	defer pair.Wipe()
//	full := pair.Reconstruct() // Lock XOR Key
//
// Either half alone is uniformly random. A Lock may additionally be escrowed
// to custodians with [SplitSecret] and recovered with [CombineSecret].
//
// # Secure Memory
//
// Every intermediate buffer is wiped before the producing function returns.
// Callers own returned secrets and must wipe them with [ZeroBytes] or the
// type's Wipe method.
//
// # Logging
//
// Log lines go through logrus. Secret material is never logged; use
// [SecretFields] to describe a buffer by size and digest prefix.
package crypto

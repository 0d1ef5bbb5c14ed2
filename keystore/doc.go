// Package keystore persists root secrets and Lock/Key halves.
//
// SecretStore is the common interface. FileStore seals each secret in its
// own file with ChaCha20-Poly1305 under a key stretched from a passphrase
// with Argon2id. VaultStore keeps secrets in a HashiCorp Vault KV v2 mount
// for deployments where the Lock half lives on a server.
//
// Basic usage:
//
//	fs, err := keystore.OpenFileStore(dir, passphrase)
//	if err != nil {
//	    return err
//	}
//	defer fs.Close()
//	if err := keystore.PutRoot(ctx, fs, "root", root); err != nil {
//	    return err
//	}
//
// Names are limited to [A-Za-z0-9._-] and may not start with a dot.
package keystore

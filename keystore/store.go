package keystore

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/opd-ai/lockdance/crypto"
	"github.com/opd-ai/lockdance/dance"
)

var (
	// ErrNotFound indicates no secret is stored under the name.
	ErrNotFound = errors.New("keystore: secret not found")
	// ErrInvalidName indicates a name outside [A-Za-z0-9._-] or starting with a dot.
	ErrInvalidName = errors.New("keystore: invalid secret name")
	// ErrDecrypt indicates a wrong passphrase or a corrupted file.
	ErrDecrypt = errors.New("keystore: decryption failed")
	// ErrEmptyPassphrase is returned when a FileStore is opened without a passphrase.
	ErrEmptyPassphrase = errors.New("keystore: passphrase cannot be empty")
	// ErrBothHalves is returned when storing a half whose counterpart for
	// the same project is already stored.
	ErrBothHalves = errors.New("keystore: store already holds the other half")
)

// SecretStore persists named secrets. Implementations return ErrNotFound
// for missing names and never log secret contents.
type SecretStore interface {
	Put(ctx context.Context, name string, secret []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]string, error)
}

var validName = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9._-]{0,127}$`)

// ValidateName checks that name is safe as a file name and a Vault path
// segment.
func ValidateName(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// PutRoot stores a root secret.
func PutRoot(ctx context.Context, s SecretStore, name string, root *crypto.RootSecret) error {
	b, err := root.Bytes()
	if err != nil {
		return err
	}
	defer crypto.ZeroBytes(b)
	return s.Put(ctx, name, b)
}

// GetRoot loads a root secret stored with PutRoot.
func GetRoot(ctx context.Context, s SecretStore, name string) (*crypto.RootSecret, error) {
	b, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	defer crypto.ZeroBytes(b)
	return crypto.RootSecretFromBytes(b)
}

// CredentialsName is the store name of project's credentials for role.
func CredentialsName(project string, role dance.Role) string {
	if role == dance.KeyHolder {
		return project + ".key"
	}
	return project + ".lock"
}

// PutCredentials stores one device's Dance credentials for project. It
// refuses with ErrBothHalves when the other half of project is already
// stored, so a single store never reconstructs the full secret.
func PutCredentials(ctx context.Context, s SecretStore, project string, creds *dance.Credentials) error {
	name := CredentialsName(project, creds.Role)
	if err := ValidateName(name); err != nil {
		return err
	}

	peer := CredentialsName(project, creds.Role.Peer())
	other, err := s.Get(ctx, peer)
	switch {
	case err == nil:
		crypto.ZeroBytes(other)
		return fmt.Errorf("%w: %s", ErrBothHalves, peer)
	case !errors.Is(err, ErrNotFound):
		return fmt.Errorf("check %s: %w", peer, err)
	}

	b, err := creds.MarshalBinary()
	if err != nil {
		return err
	}
	defer crypto.ZeroBytes(b)
	return s.Put(ctx, name, b)
}

// GetCredentials loads project's credentials for role.
func GetCredentials(ctx context.Context, s SecretStore, project string, role dance.Role) (*dance.Credentials, error) {
	name := CredentialsName(project, role)
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	b, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	defer crypto.ZeroBytes(b)

	creds := &dance.Credentials{}
	if err := creds.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if creds.Role != role {
		creds.Wipe()
		return nil, fmt.Errorf("%s: %w: holds %s", name, dance.ErrInvalidCredentials, creds.Role)
	}
	return creds, nil
}

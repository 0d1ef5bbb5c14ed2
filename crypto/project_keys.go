package crypto

import "crypto/sha256"

const projectContextPrefix = "project-v1:"

// ProjectID identifies a project by the SHA-256 of its name.
type ProjectID [32]byte

// NewProjectID hashes a project name.
func NewProjectID(name string) ProjectID {
	return sha256.Sum256([]byte(name))
}

// DeriveProjectKey derives the long-lived key for a project. Different
// project names yield independent keys. The caller must wipe the result.
func DeriveProjectKey(root *RootSecret, name string) (key [KeySize]byte, err error) {
	err = DeriveProjectKeyInto(root, name, &key)
	return key, err
}

// DeriveProjectKeyInto is DeriveProjectKey writing straight into out.
func DeriveProjectKeyInto(root *RootSecret, name string, out *[KeySize]byte) error {
	id := NewProjectID(name)
	ctx := make([]byte, 0, len(projectContextPrefix)+len(id))
	ctx = append(ctx, projectContextPrefix...)
	ctx = append(ctx, id[:]...)
	return root.DeriveInto(ctx, out)
}

package lockdance

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/opd-ai/lockdance/crypto"
	"github.com/opd-ai/lockdance/dance"
)

// ErrCredentialsFileExists is returned when exporting would replace a file.
var ErrCredentialsFileExists = errors.New("credentials file already exists")

// WriteCredentialsFile exports creds to path as one line of hex, readable
// only by the owner. An existing file is replaced only when overwrite is
// set.
func WriteCredentialsFile(path string, creds *dance.Credentials, overwrite bool) error {
	b, err := creds.MarshalBinary()
	if err != nil {
		return err
	}
	defer crypto.ZeroBytes(b)

	line := make([]byte, hex.EncodedLen(len(b))+1)
	defer crypto.ZeroBytes(line)
	hex.Encode(line, b)
	line[len(line)-1] = '\n'

	flag := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if overwrite {
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flag, 0o600)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%w: %s", ErrCredentialsFileExists, path)
	}
	if err != nil {
		return fmt.Errorf("export credentials: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("export credentials: %w", err)
	}
	return f.Close()
}

// ReadCredentialsFile loads credentials written by WriteCredentialsFile.
func ReadCredentialsFile(path string) (*dance.Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("import credentials: %w", err)
	}
	defer crypto.ZeroBytes(data)

	text := bytes.TrimSpace(data)
	b := make([]byte, hex.DecodedLen(len(text)))
	defer crypto.ZeroBytes(b)
	if _, err := hex.Decode(b, text); err != nil {
		return nil, fmt.Errorf("import credentials: %w: %v", dance.ErrInvalidCredentials, err)
	}

	creds := &dance.Credentials{}
	if err := creds.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("import credentials: %w", err)
	}
	return creds, nil
}

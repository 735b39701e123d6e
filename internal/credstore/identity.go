package credstore

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"filippo.io/age"
)

var ErrNoIdentity = errors.New("credstore: no X25519 identity in file")

// LoadIdentityFile reads the first X25519 identity from an age identity
// file ("AGE-SECRET-KEY-1..." lines, # comments allowed).
func LoadIdentityFile(path string) (*age.X25519Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	identities, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("credstore: parse identity file %s: %w", path, err)
	}
	for _, id := range identities {
		if x, ok := id.(*age.X25519Identity); ok {
			return x, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoIdentity, path)
}

// GenerateIdentityFile creates a new identity at path. It refuses to
// overwrite an existing file.
func GenerateIdentityFile(path string) (*age.X25519Identity, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# public key: %s\n", identity.Recipient().String())
	fmt.Fprintf(&b, "%s\n", identity.String())

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, err
	}
	if _, err := f.WriteString(b.String()); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return identity, nil
}

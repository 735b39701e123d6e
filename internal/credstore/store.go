package credstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"filippo.io/age"
	"github.com/danmuck/wagate/internal/transport"
	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

const envelopeVersion = 1

var (
	ErrCorrupt = errors.New("credstore: corrupt credential file")
	ErrSealed  = errors.New("credstore: credentials are sealed and no identity is configured")
)

// Store is what the session layer needs from credential persistence.
type Store interface {
	Load() (transport.Credentials, error)
	Save(transport.Credentials) error
	Clear() error
}

var _ Store = (*FileStore)(nil)

// Error is a persistence failure on one file operation.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("credstore: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type envelope struct {
	Version  int    `cbor:"v"`
	Sealed   bool   `cbor:"sealed"`
	Checksum []byte `cbor:"sum"`
	Payload  []byte `cbor:"payload"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("credstore: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("credstore: CBOR decoder initialization failed: " + err.Error())
	}
}

type Option func(*FileStore)

// WithIdentity seals saved credentials to identity and opens sealed files
// with it.
func WithIdentity(identity *age.X25519Identity) Option {
	return func(s *FileStore) { s.identity = identity }
}

// FileStore keeps credentials in a single file.
type FileStore struct {
	path     string
	identity *age.X25519Identity
	mu       sync.Mutex
}

func NewFileStore(path string, opts ...Option) *FileStore {
	s := &FileStore{path: path}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FileStore) Path() string { return s.path }

// Load returns nil, nil when no credentials were saved yet.
func (s *FileStore) Load() (transport.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := readFile(s.path)
	if err != nil {
		return nil, &Error{Op: "read", Path: s.path, Err: err}
	}
	if data == nil {
		return nil, nil
	}

	var env envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return nil, &Error{Op: "decode", Path: s.path, Err: fmt.Errorf("%w: %v", ErrCorrupt, err)}
	}
	if env.Version != envelopeVersion {
		return nil, &Error{Op: "decode", Path: s.path, Err: fmt.Errorf("%w: version %d", ErrCorrupt, env.Version)}
	}
	sum := blake3.Sum256(env.Payload)
	if !bytes.Equal(sum[:], env.Checksum) {
		return nil, &Error{Op: "verify", Path: s.path, Err: fmt.Errorf("%w: checksum mismatch", ErrCorrupt)}
	}
	if !env.Sealed {
		return transport.Credentials(env.Payload), nil
	}

	if s.identity == nil {
		return nil, &Error{Op: "open", Path: s.path, Err: ErrSealed}
	}
	reader, err := age.Decrypt(bytes.NewReader(env.Payload), s.identity)
	if err != nil {
		return nil, &Error{Op: "open", Path: s.path, Err: err}
	}
	plain, err := io.ReadAll(reader)
	if err != nil {
		return nil, &Error{Op: "open", Path: s.path, Err: err}
	}
	return transport.Credentials(plain), nil
}

// Save atomically replaces the stored credentials.
func (s *FileStore) Save(creds transport.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload := []byte(creds)
	sealed := false
	if s.identity != nil {
		var buf bytes.Buffer
		w, err := age.Encrypt(&buf, s.identity.Recipient())
		if err != nil {
			return &Error{Op: "seal", Path: s.path, Err: err}
		}
		if _, err := w.Write(payload); err != nil {
			return &Error{Op: "seal", Path: s.path, Err: err}
		}
		if err := w.Close(); err != nil {
			return &Error{Op: "seal", Path: s.path, Err: err}
		}
		payload = buf.Bytes()
		sealed = true
	}

	sum := blake3.Sum256(payload)
	data, err := encMode.Marshal(envelope{
		Version:  envelopeVersion,
		Sealed:   sealed,
		Checksum: sum[:],
		Payload:  payload,
	})
	if err != nil {
		return &Error{Op: "encode", Path: s.path, Err: err}
	}
	if err := writeFileAtomic(s.path, data, 0o600); err != nil {
		return &Error{Op: "write", Path: s.path, Err: err}
	}
	return nil
}

// Clear removes the stored credentials. Missing files are not an error.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &Error{Op: "remove", Path: s.path, Err: err}
	}
	return nil
}

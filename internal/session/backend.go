package session

import (
	"fmt"
	"maps"
	"sync"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/qmsched/internal/sessionfile"
)

// Session keys. The names match the session storage keys the scheduling
// widget has always used, so a session file can be seeded from a browser dump.
const (
	KeyTenantURL    = "qmBaseUrl"
	KeyAccessToken  = "qmSchedulingJwtToken"
	KeyRefreshToken = "userRefreshToken"
)

// Backend holds the per-session persisted strings. Implementations must be
// safe for concurrent use.
type Backend interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Remove(key string) error
}

// MemoryBackend keeps session values in process memory. Values live as long
// as the backend does, which matches browser session storage.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryBackend returns a MemoryBackend seeded with a copy of initial.
func NewMemoryBackend(initial map[string]string) *MemoryBackend {
	values := make(map[string]string, len(initial))
	maps.Copy(values, initial)

	return &MemoryBackend{values: values}
}

func (m *MemoryBackend) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[key]

	return v, ok
}

func (m *MemoryBackend) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value

	return nil
}

func (m *MemoryBackend) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key)

	return nil
}

// FileBackend persists session values to a session file. The access and
// refresh tokens live in the file's oauth2.Token; every other key is stored
// as metadata. Writes go through to disk before Set/Remove return.
type FileBackend struct {
	mu   sync.Mutex
	path string
	file sessionfile.File
}

// OpenFileBackend loads the session file at path. A missing file yields an
// empty backend; the file is created on first write.
func OpenFileBackend(path string) (*FileBackend, error) {
	sf, err := sessionfile.Load(path)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	b := &FileBackend{path: path}
	if sf != nil {
		b.file = *sf
	}

	return b, nil
}

// Path returns the session file location.
func (b *FileBackend) Path() string {
	return b.path
}

func (b *FileBackend) Get(key string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch key {
	case KeyAccessToken:
		if b.file.Token == nil || b.file.Token.AccessToken == "" {
			return "", false
		}

		return b.file.Token.AccessToken, true
	case KeyRefreshToken:
		if b.file.Token == nil || b.file.Token.RefreshToken == "" {
			return "", false
		}

		return b.file.Token.RefreshToken, true
	default:
		v, ok := b.file.Meta[key]
		return v, ok
	}
}

func (b *FileBackend) Set(key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := b.cloneLocked()

	switch key {
	case KeyAccessToken:
		next.Token.AccessToken = value
	case KeyRefreshToken:
		next.Token.RefreshToken = value
	default:
		next.Meta[key] = value
	}

	return b.commitLocked(next)
}

func (b *FileBackend) Remove(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := b.cloneLocked()

	switch key {
	case KeyAccessToken:
		next.Token.AccessToken = ""
	case KeyRefreshToken:
		next.Token.RefreshToken = ""
	default:
		delete(next.Meta, key)
	}

	return b.commitLocked(next)
}

// cloneLocked copies the in-memory file so a failed write leaves it intact.
func (b *FileBackend) cloneLocked() sessionfile.File {
	tok := &oauth2.Token{TokenType: "Bearer"}
	if b.file.Token != nil {
		cp := *b.file.Token
		tok = &cp
	}

	meta := make(map[string]string, len(b.file.Meta)+1)
	maps.Copy(meta, b.file.Meta)

	return sessionfile.File{Token: tok, Meta: meta}
}

func (b *FileBackend) commitLocked(next sessionfile.File) error {
	if err := sessionfile.Save(b.path, &next); err != nil {
		return fmt.Errorf("session: %w", err)
	}

	b.file = next

	return nil
}

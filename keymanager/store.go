package keymanager

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// KeyStore is the pluggable persistence backend. memory is mandatory;
// file is the only other backend implemented here — keychain,
// secure_enclave, and user_defaults are OS-native plug points this
// module has no analog for.
type KeyStore interface {
	Get(id string) (*ApiKey, bool)
	Put(key *ApiKey) error
	Delete(id string) error
	List(service string) []*ApiKey
	FindBySecret(secret string) (*ApiKey, bool)
}

// MemoryStore is the mandatory in-memory KeyStore backend.
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]*ApiKey
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]*ApiKey)}
}

func (m *MemoryStore) Get(id string) (*ApiKey, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.keys[id]
	return k, ok
}

func (m *MemoryStore) Put(key *ApiKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key.ID] = key
	return nil
}

func (m *MemoryStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, id)
	return nil
}

func (m *MemoryStore) List(service string) []*ApiKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ApiKey, 0)
	for _, k := range m.keys {
		if service == "" || k.Service == service {
			out = append(out, k)
		}
	}
	return out
}

// FindBySecret performs a constant-time comparison against every
// stored secret to avoid leaking a match via timing.
func (m *MemoryStore) FindBySecret(secret string) (*ApiKey, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, k := range m.keys {
		if subtle.ConstantTimeCompare([]byte(k.Secret), []byte(secret)) == 1 {
			return k, true
		}
	}
	return nil, false
}

// FileStore persists keys as JSON objects keyed by id under a
// directory, one file per key, reloaded into an in-memory index.
type FileStore struct {
	dir   string
	inner *MemoryStore
}

// NewFileStore loads (or creates) a JSON-file-backed store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create key store dir: %w", err)
	}
	fs := &FileStore{dir: dir, inner: NewMemoryStore()}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) load() error {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(f.dir, e.Name()))
		if err != nil {
			return err
		}
		var key ApiKey
		if err := json.Unmarshal(data, &key); err != nil {
			return fmt.Errorf("decode %s: %w", e.Name(), err)
		}
		_ = f.inner.Put(&key)
	}
	return nil
}

func (f *FileStore) path(id string) string {
	return filepath.Join(f.dir, id+".json")
}

func (f *FileStore) Get(id string) (*ApiKey, bool) { return f.inner.Get(id) }

func (f *FileStore) Put(key *ApiKey) error {
	data, err := json.MarshalIndent(key, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(f.path(key.ID), data, 0o600); err != nil {
		return err
	}
	return f.inner.Put(key)
}

func (f *FileStore) Delete(id string) error {
	_ = os.Remove(f.path(id))
	return f.inner.Delete(id)
}

func (f *FileStore) List(service string) []*ApiKey { return f.inner.List(service) }

func (f *FileStore) FindBySecret(secret string) (*ApiKey, bool) { return f.inner.FindBySecret(secret) }

package client

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// TokenStore persists the credential across restarts.
type TokenStore interface {
	Save(Credential) error
	Load() (Credential, error) // ErrNoCredential when nothing is stored
	Clear() error
}

// FileTokenStore keeps the credential in a mode-0600 JSON file under the
// user's config directory.
type FileTokenStore struct {
	path string
}

func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

func DefaultTokenStorePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "chatwire", "session.json"), nil
}

func (f *FileTokenStore) Save(cred Credential) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, data, 0o600)
}

func (f *FileTokenStore) Load() (Credential, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Credential{}, ErrNoCredential
		}
		return Credential{}, err
	}
	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return Credential{}, ErrNoCredential
	}
	if cred.Token == "" {
		return Credential{}, ErrNoCredential
	}
	return cred, nil
}

func (f *FileTokenStore) Clear() error {
	err := os.Remove(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// MemoryTokenStore is the no-persistence fallback used when no config
// directory is available, and in tests.
type MemoryTokenStore struct {
	cred *Credential
}

func NewMemoryTokenStore() *MemoryTokenStore { return &MemoryTokenStore{} }

func (m *MemoryTokenStore) Save(cred Credential) error {
	m.cred = &cred
	return nil
}

func (m *MemoryTokenStore) Load() (Credential, error) {
	if m.cred == nil {
		return Credential{}, ErrNoCredential
	}
	return *m.cred, nil
}

func (m *MemoryTokenStore) Clear() error {
	m.cred = nil
	return nil
}

// Package credstore persists the single gitfolio credential record to a
// per-user file with owner-only permissions.
package credstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	configDirName  = "gitfolio"
	credentialFile = "credentials.json"

	dirMode  = 0o700
	fileMode = 0o600
)

// Record is the persisted credential for one logged-in identity.
type Record struct {
	Token     string    `json:"token"`
	Handle    string    `json:"handle"`
	ServerURL string    `json:"server_url"`
	SavedAt   time.Time `json:"saved_at"`
}

// Store reads and writes the credential record at a fixed path.
type Store struct {
	path string
}

// New creates a store at the well-known per-user location, honoring
// XDG_CONFIG_HOME when set.
func New() (*Store, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		configDir = filepath.Join(home, ".config")
	}
	return NewAt(filepath.Join(configDir, configDirName, credentialFile)), nil
}

// NewAt creates a store at an explicit path; used by tests.
func NewAt(path string) *Store {
	return &Store{path: path}
}

// Path reports the credential file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the saved record. Missing or corrupt data reports absence
// rather than an error, so a damaged file reads as logged out.
func (s *Store) Load() (Record, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Record{}, false
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, false
	}
	if record.Token == "" || record.Handle == "" {
		return Record{}, false
	}
	return record, true
}

// Save overwrites the record. The write goes through a temp file in the
// same directory so a crash never leaves a half-written credential.
func (s *Store) Save(record Record) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credential record: %w", err)
	}

	tmp, err := os.CreateTemp(dir, credentialFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp credential file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if err := tmp.Chmod(fileMode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("set credential file mode: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write credential record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close credential file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace credential file: %w", err)
	}
	return nil
}

// Delete removes the record and reports whether one existed.
func (s *Store) Delete() (bool, error) {
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete credential file: %w", err)
	}
	return true, nil
}

package keyring

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/lightningnetwork/lnd/keychain"
)

// KeyStateStore persists the next index to issue on every branch.
type KeyStateStore interface {
	// SetIndex records the next index of a branch.
	SetIndex(branch keychain.KeyFamily, index uint32) error

	// Indexes returns the next index of every branch seen so far.
	Indexes() (map[keychain.KeyFamily]uint32, error)
}

// FileKeyStateStore implements KeyStateStore using a JSON file.
type FileKeyStateStore struct {
	filePath string
	indexes  map[keychain.KeyFamily]uint32
	mu       sync.Mutex
}

// keyStateFile represents the JSON structure for key state.
type keyStateFile struct {
	Branches map[string]uint32 `json:"branches"`
}

// NewFileKeyStateStore creates a new file-based key state store.
func NewFileKeyStateStore(filePath string) (*FileKeyStateStore, error) {
	store := &FileKeyStateStore{
		filePath: filePath,
		indexes:  make(map[keychain.KeyFamily]uint32),
	}

	// A missing file is created on first save.
	if err := store.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load key state: %w", err)
	}

	return store, nil
}

// SetIndex records the next index of a branch and writes the file.
func (s *FileKeyStateStore) SetIndex(branch keychain.KeyFamily,
	index uint32) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	s.indexes[branch] = index

	return s.save()
}

// Indexes returns a copy of all branch indexes.
func (s *FileKeyStateStore) Indexes() (map[keychain.KeyFamily]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return copyIndexes(s.indexes), nil
}

// load loads key state from file.
func (s *FileKeyStateStore) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	var state keyStateFile
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to unmarshal key state: %w", err)
	}

	for rawBranch, index := range state.Branches {
		branch, err := strconv.ParseUint(rawBranch, 10, 32)
		if err != nil {
			return fmt.Errorf("bad branch %q: %w", rawBranch, err)
		}
		s.indexes[keychain.KeyFamily(branch)] = index
	}

	return nil
}

// save writes the key state through a temporary file. The caller must hold
// the lock.
func (s *FileKeyStateStore) save() error {
	state := keyStateFile{
		Branches: make(map[string]uint32, len(s.indexes)),
	}
	for branch, index := range s.indexes {
		state.Branches[strconv.FormatUint(uint64(branch), 10)] = index
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal key state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.filePath), ".keystate-*")
	if err != nil {
		return fmt.Errorf("failed to write key state: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write key state: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), s.filePath)
}

// MemoryKeyStateStore implements KeyStateStore using in-memory storage.
type MemoryKeyStateStore struct {
	indexes map[keychain.KeyFamily]uint32
	mu      sync.Mutex
}

// NewMemoryKeyStateStore creates a new in-memory key state store.
func NewMemoryKeyStateStore() *MemoryKeyStateStore {
	return &MemoryKeyStateStore{
		indexes: make(map[keychain.KeyFamily]uint32),
	}
}

// SetIndex records the next index of a branch.
func (s *MemoryKeyStateStore) SetIndex(branch keychain.KeyFamily,
	index uint32) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	s.indexes[branch] = index
	return nil
}

// Indexes returns a copy of all branch indexes.
func (s *MemoryKeyStateStore) Indexes() (map[keychain.KeyFamily]uint32,
	error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	return copyIndexes(s.indexes), nil
}

func copyIndexes(
	indexes map[keychain.KeyFamily]uint32) map[keychain.KeyFamily]uint32 {

	result := make(map[keychain.KeyFamily]uint32, len(indexes))
	for branch, index := range indexes {
		result[branch] = index
	}

	return result
}

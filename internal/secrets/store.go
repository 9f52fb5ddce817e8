package secrets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrNotFound means the store holds no value for the requested name.
var ErrNotFound = errors.New("secrets: not found")

// Store is a file-backed map of named secrets, encrypted at rest with the
// current cipher format. Legacy-format entries are upgraded in place the
// first time they are read, and the upgrade is flushed before the plaintext
// is returned so a crash cannot leave the caller believing an entry was
// migrated when it was not. Writes go through a temp file and rename.
type Store struct {
	mu     sync.Mutex
	path   string
	cipher *Cipher
	values map[string]string

	// onMigrate, when set, is called once per upgraded entry after the
	// upgrade has been flushed. Invoked outside the store lock.
	onMigrate func(name string)
}

// SetMigrationHook registers fn to be notified of every format upgrade,
// letting callers feed an audit trail. Must be set before concurrent use.
func (s *Store) SetMigrationHook(fn func(name string)) {
	s.onMigrate = fn
}

// OpenStore loads the store file at path, creating an empty store when the
// file does not exist yet.
func OpenStore(path string, c *Cipher) (*Store, error) {
	s := &Store{path: path, cipher: c, values: make(map[string]string)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("secrets: read store: %w", err)
	}
	if err := yaml.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("secrets: parse store: %w", err)
	}
	if s.values == nil {
		s.values = make(map[string]string)
	}
	return s, nil
}

// Set encrypts and stores value under name, flushing to disk synchronously.
func (s *Store) Set(name, value string) error {
	sealed, err := s.cipher.Encrypt(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = sealed
	return s.flush()
}

// Get decrypts and returns the value stored under name. Reading a
// legacy-format entry re-encrypts it in the current format and persists the
// upgrade before returning. Re-reading an already-upgraded entry is a plain
// read; the migration is idempotent.
func (s *Store) Get(name string) (string, error) {
	plaintext, migrated, err := s.get(name)
	if err != nil {
		return "", err
	}
	if migrated && s.onMigrate != nil {
		s.onMigrate(name)
	}
	return plaintext, nil
}

func (s *Store) get(name string) (plaintext string, migrated bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.values[name]
	if !ok {
		return "", false, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	plaintext, legacy, err := s.cipher.Decrypt(stored)
	if err != nil {
		return "", false, fmt.Errorf("secrets: get %s: %w", name, err)
	}

	if legacy {
		upgraded, err := s.cipher.Encrypt(plaintext)
		if err != nil {
			return "", false, fmt.Errorf("secrets: migrate %s: %w", name, err)
		}
		s.values[name] = upgraded
		if err := s.flush(); err != nil {
			return "", false, fmt.Errorf("secrets: migrate %s: %w", name, err)
		}
	}

	return plaintext, legacy, nil
}

// Delete removes name from the store. Deleting an absent name is not an
// error.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.values[name]; !ok {
		return nil
	}
	delete(s.values, name)
	return s.flush()
}

// List returns the stored names in sorted order. Values are never exposed.
func (s *Store) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MigrateAll upgrades every legacy-format entry and reports how many were
// rewritten. Entries that fail to decrypt are left untouched and reported
// as an error after the rest have been migrated.
func (s *Store) MigrateAll() (migrated int, err error) {
	names, migrated, err := s.migrateAll()
	if s.onMigrate != nil {
		for _, name := range names {
			s.onMigrate(name)
		}
	}
	return migrated, err
}

func (s *Store) migrateAll() (names []string, migrated int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var failed []string
	for name, stored := range s.values {
		plaintext, legacy, decErr := s.cipher.Decrypt(stored)
		if decErr != nil {
			failed = append(failed, name)
			continue
		}
		if !legacy {
			continue
		}
		upgraded, encErr := s.cipher.Encrypt(plaintext)
		if encErr != nil {
			return nil, migrated, encErr
		}
		s.values[name] = upgraded
		names = append(names, name)
		migrated++
	}

	if migrated > 0 {
		sort.Strings(names)
		if flushErr := s.flush(); flushErr != nil {
			return nil, migrated, flushErr
		}
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		return names, migrated, fmt.Errorf("secrets: %d entries failed to decrypt: %v", len(failed), failed)
	}
	return names, migrated, nil
}

// flush writes the store atomically with 0600 permissions. Caller holds mu.
func (s *Store) flush() error {
	data, err := yaml.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("secrets: marshal store: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("secrets: create store directory: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("secrets: write store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("secrets: write store: %w", err)
	}
	return nil
}

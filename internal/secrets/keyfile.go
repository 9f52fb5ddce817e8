package secrets

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// LoadOrCreateKeyFile returns the 32-byte master key stored at path,
// creating it with a fresh random key and 0600 permissions when absent.
// An existing key file with looser permissions is used anyway; the
// condition is logged so operators can fix it without an outage.
func LoadOrCreateKeyFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return createKeyFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("secrets: read key file: %w", err)
	}

	if info, statErr := os.Stat(path); statErr == nil {
		if perm := info.Mode().Perm(); perm&0o077 != 0 {
			log.Printf("WARNING: key file %s has permissions %04o, expected 0600", path, perm)
		}
	}

	return decodeKeyFile(path, data)
}

func createKeyFile(path string) ([]byte, error) {
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("secrets: create key directory: %w", err)
		}
	}
	encoded := hex.EncodeToString(key) + "\n"
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return nil, fmt.Errorf("secrets: write key file: %w", err)
	}
	return key, nil
}

func decodeKeyFile(path string, data []byte) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("secrets: key file %s is not valid hex: %w", path, err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key file %s holds %d bytes", ErrInvalidKeySize, path, len(key))
	}
	return key, nil
}

// GenerateKey draws a fresh 32-byte master key from the system CSPRNG.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("secrets: key generation failed: %w", err)
	}
	return key, nil
}

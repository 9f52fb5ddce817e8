// Package secrets protects long-lived credentials at rest. Values are
// sealed with an AEAD cipher under a key derived from a file-resident (or
// Secret Manager-resident) master key; a legacy XOR format is detected and
// migrated transparently on read.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// Cipher errors.
var (
	// ErrDecryptionFailed means the blob was tampered with, corrupted, or
	// sealed under a different key. No partial plaintext is ever returned.
	ErrDecryptionFailed = errors.New("secrets: decryption failed")
	// ErrMalformedBlob means the stored value does not carry a known
	// format tag or is not valid hex.
	ErrMalformedBlob = errors.New("secrets: malformed encrypted value")
	// ErrInvalidKeySize means the master key is not 32 bytes.
	ErrInvalidKeySize = errors.New("secrets: master key must be 32 bytes")
)

const (
	// KeySize is the master key length: 256 bits.
	KeySize = 32
	// nonceSize is fixed at 12 bytes for the enc2 format.
	nonceSize = 12

	// Format tags. enc2 is the current AEAD envelope; enc is the legacy
	// reversible XOR cipher kept only for read-triggered migration.
	prefixCurrent = "enc2:"
	prefixLegacy  = "enc:"

	// derivationLabel domain-separates the AEAD key from other uses of
	// the master key.
	derivationLabel = "agentgate:secret-store:v2"
)

// Cipher seals and opens secret values. It is immutable after construction
// and safe for concurrent use.
type Cipher struct {
	aead      cipher.AEAD
	masterKey []byte
}

// NewCipher derives the AEAD key from a 32-byte master key via HKDF-SHA256
// with a domain separation label, then builds an AES-256-GCM instance.
func NewCipher(masterKey []byte) (*Cipher, error) {
	if len(masterKey) != KeySize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidKeySize, len(masterKey))
	}

	derived := make([]byte, KeySize)
	kdf := hkdf.New(sha256.New, masterKey, nil, []byte(derivationLabel))
	if _, err := io.ReadFull(kdf, derived); err != nil {
		return nil, fmt.Errorf("secrets: key derivation failed: %w", err)
	}

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("secrets: cipher init failed: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets: cipher init failed: %w", err)
	}

	key := make([]byte, KeySize)
	copy(key, masterKey)
	return &Cipher{aead: aead, masterKey: key}, nil
}

// Encrypt seals plaintext into the current wire format:
// "enc2:" + hex(nonce || ciphertext || tag). A fresh random nonce is drawn
// per call; the nonce is never derived from content or a counter, since a
// repeat under the same key would be catastrophic.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secrets: nonce generation failed: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return prefixCurrent + hex.EncodeToString(append(nonce, sealed...)), nil
}

// Decrypt opens a stored value in either format. The returned bool is true
// when the value was in the legacy format and should be re-encrypted by
// the caller. Any authentication failure surfaces as ErrDecryptionFailed.
func (c *Cipher) Decrypt(stored string) (plaintext string, legacy bool, err error) {
	switch {
	case strings.HasPrefix(stored, prefixCurrent):
		plaintext, err = c.decryptCurrent(strings.TrimPrefix(stored, prefixCurrent))
		return plaintext, false, err
	case strings.HasPrefix(stored, prefixLegacy):
		plaintext, err = c.decryptLegacy(strings.TrimPrefix(stored, prefixLegacy))
		return plaintext, true, err
	default:
		return "", false, ErrMalformedBlob
	}
}

// IsEncrypted reports whether a stored value carries either format tag.
func IsEncrypted(stored string) bool {
	return strings.HasPrefix(stored, prefixCurrent) || strings.HasPrefix(stored, prefixLegacy)
}

func (c *Cipher) decryptCurrent(hexBody string) (string, error) {
	body, err := hex.DecodeString(hexBody)
	if err != nil {
		return "", ErrMalformedBlob
	}
	if len(body) < nonceSize+c.aead.Overhead() {
		return "", ErrMalformedBlob
	}

	nonce := body[:nonceSize]
	opened, err := c.aead.Open(nil, nonce, body[nonceSize:], nil)
	if err != nil {
		// Tamper and corruption are indistinguishable by design; fail
		// closed without detail.
		return "", ErrDecryptionFailed
	}
	return string(opened), nil
}

// decryptLegacy reverses the pre-AEAD "enc:" format: ciphertext XORed with
// a SHA-256 keystream over the master key. It offers no integrity and
// exists only so old entries can be read once and migrated.
func (c *Cipher) decryptLegacy(hexBody string) (string, error) {
	body, err := hex.DecodeString(hexBody)
	if err != nil {
		return "", ErrMalformedBlob
	}

	out := make([]byte, len(body))
	var stream []byte
	counter := 0
	for i := range body {
		if i%sha256.Size == 0 {
			block := sha256.Sum256(append(c.masterKey, byte(counter)))
			stream = block[:]
			counter++
		}
		out[i] = body[i] ^ stream[i%sha256.Size]
	}
	return string(out), nil
}

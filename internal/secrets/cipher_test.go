package secrets

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := bytes.Repeat([]byte{0x42}, KeySize)
	return key
}

func testCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := NewCipher(testKey(t))
	if err != nil {
		t.Fatalf("NewCipher() error = %v", err)
	}
	return c
}

// legacyEncrypt produces an "enc:" blob the way the pre-AEAD format did, so
// migration paths can be exercised without carrying a writer for the dead
// format in production code.
func legacyEncrypt(key []byte, plaintext string) string {
	body := []byte(plaintext)
	out := make([]byte, len(body))
	var stream []byte
	counter := 0
	for i := range body {
		if i%sha256.Size == 0 {
			block := sha256.Sum256(append(key, byte(counter)))
			stream = block[:]
			counter++
		}
		out[i] = body[i] ^ stream[i%sha256.Size]
	}
	return prefixLegacy + hex.EncodeToString(out)
}

func TestNewCipherRejectsBadKeySize(t *testing.T) {
	for _, size := range []int{0, 16, 31, 33, 64} {
		if _, err := NewCipher(make([]byte, size)); !errors.Is(err, ErrInvalidKeySize) {
			t.Errorf("NewCipher(%d bytes) error = %v, want ErrInvalidKeySize", size, err)
		}
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := testCipher(t)

	for _, plaintext := range []string{
		"",
		"hunter2",
		"multi\nline\nvalue",
		strings.Repeat("x", 4096),
		"unicode: héllo wörld",
	} {
		sealed, err := c.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%q) error = %v", plaintext, err)
		}
		if !strings.HasPrefix(sealed, "enc2:") {
			t.Fatalf("Encrypt(%q) = %q, want enc2: prefix", plaintext, sealed)
		}

		got, legacy, err := c.Decrypt(sealed)
		if err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if legacy {
			t.Error("Decrypt() legacy = true for current format")
		}
		if got != plaintext {
			t.Errorf("round trip = %q, want %q", got, plaintext)
		}
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	c := testCipher(t)

	a, err := c.Encrypt("same plaintext")
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Encrypt("same plaintext")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two encryptions of the same plaintext produced identical blobs")
	}
}

func TestDecryptRejectsTamperedBlob(t *testing.T) {
	c := testCipher(t)

	sealed, err := c.Encrypt("do not touch")
	if err != nil {
		t.Fatal(err)
	}

	body, err := hex.DecodeString(strings.TrimPrefix(sealed, "enc2:"))
	if err != nil {
		t.Fatal(err)
	}

	// Flip one bit in every position: nonce, ciphertext, and tag must all
	// be covered by authentication.
	for i := range body {
		mutated := make([]byte, len(body))
		copy(mutated, body)
		mutated[i] ^= 0x01

		_, _, err := c.Decrypt("enc2:" + hex.EncodeToString(mutated))
		if !errors.Is(err, ErrDecryptionFailed) {
			t.Fatalf("Decrypt(bit %d flipped) error = %v, want ErrDecryptionFailed", i, err)
		}
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	c := testCipher(t)
	other, err := NewCipher(bytes.Repeat([]byte{0x17}, KeySize))
	if err != nil {
		t.Fatal(err)
	}

	sealed, err := c.Encrypt("keyed material")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := other.Decrypt(sealed); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("Decrypt under wrong key error = %v, want ErrDecryptionFailed", err)
	}
}

func TestDecryptMalformedBlobs(t *testing.T) {
	c := testCipher(t)

	tests := []struct {
		name   string
		stored string
	}{
		{"no prefix", "deadbeef"},
		{"unknown prefix", "enc3:deadbeef"},
		{"bad hex", "enc2:not-hex-at-all"},
		{"too short", "enc2:deadbeef"},
		{"legacy bad hex", "enc:zzzz"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := c.Decrypt(tt.stored); !errors.Is(err, ErrMalformedBlob) {
				t.Errorf("Decrypt(%q) error = %v, want ErrMalformedBlob", tt.stored, err)
			}
		})
	}
}

func TestDecryptLegacyFormat(t *testing.T) {
	c := testCipher(t)

	sealed := legacyEncrypt(testKey(t), "old style secret")
	got, legacy, err := c.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt(legacy) error = %v", err)
	}
	if !legacy {
		t.Error("Decrypt(legacy) legacy = false, want true")
	}
	if got != "old style secret" {
		t.Errorf("Decrypt(legacy) = %q, want %q", got, "old style secret")
	}
}

func TestIsEncrypted(t *testing.T) {
	tests := []struct {
		stored string
		want   bool
	}{
		{"enc2:deadbeef", true},
		{"enc:deadbeef", true},
		{"plaintext", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsEncrypted(tt.stored); got != tt.want {
			t.Errorf("IsEncrypted(%q) = %v, want %v", tt.stored, got, tt.want)
		}
	}
}

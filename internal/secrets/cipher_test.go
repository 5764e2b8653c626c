package secrets

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return key
}

func TestNewCipher_KeyLength(t *testing.T) {
	cases := []struct {
		name    string
		keyLen  int
		wantErr bool
	}{
		{"valid 32 bytes", 32, false},
		{"too short", 16, true},
		{"too long", 64, true},
		{"empty", 0, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewCipher(make([]byte, tc.keyLen))
			if (err != nil) != tc.wantErr {
				t.Errorf("NewCipher with %d-byte key: err = %v, wantErr = %v", tc.keyLen, err, tc.wantErr)
			}
		})
	}
}

func TestCipher_RoundTrip(t *testing.T) {
	c, err := NewCipher(testKey(t))
	if err != nil {
		t.Fatalf("NewCipher failed: %v", err)
	}

	plaintexts := []string{
		"",
		"a",
		"ya29.a0AfH6SMBx-access-token",
		strings.Repeat("x", 4096),
		string([]byte{0, 1, 2, 255, 254, 253}),
	}

	for _, plain := range plaintexts {
		encrypted, err := c.Encrypt(plain)
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}
		if encrypted == plain && plain != "" {
			t.Error("ciphertext equals plaintext")
		}

		decrypted, err := c.Decrypt(encrypted)
		if err != nil {
			t.Fatalf("Decrypt failed: %v", err)
		}
		if decrypted != plain {
			t.Errorf("round trip mismatch: got %d bytes, want %d bytes", len(decrypted), len(plain))
		}
	}
}

func TestCipher_NonceIsRandom(t *testing.T) {
	c, err := NewCipher(testKey(t))
	if err != nil {
		t.Fatalf("NewCipher failed: %v", err)
	}

	first, err := c.Encrypt("same input")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	second, err := c.Encrypt("same input")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if first == second {
		t.Error("two encryptions of the same plaintext produced identical ciphertexts")
	}
}

func TestCipher_BitFlipFails(t *testing.T) {
	c, err := NewCipher(testKey(t))
	if err != nil {
		t.Fatalf("NewCipher failed: %v", err)
	}

	encrypted, err := c.Encrypt("refresh-token-value")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	raw, err := base64.RawURLEncoding.DecodeString(encrypted)
	if err != nil {
		t.Fatalf("failed to decode ciphertext: %v", err)
	}

	// Flip one bit at every byte position; decryption must always fail
	for i := range raw {
		tampered := bytes.Clone(raw)
		tampered[i] ^= 0x01

		_, err := c.Decrypt(base64.RawURLEncoding.EncodeToString(tampered))
		if !errors.Is(err, ErrCipher) {
			t.Fatalf("bit flip at byte %d: err = %v, want ErrCipher", i, err)
		}
	}
}

func TestCipher_WrongKeyFails(t *testing.T) {
	c1, err := NewCipher(testKey(t))
	if err != nil {
		t.Fatalf("NewCipher failed: %v", err)
	}
	c2, err := NewCipher(testKey(t))
	if err != nil {
		t.Fatalf("NewCipher failed: %v", err)
	}

	encrypted, err := c1.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if _, err := c2.Decrypt(encrypted); !errors.Is(err, ErrCipher) {
		t.Errorf("decrypt with rotated key: err = %v, want ErrCipher", err)
	}
}

func TestCipher_GarbageInputFails(t *testing.T) {
	c, err := NewCipher(testKey(t))
	if err != nil {
		t.Fatalf("NewCipher failed: %v", err)
	}

	for _, input := range []string{"", "not base64 %%%", "dG9vLXNob3J0"} {
		if _, err := c.Decrypt(input); !errors.Is(err, ErrCipher) {
			t.Errorf("Decrypt(%q): err = %v, want ErrCipher", input, err)
		}
	}
}

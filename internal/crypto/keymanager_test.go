package crypto

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func newTestKeyManager(t *testing.T) *KeyManager {
	t.Helper()
	key, err := GenerateMasterKey()
	if err != nil {
		t.Fatalf("GenerateMasterKey() error = %v", err)
	}
	km, err := NewKeyManager(key)
	if err != nil {
		t.Fatalf("NewKeyManager() error = %v", err)
	}
	return km
}

func TestGenerateMasterKey(t *testing.T) {
	key, err := GenerateMasterKey()
	if err != nil {
		t.Fatalf("GenerateMasterKey() error = %v", err)
	}
	if len(key) != KeySize {
		t.Errorf("GenerateMasterKey() key length = %d, want %d", len(key), KeySize)
	}

	key2, err := GenerateMasterKey()
	if err != nil {
		t.Fatalf("GenerateMasterKey() error = %v", err)
	}
	if bytes.Equal(key, key2) {
		t.Error("GenerateMasterKey() generated identical keys")
	}
}

func TestNewKeyManager(t *testing.T) {
	tests := []struct {
		name    string
		keyLen  int
		wantErr bool
	}{
		{"valid key", 32, false},
		{"short key", 16, true},
		{"long key", 64, true},
		{"empty key", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewKeyManager(make([]byte, tt.keyLen))
			if (err != nil) != tt.wantErr {
				t.Errorf("NewKeyManager() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestKeyManager_EncryptDecrypt(t *testing.T) {
	km := newTestKeyManager(t)

	for _, plaintext := range [][]byte{
		[]byte("hunter2"),
		{},
		bytes.Repeat([]byte("cookie=value;"), 4096),
	} {
		ciphertext, err := km.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		if len(plaintext) > 0 && bytes.Contains(ciphertext, plaintext) {
			t.Error("ciphertext contains plaintext")
		}

		got, err := km.Decrypt(ciphertext)
		if err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Errorf("Decrypt() = %q, want %q", got, plaintext)
		}
	}
}

func TestKeyManager_Encrypt_ProducesUniqueCiphertexts(t *testing.T) {
	km := newTestKeyManager(t)

	a, _ := km.Encrypt([]byte("same"))
	b, _ := km.Encrypt([]byte("same"))
	if bytes.Equal(a, b) {
		t.Error("expected different ciphertexts for the same plaintext")
	}
}

func TestKeyManager_TamperedCiphertext(t *testing.T) {
	km := newTestKeyManager(t)

	ciphertext, err := km.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	ciphertext[len(ciphertext)-1] ^= 0xff

	if _, err := km.Decrypt(ciphertext); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("Decrypt() error = %v, want %v", err, ErrDecryptionFailed)
	}
}

func TestKeyManager_DecryptShortCiphertext(t *testing.T) {
	km := newTestKeyManager(t)

	if _, err := km.Decrypt([]byte("short")); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("Decrypt() error = %v, want %v", err, ErrInvalidCiphertext)
	}
}

func TestKeyManager_CrossKeyIsolation(t *testing.T) {
	a := newTestKeyManager(t)
	b := newTestKeyManager(t)

	ciphertext, _ := a.Encrypt([]byte("secret"))
	if _, err := b.Decrypt(ciphertext); err == nil {
		t.Error("expected decryption with a different key to fail")
	}
}

func TestKeyManager_EncryptDecryptString(t *testing.T) {
	km := newTestKeyManager(t)

	encoded, err := km.EncryptString("p@ss word ✓")
	if err != nil {
		t.Fatalf("EncryptString() error = %v", err)
	}
	got, err := km.DecryptString(encoded)
	if err != nil {
		t.Fatalf("DecryptString() error = %v", err)
	}
	if got != "p@ss word ✓" {
		t.Errorf("DecryptString() = %q", got)
	}

	if _, err := km.DecryptString("not base64!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
}

func TestParseMasterKey(t *testing.T) {
	key, _ := GenerateMasterKey()

	tests := []struct {
		name    string
		encoded string
		wantErr bool
	}{
		{"hex", hex.EncodeToString(key), false},
		{"hex with whitespace", " " + MasterKeyToHex(key) + "\n", false},
		{"base64", base64.StdEncoding.EncodeToString(key), false},
		{"empty", "", true},
		{"short hex", hex.EncodeToString(key[:16]), true},
		{"short base64", base64.StdEncoding.EncodeToString(key[:10]), true},
		{"garbage", strings.Repeat("!", 10), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMasterKey(tt.encoded)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMasterKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !bytes.Equal(got, key) {
				t.Error("ParseMasterKey() returned a different key")
			}
		})
	}
}

func TestNewKeyManagerFromString(t *testing.T) {
	key, _ := GenerateMasterKey()
	if _, err := NewKeyManagerFromString(MasterKeyToHex(key)); err != nil {
		t.Fatalf("NewKeyManagerFromString() error = %v", err)
	}
	if _, err := NewKeyManagerFromString("abcd"); err == nil {
		t.Error("expected error for short key")
	}
}

func TestRandFailure(t *testing.T) {
	km := newTestKeyManager(t)

	orig := randReader
	randReader = failingReader{}
	defer func() { randReader = orig }()

	if _, err := GenerateMasterKey(); err == nil {
		t.Error("GenerateMasterKey() expected error on rand failure")
	}
	if _, err := km.Encrypt([]byte("x")); err == nil {
		t.Error("Encrypt() expected error on rand failure")
	}
}

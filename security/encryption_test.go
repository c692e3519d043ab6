package security

import (
	"bytes"
	"encoding/base64"
	"testing"
)

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if len(key) != 32 {
		t.Errorf("GenerateKey() returned key of length %d, want 32", len(key))
	}

	key2, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if bytes.Equal(key, key2) {
		t.Error("GenerateKey() returned identical keys")
	}
}

func TestNewEncryptor(t *testing.T) {
	tests := []struct {
		name       string
		key        []byte
		wantErr    bool
		wantEnable bool
	}{
		{
			name:       "valid 32-byte key",
			key:        make([]byte, 32),
			wantErr:    false,
			wantEnable: true,
		},
		{
			name:       "nil key (disabled)",
			key:        nil,
			wantErr:    false,
			wantEnable: false,
		},
		{
			name:       "empty key (disabled)",
			key:        []byte{},
			wantErr:    false,
			wantEnable: false,
		},
		{
			name:    "short key",
			key:     make([]byte, 16),
			wantErr: true,
		},
		{
			name:    "long key",
			key:     make([]byte, 64),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewEncryptor(tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewEncryptor() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if enc.IsEnabled() != tt.wantEnable {
				t.Errorf("IsEnabled() = %v, want %v", enc.IsEnabled(), tt.wantEnable)
			}
		})
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	enc, err := NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}

	plaintexts := []string{
		"",
		"short",
		"a-refresh-token-value-with-some-length-to-it",
		"unicode: héllo wörld 日本語",
	}

	for _, plaintext := range plaintexts {
		ciphertext, err := enc.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%q) error = %v", plaintext, err)
		}
		if ciphertext == plaintext && plaintext != "" {
			t.Errorf("Encrypt(%q) returned plaintext", plaintext)
		}

		decrypted, err := enc.Decrypt(ciphertext)
		if err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if decrypted != plaintext {
			t.Errorf("Decrypt() = %q, want %q", decrypted, plaintext)
		}
	}
}

func TestEncryptProducesUniqueCiphertexts(t *testing.T) {
	key, _ := GenerateKey()
	enc, err := NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}

	// Random nonces mean the same plaintext never encrypts the same way twice
	first, err := enc.Encrypt("same-value")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	second, err := enc.Encrypt("same-value")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if first == second {
		t.Error("Two encryptions of the same plaintext produced identical ciphertexts")
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	key, _ := GenerateKey()
	enc, err := NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}

	ciphertext, err := enc.Encrypt("secret-value")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	raw, _ := base64.StdEncoding.DecodeString(ciphertext)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	if _, err := enc.Decrypt(tampered); err == nil {
		t.Error("Decrypt() accepted tampered ciphertext")
	}

	if _, err := enc.Decrypt("not base64!!!"); err == nil {
		t.Error("Decrypt() accepted invalid base64")
	}

	if _, err := enc.Decrypt(base64.StdEncoding.EncodeToString([]byte("short"))); err == nil {
		t.Error("Decrypt() accepted ciphertext shorter than the nonce")
	}
}

func TestDisabledEncryptorPassesThrough(t *testing.T) {
	enc, err := NewEncryptor(nil)
	if err != nil {
		t.Fatalf("NewEncryptor(nil) error = %v", err)
	}

	ciphertext, err := enc.Encrypt("value")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if ciphertext != "value" {
		t.Errorf("Disabled Encrypt() = %q, want passthrough", ciphertext)
	}

	decrypted, err := enc.Decrypt("value")
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if decrypted != "value" {
		t.Errorf("Disabled Decrypt() = %q, want passthrough", decrypted)
	}
}

func TestKeyBase64RoundTrip(t *testing.T) {
	key, _ := GenerateKey()

	encoded := KeyToBase64(key)
	decoded, err := KeyFromBase64(encoded)
	if err != nil {
		t.Fatalf("KeyFromBase64() error = %v", err)
	}
	if !bytes.Equal(decoded, key) {
		t.Error("Key did not survive base64 round trip")
	}

	if _, err := KeyFromBase64("!!!"); err == nil {
		t.Error("KeyFromBase64() accepted invalid base64")
	}
	if _, err := KeyFromBase64(base64.StdEncoding.EncodeToString(make([]byte, 16))); err == nil {
		t.Error("KeyFromBase64() accepted a 16-byte key")
	}
}

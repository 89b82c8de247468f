package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
)

func testKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestNewAESEncryptorKeyValidation(t *testing.T) {
	if _, err := NewAESEncryptor(""); err == nil {
		t.Errorf("expected error for empty key")
	}
	if _, err := NewAESEncryptor("not-base64!!!"); err == nil {
		t.Errorf("expected error for invalid base64")
	}
	short := base64.StdEncoding.EncodeToString([]byte("tooshort"))
	if _, err := NewAESEncryptor(short); err == nil {
		t.Errorf("expected error for short key")
	}
	if _, err := NewAESEncryptor(testKey(t)); err != nil {
		t.Errorf("expected valid 32-byte key to work: %v", err)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	if err != nil {
		t.Fatal(err)
	}
	record := `{"access_token":"ya29.secret","refresh_token":"1//refresh"}`
	ct, err := EncryptString(enc, record)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if ct == record || strings.Contains(ct, "secret") {
		t.Fatalf("ciphertext leaks plaintext")
	}
	got, err := DecryptString(enc, ct)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got != record {
		t.Fatalf("round trip mismatch: %q != %q", got, record)
	}
}

func TestEncryptProducesUniqueCiphertext(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	if err != nil {
		t.Fatal(err)
	}
	a, _ := EncryptString(enc, "same-session-blob")
	b, _ := EncryptString(enc, "same-session-blob")
	if a == b {
		t.Errorf("expected unique nonces to produce distinct ciphertexts")
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	if err != nil {
		t.Fatal(err)
	}
	ct, err := enc.Encrypt([]byte("vk-token"))
	if err != nil {
		t.Fatal(err)
	}
	ct[len(ct)-1] ^= 0xFF
	if _, err := enc.Decrypt(ct); err == nil {
		t.Errorf("expected authentication failure for tampered ciphertext")
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	enc1, _ := NewAESEncryptor(testKey(t))
	enc2, _ := NewAESEncryptor(testKey(t))
	ct, err := enc1.Encrypt([]byte("instagram-session"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := enc2.Decrypt(ct); err == nil {
		t.Errorf("expected decryption failure with wrong key")
	}
}

func TestStringHelpersEmptyInput(t *testing.T) {
	enc, _ := NewAESEncryptor(testKey(t))
	if s, err := EncryptString(enc, ""); err != nil || s != "" {
		t.Errorf("EncryptString(\"\") = %q, %v; want empty, nil", s, err)
	}
	if s, err := DecryptString(enc, ""); err != nil || s != "" {
		t.Errorf("DecryptString(\"\") = %q, %v; want empty, nil", s, err)
	}
}

package security

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"medsight/internal/domain"
)

var testSalt = []byte("0123456789abcdef")

func newTestEncryptor(t *testing.T, passphrase string) *AESContentEncryptor {
	t.Helper()
	enc, err := NewAESContentEncryptor(passphrase, testSalt)
	if err != nil {
		t.Fatalf("NewAESContentEncryptor: %v", err)
	}
	return enc
}

func TestAESEncryptDecryptRoundTrip(t *testing.T) {
	enc := newTestEncryptor(t, "test-passphrase")
	defer enc.Zeroize()

	plaintext := "Patient reports a persistent cough."
	ciphertext, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if ciphertext == plaintext {
		t.Error("ciphertext should differ from plaintext")
	}
	if !enc.IsEncrypted(ciphertext) {
		t.Error("IsEncrypted should return true for encrypted text")
	}

	decrypted, err := enc.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if decrypted != plaintext {
		t.Errorf("Decrypt = %q, want %q", decrypted, plaintext)
	}
}

func TestAESDifferentCiphertextPerCall(t *testing.T) {
	enc := newTestEncryptor(t, "passphrase")
	c1, _ := enc.Encrypt("same input")
	c2, _ := enc.Encrypt("same input")
	if c1 == c2 {
		t.Error("two encryptions of same plaintext should produce different ciphertext")
	}
}

func TestAESSameSaltAcrossInstances(t *testing.T) {
	c, err := newTestEncryptor(t, "passphrase").Encrypt("hello")
	if err != nil {
		t.Fatal(err)
	}
	got, err := newTestEncryptor(t, "passphrase").Decrypt(c)
	if err != nil {
		t.Fatalf("Decrypt with fresh instance: %v", err)
	}
	if got != "hello" {
		t.Errorf("got %q", got)
	}
}

func TestAESPlaintextPassthrough(t *testing.T) {
	enc := newTestEncryptor(t, "passphrase")
	plain := "this is not encrypted"
	if enc.IsEncrypted(plain) {
		t.Error("plaintext should not be reported as encrypted")
	}
	got, err := enc.Decrypt(plain)
	if err != nil || got != plain {
		t.Errorf("Decrypt(plain) = %q, %v", got, err)
	}
}

func TestAESWrongKeyFails(t *testing.T) {
	c, _ := newTestEncryptor(t, "right").Encrypt("secret")
	_, err := newTestEncryptor(t, "wrong").Decrypt(c)
	if !errors.Is(err, domain.ErrDecryption) {
		t.Errorf("err = %v, want ErrDecryption", err)
	}
}

func TestAESMalformedInput(t *testing.T) {
	enc := newTestEncryptor(t, "passphrase")
	for _, in := range []string{
		"enc:!!!not-base64",
		"enc:" + base64.StdEncoding.EncodeToString([]byte("short")),
	} {
		if _, err := enc.Decrypt(in); err == nil {
			t.Errorf("Decrypt(%q) expected error", in)
		}
	}
}

func TestAESTamperedCiphertext(t *testing.T) {
	enc := newTestEncryptor(t, "passphrase")
	c, _ := enc.Encrypt("payload")
	raw, _ := base64.StdEncoding.DecodeString(strings.TrimPrefix(c, encPrefix))
	raw[len(raw)-1] ^= 0xFF
	if _, err := enc.Decrypt(encPrefix + base64.StdEncoding.EncodeToString(raw)); err == nil {
		t.Error("expected tampered ciphertext to fail")
	}
}

func TestNewAESContentEncryptorValidation(t *testing.T) {
	if _, err := NewAESContentEncryptor("", testSalt); err == nil {
		t.Error("expected error for empty passphrase")
	}
	if _, err := NewAESContentEncryptor("p", []byte("short")); err == nil {
		t.Error("expected error for short salt")
	}
}

func TestAESZeroize(t *testing.T) {
	enc := newTestEncryptor(t, "passphrase")
	c, _ := enc.Encrypt("x")
	enc.Zeroize()

	for _, b := range enc.key {
		if b != 0 {
			t.Fatal("key not zeroed")
		}
	}
	if _, err := enc.Encrypt("x"); err == nil {
		t.Error("Encrypt after Zeroize should fail")
	}
	if _, err := enc.Decrypt(c); err == nil {
		t.Error("Decrypt after Zeroize should fail")
	}
}

func TestAESConcurrentEncrypt(t *testing.T) {
	enc := newTestEncryptor(t, "passphrase")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := enc.Encrypt("concurrent")
			if err != nil {
				t.Errorf("Encrypt: %v", err)
				return
			}
			if p, err := enc.Decrypt(c); err != nil || p != "concurrent" {
				t.Errorf("Decrypt = %q, %v", p, err)
			}
		}()
	}
	wg.Wait()
}

func TestLoadOrCreateSalt(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "conversations")

	first, err := LoadOrCreateSalt(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateSalt: %v", err)
	}
	if len(first) != saltSize {
		t.Fatalf("salt length = %d", len(first))
	}
	info, err := os.Stat(filepath.Join(dir, SaltFile))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("salt perm = %o, want 600", perm)
	}

	second, err := LoadOrCreateSalt(dir)
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Error("salt should be stable across loads")
	}
}

func TestLoadOrCreateSaltCorrupt(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, SaltFile), []byte("bad"), 0600)
	if _, err := LoadOrCreateSalt(dir); err == nil {
		t.Error("expected error for corrupt salt")
	}
}

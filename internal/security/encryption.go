package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"

	"medsight/internal/domain"
)

const (
	encPrefix = "enc:"
	saltSize  = 16
	// SaltFile is the name of the file holding the key-derivation salt next
	// to encrypted conversations.
	SaltFile = ".salt"
)

// AESContentEncryptor implements domain.ContentEncryptor using AES-256-GCM.
// The key is derived from a passphrase via Argon2id and held only in memory.
type AESContentEncryptor struct {
	mu   sync.RWMutex
	gcm  cipher.AEAD
	key  []byte
	salt []byte
}

// NewAESContentEncryptor derives a key from passphrase and salt. The same
// pair always yields the same key, so data written by one process can be read
// by the next.
func NewAESContentEncryptor(passphrase string, salt []byte) (*AESContentEncryptor, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase must not be empty")
	}
	if len(salt) != saltSize {
		return nil, fmt.Errorf("salt must be %d bytes, got %d", saltSize, len(salt))
	}

	key := argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &AESContentEncryptor{gcm: gcm, key: key, salt: append([]byte(nil), salt...)}, nil
}

// LoadOrCreateSalt reads the salt stored in dir, creating it (0600) on first use.
func LoadOrCreateSalt(dir string) ([]byte, error) {
	path := filepath.Join(dir, SaltFile)
	salt, err := os.ReadFile(path)
	if err == nil {
		if len(salt) != saltSize {
			return nil, fmt.Errorf("salt file %s is corrupt", path)
		}
		return salt, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read salt: %w", err)
	}

	salt = make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create salt dir: %w", err)
	}
	if err := os.WriteFile(path, salt, 0600); err != nil {
		return nil, fmt.Errorf("write salt: %w", err)
	}
	return salt, nil
}

// Encrypt returns "enc:" + base64(nonce + ciphertext).
func (e *AESContentEncryptor) Encrypt(plaintext string) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.gcm == nil {
		return "", domain.NewDomainError("AESContentEncryptor.Encrypt", domain.ErrEncryption, "encryptor zeroized")
	}

	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", domain.NewDomainError("AESContentEncryptor.Encrypt", domain.ErrEncryption, err.Error())
	}

	sealed := e.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Input without the "enc:" prefix is returned
// unchanged so plaintext conversations stay readable.
func (e *AESContentEncryptor) Decrypt(ciphertext string) (string, error) {
	if !strings.HasPrefix(ciphertext, encPrefix) {
		return ciphertext, nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.gcm == nil {
		return "", domain.NewDomainError("AESContentEncryptor.Decrypt", domain.ErrDecryption, "encryptor zeroized")
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, encPrefix))
	if err != nil {
		return "", domain.NewDomainError("AESContentEncryptor.Decrypt", domain.ErrDecryption, "base64: "+err.Error())
	}

	nonceSize := e.gcm.NonceSize()
	if len(data) < nonceSize {
		return "", domain.NewDomainError("AESContentEncryptor.Decrypt", domain.ErrDecryption, "ciphertext too short")
	}

	plaintext, err := e.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", domain.NewDomainError("AESContentEncryptor.Decrypt", domain.ErrDecryption, err.Error())
	}
	return string(plaintext), nil
}

// IsEncrypted checks for the "enc:" prefix.
func (e *AESContentEncryptor) IsEncrypted(s string) bool {
	return strings.HasPrefix(s, encPrefix)
}

// Zeroize clears the key from memory. Call on shutdown.
func (e *AESContentEncryptor) Zeroize() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.key {
		e.key[i] = 0
	}
	e.gcm = nil
}

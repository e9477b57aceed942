package domain

// ContentEncryptor provides symmetric encryption for stored conversation
// content. Values without the encrypted prefix decrypt to themselves.
type ContentEncryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
	IsEncrypted(s string) bool
}

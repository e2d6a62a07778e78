package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// ErrTamperedOrWrongKey is returned by Decrypt when the ciphertext cannot be
// authenticated: the box was modified, truncated, or sealed under a different
// master key. Decrypt never returns unauthenticated plaintext.
var ErrTamperedOrWrongKey = errors.New("ciphertext authentication failed: tampered data or wrong key")

const (
	// KeySize is the master key length in bytes (AES-256).
	KeySize = 32
	// SaltSize is the KDF salt length in bytes.
	SaltSize = 16

	nonceSize = 12

	// argon2id parameters: 64 MiB memory, 1 pass, 4 lanes.
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// DeriveMasterKey stretches a passphrase into a fixed-length master key using
// argon2id with the given salt. The same passphrase and salt always produce
// the same key.
func DeriveMasterKey(passphrase string, salt []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase must not be empty")
	}
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("salt must be %d bytes, got %d", SaltSize, len(salt))
	}
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, KeySize), nil
}

// NewSalt generates a random KDF salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// Encrypt seals plaintext with AES-256-GCM under the master key. The returned
// box is nonce || ciphertext+tag, with a fresh random nonce per call.
func Encrypt(plaintext, masterKey []byte) ([]byte, error) {
	aead, err := newAEAD(masterKey)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	box := make([]byte, nonceSize, nonceSize+len(plaintext)+aead.Overhead())
	copy(box, nonce)
	return aead.Seal(box, nonce, plaintext, nil), nil
}

// Decrypt opens a box produced by Encrypt. Any authentication or framing
// failure is reported as ErrTamperedOrWrongKey.
func Decrypt(box, masterKey []byte) ([]byte, error) {
	aead, err := newAEAD(masterKey)
	if err != nil {
		return nil, err
	}

	if len(box) < nonceSize+aead.Overhead() {
		return nil, ErrTamperedOrWrongKey
	}

	plaintext, err := aead.Open(nil, box[:nonceSize], box[nonceSize:], nil)
	if err != nil {
		return nil, ErrTamperedOrWrongKey
	}
	return plaintext, nil
}

func newAEAD(masterKey []byte) (cipher.AEAD, error) {
	if len(masterKey) != KeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", KeySize, len(masterKey))
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return aead, nil
}

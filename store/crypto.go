package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"
)

// encryptedPrefix marks values sealed by Cipher. Unprefixed values are stored plaintext.
const encryptedPrefix = "gcm:"

var (
	// ErrInvalidCiphertext is returned when the ciphertext is invalid.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	// ErrNoSecretKey is returned when decrypting a sealed value without a key.
	ErrNoSecretKey = errors.New("secret key not configured")
)

// Cipher seals credentials with AES-256-GCM under a key derived from the operator secret.
// A nil *Cipher passes values through unchanged.
type Cipher struct {
	key []byte
}

// NewCipher derives a 256-bit key from secret with HKDF-SHA256.
// An empty secret yields a nil Cipher.
func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, nil
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(secret), []byte("replybridge"), []byte("ai-credential"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, errors.Wrap(err, "failed to derive key")
	}
	return &Cipher{key: key}, nil
}

// Encrypt seals plaintext. A nil Cipher returns plaintext.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if c == nil {
		return plaintext, nil
	}
	gcm, err := c.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.Wrap(err, "failed to generate nonce")
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return encryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Unprefixed values are returned as is.
func (c *Cipher) Decrypt(value string) (string, error) {
	if !strings.HasPrefix(value, encryptedPrefix) {
		return value, nil
	}
	if c == nil {
		return "", ErrNoSecretKey
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, encryptedPrefix))
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	gcm, err := c.gcm()
	if err != nil {
		return "", err
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", ErrInvalidCiphertext
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	return string(plaintext), nil
}

func (c *Cipher) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create GCM")
	}
	return gcm, nil
}

// Package vault seals operator-supplied credentials before they are persisted.
//
// Secrets are encrypted with AES-256-GCM. The GCM tag authenticates the
// ciphertext, so a wrong key, a wrong iv or a tampered payload all surface as
// ErrDecryption instead of garbage plaintext.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

var (
	ErrDecryption = errors.New("vault: decryption failed")
	ErrEmptyKey   = errors.New("vault: key is empty")
)

// hkdfInfo binds derived keys to this use; changing it invalidates stored secrets.
const hkdfInfo = "hansbot/vault/v1"

// Secret is the persisted form of an encrypted value.
// Both fields are standard base64.
type Secret struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
}

func (s Secret) IsZero() bool { return s.Ciphertext == "" && s.IV == "" }

// Vault encrypts and decrypts secrets with a single deployment-wide key.
// It holds no mutable state and is safe for concurrent use.
type Vault struct {
	aead cipher.AEAD
	rand io.Reader
}

// New derives a 256-bit key from the configured secret and returns a Vault.
func New(key string) (*Vault, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrEmptyKey
	}
	derived := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(key), nil, []byte(hkdfInfo)), derived); err != nil {
		return nil, fmt.Errorf("vault: derive key: %w", err)
	}
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("vault: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: gcm: %w", err)
	}
	return &Vault{aead: aead, rand: rand.Reader}, nil
}

// Encrypt seals plaintext under a fresh random iv.
func (v *Vault) Encrypt(plaintext string) (Secret, error) {
	iv := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(v.rand, iv); err != nil {
		return Secret{}, fmt.Errorf("vault: iv: %w", err)
	}
	ct := v.aead.Seal(nil, iv, []byte(plaintext), nil)
	return Secret{
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
		IV:         base64.StdEncoding.EncodeToString(iv),
	}, nil
}

// Decrypt opens a secret produced by Encrypt.
func (v *Vault) Decrypt(s Secret) (string, error) {
	ct, err := base64.StdEncoding.DecodeString(s.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext encoding", ErrDecryption)
	}
	iv, err := base64.StdEncoding.DecodeString(s.IV)
	if err != nil {
		return "", fmt.Errorf("%w: iv encoding", ErrDecryption)
	}
	if len(iv) != v.aead.NonceSize() {
		return "", fmt.Errorf("%w: iv length %d", ErrDecryption, len(iv))
	}
	pt, err := v.aead.Open(nil, iv, ct, nil)
	if err != nil {
		return "", ErrDecryption
	}
	return string(pt), nil
}

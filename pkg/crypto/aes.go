package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const (
	// KeyHexLength is the length of the hex encoded AES-256 key.
	KeyHexLength = 64

	ivSize  = 16
	tagSize = 16
)

// ErrIntegrity is returned when a sealed credential cannot be authenticated,
// either because it was tampered with or because it was sealed under another key.
var ErrIntegrity = errors.New("credential failed integrity check")

// Sealed is an encrypted credential as stored at rest. All fields are base64.
type Sealed struct {
	Ciphertext string
	IV         string
	Tag        string
}

// Vault encrypts and decrypts user credentials with AES-256-GCM.
type Vault struct {
	aead cipher.AEAD
	rand io.Reader
}

// ParseKey decodes a 64 character hex string into a 32 byte key.
func ParseKey(hexKey string) ([]byte, error) {
	if len(hexKey) != KeyHexLength {
		return nil, fmt.Errorf("encryption key must be %d hex characters, got %d (generate with: openssl rand -hex 32)", KeyHexLength, len(hexKey))
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid hex: %w", err)
	}
	return key, nil
}

// NewVault creates a Vault from a hex encoded 256-bit key.
func NewVault(hexKey string) (*Vault, error) {
	key, err := ParseKey(hexKey)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	// 16 byte IVs keep rows written by the previous deployment readable.
	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, err
	}

	return &Vault{aead: aead, rand: rand.Reader}, nil
}

// Encrypt seals plaintext under a freshly generated IV.
func (v *Vault) Encrypt(plaintext string) (Sealed, error) {
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(v.rand, iv); err != nil {
		return Sealed{}, fmt.Errorf("generate iv: %w", err)
	}

	// Seal returns ciphertext || tag
	out := v.aead.Seal(nil, iv, []byte(plaintext), nil)
	ct, tag := out[:len(out)-tagSize], out[len(out)-tagSize:]

	return Sealed{
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
		IV:         base64.StdEncoding.EncodeToString(iv),
		Tag:        base64.StdEncoding.EncodeToString(tag),
	}, nil
}

// Decrypt opens a sealed credential. Every failure wraps ErrIntegrity.
func (v *Vault) Decrypt(s Sealed) (string, error) {
	ct, err := base64.StdEncoding.DecodeString(s.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: malformed ciphertext", ErrIntegrity)
	}
	iv, err := base64.StdEncoding.DecodeString(s.IV)
	if err != nil || len(iv) != ivSize {
		return "", fmt.Errorf("%w: malformed iv", ErrIntegrity)
	}
	tag, err := base64.StdEncoding.DecodeString(s.Tag)
	if err != nil || len(tag) != tagSize {
		return "", fmt.Errorf("%w: malformed tag", ErrIntegrity)
	}

	sealed := make([]byte, 0, len(ct)+len(tag))
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := v.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", ErrIntegrity
	}
	return string(plaintext), nil
}

// Hint returns a display-safe fragment of an API key.
func Hint(apiKey string) string {
	if len(apiKey) <= 4 {
		return "****"
	}
	return "..." + apiKey[len(apiKey)-4:]
}

// Package envelope implements the field-level encryption format used for
// note titles and contents.
//
// A sealed field is the string "ENCRYPTED:" followed by the standard base64
// encoding of iv ‖ ciphertext ‖ tag, produced with AES-256-GCM (96-bit
// random IV, 128-bit tag). Keys are derived from a password with
// PBKDF2-HMAC-SHA256.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/pbkdf2"
)

const (
	Prefix    = "ENCRYPTED:"
	Algorithm = "AES-GCM-256"
	KDF       = "PBKDF2-SHA256"
	Version   = 1

	SaltSize  = 16
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16

	DefaultIterations = 100000
)

var (
	ErrMalformed = errors.New("malformed envelope")
	ErrDecrypt   = errors.New("decryption failed")
	ErrKeySize   = errors.New("invalid key size")
)

// IsSealed reports whether s is in envelope form.
func IsSealed(s string) bool {
	return strings.HasPrefix(s, Prefix)
}

// NewSalt returns SaltSize random bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, errors.Wrap(err, "failed to generate salt")
	}
	return salt, nil
}

// DeriveKey stretches password into a KeySize key.
func DeriveKey(password string, salt []byte, iterations int) []byte {
	if iterations < DefaultIterations {
		iterations = DefaultIterations
	}
	return pbkdf2.Key([]byte(password), salt, iterations, KeySize, sha256.New)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext and returns it in envelope form.
func Seal(key []byte, plaintext string) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.Wrap(err, "failed to generate nonce")
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return Prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Tampered, truncated or wrong-key input yields an error
// marked with ErrMalformed or ErrDecrypt; it never panics.
func Open(key []byte, sealed string) (string, error) {
	if !IsSealed(sealed) {
		return "", errors.Wrap(ErrMalformed, "missing prefix")
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, Prefix))
	if err != nil {
		return "", errors.Mark(errors.Wrap(err, "invalid base64"), ErrMalformed)
	}
	if len(raw) < NonceSize+TagSize {
		return "", errors.Wrap(ErrMalformed, "ciphertext too short")
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce, ciphertext := raw[:NonceSize], raw[NonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", errors.Mark(errors.Wrap(err, "authentication failed"), ErrDecrypt)
	}

	return string(plaintext), nil
}

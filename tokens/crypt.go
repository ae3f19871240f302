package tokens

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// encPrefix tags sealed values so plaintext and encrypted tokens can coexist
// in the same store column.
const encPrefix = "enc."

const saltSize = 16

// ErrNoCipher is returned when the store holds encrypted token material but
// no encryption passphrase was configured. This is a configuration error and
// is never silently degraded.
var ErrNoCipher = errors.New("tokens: store holds encrypted values but no encryption passphrase is configured")

// A Cipher seals token material before it is written to the store. The key is
// derived from the passphrase with scrypt using a fresh salt per value.
type Cipher struct {
	passphrase []byte
}

// NewCipher returns a Cipher for the passphrase, or nil if it is empty. A nil
// Cipher passes values through unchanged.
func NewCipher(passphrase string) *Cipher {
	if passphrase == "" {
		return nil
	}
	return &Cipher{passphrase: []byte(passphrase)}
}

func (c *Cipher) key(salt []byte) ([]byte, error) {
	return scrypt.Key(c.passphrase, salt, 1<<15, 8, 1, chacha20poly1305.KeySize)
}

// Seal encrypts value into the prefixed wire form. Empty values and nil
// ciphers pass through untouched.
func (c *Cipher) Seal(value string) (string, error) {
	if c == nil || value == "" {
		return value, nil
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key, err := c.key(salt)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	blob := append(salt, nonce...)
	blob = aead.Seal(blob, nonce, []byte(value), nil)
	return encPrefix + base64.RawStdEncoding.EncodeToString(blob), nil
}

// Open reverses Seal. Values without the encrypted prefix pass through;
// prefixed values require a configured cipher.
func (c *Cipher) Open(value string) (string, error) {
	if !strings.HasPrefix(value, encPrefix) {
		return value, nil
	}
	if c == nil {
		return "", ErrNoCipher
	}
	blob, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(value, encPrefix))
	if err != nil {
		return "", fmt.Errorf("tokens: malformed encrypted value: %w", err)
	}
	if len(blob) < saltSize+chacha20poly1305.NonceSizeX {
		return "", errors.New("tokens: encrypted value too short")
	}
	salt, nonce := blob[:saltSize], blob[saltSize:saltSize+chacha20poly1305.NonceSizeX]
	key, err := c.key(salt)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}
	plain, err := aead.Open(nil, nonce, blob[saltSize+chacha20poly1305.NonceSizeX:], nil)
	if err != nil {
		return "", fmt.Errorf("tokens: could not decrypt value (wrong passphrase?): %w", err)
	}
	return string(plain), nil
}

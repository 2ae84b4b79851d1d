package memory

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"

	"github.com/BaSui01/agentmem/types"
)

// sealedPrefix marks an encrypted envelope: enc:v1:<base64(nonce||ciphertext)>.
const sealedPrefix = "enc:v1:"

// key derivation parameters; changing them makes existing data unreadable
var keySalt = []byte("agentmem.memory.v1")

const (
	scryptN      = 1 << 14
	scryptR      = 8
	scryptP      = 1
	cipherKeyLen = 32
)

// Cipher AES-256-GCM 加解密，密钥由口令经 scrypt 派生
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives a key from secret, which must be at least
// MinEncryptionKeyLength characters.
func NewCipher(secret string) (*Cipher, error) {
	if len(secret) < MinEncryptionKeyLength {
		return nil, errInvalid(fmt.Sprintf("encryption key must be at least %d characters", MinEncryptionKeyLength))
	}
	key, err := scrypt.Key([]byte(secret), keySalt, scryptN, scryptR, scryptP, cipherKeyLen)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create block cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext with a fresh random nonce.
func (c *Cipher) Seal(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts an envelope produced by Seal. Any malformed or tampered
// envelope fails with DECRYPTION_FAILED.
func (c *Cipher) Open(envelope string) (string, error) {
	if !IsSealed(envelope) {
		return "", types.NewError(types.ErrDecryptionFailed, "value is not an encrypted envelope")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(envelope, sealedPrefix))
	if err != nil {
		return "", types.NewError(types.ErrDecryptionFailed, "malformed envelope").WithCause(err)
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns+c.aead.Overhead() {
		return "", types.NewError(types.ErrDecryptionFailed, "envelope too short")
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", types.NewError(types.ErrDecryptionFailed, "authentication failed").WithCause(err)
	}
	return string(plain), nil
}

// IsSealed reports whether s looks like an encrypted envelope.
func IsSealed(s string) bool {
	return strings.HasPrefix(s, sealedPrefix)
}

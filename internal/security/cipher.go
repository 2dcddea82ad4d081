package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"go.uber.org/zap"
)

// envelopeDelimiter joins the three base64 segments of an encrypted
// secret: nonce, authentication tag, ciphertext.
const envelopeDelimiter = "."

var (
	// ErrEncryptionKeyMissing is fatal at startup under the hardened profile.
	ErrEncryptionKeyMissing = errors.New("encryption key missing")
	// ErrInvalidFormat signals an envelope that splits into the wrong
	// number of segments or carries undecodable base64.
	ErrInvalidFormat = errors.New("invalid envelope format")
	// ErrDecryptionFailed signals an authentication tag mismatch. No
	// partial plaintext is ever returned.
	ErrDecryptionFailed = errors.New("decryption failed")
)

// TokenCipher encrypts opaque secret strings for storage at rest using
// AES-256-GCM. The key is derived from the configured key string with
// SHA-256.
type TokenCipher struct {
	key    []byte
	logger *zap.Logger
}

// NewTokenCipher builds a cipher from the configured key. A missing key
// is fatal under the hardened profile; under the relaxed profile the
// cipher degrades to plaintext passthrough with a loud warning.
func NewTokenCipher(key string, hardened bool, logger *zap.Logger) (*TokenCipher, error) {
	if key == "" {
		if hardened {
			return nil, ErrEncryptionKeyMissing
		}
		logger.Warn("no encryption key configured; secrets will be stored in PLAINTEXT")
		return &TokenCipher{logger: logger}, nil
	}
	derived := sha256.Sum256([]byte(key))
	return &TokenCipher{key: derived[:], logger: logger}, nil
}

// Encrypt seals plaintext into a nonce.tag.ciphertext envelope.
func (tc *TokenCipher) Encrypt(plaintext string) (string, error) {
	if tc.key == nil {
		tc.logger.Warn("storing secret without encryption")
		return plaintext, nil
	}

	gcm, err := tc.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	split := len(sealed) - gcm.Overhead()
	ciphertext, tag := sealed[:split], sealed[split:]

	enc := base64.StdEncoding
	return enc.EncodeToString(nonce) + envelopeDelimiter +
		enc.EncodeToString(tag) + envelopeDelimiter +
		enc.EncodeToString(ciphertext), nil
}

// Decrypt opens an envelope produced by Encrypt. Input that does not
// match the three-segment shape is treated as a legacy plaintext secret
// and returned unchanged; this is logged as a compatibility event, not
// an error. A well-shaped envelope that fails authentication fails closed.
func (tc *TokenCipher) Decrypt(envelope string) (string, error) {
	if tc.key == nil {
		return envelope, nil
	}

	parts := strings.Split(envelope, envelopeDelimiter)
	if len(parts) != 3 {
		tc.logger.Info("secret does not match envelope shape; returning as legacy plaintext")
		return envelope, nil
	}

	enc := base64.StdEncoding
	nonce, err := enc.DecodeString(parts[0])
	if err != nil {
		return "", ErrInvalidFormat
	}
	tag, err := enc.DecodeString(parts[1])
	if err != nil {
		return "", ErrInvalidFormat
	}
	ciphertext, err := enc.DecodeString(parts[2])
	if err != nil {
		return "", ErrInvalidFormat
	}

	gcm, err := tc.aead()
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() || len(tag) != gcm.Overhead() {
		return "", ErrInvalidFormat
	}

	plaintext, err := gcm.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

func (tc *TokenCipher) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(tc.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/agentmailproxy/mailproxy/internal/idhash"
)

// Encryptor wraps AES-GCM encrypt/decrypt of the secrets C1 stores at rest
// (passwords and OAuth refresh tokens). Every operation is scoped to the
// inbox id it is encrypting or decrypting for, so failures land in the
// logs and error chain hashed the same way every other component reports
// them (internal/idhash), never as a raw inbox id.
type Encryptor struct {
	key []byte
}

// NewEncryptor builds an Encryptor from a base64-encoded 256-bit key.
func NewEncryptor(base64Key string) (*Encryptor, error) {
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}

	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes (256 bits), got %d bytes", len(key))
	}

	return &Encryptor{key: key}, nil
}

// Encrypt seals plaintext for inboxID. The returned blob is
// [nonce][ciphertext][auth_tag]; a fresh random nonce is drawn per call so
// the same secret never produces the same ciphertext twice.
func (e *Encryptor) Encrypt(inboxID, plaintext string) ([]byte, error) {
	gcm, err := e.gcm()
	if err != nil {
		return nil, fmt.Errorf("encrypt %s: %w", idhash.Hash(inboxID), err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("encrypt %s: generate nonce: %w", idhash.Hash(inboxID), err)
	}

	return gcm.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Decrypt opens a blob previously sealed by Encrypt for the same inboxID.
// A mismatched key or tampered auth tag surfaces as the AEAD open error;
// a blob shorter than the nonce fails with "ciphertext too short". Both
// name the hashed inboxID rather than the raw one.
func (e *Encryptor) Decrypt(inboxID string, ciphertext []byte) (string, error) {
	gcm, err := e.gcm()
	if err != nil {
		return "", fmt.Errorf("decrypt %s: %w", idhash.Hash(inboxID), err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("decrypt %s: ciphertext too short", idhash.Hash(inboxID))
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt %s: %w", idhash.Hash(inboxID), err)
	}

	return string(plaintext), nil
}

func (e *Encryptor) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("build cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

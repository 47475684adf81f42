package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testInboxID = "user@example.com"

func TestNewEncryptor(t *testing.T) {
	t.Run("valid 32-byte key", func(t *testing.T) {
		key := make([]byte, 32)
		base64Key := base64.StdEncoding.EncodeToString(key)

		encryptor, err := NewEncryptor(base64Key)
		require.NoError(t, err)
		require.NotNil(t, encryptor)
	})

	t.Run("invalid base64", func(t *testing.T) {
		_, err := NewEncryptor("not-valid-base64!!!")
		assert.Error(t, err)
	})

	t.Run("wrong key length", func(t *testing.T) {
		key := make([]byte, 16)
		base64Key := base64.StdEncoding.EncodeToString(key)

		_, err := NewEncryptor(base64Key)
		assert.Error(t, err)
	})
}

func TestEncryptDecrypt(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	base64Key := base64.StdEncoding.EncodeToString(key)

	encryptor, err := NewEncryptor(base64Key)
	require.NoError(t, err)

	testCases := []struct {
		name      string
		plaintext string
	}{
		{"oauth refresh token", "1//refresh-token-value"},
		{"app password", "P@ssw0rd!#$%^&*()"},
		{"empty secret", ""},
		{"unicode secret", "пароль密码🔐"},
		{"long secret", "This is a very long password with many characters to test the encryption and decryption of longer strings"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ciphertext, err := encryptor.Encrypt(testInboxID, tc.plaintext)
			require.NoError(t, err)
			require.NotEmpty(t, ciphertext)

			decrypted, err := encryptor.Decrypt(testInboxID, ciphertext)
			require.NoError(t, err)
			assert.Equal(t, tc.plaintext, decrypted)
		})
	}
}

func TestEncryptProducesDifferentCiphertext(t *testing.T) {
	key := make([]byte, 32)
	base64Key := base64.StdEncoding.EncodeToString(key)

	encryptor, err := NewEncryptor(base64Key)
	require.NoError(t, err)

	secret := "same secret"

	ciphertext1, err := encryptor.Encrypt(testInboxID, secret)
	require.NoError(t, err)

	ciphertext2, err := encryptor.Encrypt(testInboxID, secret)
	require.NoError(t, err)

	assert.NotEqual(t, ciphertext1, ciphertext2, "same secret should seal to different ciphertext across calls")

	decrypted1, err := encryptor.Decrypt(testInboxID, ciphertext1)
	require.NoError(t, err)
	decrypted2, err := encryptor.Decrypt(testInboxID, ciphertext2)
	require.NoError(t, err)

	assert.Equal(t, secret, decrypted1)
	assert.Equal(t, secret, decrypted2)
}

func TestDecryptInvalidCiphertext(t *testing.T) {
	key := make([]byte, 32)
	base64Key := base64.StdEncoding.EncodeToString(key)

	encryptor, err := NewEncryptor(base64Key)
	require.NoError(t, err)

	t.Run("too short", func(t *testing.T) {
		_, err := encryptor.Decrypt(testInboxID, []byte("short"))
		assert.Error(t, err)
	})

	t.Run("corrupted data", func(t *testing.T) {
		ciphertext, err := encryptor.Encrypt(testInboxID, "test")
		require.NoError(t, err)
		ciphertext[len(ciphertext)-1] ^= 0xFF

		_, err = encryptor.Decrypt(testInboxID, ciphertext)
		assert.Error(t, err)
	})

	t.Run("wrong key", func(t *testing.T) {
		ciphertext, err := encryptor.Encrypt(testInboxID, "test")
		require.NoError(t, err)

		otherKey := make([]byte, 32)
		for i := range otherKey {
			otherKey[i] = byte(i + 1)
		}
		other, err := NewEncryptor(base64.StdEncoding.EncodeToString(otherKey))
		require.NoError(t, err)

		_, err = other.Decrypt(testInboxID, ciphertext)
		assert.Error(t, err)
	})
}

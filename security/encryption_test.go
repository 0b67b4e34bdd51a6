package security

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptionManager_EncryptDecrypt(t *testing.T) {
	manager, err := CreateEncryptionManager([]byte("12345678901234567890123456789012"))
	require.NoError(t, err)

	tests := []struct {
		name      string
		plaintext string
	}{
		{name: "Webhook secret", plaintext: "whsec_0123456789abcdef"},
		{name: "Empty string", plaintext: ""},
		{name: "Special characters", plaintext: "!@#$%^&*()_+-=[]{}|;':\",./<>?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encrypted, err := manager.Encrypt(tt.plaintext)
			require.NoError(t, err)
			assert.NotEqual(t, tt.plaintext, encrypted)

			decrypted, err := manager.Decrypt(encrypted)
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, decrypted)
		})
	}
}

func TestEncryptionManager_DifferentKeys(t *testing.T) {
	manager1, err := CreateEncryptionManager([]byte("11111111111111111111111111111111"))
	require.NoError(t, err)
	manager2, err := CreateEncryptionManager([]byte("22222222222222222222222222222222"))
	require.NoError(t, err)

	encrypted, err := manager1.Encrypt("whsec_abc")
	require.NoError(t, err)

	_, err = manager2.Decrypt(encrypted)
	assert.Error(t, err)
}

func TestEncryptionManager_InvalidCiphertext(t *testing.T) {
	manager, err := CreateEncryptionManager([]byte("12345678901234567890123456789012"))
	require.NoError(t, err)

	for _, ct := range []string{sealedPrefix + "short", sealedPrefix + "not-valid-base64!@#$%", sealedPrefix} {
		_, err := manager.Decrypt(ct)
		assert.Error(t, err, ct)
	}
}

func TestEncryptionManager_LegacyPlaintextPassesThrough(t *testing.T) {
	manager, err := CreateEncryptionManager([]byte("12345678901234567890123456789012"))
	require.NoError(t, err)

	got, err := manager.Decrypt("whsec_legacy")
	require.NoError(t, err)
	assert.Equal(t, "whsec_legacy", got)
}

func TestEncryptionManager_UniqueEncryption(t *testing.T) {
	manager, err := CreateEncryptionManager([]byte("12345678901234567890123456789012"))
	require.NoError(t, err)

	a, err := manager.Encrypt("same text")
	require.NoError(t, err)
	b, err := manager.Encrypt("same text")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestCreateSecretCipher(t *testing.T) {
	c, err := CreateSecretCipher("")
	require.NoError(t, err)
	assert.IsType(t, PlaintextCipher{}, c)

	_, err = CreateSecretCipher(base64.StdEncoding.EncodeToString([]byte("too-short")))
	assert.Error(t, err)

	c, err = CreateSecretCipher(base64.StdEncoding.EncodeToString([]byte("12345678901234567890123456789012")))
	require.NoError(t, err)
	assert.IsType(t, &EncryptionManager{}, c)
}

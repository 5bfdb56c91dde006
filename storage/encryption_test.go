package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHexKey = "000102030405060708090a0b0c0d0e0f000102030405060708090a0b0c0d0e0f"

func TestEncryptor_RoundTripsBytes(t *testing.T) {
	enc, err := NewEncryptor(testHexKey, true)
	require.NoError(t, err)

	ciphertext, err := enc.Encrypt([]byte("original medical text"))
	require.NoError(t, err)
	assert.NotEqual(t, []byte("original medical text"), ciphertext)

	plaintext, err := enc.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, []byte("original medical text"), plaintext)
}

func TestEncryptor_NilPlaintextRoundTripsToNil(t *testing.T) {
	enc, err := NewEncryptor(testHexKey, true)
	require.NoError(t, err)

	ciphertext, err := enc.Encrypt(nil)
	require.NoError(t, err)
	assert.Nil(t, ciphertext)

	plaintext, err := enc.Decrypt(nil)
	require.NoError(t, err)
	assert.Nil(t, plaintext)
}

func TestEncryptor_DisabledIsNoOp(t *testing.T) {
	enc, err := NewEncryptor("", false)
	require.NoError(t, err)

	ciphertext, err := enc.Encrypt([]byte("plain"))
	require.NoError(t, err)
	assert.Equal(t, []byte("plain"), ciphertext)
}

func TestEncryptor_EncryptStringEmptyReturnsNil(t *testing.T) {
	enc, err := NewEncryptor(testHexKey, true)
	require.NoError(t, err)

	ciphertext, err := enc.EncryptString("")
	require.NoError(t, err)
	assert.Nil(t, ciphertext)
}

func TestEncryptor_StringRoundTrip(t *testing.T) {
	enc, err := NewEncryptor(testHexKey, true)
	require.NoError(t, err)

	ciphertext, err := enc.EncryptString("translated text in german")
	require.NoError(t, err)

	plaintext, err := enc.DecryptString(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "translated text in german", plaintext)
}

func TestEncryptor_DecryptTooShortCiphertextErrors(t *testing.T) {
	enc, err := NewEncryptor(testHexKey, true)
	require.NoError(t, err)

	_, err = enc.Decrypt([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestNewEncryptor_RejectsMalformedKey(t *testing.T) {
	_, err := NewEncryptor("too-short", true)
	assert.Error(t, err)
}

package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptor_SealOpen(t *testing.T) {
	hexKey, err := GenerateMasterKey()
	require.NoError(t, err)

	enc, err := NewEncryptorFromHex(hexKey)
	require.NoError(t, err)

	plaintext := []byte("chunk payload")
	sealed, err := enc.Seal(plaintext, []byte("fs/s:a/0"))
	require.NoError(t, err)
	assert.Len(t, sealed, len(plaintext)+enc.Overhead())

	opened, err := enc.Open(sealed, []byte("fs/s:a/0"))
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)

	_, err = enc.Open(sealed, []byte("fs/s:a/1"))
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = enc.Open(sealed[:4], nil)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestNewEncryptor_InvalidKey(t *testing.T) {
	_, err := NewEncryptor([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKeySize)

	_, err = NewEncryptorFromHex("zz")
	assert.ErrorIs(t, err, ErrInvalidHexKey)
}

func TestDeriveKey(t *testing.T) {
	master := bytes.Repeat([]byte{7}, KeySize)

	a, err := DeriveKey(master, "fs/s:a")
	require.NoError(t, err)
	b, err := DeriveKey(master, "fs/s:b")
	require.NoError(t, err)
	again, err := DeriveKey(master, "fs/s:a")
	require.NoError(t, err)

	assert.Len(t, a, KeySize)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, again)
}

func TestHashWriter(t *testing.T) {
	h := NewHashWriter()
	_, _ = h.Write([]byte("hello "))
	_, _ = h.Write([]byte("world"))

	assert.Equal(t, ComputeMD5([]byte("hello world")), h.MD5())
	assert.Equal(t, ComputeSHA256([]byte("hello world")), h.SHA256())
	assert.Equal(t, int64(11), h.Size())
	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", h.MD5())
}

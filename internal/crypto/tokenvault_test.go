package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptToken("eyJ0eXAiOiJKV1QifQ.access-token", "hunter2")
	require.NoError(t, err)

	got, err := DecryptToken(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "eyJ0eXAiOiJKV1QifQ.access-token", got)
}

func TestDecryptWrongPassword(t *testing.T) {
	blob, err := EncryptToken("secret-token", "right")
	require.NoError(t, err)

	_, err = DecryptToken(blob, "wrong")
	require.Error(t, err)
}

func TestEncryptRejectsEmptyInputs(t *testing.T) {
	_, err := EncryptToken("", "pw")
	require.Error(t, err)
	_, err = EncryptToken("token", "")
	require.Error(t, err)
}

func TestUniqueSaltPerEncryption(t *testing.T) {
	a, err := EncryptToken("token", "pw")
	require.NoError(t, err)
	b, err := EncryptToken("token", "pw")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "salt and nonce must be fresh per encryption")
}

func TestLoadTokenResolutionOrder(t *testing.T) {
	// Raw token wins over everything.
	got, err := LoadToken(TokenConfig{RawToken: "raw-token", EncryptedTokenPath: "/does/not/exist"})
	require.NoError(t, err)
	assert.Equal(t, "raw-token", got)

	// Encrypted file path.
	blob, err := EncryptToken("file-token", "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadToken(TokenConfig{EncryptedTokenPath: path, TokenPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "file-token", got)

	// Nothing configured.
	_, err = LoadToken(TokenConfig{})
	require.Error(t, err)
}

package app

import (
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

const hexKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestDecodeKey(t *testing.T) {
	decoded, err := DecodeKey(hexKey)
	require.NoError(t, err)
	expected, _ := hex.DecodeString(hexKey)
	require.Equal(t, expected, decoded)

	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}
	decoded, err = DecodeKey(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	require.Equal(t, raw, decoded)

	decoded, err = DecodeKey("this-is-a-raw-key!!!")
	require.NoError(t, err)
	require.Equal(t, []byte("this-is-a-raw-key!!!"), decoded)

	_, err = DecodeKey("   ")
	require.Error(t, err)
}

func TestSigningKeyEncryptionKey(t *testing.T) {
	key, err := OIDCConfig{KeyEncryptionKey: hexKey}.SigningKeyEncryptionKey()
	require.NoError(t, err)
	require.Len(t, key, KeyEncryptionKeyBytes)

	_, err = OIDCConfig{KeyEncryptionKey: "short"}.SigningKeyEncryptionKey()
	require.ErrorContains(t, err, "must decode to 32 bytes")

	_, err = OIDCConfig{}.SigningKeyEncryptionKey()
	require.Error(t, err)
}

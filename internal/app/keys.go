package app

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// KeyEncryptionKeyBytes is the required length of oidc.key_encryption_key once decoded.
const KeyEncryptionKeyBytes = 32

// DecodeKey decodes a key from hex or base64 encoding to raw bytes.
// Hex is tried first since runtime defaults are generated as hex.
func DecodeKey(value string) ([]byte, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, fmt.Errorf("key value is empty")
	}

	if len(v)%2 == 0 {
		if decoded, err := hex.DecodeString(v); err == nil {
			return decoded, nil
		}
	}

	if decoded, err := base64.StdEncoding.DecodeString(v); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.RawStdEncoding.DecodeString(v); err == nil {
		return decoded, nil
	}

	return []byte(v), nil
}

// SigningKeyEncryptionKey decodes oidc.key_encryption_key and enforces its length.
func (c OIDCConfig) SigningKeyEncryptionKey() ([]byte, error) {
	key, err := DecodeKey(c.KeyEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("oidc.key_encryption_key: %w", err)
	}
	if len(key) != KeyEncryptionKeyBytes {
		return nil, fmt.Errorf("oidc.key_encryption_key must decode to %d bytes, got %d", KeyEncryptionKeyBytes, len(key))
	}
	return key, nil
}

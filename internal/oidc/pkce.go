package oidc

import (
	"crypto/sha256"
	"encoding/base64"

	"github.com/charlesng35/idcore/pkg/crypto"
)

// PKCE challenge methods.
const (
	ChallengeMethodS256  = "S256"
	ChallengeMethodPlain = "plain"
)

// PKCEPair is a verifier together with its S256 challenge.
type PKCEPair struct {
	Verifier  string
	Challenge string
}

// GeneratePKCE produces a verifier and its S256 challenge.
func GeneratePKCE() (PKCEPair, error) {
	verifier, err := crypto.GenerateToken(48)
	if err != nil {
		return PKCEPair{}, err
	}
	return PKCEPair{Verifier: verifier, Challenge: s256(verifier)}, nil
}

func verifyPKCE(challenge, method, verifier string) bool {
	if challenge == "" {
		return verifier == ""
	}
	if len(verifier) < 43 || len(verifier) > 128 {
		return false
	}
	switch method {
	case ChallengeMethodS256:
		return crypto.Equal(s256(verifier), challenge)
	case ChallengeMethodPlain:
		return crypto.Equal(verifier, challenge)
	default:
		return false
	}
}

func s256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

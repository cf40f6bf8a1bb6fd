package oidc

import (
	"context"
	stdcrypto "crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/idcore/internal/database"
	"github.com/charlesng35/idcore/pkg/crypto"
	"github.com/charlesng35/idcore/pkg/logger"
)

const signingKeyBits = 2048

// Signer holds the RS256 key used for access and identity tokens.
type Signer struct {
	key   *rsa.PrivateKey
	keyID string
}

// NewSigner wraps an RSA private key. The key id is the RFC 7638 thumbprint.
func NewSigner(key *rsa.PrivateKey) (*Signer, error) {
	if key == nil {
		return nil, errors.New("oidc: signing key is required")
	}
	jwk := jose.JSONWebKey{Key: &key.PublicKey}
	thumbprint, err := jwk.Thumbprint(stdcrypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("oidc: key thumbprint: %w", err)
	}
	return &Signer{key: key, keyID: base64.RawURLEncoding.EncodeToString(thumbprint)}, nil
}

// GenerateSigner creates a fresh RSA-2048 signer.
func GenerateSigner() (*Signer, error) {
	key, err := rsa.GenerateKey(rand.Reader, signingKeyBits)
	if err != nil {
		return nil, fmt.Errorf("oidc: generate signing key: %w", err)
	}
	return NewSigner(key)
}

// LoadSigner reads the encrypted signing key from system settings. A missing
// or unreadable key is replaced by a new one.
func LoadSigner(ctx context.Context, db *gorm.DB, encryptionKey []byte) (*Signer, error) {
	log := logger.WithModule("oidc")

	stored, err := database.GetSystemSetting(ctx, db, database.SigningKeySetting)
	if err != nil {
		return nil, fmt.Errorf("oidc: load signing key: %w", err)
	}
	if stored != "" {
		signer, err := decodeSigner(stored, encryptionKey)
		if err == nil {
			return signer, nil
		}
		log.Warn("stored signing key is unreadable, rotating", zap.Error(err))
	}

	signer, err := GenerateSigner()
	if err != nil {
		return nil, err
	}
	encoded, err := encodeSigner(signer, encryptionKey)
	if err != nil {
		return nil, err
	}
	if stored != "" {
		if err := database.UpsertSystemSetting(ctx, db, database.SigningKeySetting, encoded); err != nil {
			return nil, fmt.Errorf("oidc: persist signing key: %w", err)
		}
		log.Info("rotated token signing key", zap.String("kid", signer.keyID))
		return signer, nil
	}

	// Another instance may have stored its key first; adopt that one.
	winner, err := database.ClaimSystemSetting(ctx, db, database.SigningKeySetting, encoded)
	if err != nil {
		return nil, fmt.Errorf("oidc: persist signing key: %w", err)
	}
	if winner != encoded {
		return decodeSigner(winner, encryptionKey)
	}
	log.Info("generated token signing key", zap.String("kid", signer.keyID))
	return signer, nil
}

// KeyID returns the kid header value.
func (s *Signer) KeyID() string {
	return s.keyID
}

// PublicKey returns the verification key.
func (s *Signer) PublicKey() *rsa.PublicKey {
	return &s.key.PublicKey
}

// JWKS returns the public key set served at the jwks endpoint.
func (s *Signer) JWKS() jose.JSONWebKeySet {
	return jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       &s.key.PublicKey,
			KeyID:     s.keyID,
			Algorithm: string(jose.RS256),
			Use:       "sig",
		}},
	}
}

// Sign serialises claims as an RS256 JWT with the kid header set.
func (s *Signer) Sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.keyID
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("oidc: sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies an RS256 JWT issued by this signer into claims.
func (s *Signer) Parse(tokenString string, claims jwt.Claims, opts ...jwt.ParserOption) error {
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	_, err := jwt.NewParser(opts...).ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if kid, _ := token.Header["kid"].(string); kid != "" && kid != s.keyID {
			return nil, errors.New("unknown key id")
		}
		return &s.key.PublicKey, nil
	})
	return err
}

func encodeSigner(signer *Signer, encryptionKey []byte) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(signer.key)
	if err != nil {
		return "", fmt.Errorf("oidc: marshal signing key: %w", err)
	}
	block := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	encrypted, err := crypto.Encrypt(block, encryptionKey)
	if err != nil {
		return "", fmt.Errorf("oidc: encrypt signing key: %w", err)
	}
	return encrypted, nil
}

func decodeSigner(stored string, encryptionKey []byte) (*Signer, error) {
	plaintext, err := crypto.Decrypt(stored, encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	block, _ := pem.Decode(plaintext)
	if block == nil {
		return nil, errors.New("no pem block")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an rsa key")
	}
	return NewSigner(key)
}

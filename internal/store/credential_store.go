// Package store persists accounts, pending registrations, recovery requests
// and reset tokens. Every state transition of a single record is one call
// that reads and writes under a row lock inside a transaction.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CredentialStore is the gorm-backed persistence layer for the credential workflows.
type CredentialStore struct {
	db *gorm.DB
}

// NewCredentialStore constructs a CredentialStore.
func NewCredentialStore(db *gorm.DB) (*CredentialStore, error) {
	if db == nil {
		return nil, errors.New("credential store: db is required")
	}
	return &CredentialStore{db: db}, nil
}

func (s *CredentialStore) transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

func forUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// NewSecurityStamp returns a fresh random security stamp.
func NewSecurityStamp() string {
	return uuid.NewString()
}

package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/herald/internal/domain/model"
)

// Vault open failures. All three are fatal at startup: the process reports
// them and exits rather than running without credentials.
var (
	// ErrWrongKey means the store exists but was encrypted under a
	// different key.
	ErrWrongKey = errors.New("vault: wrong encryption key")

	// ErrCorrupt means the store bytes fail authentication or parsing
	// under the correct key.
	ErrCorrupt = errors.New("vault: store corrupt")

	// ErrMissing means no store exists at the configured path.
	ErrMissing = errors.New("vault: store missing")
)

// ErrCredentialNotFound is returned by Get for a platform with no record.
var ErrCredentialNotFound = errors.New("vault: credential not found")

// CredentialVault defines the driven port for encrypted credential storage.
// Plaintext exists only inside a call; implementations must never persist or
// log decrypted material.
type CredentialVault interface {
	// Get returns the credential record for the platform.
	// Returns ErrCredentialNotFound when no record exists.
	Get(ctx context.Context, platformID string) (model.CredentialRecord, error)

	// Put stores or replaces the platform's record, incrementing its
	// version.
	Put(ctx context.Context, rec model.CredentialRecord) error

	// Delete removes the platform's record. Deleting an absent record is
	// not an error.
	Delete(ctx context.Context, platformID string) error

	// List returns the platform IDs with stored records, sorted.
	List(ctx context.Context) ([]string, error)

	// RotateKey re-encrypts the store under newKey. The store on disk is
	// replaced atomically: a crash mid-rotation leaves the previous store
	// intact and readable with the previous key.
	RotateKey(ctx context.Context, newKey []byte) error
}

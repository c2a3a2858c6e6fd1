package driven

import (
	"context"

	"github.com/ericfisherdev/moodlink/internal/domain/model"
)

// CredentialStore defines the driven port for per-user Pinterest credential
// persistence. Every operation is a single-row atomic statement.
type CredentialStore interface {
	// Upsert inserts a record for userID or overwrites username, contact, secret
	// and updated_at of the existing one. Returns a model.ErrValidation error if
	// any field is empty and a model.ErrStorageUnavailable error if the store
	// cannot be reached.
	Upsert(ctx context.Context, userID, username, contact, secret string) (*model.CredentialRecord, error)

	// Get returns the record for userID, or a model.ErrNotFound error.
	Get(ctx context.Context, userID string) (*model.CredentialRecord, error)

	// MarkValidity sets the session-valid flag and the last-validated timestamp.
	// Returns a model.ErrNotFound error if no record exists.
	MarkValidity(ctx context.Context, userID string, valid bool) (*model.CredentialRecord, error)

	// Delete removes the record and reports whether one existed.
	Delete(ctx context.Context, userID string) (bool, error)
}

// SecretCipher transforms credential secrets on their way in and out of a
// CredentialStore adapter.
type SecretCipher interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

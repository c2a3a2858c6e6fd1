package model

import (
	"strings"
	"time"
)

// CredentialRecord holds a user's linked Pinterest account. UserID is the
// application's own user identifier and is unique across records. Secret is
// replayed to the auth broker on every login, so it is never hashed; adapters
// may encrypt it at rest.
type CredentialRecord struct {
	ID              int64
	UserID          string
	Username        string
	Contact         string
	Secret          string
	LastValidatedAt *time.Time
	SessionValid    bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ValidateCredential checks that every field of a credential submission is
// present. Adapters call it before writing.
func ValidateCredential(userID, username, contact, secret string) error {
	switch {
	case strings.TrimSpace(userID) == "":
		return ValidationError("user_id is required")
	case strings.TrimSpace(username) == "":
		return ValidationError("pinterest username is required")
	case strings.TrimSpace(contact) == "":
		return ValidationError("pinterest email is required")
	case secret == "":
		return ValidationError("pinterest password is required")
	}
	return nil
}

package pinterest

import (
	"errors"
	"fmt"
)

// ErrNoSession is returned when a user has no live or persisted session, either
// because Login was never called or Forget dropped it.
var ErrNoSession = errors.New("no pinterest session")

// ErrTooManyPages is returned when the board list does not end within the
// configured page bound.
var ErrTooManyPages = errors.New("board list did not terminate")

// Probe classification reads Unauthorized through an interface.
var _ interface{ Unauthorized() bool } = (*APIError)(nil)

// APIError is a non-2xx response from Pinterest or the auth broker.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("pinterest: status %d", e.StatusCode)
	}
	return fmt.Sprintf("pinterest: %s (status %d)", e.Message, e.StatusCode)
}

// Unauthorized reports whether the provider rejected the session.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

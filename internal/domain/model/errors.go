package model

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is; every *Error unwraps to its kind.
var (
	ErrValidation           = errors.New("validation error")
	ErrNotFound             = errors.New("not found")
	ErrStorageUnavailable   = errors.New("storage unavailable")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrProvider             = errors.New("provider error")
	// ErrPaginationLimit is yielded when a feed exceeds its page or time budget.
	ErrPaginationLimit = errors.New("pagination limit reached")
)

// Error is a classified failure. Kind is one of the sentinels above; Err is
// the underlying cause, if any.
type Error struct {
	Kind    error
	Op      string
	Message string
	Stage   EditStage
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	prefix := e.Kind.Error()
	if e.Op != "" {
		prefix = e.Op + ": " + prefix
	}
	if msg == "" {
		return prefix
	}
	return prefix + ": " + msg
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ValidationError reports invalid caller input.
func ValidationError(format string, args ...any) *Error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing record.
func NotFoundError(format string, args ...any) *Error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

// StorageError wraps a backing-store failure.
func StorageError(op string, err error) *Error {
	return &Error{Kind: ErrStorageUnavailable, Op: op, Err: err}
}

// AuthenticationError reports that both the probe and the re-login failed.
func AuthenticationError(format string, args ...any) *Error {
	return &Error{Kind: ErrAuthenticationFailed, Message: fmt.Sprintf(format, args...)}
}

// ProviderError wraps a failure of the account or compute provider. The
// provider's own message is preserved through err.
func ProviderError(op string, err error) *Error {
	return &Error{Kind: ErrProvider, Op: op, Err: err}
}

// StageError wraps a provider failure during a specific edit stage.
func StageError(stage EditStage, err error) *Error {
	return &Error{Kind: ErrProvider, Op: string(stage), Stage: stage, Err: err}
}

// KindOf returns the sentinel kind of err, or nil if err is unclassified.
func KindOf(err error) error {
	for _, kind := range []error{ErrValidation, ErrNotFound, ErrStorageUnavailable, ErrAuthenticationFailed, ErrProvider, ErrPaginationLimit} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

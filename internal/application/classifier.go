package application

import (
	"context"
	"errors"
	"net"

	"github.com/ericfisherdev/moodlink/internal/domain/model"
)

// ProbeClassifier labels a failed liveness probe. The label is informational:
// the state machine maps every failure to expired regardless.
type ProbeClassifier func(err error) model.ProbeFailure

// UniformClassifier treats every probe failure as an authorization failure.
func UniformClassifier(error) model.ProbeFailure {
	return model.ProbeFailureAuthorization
}

// NetworkAwareClassifier labels timeouts and network errors as transient.
// Provider errors that can tell whether the session was rejected, through an
// Unauthorized method, are labelled by that answer. Anything else is an
// authorization failure.
func NetworkAwareClassifier(err error) model.ProbeFailure {
	var rejection interface{ Unauthorized() bool }
	if errors.As(err, &rejection) {
		if rejection.Unauthorized() {
			return model.ProbeFailureAuthorization
		}
		return model.ProbeFailureTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.ProbeFailureTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return model.ProbeFailureTransient
	}
	return model.ProbeFailureAuthorization
}

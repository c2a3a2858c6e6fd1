package model

// SessionState is the connectivity state of a user's Pinterest link. It is
// computed per request and never stored.
type SessionState string

const (
	SessionDisconnected SessionState = "disconnected"
	SessionExpired      SessionState = "expired"
	SessionConnected    SessionState = "connected"
)

// ProbeFailure labels why a liveness probe failed. Every label maps to
// SessionExpired; the label only feeds logs and metrics.
type ProbeFailure string

const (
	ProbeFailureNone          ProbeFailure = ""
	ProbeFailureAuthorization ProbeFailure = "authorization"
	ProbeFailureTransient     ProbeFailure = "transient"
)

// ProbeResult is the outcome of one liveness probe against the provider.
type ProbeResult struct {
	Valid   bool
	Failure ProbeFailure
	Err     error
}

// State returns the session state the probe result implies.
func (r ProbeResult) State() SessionState {
	if r.Valid {
		return SessionConnected
	}
	return SessionExpired
}

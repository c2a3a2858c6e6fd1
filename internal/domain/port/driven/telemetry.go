package driven

import (
	"time"

	"github.com/ericfisherdev/moodlink/internal/domain/model"
)

// Telemetry receives domain events for metrics. Implementations must be safe
// for concurrent use and must not block.
type Telemetry interface {
	SessionTransition(from, to model.SessionState)
	ProbeCompleted(result model.ProbeResult)
	ReloginCompleted(ok bool)
	EditCompleted(outcome string, stage model.EditStage, elapsed time.Duration)
	ProgressDropped()
}

// NopTelemetry discards every event.
type NopTelemetry struct{}

func (NopTelemetry) SessionTransition(model.SessionState, model.SessionState) {}
func (NopTelemetry) ProbeCompleted(model.ProbeResult)                       {}
func (NopTelemetry) ReloginCompleted(bool)                                  {}
func (NopTelemetry) EditCompleted(string, model.EditStage, time.Duration)   {}
func (NopTelemetry) ProgressDropped()                                       {}

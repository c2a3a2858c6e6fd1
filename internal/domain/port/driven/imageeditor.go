package driven

import (
	"context"

	"github.com/ericfisherdev/moodlink/internal/domain/model"
)

// ImageEditor defines the driven port for the remote compute provider.
type ImageEditor interface {
	// Upload stores data in the provider's object store and returns a public URL.
	Upload(ctx context.Context, data []byte, filename, contentType string) (string, error)

	// Edit submits job and blocks until it reaches a terminal state or ctx is
	// done. onProgress is called in order for every new log line, never after
	// Edit returns; it must not block.
	Edit(ctx context.Context, job model.EditJob, onProgress func(model.ProgressEvent)) (*model.EditOutput, error)
}

// StagingArea persists uploaded input images before they are sent to the
// compute provider.
type StagingArea interface {
	// Put writes data under filename, overwriting any existing object, and
	// returns where it was written.
	Put(ctx context.Context, filename string, data []byte) (string, error)
}

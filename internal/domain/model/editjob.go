package model

import "time"

// ImageSource is the input of an edit job: either inline bytes with a
// filename, or a URL the compute provider can already fetch.
type ImageSource struct {
	Data     []byte
	Filename string
	URL      string
}

// IsInline reports whether the source carries raw bytes that must be staged
// and uploaded before the edit.
func (s ImageSource) IsInline() bool {
	return len(s.Data) > 0
}

// EditOptions are the tunable parameters of an edit job. Zero values select
// the defaults: auto size, png output, no prompt expansion, provider-chosen seed.
type EditOptions struct {
	SizePreset      SizePreset
	OutputFormat    OutputFormat
	PromptExpansion bool
	Seed            *int64
	// MaxWait bounds how long Submit waits for the remote job. Zero uses the
	// orchestrator limit, and larger values are capped at it.
	MaxWait time.Duration
}

// WithDefaults returns a copy with empty fields set to their defaults.
func (o EditOptions) WithDefaults() EditOptions {
	if o.SizePreset == "" {
		o.SizePreset = SizeAuto
	}
	if o.OutputFormat == "" {
		o.OutputFormat = FormatPNG
	}
	return o
}

// EditRequest is a caller's edit submission.
type EditRequest struct {
	Prompt  string
	Source  ImageSource
	Options EditOptions
}

// EditJob is what gets submitted to the compute provider once the input is
// reachable by URL.
type EditJob struct {
	Prompt    string
	ImageURLs []string
	Options   EditOptions
}

// ProgressEvent is one log line pushed by the provider while a job runs.
type ProgressEvent struct {
	Message   string
	Timestamp time.Time
}

// OutputImage describes one generated image.
type OutputImage struct {
	URL         string
	Width       int
	Height      int
	ContentType string
}

// EditOutput is the terminal payload of a successful remote job.
type EditOutput struct {
	Images []OutputImage
	Seed   int64
}

// EditResult is what Submit hands back. On partial success the input was
// staged and uploaded but the edit itself failed; StagedPath tells the caller
// where the local artifact lives.
type EditResult struct {
	Outcome     EditOutcome
	StagedPath  string
	InputURL    string
	Images      []OutputImage
	Seed        int64
	FailedStage EditStage
	Error       string
}

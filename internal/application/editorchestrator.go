package application

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/moodlink/internal/domain/model"
	"github.com/ericfisherdev/moodlink/internal/domain/port/driven"
)

const (
	defaultEditMaxWait    = 5 * time.Minute
	defaultProgressBuffer = 64
)

// EditOrchestrator runs AI edit jobs: it stages inline input, uploads it to
// the compute provider, submits the edit and waits for the terminal result.
// A job whose input was staged and uploaded but whose edit failed is reported
// as a partial success rather than an error.
type EditOrchestrator struct {
	staging   driven.StagingArea
	editor    driven.ImageEditor
	telemetry driven.Telemetry
	clock     clockwork.Clock
	maxWait   time.Duration
	buffer    int
	logger    *slog.Logger
}

// EditOption customizes an EditOrchestrator.
type EditOption func(*EditOrchestrator)

// WithEditTelemetry reports job outcomes to t.
func WithEditTelemetry(t driven.Telemetry) EditOption {
	return func(o *EditOrchestrator) { o.telemetry = t }
}

// WithDefaultMaxWait sets the wait bound used when a request does not carry
// one. It is also the ceiling for requests that do.
func WithDefaultMaxWait(d time.Duration) EditOption {
	return func(o *EditOrchestrator) { o.maxWait = d }
}

// WithProgressBuffer sets how many progress events may queue for logging
// before new ones are dropped.
func WithProgressBuffer(n int) EditOption {
	return func(o *EditOrchestrator) { o.buffer = n }
}

// WithEditClock sets the clock used to time jobs.
func WithEditClock(c clockwork.Clock) EditOption {
	return func(o *EditOrchestrator) { o.clock = c }
}

// NewEditOrchestrator creates an EditOrchestrator with the required dependencies.
func NewEditOrchestrator(staging driven.StagingArea, editor driven.ImageEditor, logger *slog.Logger, opts ...EditOption) *EditOrchestrator {
	o := &EditOrchestrator{
		staging:   staging,
		editor:    editor,
		telemetry: driven.NopTelemetry{},
		clock:     clockwork.NewRealClock(),
		maxWait:   defaultEditMaxWait,
		buffer:    defaultProgressBuffer,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.maxWait <= 0 {
		o.maxWait = defaultEditMaxWait
	}
	if o.buffer <= 0 {
		o.buffer = defaultProgressBuffer
	}
	return o
}

// Submit validates req, then stages, uploads and edits. It blocks until the
// remote job is terminal, the wait bound elapses or ctx is done.
//
// Errors: model.ErrValidation before any I/O, model.ErrStorageUnavailable when
// staging fails, model.ErrProvider (stage upload) when the upload fails and
// model.ErrProvider (stage edit) when the edit of a URL input fails. An edit
// failure after a successful staging + upload returns a partial-success
// result and a nil error.
func (o *EditOrchestrator) Submit(ctx context.Context, req model.EditRequest) (*model.EditResult, error) {
	start := o.clock.Now()

	opts, err := validateEditRequest(req)
	if err != nil {
		o.telemetry.EditCompleted("invalid", model.StageValidate, o.clock.Since(start))
		return nil, err
	}
	prompt := strings.TrimSpace(req.Prompt)

	var stagedPath, inputURL string
	if req.Source.IsInline() {
		data := req.Source.Data
		filename := stagingFilename(req.Source.Filename, data)

		stagedPath, err = o.staging.Put(ctx, filename, data)
		if err != nil {
			o.logger.Error("failed to stage input image", "filename", filename, "error", err)
			o.telemetry.EditCompleted("failed", model.StageStage, o.clock.Since(start))
			return nil, &model.Error{Kind: model.ErrStorageUnavailable, Op: "stage image", Stage: model.StageStage, Err: err}
		}
		o.logger.Info("input image staged", "path", stagedPath, "bytes", len(data))

		inputURL, err = o.editor.Upload(ctx, data, filename, http.DetectContentType(data))
		if err != nil {
			o.logger.Error("failed to upload input image", "path", stagedPath, "error", err)
			o.telemetry.EditCompleted("failed", model.StageUpload, o.clock.Since(start))
			return nil, model.StageError(model.StageUpload, err)
		}
		o.logger.Info("input image uploaded", "url", inputURL)
	} else {
		inputURL = req.Source.URL
		o.logger.Info("using provided image url", "url", inputURL)
	}

	wait := opts.MaxWait
	if wait <= 0 || wait > o.maxWait {
		wait = o.maxWait
	}
	job := model.EditJob{Prompt: prompt, ImageURLs: []string{inputURL}, Options: opts}

	out, err := o.run(ctx, job, wait)
	if err != nil {
		o.logger.Error("edit job failed", "input_url", inputURL, "error", err)
		if stagedPath == "" {
			o.telemetry.EditCompleted("failed", model.StageEdit, o.clock.Since(start))
			return nil, model.StageError(model.StageEdit, err)
		}
		o.telemetry.EditCompleted(string(model.EditPartialSuccess), model.StageEdit, o.clock.Since(start))
		return &model.EditResult{
			Outcome:     model.EditPartialSuccess,
			StagedPath:  stagedPath,
			InputURL:    inputURL,
			FailedStage: model.StageEdit,
			Error:       err.Error(),
		}, nil
	}

	o.logger.Info("edit job completed", "images", len(out.Images), "seed", out.Seed)
	o.telemetry.EditCompleted(string(model.EditSucceeded), "", o.clock.Since(start))

	images := out.Images
	if images == nil {
		images = []model.OutputImage{}
	}
	return &model.EditResult{
		Outcome:    model.EditSucceeded,
		StagedPath: stagedPath,
		InputURL:   inputURL,
		Images:     images,
		Seed:       out.Seed,
	}, nil
}

// run submits job and fans progress events out to a single logging
// goroutine through a bounded buffer. Events that do not fit are dropped so
// the provider never blocks on logging. The drain finishes before run returns.
func (o *EditOrchestrator) run(ctx context.Context, job model.EditJob, wait time.Duration) (*model.EditOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	events := make(chan model.ProgressEvent, o.buffer)
	var g errgroup.Group
	g.Go(func() error {
		for ev := range events {
			o.logger.Info("edit progress", "message", ev.Message)
		}
		return nil
	})

	out, err := o.editor.Edit(ctx, job, func(ev model.ProgressEvent) {
		select {
		case events <- ev:
		default:
			o.telemetry.ProgressDropped()
		}
	})
	close(events)
	_ = g.Wait()

	return out, err
}

func validateEditRequest(req model.EditRequest) (model.EditOptions, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return model.EditOptions{}, model.ValidationError("prompt is required")
	}

	src := req.Source
	if !src.IsInline() {
		if src.URL == "" {
			return model.EditOptions{}, model.ValidationError("image is required")
		}
		u, err := url.Parse(src.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return model.EditOptions{}, model.ValidationError("image url must be an http(s) url")
		}
	}

	opts := req.Options.WithDefaults()
	if !opts.SizePreset.Valid() {
		return model.EditOptions{}, model.ValidationError("unknown image_size %q", opts.SizePreset)
	}
	if !opts.OutputFormat.Valid() {
		return model.EditOptions{}, model.ValidationError("unknown output_format %q", opts.OutputFormat)
	}
	if opts.MaxWait < 0 {
		return model.EditOptions{}, model.ValidationError("max wait must not be negative")
	}
	return opts, nil
}

// stagingFilename reduces name to its base component, or generates one from
// a uuid and the sniffed content type when name is unusable.
func stagingFilename(name string, data []byte) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name != "" && base != "." && base != "/" && base != ".." {
		return base
	}
	return uuid.NewString() + extensionFor(http.DetectContentType(data))
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}

package fal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ericfisherdev/moodlink/internal/domain/model"
)

const (
	statusInQueue    = "IN_QUEUE"
	statusInProgress = "IN_PROGRESS"
	statusCompleted  = "COMPLETED"
)

type arguments struct {
	Prompt                string   `json:"prompt"`
	ImageURLs             []string `json:"image_urls"`
	ImageSize             string   `json:"image_size"`
	OutputFormat          string   `json:"output_format"`
	EnablePromptExpansion bool     `json:"enable_prompt_expansion"`
	Seed                  *int64   `json:"seed,omitempty"`
}

func newArguments(job model.EditJob) arguments {
	opts := job.Options.WithDefaults()
	return arguments{
		Prompt:                job.Prompt,
		ImageURLs:             job.ImageURLs,
		ImageSize:             string(opts.SizePreset),
		OutputFormat:          string(opts.OutputFormat),
		EnablePromptExpansion: opts.PromptExpansion,
		Seed:                  opts.Seed,
	}
}

type submitResponse struct {
	RequestID   string `json:"request_id"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
	CancelURL   string `json:"cancel_url"`
}

type logLine struct {
	Message   string `json:"message"`
	Level     string `json:"level"`
	Timestamp string `json:"timestamp"`
}

func (l logLine) event() model.ProgressEvent {
	ev := model.ProgressEvent{Message: l.Message}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, l.Timestamp); err == nil {
			ev.Timestamp = t.UTC()
			break
		}
	}
	return ev
}

type statusResponse struct {
	Status        string    `json:"status"`
	QueuePosition int       `json:"queue_position"`
	Logs          []logLine `json:"logs"`
	Error         string    `json:"error"`
}

type imageJSON struct {
	URL         string `json:"url"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ContentType string `json:"content_type"`
}

type resultResponse struct {
	Images []imageJSON `json:"images"`
	Seed   int64       `json:"seed"`
}

// APIError is a failure reported by fal. Detail is fal's own message.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("fal: status %d", e.StatusCode)
	}
	return fmt.Sprintf("fal: %s (status %d)", e.Detail, e.StatusCode)
}

// detailOf extracts fal's "detail" field, which is either a string or a list
// of validation errors. Anything else is returned as trimmed text.
func detailOf(raw []byte) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || len(body.Detail) == 0 {
		return strings.TrimSpace(string(raw))
	}

	var s string
	if json.Unmarshal(body.Detail, &s) == nil {
		return s
	}

	var items []struct {
		Msg string `json:"msg"`
		Loc []any  `json:"loc"`
	}
	if json.Unmarshal(body.Detail, &items) == nil && len(items) > 0 {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if len(it.Loc) > 0 {
				msgs = append(msgs, fmt.Sprintf("%v: %s", it.Loc[len(it.Loc)-1], it.Msg))
				continue
			}
			msgs = append(msgs, it.Msg)
		}
		return strings.Join(msgs, "; ")
	}

	var buf bytes.Buffer
	if json.Compact(&buf, body.Detail) == nil {
		return buf.String()
	}
	return string(body.Detail)
}

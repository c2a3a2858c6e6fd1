package httphandler

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ericfisherdev/moodlink/internal/domain/model"
)

// maxWaitSeconds caps max_wait_seconds before it becomes a time.Duration.
// The orchestrator applies its own, usually tighter, limit after that.
const maxWaitSeconds = 3600

// SubmitEdit runs an image edit and blocks until it completes, fails or
// exceeds its wait bound.
func (h *Handler) SubmitEdit(w http.ResponseWriter, r *http.Request) {
	if h.edits == nil {
		writeError(w, http.StatusServiceUnavailable, "image editing is not configured")
		return
	}

	var req EditJobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Image) == "" {
		writeError(w, http.StatusBadRequest, "image is required")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if req.MaxWaitSeconds < 0 || req.MaxWaitSeconds > maxWaitSeconds {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("max_wait_seconds must be between 0 and %d", maxWaitSeconds))
		return
	}

	src, err := imageSource(req.Image, req.Filename)
	if err != nil {
		writeError(w, http.StatusBadRequest, "image must be base64 data or an http(s) url")
		return
	}

	res, err := h.edits.Submit(r.Context(), model.EditRequest{
		Prompt: req.Prompt,
		Source: src,
		Options: model.EditOptions{
			SizePreset:      model.SizePreset(req.ImageSize),
			OutputFormat:    model.OutputFormat(req.OutputFormat),
			PromptExpansion: req.EnablePromptExpansion,
			Seed:            req.Seed,
			MaxWait:         time.Duration(req.MaxWaitSeconds) * time.Second,
		},
	})
	if err != nil {
		h.writeDomainError(w, r, "edit job failed", err)
		return
	}

	writeJSON(w, http.StatusOK, toEditResponse(res))
}

// imageSource interprets image as a URL when it has an http(s) scheme and as
// base64, with an optional data: URL prefix, otherwise.
func imageSource(image, filename string) (model.ImageSource, error) {
	image = strings.TrimSpace(image)
	lower := strings.ToLower(image)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return model.ImageSource{URL: image}, nil
	}

	if strings.HasPrefix(lower, "data:") {
		if _, payload, ok := strings.Cut(image, ","); ok {
			image = payload
		}
	}
	data, err := base64.StdEncoding.DecodeString(image)
	if err != nil {
		return model.ImageSource{}, err
	}
	if len(data) == 0 {
		return model.ImageSource{}, base64.CorruptInputError(0)
	}
	return model.ImageSource{Data: data, Filename: filename}, nil
}

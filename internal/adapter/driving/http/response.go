package httphandler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ericfisherdev/moodlink/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body. Code and Hint are set
// for failures the caller can act on.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Hint  string `json:"hint,omitempty"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// codeFor returns a stable machine-readable code for an error kind.
func codeFor(err error) string {
	switch {
	case errors.Is(err, model.ErrValidation):
		return "validation_error"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrStorageUnavailable):
		return "storage_unavailable"
	case errors.Is(err, model.ErrAuthenticationFailed):
		return "authentication_failed"
	case errors.Is(err, model.ErrProvider):
		return "provider_error"
	case errors.Is(err, model.ErrPaginationLimit):
		return "pagination_limit"
	default:
		return "internal"
	}
}

// publicMessage hides causes of internal failures from callers. Validation,
// not-found and provider messages are passed through.
func publicMessage(err error) string {
	switch {
	case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrProvider),
		errors.Is(err, model.ErrAuthenticationFailed):
		return err.Error()
	case errors.Is(err, model.ErrStorageUnavailable):
		return "storage unavailable"
	default:
		return "internal server error"
	}
}

// --- Request and response shapes ---

// ConnectRequest is the JSON body for POST /connections.
type ConnectRequest struct {
	UserID            string `json:"user_id"`
	PinterestUsername string `json:"pinterest_username"`
	PinterestEmail    string `json:"pinterest_email"`
	PinterestPassword string `json:"pinterest_password"`
}

// ConnectResponse echoes the public fields of the stored record. The email
// and password are never included.
type ConnectResponse struct {
	Status            string `json:"status"`
	UserID            string `json:"user_id"`
	PinterestUsername string `json:"pinterest_username"`
	SessionStatus     string `json:"session_status"`
	Message           string `json:"message"`
}

// StatusResponse is the JSON body for GET /connections/status.
type StatusResponse struct {
	UserID          string `json:"user_id"`
	PinterestStatus string `json:"pinterest_status"`
}

// DisconnectResponse is the JSON body for DELETE /connections.
type DisconnectResponse struct {
	UserID  string `json:"user_id"`
	Deleted bool   `json:"deleted"`
}

// BoardResponse is the JSON representation of a board.
type BoardResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	PinCount     int    `json:"pin_count"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url"`
	Privacy      string `json:"privacy"`
}

// CollectionsResponse is the JSON body for GET /connections/collections.
type CollectionsResponse struct {
	UserID     string          `json:"user_id"`
	BoardCount int             `json:"board_count"`
	Boards     []BoardResponse `json:"boards"`
}

// PinResponse is the JSON representation of a pin.
type PinResponse struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	Link          string `json:"link"`
	ImageURL      string `json:"image_url"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	DominantColor string `json:"dominant_color"`
	CreatedAt     string `json:"created_at"`
}

// ItemsResponse is the JSON body for GET /connections/collections/{id}/items.
// Truncated is set when the feed was cut short by the pagination bound.
type ItemsResponse struct {
	BoardID   string        `json:"board_id"`
	PinCount  int           `json:"pin_count"`
	Pins      []PinResponse `json:"pins"`
	Truncated bool          `json:"truncated"`
}

// EditJobRequest is the JSON body for POST /edit-jobs. Image is base64 data
// (optionally a data: URL) or an http(s) URL.
type EditJobRequest struct {
	Image                 string `json:"image"`
	Prompt                string `json:"prompt"`
	Filename              string `json:"filename"`
	ImageSize             string `json:"image_size"`
	OutputFormat          string `json:"output_format"`
	EnablePromptExpansion bool   `json:"enable_prompt_expansion"`
	Seed                  *int64 `json:"seed"`
	MaxWaitSeconds        int    `json:"max_wait_seconds"`
}

// ImageResponse describes one generated image.
type ImageResponse struct {
	URL         string `json:"url"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ContentType string `json:"content_type"`
}

// EditSuccessResponse is returned when the edit completed.
type EditSuccessResponse struct {
	Status           string          `json:"status"`
	EditedImageURL   string          `json:"edited_image_url"`
	Images           []ImageResponse `json:"images"`
	Seed             int64           `json:"seed"`
	OriginalFilepath string          `json:"original_filepath,omitempty"`
	UploadedImageURL string          `json:"uploaded_image_url,omitempty"`
}

// EditPartialResponse is returned when the input was staged and uploaded but
// the edit failed.
type EditPartialResponse struct {
	Status           string `json:"status"`
	OriginalFilepath string `json:"original_filepath"`
	UploadedImageURL string `json:"uploaded_image_url"`
	FailedStage      string `json:"failed_stage"`
	Error            string `json:"error"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func toBoardResponse(c model.Collection) BoardResponse {
	return BoardResponse{
		ID:           c.ID,
		Name:         c.Name,
		Description:  c.Description,
		PinCount:     c.ItemCount,
		URL:          c.URL,
		ThumbnailURL: c.ThumbnailURL,
		Privacy:      c.Visibility,
	}
}

func toPinResponse(i model.Item) PinResponse {
	return PinResponse{
		ID:            i.ID,
		Title:         i.Title,
		Description:   i.Description,
		Link:          i.Link,
		ImageURL:      i.ImageURL,
		Width:         i.ImageWidth,
		Height:        i.ImageHeight,
		DominantColor: i.DominantColor,
		CreatedAt:     i.CreatedAt,
	}
}

func toEditResponse(res *model.EditResult) any {
	if res.Outcome == model.EditPartialSuccess {
		return EditPartialResponse{
			Status:           string(res.Outcome),
			OriginalFilepath: res.StagedPath,
			UploadedImageURL: res.InputURL,
			FailedStage:      string(res.FailedStage),
			Error:            res.Error,
		}
	}

	images := make([]ImageResponse, 0, len(res.Images))
	for _, img := range res.Images {
		images = append(images, ImageResponse(img))
	}
	edited := ""
	if len(images) > 0 {
		edited = images[0].URL
	}
	return EditSuccessResponse{
		Status:           string(res.Outcome),
		EditedImageURL:   edited,
		Images:           images,
		Seed:             res.Seed,
		OriginalFilepath: res.StagedPath,
		UploadedImageURL: uploadedURL(res),
	}
}

// uploadedURL is only reported for inline inputs; for URL inputs it would
// just echo the request.
func uploadedURL(res *model.EditResult) string {
	if res.StagedPath == "" {
		return ""
	}
	return res.InputURL
}

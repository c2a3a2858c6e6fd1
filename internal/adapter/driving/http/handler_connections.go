package httphandler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ericfisherdev/moodlink/internal/domain/model"
)

const reconnectHint = "Pinterest rejected the stored credentials. Reconnect the account with POST /connections."

// Connect stores a user's Pinterest credentials and attempts a login.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := model.ValidateCredential(req.UserID, req.PinterestUsername, req.PinterestEmail, req.PinterestPassword); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, state, err := h.sessions.Connect(r.Context(), strings.TrimSpace(req.UserID),
		strings.TrimSpace(req.PinterestUsername), strings.TrimSpace(req.PinterestEmail), req.PinterestPassword)
	if err != nil {
		h.writeDomainError(w, r, "failed to connect pinterest account", err)
		return
	}

	message := "Pinterest account connected"
	if state != model.SessionConnected {
		message = "Credentials saved, but the Pinterest login failed"
	}
	writeJSON(w, http.StatusOK, ConnectResponse{
		Status:            "success",
		UserID:            rec.UserID,
		PinterestUsername: rec.Username,
		SessionStatus:     string(state),
		Message:           message,
	})
}

// Disconnect removes a user's stored credentials.
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	deleted, err := h.sessions.Disconnect(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, r, "failed to disconnect pinterest account", err)
		return
	}
	writeJSON(w, http.StatusOK, DisconnectResponse{UserID: userID, Deleted: deleted})
}

// Status probes the user's session and reports its state.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	state, err := h.sessions.Status(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, r, "failed to check pinterest status", err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{UserID: userID, PinterestStatus: string(state)})
}

// ListCollections returns every board of the user's account.
func (h *Handler) ListCollections(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	boards, err := h.sessions.ListCollections(r.Context(), userID)
	if err != nil {
		h.writePinterestError(w, r, "failed to list boards", err)
		return
	}

	resp := make([]BoardResponse, 0, len(boards))
	for _, b := range boards {
		resp = append(resp, toBoardResponse(b))
	}
	writeJSON(w, http.StatusOK, CollectionsResponse{UserID: userID, BoardCount: len(resp), Boards: resp})
}

// ListItems returns the pins of one board. When the feed exceeds the
// pagination bound the pins collected so far are returned with truncated set.
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	boardID := r.PathValue("id")

	pins := []PinResponse{}
	truncated := false
	for item, err := range h.sessions.ListItems(r.Context(), userID, boardID) {
		if errors.Is(err, model.ErrPaginationLimit) {
			truncated = true
			break
		}
		if err != nil {
			h.writePinterestError(w, r, "failed to list pins", err)
			return
		}
		pins = append(pins, toPinResponse(item))
	}

	writeJSON(w, http.StatusOK, ItemsResponse{BoardID: boardID, PinCount: len(pins), Pins: pins, Truncated: truncated})
}

func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return "", false
	}
	return userID, true
}

// writeDomainError logs err and writes the status its kind maps to.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusFor(err)
	if status >= 500 {
		h.logger.ErrorContext(r.Context(), msg, "error", err)
	} else {
		h.logger.InfoContext(r.Context(), msg, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: publicMessage(err), Code: codeFor(err)})
}

// writePinterestError reports authentication and provider failures of a
// listing as 500 with a remediation hint. Other kinds map as usual.
func (h *Handler) writePinterestError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	var hint string
	switch {
	case errors.Is(err, model.ErrAuthenticationFailed):
		hint = reconnectHint
	case errors.Is(err, model.ErrProvider):
		hint = "Pinterest did not answer as expected. Retry later, or reconnect the account if the problem persists."
	default:
		h.writeDomainError(w, r, msg, err)
		return
	}

	h.logger.ErrorContext(r.Context(), msg, "error", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: publicMessage(err), Code: codeFor(err), Hint: hint})
}

package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/campuskit/tutorcore/internal/domain"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// urlParam is a short alias for chi.URLParam.
func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// ownerFromRequest extracts the authenticated owner id. The gateway in front
// of this service resolves the session and forwards the identity.
func ownerFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := r.Header.Get("X-Owner-ID")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "X-Owner-ID header is required")
		return "", false
	}
	return owner, true
}

type errorResponse struct {
	Error string `json:"error"`
	Cause string `json:"cause,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// causeString renders a failure cause for clients. Errors outside the
// generation taxonomy (caller cancellations) map to "canceled".
func causeString(err error) string {
	if c := domain.GenerationCauseOf(err); c != "" {
		return string(c)
	}
	return "canceled"
}

func writeDomainError(w http.ResponseWriter, err error, fallbackMsg string) {
	var ge *domain.GenerationError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, fallbackMsg)
	case errors.Is(err, domain.ErrAccessDenied):
		writeError(w, http.StatusForbidden, "access denied")
	case errors.Is(err, domain.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "message is empty")
	case errors.Is(err, domain.ErrUnknownMode):
		writeError(w, http.StatusBadRequest, "unknown mode")
	case errors.Is(err, domain.ErrValidation):
		msg := strings.TrimSuffix(err.Error(), ": "+domain.ErrValidation.Error())
		writeError(w, http.StatusBadRequest, msg)
	case errors.As(err, &ge):
		writeJSON(w, http.StatusBadGateway, errorResponse{
			Error: "generation failed",
			Cause: string(ge.Cause),
		})
	default:
		slog.Error("unhandled domain error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

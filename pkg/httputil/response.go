package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
	"github.com/platinummonkey/tenancy/pkg/observability"
)

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	_ = WriteJSON(w, status, ErrorResponse{Error: message})
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// StatusFor maps an error kind to an HTTP status code
func StatusFor(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.KindResourceNotFound:
		return http.StatusNotFound
	case apperrors.KindInvalidOperation:
		return http.StatusBadRequest
	case apperrors.KindAccessDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// WriteAppError writes err using its kind. Unknown errors are logged with the
// request logger and replaced by a generic message.
func WriteAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	kind := apperrors.KindOf(err)
	if status == http.StatusInternalServerError {
		observability.FromContext(r.Context()).WithError(err).Error("request failed")
		_ = WriteJSON(w, status, ErrorResponse{Error: "internal server error", Kind: kind.String()})
		return
	}
	_ = WriteJSON(w, status, ErrorResponse{Error: err.Error(), Kind: kind.String()})
}

package common

import (
	"encoding/json"
	"net/http"
)

// Response status values used in every JSON envelope.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ErrorBody represents a consistent error payload returned by the API.
type ErrorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Errors  any    `json:"errors,omitempty"`
}

// JSON writes the provided value to the response writer as JSON.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// JSONError renders an error response using the canonical error shape.
func JSONError(w http.ResponseWriter, status int, message string, details any) {
	JSON(w, status, ErrorBody{
		Status:  StatusError,
		Message: message,
		Errors:  details,
	})
}

// WriteError renders err, falling back to a 500 for anything that is not an AppError.
func WriteError(w http.ResponseWriter, err error) {
	appErr := AsAppError(err)
	if appErr == nil {
		JSONError(w, http.StatusInternalServerError, "unknown error", nil)
		return
	}
	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	message := appErr.Message
	if message == "" {
		message = http.StatusText(status)
	}
	JSONError(w, status, message, appErr.Details)
}

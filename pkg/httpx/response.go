package httpx

import (
	"encoding/json"
	"log"
	"net/http"
)

// Error codes carried in JSON error bodies so callers can tell a filter
// problem (400-class) from a backing-store failure (500-class) without
// string matching.
const (
	CodeInvalidFilter = "invalid_filter"
	CodeStoreError    = "store_error"
	CodeNotFound      = "not_found"
	CodeBadRequest    = "bad_request"
	CodeInternal      = "internal_error"
)

// RespondJSON writes a JSON response with the given status code and data.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Failed to encode JSON response: %v", err)
	}
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// RespondError writes an error response with the given status code and error.
func RespondError(w http.ResponseWriter, status int, code string, err error) {
	response := ErrorResponse{
		Error:   http.StatusText(status),
		Code:    code,
		Message: err.Error(),
	}
	RespondJSON(w, status, response)
}

// RespondErrorString writes an error response with the given status code and message string.
func RespondErrorString(w http.ResponseWriter, status int, code, message string) {
	response := ErrorResponse{
		Error:   http.StatusText(status),
		Code:    code,
		Message: message,
	}
	RespondJSON(w, status, response)
}

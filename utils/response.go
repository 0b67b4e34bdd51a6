package utils

import (
	"encoding/json"
	"net/http"
)

type ErrorResponse struct {
	Error   ErrorKind `json:"error"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	json.NewEncoder(w).Encode(v)
}

// WriteError maps err onto the taxonomy. Anything that is not an APIError is
// reported as an internal error without its text.
func WriteError(w http.ResponseWriter, err error) {
	apiErr := AsAPIError(err)
	WriteJSON(w, apiErr.Code, ErrorResponse{
		Error:   apiErr.Kind,
		Message: apiErr.Message,
		Details: apiErr.Details,
	})
}

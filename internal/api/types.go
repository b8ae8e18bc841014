package api

import (
	"encoding/json"
	"errors"
	"net/http"
)

var (
	ErrInvalidPractitionerID = errors.New("practitioner id must be a valid UUID")
	ErrUnauthorized          = errors.New("missing or invalid bearer token")
	ErrForbidden             = errors.New("not allowed to view this practitioner")
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

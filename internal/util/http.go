package util

import (
	"encoding/json"
	"net/http"
)

type APIError struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	RequestID  string `json:"request_id,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func WriteError(w http.ResponseWriter, status int, msg, reqID string) {
	WriteJSON(w, status, APIError{Message: msg, RequestID: reqID})
}

// WriteErr maps err to its attached status. Messages of 5xx errors are not exposed.
func WriteErr(w http.ResponseWriter, err error, reqID string) {
	status := StatusOf(err)
	msg := MessageOf(err)
	if status >= http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	WriteError(w, status, msg, reqID)
}

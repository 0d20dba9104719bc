package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
)

type errorBody struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

type probeStatus struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// respond encodes v before touching the header so an encoding failure can still become a 500.
func respond(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"response encoding failed","code":500}`)
	}
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respond(w, status, errorBody{Error: message, Code: status})
}

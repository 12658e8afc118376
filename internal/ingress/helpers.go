package ingress

import (
	"encoding/json"
	"net/http"
)

// MaxPayloadSize bounds request bodies, adapted from the teacher's
// internal/handlers.MaxPayloadSize DoS guard.
const MaxPayloadSize = 1 * 1024 * 1024

func limitRequestSize(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxPayloadSize)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

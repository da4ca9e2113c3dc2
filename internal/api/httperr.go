package api

import (
	"encoding/json"
	"net/http"

	"github.com/huebridged/bridge/internal/huerr"
)

// writeError writes a Hue-style JSON error body. The legacy v1-shaped
// `[{"error": {...}}]` envelope is reserved for /api; REST v2 handlers
// use a flatter body since no Hue v2 client inspects the error shape
// beyond the HTTP status code.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// statusForKind maps a huerr.Kind to the HTTP status clients expect.
func statusForKind(kind huerr.Kind) int {
	switch kind {
	case huerr.NotFound:
		return http.StatusNotFound
	case huerr.ReferenceViolation, huerr.MalformedFrame:
		return http.StatusBadRequest
	case huerr.Unauthorized:
		return http.StatusUnauthorized
	case huerr.Conflict:
		return http.StatusConflict
	case huerr.Unavailable:
		return http.StatusServiceUnavailable
	case huerr.Timeout:
		return http.StatusGatewayTimeout
	case huerr.StreamOverrun:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// writeHuerr writes the HTTP response matching err's huerr.Kind, falling
// back to 500 for an error with no kind tag.
func writeHuerr(w http.ResponseWriter, err error) {
	kind := huerr.Internal
	var tagged *huerr.Error
	if e, ok := err.(*huerr.Error); ok {
		tagged = e
		kind = e.Kind
	}
	msg := err.Error()
	if tagged != nil {
		msg = tagged.Message
	}
	writeError(w, statusForKind(kind), msg)
}

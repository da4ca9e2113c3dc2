package api

import (
	"encoding/json"
	"net/http"

	"github.com/huebridged/bridge/internal/huerr"
)

type pairRequest struct {
	DeviceType        string `json:"devicetype"`
	GenerateClientKey bool   `json:"generateclientkey"`
}

type pairSuccess struct {
	Username  string `json:"username"`
	ClientKey string `json:"clientkey,omitempty"`
}

type pairResponseItem struct {
	Success *pairSuccess `json:"success,omitempty"`
	Error   *pairError   `json:"error,omitempty"`
}

type pairError struct {
	Type        int    `json:"type"`
	Address     string `json:"address"`
	Description string `json:"description"`
}

// handlePair implements the legacy POST /api pairing call: it succeeds
// only while the link-button window is open, minting a
// new application key and, if requested, a client key for entertainment
// streaming.
func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeHuerr(w, huerr.Wrap(huerr.MalformedFrame, "invalid pairing request body", err))
		return
	}

	if !s.linkButton.IsOpen() {
		writePairError(w, http.StatusOK, "link button not pressed")
		return
	}

	pc, err := s.clients.Pair(req.DeviceType)
	if err != nil {
		writeHuerr(w, err)
		return
	}

	success := &pairSuccess{Username: pc.AppKey}
	if req.GenerateClientKey {
		success.ClientKey = pc.ClientKey
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode([]pairResponseItem{{Success: success}})
}

// writePairError writes the legacy v1 error envelope
// `[{"error": {...}}]`; the real bridge responds 200 OK with an error
// item inside the array rather than a non-2xx status for this endpoint.
func writePairError(w http.ResponseWriter, status int, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode([]pairResponseItem{{
		Error: &pairError{Type: 101, Address: "/api", Description: description},
	}})
}

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	v2 "github.com/huebridged/bridge/internal/codec/v2"
	"github.com/huebridged/bridge/internal/graph"
)

const sseKeepalive = 30 * time.Second

// handleEventStream serves GET /eventstream/clip/v2 with the framing
// real bridges use: an ": hi" comment greeting, then one
// "data: ...\n\n" frame per coalesced change-log record, with a
// keepalive comment every 30 s of silence.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub, err := s.changes.Subscribe(parseLastEventID(r.Header.Get("Last-Event-ID")))
	if err != nil {
		writeHuerr(w, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, ": hi\n\n")
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case rec, ok := <-sub.Records:
			if !ok {
				return
			}
			if rec.Kind == graph.ChangeOverrun {
				fmt.Fprint(w, "event: overrun\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			env, err := v2.MarshalEnvelope(time.Now().UTC().Format(time.RFC3339), rec)
			if err != nil {
				s.log.Warn().Err(err).Msg("failed to marshal change record for SSE")
				continue
			}
			fmt.Fprintf(w, "id: %d\ndata: %s\n\n", rec.Seq, env)
			flusher.Flush()
			keepalive.Reset(sseKeepalive)
		}
	}
}

// parseLastEventID parses the SSE resume header a reconnecting client
// sends back (the previous connection's last-seen "id:" field). An
// absent or malformed header resumes from the tail, same as a client
// connecting for the first time.
func parseLastEventID(v string) uint64 {
	if v == "" {
		return 0
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

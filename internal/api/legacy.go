// Legacy v1-shaped read surface. The bridge does not carry a full v1
// API, but several v1-era clients still probe GET /api/{username}/lights before
// falling back to v2; this file projects graph.Light onto huego's
// well-known v1 State/Light wire shapes (github.com/amimof/huego) so
// those clients get a response they can parse, without reimplementing
// the rest of the v1 surface.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/amimof/huego"

	"github.com/huebridged/bridge/internal/graph"
)

func v1State(l *graph.Light) *huego.State {
	return &huego.State{
		On:        l.On,
		Bri:       uint8(l.Brightness * 254 / 100),
		Effect:    string(l.Effect),
		Xy:        []float32{float32(l.ColorXY.X), float32(l.ColorXY.Y)},
		Ct:        l.ColorTempMirek,
		ColorMode: string(l.ColorMode),
		Reachable: true,
	}
}

func v1Light(h graph.Handle, l *graph.Light) *huego.Light {
	return &huego.Light{
		Name:  l.Name,
		Type:  "Extended color light",
		State: v1State(l),
	}
}

// handleLegacyLights implements GET /api/{username}/lights: every light
// in the graph keyed by its handle ID, v1-shaped.
func (s *Server) handleLegacyLights(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]*huego.Light)
	for _, res := range s.store.List(graph.TypeLight) {
		l, ok := res.Payload.(*graph.Light)
		if !ok {
			continue
		}
		out[res.Handle.ID.String()] = v1Light(res.Handle, l)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// handleLegacyLight implements GET /api/{username}/lights/{id}.
func (s *Server) handleLegacyLight(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	for _, res := range s.store.List(graph.TypeLight) {
		if res.Handle.ID.String() != id {
			continue
		}
		l, ok := res.Payload.(*graph.Light)
		if !ok {
			break
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v1Light(res.Handle, l))
		return
	}
	writeError(w, http.StatusNotFound, "light not found")
}

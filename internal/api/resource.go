package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"

	v2 "github.com/huebridged/bridge/internal/codec/v2"
	"github.com/huebridged/bridge/internal/graph"
	"github.com/huebridged/bridge/internal/huerr"
	"github.com/huebridged/bridge/internal/reconciler"
)

type listEnvelope struct {
	Errors []string          `json:"errors"`
	Data   []json.RawMessage `json:"data"`
}

func (s *Server) handleListAll(w http.ResponseWriter, r *http.Request) {
	_, resources := s.store.Snapshot()
	s.writeList(w, resources)
}

func (s *Server) handleListByType(w http.ResponseWriter, r *http.Request) {
	rtype := graph.ResourceType(r.PathValue("rtype"))
	if !graph.ValidType(rtype) {
		writeError(w, http.StatusNotFound, "unknown resource type")
		return
	}
	s.writeList(w, s.store.List(rtype))
}

func (s *Server) writeList(w http.ResponseWriter, resources []graph.Resource) {
	docs := make([]json.RawMessage, 0, len(resources))
	for _, r := range resources {
		doc, err := v2.MarshalResource(r)
		if err != nil {
			s.log.Warn().Err(err).Str("handle", r.Handle.String()).Msg("failed to marshal resource")
			continue
		}
		docs = append(docs, doc)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(listEnvelope{Errors: []string{}, Data: docs})
}

func (s *Server) parseHandle(r *http.Request) (graph.Handle, bool) {
	rtype := graph.ResourceType(r.PathValue("rtype"))
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil || !graph.ValidType(rtype) {
		return graph.Handle{}, false
	}
	return graph.Handle{Type: rtype, ID: id}, true
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	h, ok := s.parseHandle(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown resource type or malformed id")
		return
	}
	res, found := s.store.Get(h)
	if !found {
		writeHuerr(w, huerr.New(huerr.NotFound, "resource not found"))
		return
	}
	s.writeList(w, []graph.Resource{res})
}

// handlePut implements PUT /clip/v2/resource/{rtype}/{id}. A light PUT
// never writes the graph directly: it is translated into a
// reconciler.LightIntent and routed to the owning gateway session,
// whose applied device-state echo is what ultimately commits the
// change. Every other resource type's PUT is a direct graph upsert; for
// a device that is a rename, which is not sent upstream.
func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	h, ok := s.parseHandle(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown resource type or malformed id")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeHuerr(w, huerr.Wrap(huerr.MalformedFrame, "failed to read request body", err))
		return
	}
	defer r.Body.Close()

	if h.Type == graph.TypeLight {
		s.handlePutLight(w, r, h, body)
		return
	}
	if h.Type == graph.TypeEntertainmentConfig {
		if action, present, err := v2.DecodeEntertainmentAction(body); err != nil {
			writeHuerr(w, err)
			return
		} else if present {
			s.handleEntertainmentAction(w, h, action)
			return
		}
	}
	if h.Type == graph.TypeScene {
		if action, present, err := v2.DecodeSceneRecall(body); err != nil {
			writeHuerr(w, err)
			return
		} else if present {
			s.handleSceneRecall(w, r, h, action)
			return
		}
	}
	s.handlePutMetadata(w, h, body)
}

// handleSceneRecall plays a scene's captured light states back through
// the intent path, one routed command per captured light. Like a light
// PUT, recall never writes the graph directly; each light's state lands
// when its gateway echoes the applied change.
func (s *Server) handleSceneRecall(w http.ResponseWriter, r *http.Request, h graph.Handle, action string) {
	if action != "active" {
		writeError(w, http.StatusBadRequest, "recall action must be active")
		return
	}

	res, found := s.store.Get(h)
	if !found {
		writeHuerr(w, huerr.New(huerr.NotFound, "resource not found"))
		return
	}
	scene, ok := res.Payload.(*graph.Scene)
	if !ok {
		writeError(w, http.StatusBadRequest, "resource is not a scene")
		return
	}

	for light, capture := range scene.Captures {
		on := capture.On
		intent := reconciler.LightIntent{On: &on}
		if capture.Brightness >= 1 {
			b := capture.Brightness
			intent.Brightness = &b
		}
		if capture.ColorMode == graph.ColorModeTemperature {
			m := capture.ColorTempMirek
			intent.ColorMirek = &m
		} else {
			xy := capture.ColorXY
			intent.ColorXY = &xy
		}
		if capture.Effect != "" && capture.Effect != graph.EffectNone {
			e := capture.Effect
			intent.Effect = &e
		}
		if err := s.router.RouteLightIntent(r.Context(), light, intent); err != nil {
			writeHuerr(w, err)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(listEnvelope{Errors: []string{}, Data: []json.RawMessage{[]byte(`{"rid":"` + h.ID.String() + `","rtype":"` + string(h.Type) + `"}`)}})
}

// handleEntertainmentAction toggles an entertainment_configuration's
// Active flag in response to a {"action":"start"|"stop"} PUT body,
// the way the real v2 API exposes "status" as a start/stop action
// rather than a raw write.
func (s *Server) handleEntertainmentAction(w http.ResponseWriter, h graph.Handle, action string) {
	current, found := s.store.Get(h)
	if !found {
		writeHuerr(w, huerr.New(huerr.NotFound, "resource not found"))
		return
	}
	cfg, ok := current.Payload.(*graph.EntertainmentConfiguration)
	if !ok {
		writeError(w, http.StatusBadRequest, "resource is not an entertainment configuration")
		return
	}

	next := *cfg
	switch action {
	case "start":
		next.Active = true
	case "stop":
		next.Active = false
	default:
		writeError(w, http.StatusBadRequest, "action must be start or stop")
		return
	}

	if _, err := s.store.Upsert(h, &next); err != nil {
		writeHuerr(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(listEnvelope{Errors: []string{}, Data: []json.RawMessage{[]byte(`{"rid":"` + h.ID.String() + `","rtype":"` + string(h.Type) + `"}`)}})
}

func (s *Server) handlePutLight(w http.ResponseWriter, r *http.Request, h graph.Handle, body []byte) {
	fields, err := v2.DecodeLightPatchFields(body)
	if err != nil {
		writeHuerr(w, err)
		return
	}

	intent := reconciler.LightIntent{
		On:         fields.On,
		Brightness: fields.Brightness,
		ColorXY:    fields.ColorXY,
		ColorMirek: fields.ColorMirek,
		Effect:     fields.Effect,
	}

	if err := s.router.RouteLightIntent(r.Context(), h, intent); err != nil {
		writeHuerr(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(listEnvelope{Errors: []string{}, Data: []json.RawMessage{[]byte(`{"rid":"` + h.ID.String() + `","rtype":"` + string(h.Type) + `"}`)}})
}

// handlePost implements POST /clip/v2/resource/{rtype}: the
// client-authored creation path for the resource kinds that have no
// upstream device behind them: scene, room, zone, entertainment
// configuration. The new resource's id has no upstream signature to
// derive from, so it gets a fresh graph.NewRandomHandle instead of
// graph.NewHandle.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	rtype := graph.ResourceType(r.PathValue("rtype"))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeHuerr(w, huerr.Wrap(huerr.MalformedFrame, "failed to read request body", err))
		return
	}
	defer r.Body.Close()

	var payload graph.Payload
	switch rtype {
	case graph.TypeRoom:
		payload, err = v2.DecodeNewRoom(body)
	case graph.TypeZone:
		payload, err = v2.DecodeNewZone(body)
	case graph.TypeScene:
		payload, err = v2.DecodeNewScene(body)
	case graph.TypeEntertainmentConfig:
		payload, err = v2.DecodeNewEntertainmentConfiguration(body)
	default:
		writeError(w, http.StatusBadRequest, "resource type does not support client-driven creation")
		return
	}
	if err != nil {
		writeHuerr(w, err)
		return
	}

	h := graph.NewRandomHandle(rtype)
	if _, err := s.store.Upsert(h, payload); err != nil {
		writeHuerr(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(listEnvelope{Errors: []string{}, Data: []json.RawMessage{[]byte(`{"rid":"` + h.ID.String() + `","rtype":"` + string(h.Type) + `"}`)}})
}

// handleDelete implements DELETE /clip/v2/resource/{rtype}/{id}.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	h, ok := s.parseHandle(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown resource type or malformed id")
		return
	}
	if _, found := s.store.Get(h); !found {
		writeHuerr(w, huerr.New(huerr.NotFound, "resource not found"))
		return
	}
	if _, err := s.store.Delete(h); err != nil {
		writeHuerr(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(listEnvelope{Errors: []string{}, Data: []json.RawMessage{[]byte(`{"rid":"` + h.ID.String() + `","rtype":"` + string(h.Type) + `"}`)}})
}

func (s *Server) handlePutMetadata(w http.ResponseWriter, h graph.Handle, body []byte) {
	name, present, err := v2.DecodeMetadataName(body)
	if err != nil {
		writeHuerr(w, err)
		return
	}
	if !present {
		writeError(w, http.StatusBadRequest, "PUT body carries no recognized field for this resource type")
		return
	}

	current, found := s.store.Get(h)
	if !found {
		writeHuerr(w, huerr.New(huerr.NotFound, "resource not found"))
		return
	}

	renamed, ok := withName(current.Payload, name)
	if !ok {
		writeError(w, http.StatusBadRequest, "resource type does not support renaming")
		return
	}

	if _, err := s.store.Upsert(h, renamed); err != nil {
		writeHuerr(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(listEnvelope{Errors: []string{}, Data: []json.RawMessage{[]byte(`{"rid":"` + h.ID.String() + `","rtype":"` + string(h.Type) + `"}`)}})
}

// withName returns a copy of p with its Name field set to name, for the
// resource kinds that carry one.
func withName(p graph.Payload, name string) (graph.Payload, bool) {
	switch v := p.(type) {
	case *graph.Room:
		next := *v
		next.Name = name
		return &next, true
	case *graph.Zone:
		next := *v
		next.Name = name
		return &next, true
	case *graph.Group:
		next := *v
		next.Name = name
		return &next, true
	case *graph.Scene:
		next := *v
		next.Name = name
		return &next, true
	case *graph.EntertainmentConfiguration:
		next := *v
		next.Name = name
		return &next, true
	case *graph.Device:
		next := *v
		next.Name = name
		return &next, true
	default:
		return nil, false
	}
}

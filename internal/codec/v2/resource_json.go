// Package v2 implements the mechanical JSON projection of the resource
// graph that backs the Hue v2 REST surface (`/clip/v2/resource/...`) and
// the SSE change feed. It is a pure, total codec: no I/O, no graph
// mutation: callers hand it a graph.Resource to marshal, or a PUT body
// to merge-patch onto a graph.Light before the caller commits it.
//
// Field shapes follow the real bridge's wire format (on.on,
// dimming.brightness, color_temperature.mirek, color.xy) so clients
// written against genuine hardware work unchanged.
package v2

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/huebridged/bridge/internal/graph"
	"github.com/huebridged/bridge/internal/huerr"
)

type rid struct {
	RID   string `json:"rid"`
	RType string `json:"rtype"`
}

func toRID(h graph.Handle) rid {
	return rid{RID: h.ID.String(), RType: string(h.Type)}
}

type onBody struct {
	On bool `json:"on"`
}

type dimmingBody struct {
	Brightness float64 `json:"brightness"`
}

type colorTemperatureBody struct {
	Mirek      int  `json:"mirek"`
	MirekValid bool `json:"mirek_valid"`
}

type xyBody struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type colorBody struct {
	XY xyBody `json:"xy"`
}

type gradientPointBody struct {
	Color colorBody `json:"color"`
}

type gradientBody struct {
	Points []gradientPointBody `json:"points"`
}

type effectsBody struct {
	Effect string `json:"effect"`
}

// lightDoc is the wire shape of a `light` resource.
type lightDoc struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Owner    rid    `json:"owner"`
	Metadata struct {
		Name string `json:"name"`
	} `json:"metadata"`
	On               *onBody               `json:"on,omitempty"`
	Dimming          *dimmingBody          `json:"dimming,omitempty"`
	ColorTemperature *colorTemperatureBody `json:"color_temperature,omitempty"`
	Color            *colorBody            `json:"color,omitempty"`
	Gradient         *gradientBody         `json:"gradient,omitempty"`
	Effects          *effectsBody          `json:"effects,omitempty"`
}

// genericDoc is the fallback wire shape for resource types that carry no
// device-control state, just identity and a name where one exists.
type genericDoc struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Metadata *struct {
		Name string `json:"name"`
	} `json:"metadata,omitempty"`
	Children []rid `json:"children,omitempty"`
}

// MarshalResource projects a graph.Resource into its v2 JSON document.
func MarshalResource(r graph.Resource) (json.RawMessage, error) {
	switch p := r.Payload.(type) {
	case *graph.Light:
		return marshalLight(r.Handle, p)
	case *graph.Room:
		return marshalNamedWithChildren(r.Handle, p.Name, p.Children)
	case *graph.Zone:
		return marshalNamedWithChildren(r.Handle, p.Name, p.Children)
	case *graph.Group:
		return marshalNamedWithChildren(r.Handle, p.Name, p.Lights)
	case *graph.Device:
		return marshalNamedWithChildren(r.Handle, p.Name, p.Services)
	case *graph.BridgeHome:
		return marshalNamedWithChildren(r.Handle, "", p.Children)
	case *graph.EntertainmentConfiguration:
		return marshalEntertainmentConfig(r.Handle, p)
	case *graph.Bridge:
		doc := genericDoc{Type: string(r.Handle.Type), ID: r.Handle.ID.String()}
		doc.Metadata = &struct {
			Name string `json:"name"`
		}{Name: p.Name}
		return json.Marshal(doc)
	default:
		doc := genericDoc{Type: string(r.Handle.Type), ID: r.Handle.ID.String()}
		return json.Marshal(doc)
	}
}

func marshalNamedWithChildren(h graph.Handle, name string, children []graph.Handle) (json.RawMessage, error) {
	doc := genericDoc{Type: string(h.Type), ID: h.ID.String()}
	if name != "" {
		doc.Metadata = &struct {
			Name string `json:"name"`
		}{Name: name}
	}
	doc.Children = make([]rid, len(children))
	for i, c := range children {
		doc.Children[i] = toRID(c)
	}
	return json.Marshal(doc)
}

// entertainmentConfigDoc is the wire shape of an `entertainment_configuration`
// resource: a name, the active/inactive status a streaming session
// toggles, and its member lights.
type entertainmentConfigDoc struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Metadata struct {
		Name string `json:"name"`
	} `json:"metadata"`
	Status        string `json:"status"`
	LightServices []rid  `json:"light_services"`
}

func marshalEntertainmentConfig(h graph.Handle, e *graph.EntertainmentConfiguration) (json.RawMessage, error) {
	doc := entertainmentConfigDoc{Type: string(h.Type), ID: h.ID.String()}
	doc.Metadata.Name = e.Name
	if e.Active {
		doc.Status = "active"
	} else {
		doc.Status = "inactive"
	}
	doc.LightServices = make([]rid, len(e.Members))
	for i, m := range e.Members {
		doc.LightServices[i] = toRID(m.Light)
	}
	return json.Marshal(doc)
}

// entertainmentActionBody is the wire shape of a start/stop PUT body on
// an entertainment_configuration.
type entertainmentActionBody struct {
	Action *string `json:"action,omitempty"`
}

// DecodeEntertainmentAction decodes a PUT body's action field ("start"
// or "stop"), if present.
func DecodeEntertainmentAction(body []byte) (action string, present bool, err error) {
	var patch entertainmentActionBody
	if err := json.Unmarshal(body, &patch); err != nil {
		return "", false, huerr.Wrap(huerr.MalformedFrame, "invalid PUT body", err)
	}
	if patch.Action == nil {
		return "", false, nil
	}
	return *patch.Action, true, nil
}

func marshalLight(h graph.Handle, l *graph.Light) (json.RawMessage, error) {
	doc := lightDoc{Type: string(h.Type), ID: h.ID.String(), Owner: toRID(l.Owner)}
	doc.Metadata.Name = l.Name
	doc.On = &onBody{On: l.On}
	doc.Dimming = &dimmingBody{Brightness: l.Brightness}
	doc.ColorTemperature = &colorTemperatureBody{
		Mirek:      int(l.ColorTempMirek),
		MirekValid: l.ColorMode == graph.ColorModeTemperature,
	}
	doc.Color = &colorBody{XY: xyBody{X: l.ColorXY.X, Y: l.ColorXY.Y}}
	if l.Gradient != nil {
		pts := make([]gradientPointBody, len(l.Gradient.Points))
		for i, p := range l.Gradient.Points {
			pts[i] = gradientPointBody{Color: colorBody{XY: xyBody{X: p.Color.X, Y: p.Color.Y}}}
		}
		doc.Gradient = &gradientBody{Points: pts}
	}
	if l.Effect != "" {
		doc.Effects = &effectsBody{Effect: string(l.Effect)}
	}
	return json.Marshal(doc)
}

// lightPatch mirrors lightDoc but every field is optional, used to decode
// a PUT body and apply only the keys present in it.
type lightPatch struct {
	On               *onBody               `json:"on,omitempty"`
	Dimming          *dimmingBody          `json:"dimming,omitempty"`
	ColorTemperature *colorTemperatureBody `json:"color_temperature,omitempty"`
	Color            *colorBody            `json:"color,omitempty"`
	Gradient         *gradientBody         `json:"gradient,omitempty"`
	Effects          *effectsBody          `json:"effects,omitempty"`
}

// MergePatchLight applies a PUT body's present fields onto current,
// leaving every field the body omits untouched. It returns a new
// *graph.Light; current is not mutated.
func MergePatchLight(current *graph.Light, body []byte) (*graph.Light, error) {
	var patch lightPatch
	if err := json.Unmarshal(body, &patch); err != nil {
		return nil, huerr.Wrap(huerr.MalformedFrame, "invalid light PUT body", err)
	}

	next := *current
	if current.Gradient != nil {
		g := *current.Gradient
		next.Gradient = &g
	}

	if patch.On != nil {
		next.On = patch.On.On
	}
	if patch.Dimming != nil {
		if patch.Dimming.Brightness < 1 || patch.Dimming.Brightness > 100 {
			return nil, huerr.New(huerr.ReferenceViolation, "dimming.brightness out of range [1,100]")
		}
		next.Brightness = patch.Dimming.Brightness
	}
	if patch.ColorTemperature != nil {
		next.ColorMode = graph.ColorModeTemperature
		next.ColorTempMirek = uint16(patch.ColorTemperature.Mirek)
	}
	if patch.Color != nil {
		next.ColorMode = graph.ColorModeXY
		next.ColorXY = graph.XY{X: patch.Color.XY.X, Y: patch.Color.XY.Y}
	}
	if patch.Gradient != nil {
		pts := make([]graph.GradientPoint, len(patch.Gradient.Points))
		for i, p := range patch.Gradient.Points {
			pts[i] = graph.GradientPoint{Color: graph.XY{X: p.Color.XY.X, Y: p.Color.XY.Y}}
		}
		segCap := 0
		if next.Gradient != nil {
			segCap = next.Gradient.SegmentCap
		}
		next.Gradient = &graph.Gradient{Points: pts, SegmentCap: segCap}
	}
	if patch.Effects != nil {
		next.Effect = graph.Effect(patch.Effects.Effect)
	}

	if err := next.Validate(); err != nil {
		return nil, err
	}
	return &next, nil
}

// LightPatchFields is the decoded, typed form of a light PUT body's
// present fields, for callers that need to act on a patch without
// applying it directly to a Light, namely the API layer, which
// translates a PUT into an upstream intent rather than writing the
// graph itself.
type LightPatchFields struct {
	On         *bool
	Brightness *float64
	ColorXY    *graph.XY
	ColorMirek *uint16
	Effect     *graph.Effect
}

// DecodeLightPatchFields decodes a light PUT body into the subset of
// fields it specifies, without needing a current Light to merge against.
func DecodeLightPatchFields(body []byte) (LightPatchFields, error) {
	var patch lightPatch
	if err := json.Unmarshal(body, &patch); err != nil {
		return LightPatchFields{}, huerr.Wrap(huerr.MalformedFrame, "invalid light PUT body", err)
	}

	var out LightPatchFields
	if patch.On != nil {
		v := patch.On.On
		out.On = &v
	}
	if patch.Dimming != nil {
		if patch.Dimming.Brightness < 1 || patch.Dimming.Brightness > 100 {
			return LightPatchFields{}, huerr.New(huerr.ReferenceViolation, "dimming.brightness out of range [1,100]")
		}
		v := patch.Dimming.Brightness
		out.Brightness = &v
	}
	if patch.ColorTemperature != nil {
		v := uint16(patch.ColorTemperature.Mirek)
		out.ColorMirek = &v
	}
	if patch.Color != nil {
		out.ColorXY = &graph.XY{X: patch.Color.XY.X, Y: patch.Color.XY.Y}
	}
	if patch.Effects != nil {
		e := graph.Effect(patch.Effects.Effect)
		out.Effect = &e
	}
	return out, nil
}

// ridToHandle resolves a wire rid back to a graph.Handle, the inverse of
// toRID, used when decoding the children/members of a POST body.
func ridToHandle(r rid) (graph.Handle, error) {
	id, err := uuid.Parse(r.RID)
	if err != nil {
		return graph.Handle{}, huerr.Wrap(huerr.MalformedFrame, "invalid rid", err)
	}
	rtype := graph.ResourceType(r.RType)
	if !graph.ValidType(rtype) {
		return graph.Handle{}, huerr.New(huerr.MalformedFrame, "unknown rtype in rid")
	}
	return graph.Handle{Type: rtype, ID: id}, nil
}

func ridsToHandles(rs []rid) ([]graph.Handle, error) {
	out := make([]graph.Handle, len(rs))
	for i, r := range rs {
		h, err := ridToHandle(r)
		if err != nil {
			return nil, err
		}
		out[i] = h
	}
	return out, nil
}

// createDoc is the wire shape of a POST /clip/v2/resource/{rtype} body
// for the resource kinds whose creation is a flat metadata+children
// structure (room, zone, entertainment_configuration); scene creation is
// decoded separately since its body names a group and per-light actions
// instead of a flat children list.
type createDoc struct {
	Metadata struct {
		Name      string `json:"name"`
		Archetype string `json:"archetype,omitempty"`
	} `json:"metadata"`
	Children      []rid `json:"children,omitempty"`
	LightServices []rid `json:"light_services,omitempty"`
}

// DecodeNewRoom decodes a POST body into a new graph.Room.
func DecodeNewRoom(body []byte) (*graph.Room, error) {
	var doc createDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, huerr.Wrap(huerr.MalformedFrame, "invalid room POST body", err)
	}
	children, err := ridsToHandles(doc.Children)
	if err != nil {
		return nil, err
	}
	return &graph.Room{Name: doc.Metadata.Name, Archetype: doc.Metadata.Archetype, Children: children}, nil
}

// DecodeNewZone decodes a POST body into a new graph.Zone.
func DecodeNewZone(body []byte) (*graph.Zone, error) {
	var doc createDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, huerr.Wrap(huerr.MalformedFrame, "invalid zone POST body", err)
	}
	children, err := ridsToHandles(doc.Children)
	if err != nil {
		return nil, err
	}
	return &graph.Zone{Name: doc.Metadata.Name, Archetype: doc.Metadata.Archetype, Children: children}, nil
}

// DecodeNewEntertainmentConfiguration decodes a POST body into a new,
// inactive graph.EntertainmentConfiguration. Member virtual addresses
// are not known at creation time; they are resolved by the command-7
// segment handshake the first time a stream binds to this configuration.
func DecodeNewEntertainmentConfiguration(body []byte) (*graph.EntertainmentConfiguration, error) {
	var doc createDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, huerr.Wrap(huerr.MalformedFrame, "invalid entertainment configuration POST body", err)
	}
	members := make([]graph.EntertainmentMember, len(doc.LightServices))
	for i, r := range doc.LightServices {
		h, err := ridToHandle(r)
		if err != nil {
			return nil, err
		}
		members[i] = graph.EntertainmentMember{Light: h}
	}
	return &graph.EntertainmentConfiguration{Name: doc.Metadata.Name, Members: members}, nil
}

// sceneActionBody is one target light's captured action within a scene
// creation body, reusing lightPatch's field shapes since a scene capture
// carries the same on/dimming/color_temperature/color/effects fields a
// light PUT does.
type sceneActionBody struct {
	Target rid        `json:"target"`
	Action lightPatch `json:"action"`
}

type sceneCreateDoc struct {
	Metadata struct {
		Name string `json:"name"`
	} `json:"metadata"`
	Group   rid               `json:"group"`
	Actions []sceneActionBody `json:"actions"`
}

// DecodeNewScene decodes a POST body into a new graph.Scene: the target
// group and one captured graph.Light per action, built from whichever
// fields each action specifies.
func DecodeNewScene(body []byte) (*graph.Scene, error) {
	var doc sceneCreateDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, huerr.Wrap(huerr.MalformedFrame, "invalid scene POST body", err)
	}
	group, err := ridToHandle(doc.Group)
	if err != nil {
		return nil, err
	}

	captures := make(map[graph.Handle]graph.Light, len(doc.Actions))
	for _, a := range doc.Actions {
		target, err := ridToHandle(a.Target)
		if err != nil {
			return nil, err
		}

		var l graph.Light
		if a.Action.On != nil {
			l.On = a.Action.On.On
		}
		if a.Action.Dimming != nil {
			l.Brightness = a.Action.Dimming.Brightness
		}
		if a.Action.ColorTemperature != nil {
			l.ColorMode = graph.ColorModeTemperature
			l.ColorTempMirek = uint16(a.Action.ColorTemperature.Mirek)
		}
		if a.Action.Color != nil {
			l.ColorMode = graph.ColorModeXY
			l.ColorXY = graph.XY{X: a.Action.Color.XY.X, Y: a.Action.Color.XY.Y}
		}
		if a.Action.Effects != nil {
			l.Effect = graph.Effect(a.Action.Effects.Effect)
		}
		captures[target] = l
	}

	return &graph.Scene{Name: doc.Metadata.Name, Group: group, Captures: captures}, nil
}

// sceneRecallBody is the wire shape of a scene recall PUT body.
type sceneRecallBody struct {
	Recall *struct {
		Action string `json:"action"`
	} `json:"recall,omitempty"`
}

// DecodeSceneRecall decodes a PUT body's recall.action field, if
// present.
func DecodeSceneRecall(body []byte) (action string, present bool, err error) {
	var patch sceneRecallBody
	if err := json.Unmarshal(body, &patch); err != nil {
		return "", false, huerr.Wrap(huerr.MalformedFrame, "invalid PUT body", err)
	}
	if patch.Recall == nil {
		return "", false, nil
	}
	return patch.Recall.Action, true, nil
}

// metadataPatch is the wire shape of a name-only PUT body, used for every
// resource type (room, zone, group, scene, entertainment configuration,
// device) that the API layer upserts directly
// rather than routing through an upstream intent.
type metadataPatch struct {
	Metadata *struct {
		Name string `json:"name"`
	} `json:"metadata,omitempty"`
}

// DecodeMetadataName decodes a PUT body's metadata.name field, if
// present.
func DecodeMetadataName(body []byte) (name string, present bool, err error) {
	var patch metadataPatch
	if err := json.Unmarshal(body, &patch); err != nil {
		return "", false, huerr.Wrap(huerr.MalformedFrame, "invalid PUT body", err)
	}
	if patch.Metadata == nil {
		return "", false, nil
	}
	return patch.Metadata.Name, true, nil
}

// ChangeEnvelope is the SSE wire shape of one change-log batch:
// `{creationtime, data:[...], id, type}`.
type ChangeEnvelope struct {
	CreationTime string            `json:"creationtime"`
	Data         []json.RawMessage `json:"data"`
	ID           string            `json:"id"`
	Type         string            `json:"type"`
}

// MarshalEnvelope builds the SSE envelope for one coalesced change
// record. For add/update it carries the resource's current projection;
// for delete it carries only the handle.
func MarshalEnvelope(creationTime string, rec graph.ChangeRecord) (json.RawMessage, error) {
	env := ChangeEnvelope{
		CreationTime: creationTime,
		ID:           rec.Handle.ID.String(),
		Type:         string(rec.Kind),
	}

	if rec.Kind == graph.ChangeDelete || rec.Snapshot == nil {
		deleted := genericDoc{Type: string(rec.Handle.Type), ID: rec.Handle.ID.String()}
		raw, err := json.Marshal(deleted)
		if err != nil {
			return nil, err
		}
		env.Data = []json.RawMessage{raw}
		return json.Marshal(env)
	}

	raw, err := MarshalResource(*rec.Snapshot)
	if err != nil {
		return nil, err
	}
	env.Data = []json.RawMessage{raw}
	return json.Marshal(env)
}

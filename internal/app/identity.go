package app

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/huebridged/bridge/internal/graph"
	"github.com/huebridged/bridge/internal/persist"
)

// deriveBridgeID computes the bridge's 16-hex-char identifier from its
// MAC address the way a real Hue bridge does: the 6-byte MAC split in
// half with "fffe" spliced into the middle, forming an 8-byte EUI-64.
func deriveBridgeID(mac string) string {
	bare := strings.ToUpper(strings.ReplaceAll(mac, ":", ""))
	if len(bare) != 12 {
		return bare
	}
	return bare[:6] + "FFFE" + bare[6:]
}

// parseHandleString parses a handle's "type/uuid" string form, the
// inverse of graph.Handle.String(), used when rehydrating a persisted
// snapshot back into the graph.
func parseHandleString(s string) (graph.Handle, error) {
	t, id, ok := strings.Cut(s, "/")
	if !ok {
		return graph.Handle{}, fmt.Errorf("malformed handle %q", s)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return graph.Handle{}, fmt.Errorf("malformed handle %q: %w", s, err)
	}
	rtype := graph.ResourceType(t)
	if !graph.ValidType(rtype) {
		return graph.Handle{}, fmt.Errorf("malformed handle %q: unknown type", s)
	}
	return graph.Handle{Type: rtype, ID: parsed}, nil
}

func parseHandleStrings(ss []string) ([]graph.Handle, error) {
	out := make([]graph.Handle, len(ss))
	for i, s := range ss {
		h, err := parseHandleString(s)
		if err != nil {
			return nil, err
		}
		out[i] = h
	}
	return out, nil
}

// stubPayload builds a minimal placeholder payload for a device-backed
// resource a persisted user-authored resource references. Only gateway
// inventory can rebuild the real thing; until the first fetch arrives,
// the placeholder stands in as an unreachable resource, the way a real
// bridge keeps showing devices it cannot currently reach. Identity is
// derived deterministically, so the inventory upsert lands on the same
// handle and overwrites the stub in place.
func stubPayload(t graph.ResourceType) graph.Payload {
	switch t {
	case graph.TypeDevice:
		return &graph.Device{}
	case graph.TypeLight:
		return &graph.Light{Brightness: 1, Effect: graph.EffectNone, ColorMode: graph.ColorModeXY}
	case graph.TypeGroup:
		return &graph.Group{}
	case graph.TypeEntertainment:
		return &graph.Entertainment{}
	case graph.TypeButton:
		return &graph.Button{}
	case graph.TypeMotion:
		return &graph.Motion{}
	case graph.TypeTemperature:
		return &graph.Temperature{}
	case graph.TypeZigbeeConnectivity:
		return &graph.ZigbeeConnectivity{}
	default:
		return nil
	}
}

// hydrateGraph rebuilds the user-authored subset of the resource graph
// from a loaded persist.Snapshot. Device-backed resources are never part
// of the snapshot; references to them are hydrated as placeholder stubs
// (see stubPayload) so that the whole snapshot commits as one
// referentially consistent batch before any gateway has reported
// inventory.
func hydrateGraph(g *graph.Graph, snap persist.Snapshot) error {
	var muts []graph.Mutation
	authored := make(map[graph.Handle]bool)

	add := func(h graph.Handle, p graph.Payload) {
		muts = append(muts, graph.Mutation{Handle: h, Payload: p})
		authored[h] = true
	}

	for _, rec := range snap.Rooms {
		h, err := parseHandleString(rec.Handle)
		if err != nil {
			return err
		}
		children, err := parseHandleStrings(rec.Children)
		if err != nil {
			return err
		}
		add(h, &graph.Room{Name: rec.Name, Archetype: rec.Archetype, Children: children})
	}

	for _, rec := range snap.Zones {
		h, err := parseHandleString(rec.Handle)
		if err != nil {
			return err
		}
		children, err := parseHandleStrings(rec.Children)
		if err != nil {
			return err
		}
		add(h, &graph.Zone{Name: rec.Name, Archetype: rec.Archetype, Children: children})
	}

	for _, rec := range snap.Groups {
		h, err := parseHandleString(rec.Handle)
		if err != nil {
			return err
		}
		lights, err := parseHandleStrings(rec.Lights)
		if err != nil {
			return err
		}
		add(h, &graph.Group{Name: rec.Name, Lights: lights})
	}

	for _, rec := range snap.Scenes {
		h, err := parseHandleString(rec.Handle)
		if err != nil {
			return err
		}
		var group graph.Handle
		if rec.Group != "" {
			group, err = parseHandleString(rec.Group)
			if err != nil {
				return err
			}
		}
		captures := make(map[graph.Handle]graph.Light, len(rec.Captures))
		for _, c := range rec.Captures {
			lh, err := parseHandleString(c.Light)
			if err != nil {
				return err
			}
			mode := graph.ColorModeXY
			if c.ColorMode == string(graph.ColorModeTemperature) {
				mode = graph.ColorModeTemperature
			}
			captures[lh] = graph.Light{
				On:             c.On,
				Brightness:     c.Brightness,
				ColorMode:      mode,
				ColorXY:        c.ColorXY,
				ColorTempMirek: c.Mirek,
				Effect:         graph.Effect(c.Effect),
			}
		}
		add(h, &graph.Scene{Name: rec.Name, Group: group, Captures: captures})
	}

	for _, rec := range snap.Entertainment {
		h, err := parseHandleString(rec.Handle)
		if err != nil {
			return err
		}
		members := make([]graph.EntertainmentMember, len(rec.Members))
		for i, m := range rec.Members {
			lh, err := parseHandleString(m.Light)
			if err != nil {
				return err
			}
			members[i] = graph.EntertainmentMember{Light: lh, VirtualAddrs: m.VirtualAddrs}
		}
		add(h, &graph.EntertainmentConfiguration{Name: rec.Name, Members: members})
	}

	names := make(map[graph.Handle]string, len(snap.Names))
	for hs, name := range snap.Names {
		h, err := parseHandleString(hs)
		if err != nil {
			return err
		}
		names[h] = name
	}

	var stubs []graph.Mutation
	stubbed := make(map[graph.Handle]bool)
	for _, m := range muts {
		for _, ref := range m.Payload.References() {
			if ref.IsZero() || authored[ref] || stubbed[ref] {
				continue
			}
			if _, ok := g.Get(ref); ok {
				continue
			}
			p := stubPayload(ref.Type)
			if p == nil {
				return fmt.Errorf("hydrate: %s references %s, which cannot be rebuilt", m.Handle.String(), ref.String())
			}
			stubs = append(stubs, graph.Mutation{Handle: ref, Payload: p})
			stubbed[ref] = true
		}
	}

	// A renamed device that no user-authored resource references still
	// needs a placeholder, or its name would reset to the upstream
	// default when inventory recreates it.
	for h := range names {
		if authored[h] || stubbed[h] {
			continue
		}
		if _, ok := g.Get(h); ok {
			continue
		}
		p := stubPayload(h.Type)
		if p == nil {
			continue
		}
		stubs = append(stubs, graph.Mutation{Handle: h, Payload: p})
		stubbed[h] = true
	}

	for _, m := range stubs {
		if name, ok := names[m.Handle]; ok {
			applyName(m.Payload, name)
		}
	}

	if _, err := g.Apply(append(stubs, muts...)); err != nil {
		return fmt.Errorf("hydrate graph: %w", err)
	}
	return nil
}

func applyName(p graph.Payload, name string) {
	switch v := p.(type) {
	case *graph.Device:
		v.Name = name
	case *graph.Light:
		v.Name = name
	case *graph.Group:
		v.Name = name
	}
}

// extractSnapshot projects the graph's current user-authored resources
// into a persist.Snapshot ready to be saved, the inverse of
// hydrateGraph. Bridge identity fields are carried through unchanged
// from the snapshot already held by the caller.
func extractSnapshot(g *graph.Graph, bridge persist.BridgeIdentity) persist.Snapshot {
	snap := persist.Snapshot{Bridge: bridge}

	// Device-backed resources themselves are rebuilt from inventory, but
	// their names are bridge-authoritative; persist them so a restart
	// doesn't reset renames to the upstream defaults.
	for _, t := range []graph.ResourceType{graph.TypeDevice, graph.TypeLight} {
		for _, res := range g.List(t) {
			var name string
			switch p := res.Payload.(type) {
			case *graph.Device:
				name = p.Name
			case *graph.Light:
				name = p.Name
			}
			if name == "" {
				continue
			}
			if snap.Names == nil {
				snap.Names = make(map[string]string)
			}
			snap.Names[res.Handle.String()] = name
		}
	}

	for _, res := range g.List(graph.TypeRoom) {
		r := res.Payload.(*graph.Room)
		snap.Rooms = append(snap.Rooms, persist.RoomRecord{
			Handle: res.Handle.String(), Name: r.Name, Archetype: r.Archetype, Children: handleStrings(r.Children),
		})
	}
	for _, res := range g.List(graph.TypeZone) {
		z := res.Payload.(*graph.Zone)
		snap.Zones = append(snap.Zones, persist.ZoneRecord{
			Handle: res.Handle.String(), Name: z.Name, Archetype: z.Archetype, Children: handleStrings(z.Children),
		})
	}
	for _, res := range g.List(graph.TypeGroup) {
		grp := res.Payload.(*graph.Group)
		if grp.Gateway != "" {
			continue // gateway-sourced groups are rebuilt from inventory, never persisted
		}
		snap.Groups = append(snap.Groups, persist.GroupRecord{
			Handle: res.Handle.String(), Name: grp.Name, Lights: handleStrings(grp.Lights),
		})
	}
	for _, res := range g.List(graph.TypeScene) {
		sc := res.Payload.(*graph.Scene)
		captures := make([]persist.SceneLightCapture, 0, len(sc.Captures))
		for lh, l := range sc.Captures {
			captures = append(captures, persist.SceneLightCapture{
				Light: lh.String(), Brightness: l.Brightness, On: l.On,
				ColorMode: string(l.ColorMode), ColorXY: l.ColorXY, Mirek: l.ColorTempMirek, Effect: string(l.Effect),
			})
		}
		groupStr := ""
		if !sc.Group.IsZero() {
			groupStr = sc.Group.String()
		}
		snap.Scenes = append(snap.Scenes, persist.SceneRecord{
			Handle: res.Handle.String(), Name: sc.Name, Group: groupStr, Captures: captures,
		})
	}
	for _, res := range g.List(graph.TypeEntertainmentConfig) {
		ec := res.Payload.(*graph.EntertainmentConfiguration)
		members := make([]persist.EntertainmentMemberRecord, len(ec.Members))
		for i, m := range ec.Members {
			members[i] = persist.EntertainmentMemberRecord{Light: m.Light.String(), VirtualAddrs: m.VirtualAddrs}
		}
		snap.Entertainment = append(snap.Entertainment, persist.EntertainmentRecord{
			Handle: res.Handle.String(), Name: ec.Name, Members: members,
		})
	}

	return snap
}

func handleStrings(hs []graph.Handle) []string {
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = h.String()
	}
	return out
}

package reconciler

import (
	"strings"
	"time"

	"github.com/huebridged/bridge/internal/graph"
	"github.com/huebridged/bridge/internal/huerr"
)

type inventoryDevice struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Signature string `json:"signature"`
}

type inventoryGroup struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	MemberIDs []string `json:"member_ids"`
}

type inventoryPayload struct {
	Devices []inventoryDevice `json:"devices"`
	Groups  []inventoryGroup  `json:"groups"`
}

// deviceLink ties an upstream device id to the graph handles derived
// from it, cached for the life of the session so later live-event and
// outbound-intent traffic can translate between the two namespaces
// without re-deriving identifiers.
type deviceLink struct {
	Device graph.Handle
	Light  graph.Handle

	// missingSince is zero while the device is present in the most
	// recent inventory fetch. It is set the first fetch the device is
	// absent from, and the device/light is only deleted once it has
	// stayed absent for cfg.DeviceGracePeriod.
	missingSince time.Time
}

// applyInventory diffs a freshly fetched gateway inventory against the
// graph fragment this gateway currently owns and emits the minimal set
// of upsert/delete mutations to close the gap: unchanged resources
// produce no mutation, a re-seen light keeps its live state (only its
// owner follows the inventory, and its name only while it has none),
// and a device absent past its
// grace period is deleted together with every reference user-authored
// resources still hold to it. devices and lightToUpstream are updated
// in place to reflect the new fragment.
func applyInventory(
	g *graph.Graph,
	cfg GatewayConfig,
	devices map[string]deviceLink,
	lightToUpstream map[graph.Handle]string,
	inv inventoryPayload,
) error {
	seen := make(map[string]bool, len(inv.Devices))
	mutated := make(map[graph.Handle]bool)
	var muts []graph.Mutation
	now := time.Now()

	add := func(h graph.Handle, p graph.Payload) {
		muts = append(muts, graph.Mutation{Handle: h, Payload: p})
		mutated[h] = true
	}

	for _, d := range inv.Devices {
		deviceHandle := graph.NewHandle(graph.TypeDevice, cfg.Name+":"+d.Signature)
		lightHandle := graph.NewHandle(graph.TypeLight, cfg.Name+":"+d.Signature+":light")

		devices[d.ID] = deviceLink{Device: deviceHandle, Light: lightHandle}
		lightToUpstream[lightHandle] = d.ID
		seen[d.ID] = true

		// The upstream name is only a default for a resource this bridge
		// has never named; once created (or renamed by a client), the
		// bridge's name is authoritative, the way a real bridge keeps
		// user renames across Zigbee rejoins.
		devicePayload := &graph.Device{
			Name: d.Name, Signature: d.Signature, GatewayTag: cfg.Name,
			Services: []graph.Handle{lightHandle},
		}
		if cur, ok := g.Get(deviceHandle); ok {
			if ex, ok := cur.Payload.(*graph.Device); ok && ex.Name != "" {
				devicePayload.Name = ex.Name
			}
		}
		if !deviceUnchanged(g, deviceHandle, devicePayload) {
			add(deviceHandle, devicePayload)
		}

		lightPayload := &graph.Light{
			Owner: deviceHandle, Name: d.Name, Brightness: 1, Effect: graph.EffectNone,
		}
		if cur, ok := g.Get(lightHandle); ok {
			if l, ok := cur.Payload.(*graph.Light); ok {
				next := *l
				next.Owner = deviceHandle
				if next.Name == "" {
					next.Name = d.Name
				}
				if next == *l {
					lightPayload = nil // nothing inventory governs has changed
				} else {
					lightPayload = &next
				}
			}
		}
		if lightPayload != nil {
			add(lightHandle, lightPayload)
		}
	}

	deleted := make(map[graph.Handle]bool)

	for upstreamID, link := range devices {
		if seen[upstreamID] {
			if !link.missingSince.IsZero() {
				link.missingSince = time.Time{}
				devices[upstreamID] = link
			}
			continue
		}
		if link.missingSince.IsZero() {
			link.missingSince = now
			devices[upstreamID] = link
			continue
		}
		if now.Sub(link.missingSince) < cfg.DeviceGracePeriod {
			continue
		}
		add(link.Light, nil)
		add(link.Device, nil)
		deleted[link.Light] = true
		deleted[link.Device] = true
		delete(lightToUpstream, link.Light)
		delete(devices, upstreamID)
	}

	presentGroups := make(map[graph.Handle]bool, len(inv.Groups))
	for _, gr := range inv.Groups {
		if cfg.GroupPrefix != "" && !strings.HasPrefix(gr.Name, cfg.GroupPrefix) {
			continue // non-prefixed upstream groups stay invisible to clients
		}
		name := strings.TrimPrefix(gr.Name, cfg.GroupPrefix)

		groupHandle := graph.NewHandle(graph.TypeGroup, cfg.Name+":"+gr.ID)
		presentGroups[groupHandle] = true
		lights := make([]graph.Handle, 0, len(gr.MemberIDs))
		for _, mid := range gr.MemberIDs {
			if link, ok := devices[mid]; ok {
				lights = append(lights, link.Light)
			}
		}
		groupPayload := &graph.Group{Name: name, Lights: lights, Gateway: cfg.Name}
		if !groupUnchanged(g, groupHandle, groupPayload) {
			add(groupHandle, groupPayload)
		}
	}

	// Gateway groups the upstream no longer reports (removed, or renamed
	// out of the configured prefix) disappear with the fetch that lost
	// them; only this session's own groups are candidates.
	for _, res := range g.List(graph.TypeGroup) {
		grp, ok := res.Payload.(*graph.Group)
		if !ok || grp.Gateway != cfg.Name || presentGroups[res.Handle] {
			continue
		}
		add(res.Handle, nil)
		deleted[res.Handle] = true
	}

	if len(deleted) > 0 {
		muts = append(muts, stripHandleRefs(g, deleted, mutated)...)
	}

	if len(muts) == 0 {
		return nil
	}
	if _, err := g.Apply(muts); err != nil {
		return huerr.Wrap(huerr.Internal, "inventory diff produced an invalid batch", err)
	}
	return nil
}

func deviceUnchanged(g *graph.Graph, h graph.Handle, want *graph.Device) bool {
	cur, ok := g.Get(h)
	if !ok {
		return false
	}
	d, ok := cur.Payload.(*graph.Device)
	if !ok {
		return false
	}
	if d.Name != want.Name || d.Signature != want.Signature || d.GatewayTag != want.GatewayTag {
		return false
	}
	return handlesEqual(d.Services, want.Services)
}

func groupUnchanged(g *graph.Graph, h graph.Handle, want *graph.Group) bool {
	cur, ok := g.Get(h)
	if !ok {
		return false
	}
	grp, ok := cur.Payload.(*graph.Group)
	if !ok {
		return false
	}
	if grp.Name != want.Name || grp.Gateway != want.Gateway {
		return false
	}
	return handlesEqual(grp.Lights, want.Lights)
}

func handlesEqual(a, b []graph.Handle) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// stripHandleRefs returns the extra mutations needed so that deleting
// the given handles leaves no dangling reference behind: every resource
// still referencing one of them is rewritten without it. Resources the
// current batch already rewrites are skipped, since their fresh payload
// was built against the post-delete device map.
func stripHandleRefs(g *graph.Graph, deleted, mutated map[graph.Handle]bool) []graph.Mutation {
	var muts []graph.Mutation
	_, resources := g.Snapshot()

	for _, res := range resources {
		if deleted[res.Handle] || mutated[res.Handle] {
			continue
		}
		touched := false
		for _, ref := range res.Payload.References() {
			if deleted[ref] {
				touched = true
				break
			}
		}
		if !touched {
			continue
		}

		switch p := res.Payload.(type) {
		case *graph.Room:
			next := *p
			next.Children = dropHandles(p.Children, deleted)
			muts = append(muts, graph.Mutation{Handle: res.Handle, Payload: &next})
		case *graph.Zone:
			next := *p
			next.Children = dropHandles(p.Children, deleted)
			muts = append(muts, graph.Mutation{Handle: res.Handle, Payload: &next})
		case *graph.Group:
			next := *p
			next.Lights = dropHandles(p.Lights, deleted)
			muts = append(muts, graph.Mutation{Handle: res.Handle, Payload: &next})
		case *graph.BridgeHome:
			next := *p
			next.Children = dropHandles(p.Children, deleted)
			muts = append(muts, graph.Mutation{Handle: res.Handle, Payload: &next})
		case *graph.Scene:
			next := *p
			if deleted[p.Group] {
				next.Group = graph.Handle{}
			}
			captures := make(map[graph.Handle]graph.Light, len(p.Captures))
			for h, l := range p.Captures {
				if !deleted[h] {
					captures[h] = l
				}
			}
			next.Captures = captures
			muts = append(muts, graph.Mutation{Handle: res.Handle, Payload: &next})
		case *graph.EntertainmentConfiguration:
			next := *p
			members := make([]graph.EntertainmentMember, 0, len(p.Members))
			for _, m := range p.Members {
				if !deleted[m.Light] {
					members = append(members, m)
				}
			}
			next.Members = members
			muts = append(muts, graph.Mutation{Handle: res.Handle, Payload: &next})
		case *graph.Device:
			next := *p
			next.Services = dropHandles(p.Services, deleted)
			muts = append(muts, graph.Mutation{Handle: res.Handle, Payload: &next})
		}
	}
	return muts
}

func dropHandles(hs []graph.Handle, deleted map[graph.Handle]bool) []graph.Handle {
	out := make([]graph.Handle, 0, len(hs))
	for _, h := range hs {
		if !deleted[h] {
			out = append(out, h)
		}
	}
	return out
}

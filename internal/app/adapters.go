// Adapters satisfying internal/api's and internal/entertainment's
// decoupling interfaces over this package's concrete collaborators,
// so each consumer sees a narrow view rather than the whole service
// set.
package app

import (
	"context"
	"encoding/hex"

	"github.com/huebridged/bridge/internal/api"
	"github.com/huebridged/bridge/internal/entertainment"
	"github.com/huebridged/bridge/internal/graph"
	"github.com/huebridged/bridge/internal/huerr"
	"github.com/huebridged/bridge/internal/persist"
	"github.com/huebridged/bridge/internal/reconciler"
)

// gatewayRegistry is the set of live reconciler sessions, shared by the
// intentRouter, frameSender, and restorer adapters below.
type gatewayRegistry struct {
	byName map[string]*reconciler.Session
	all    []*reconciler.Session
}

func newGatewayRegistry(sessions []*reconciler.Session, names []string) *gatewayRegistry {
	r := &gatewayRegistry{byName: make(map[string]*reconciler.Session, len(sessions)), all: sessions}
	for i, s := range sessions {
		r.byName[names[i]] = s
	}
	return r
}

func (r *gatewayRegistry) owning(light graph.Handle) (*reconciler.Session, bool) {
	for _, s := range r.all {
		if s.Owns(light) {
			return s, true
		}
	}
	return nil, false
}

// intentRouter implements api.IntentRouter.
type intentRouter struct {
	gateways *gatewayRegistry
}

func (r *intentRouter) RouteLightIntent(ctx context.Context, light graph.Handle, intent reconciler.LightIntent) error {
	s, ok := r.gateways.owning(light)
	if !ok {
		return huerr.New(huerr.NotFound, "light is not owned by any upstream gateway session")
	}
	return s.SendIntent(ctx, light, intent)
}

// frameSender implements entertainment.FrameSender.
type frameSender struct {
	gateways *gatewayRegistry
}

func (f *frameSender) SendEntertainmentFrame(ctx context.Context, gateway string, light graph.Handle, wire []byte) error {
	s, ok := f.gateways.byName[gateway]
	if !ok {
		return huerr.New(huerr.NotFound, "gateway not configured")
	}
	return s.SendEntertainmentFrame(ctx, light, wire)
}

// restorer implements entertainment.Restorer, translating a captured
// pre-session graph.Light back into a LightIntent and routing it like
// any other client-originated command.
type restorer struct {
	gateways *gatewayRegistry
}

func (r *restorer) Restore(ctx context.Context, light graph.Handle, state *graph.Light) error {
	if state == nil {
		return nil
	}
	on := state.On
	brightness := state.Brightness
	effect := state.Effect
	intent := reconciler.LightIntent{On: &on, Brightness: &brightness, Effect: &effect}
	if state.ColorMode == graph.ColorModeTemperature {
		mirek := state.ColorTempMirek
		intent.ColorMirek = &mirek
	} else {
		xy := state.ColorXY
		intent.ColorXY = &xy
	}

	s, ok := r.gateways.owning(light)
	if !ok {
		return huerr.New(huerr.NotFound, "light is not owned by any upstream gateway session")
	}
	return s.SendIntent(ctx, light, intent)
}

// binder implements entertainment.Binder, resolving the first
// active entertainment_configuration in the graph snapshot, snapshotting its
// member lights' pre-session state, and resolving any multi-segment
// member's virtual addresses via a live command-7 handshake with its
// owning gateway the first time it binds.
type binder struct {
	graph    *graph.Graph
	gateways *gatewayRegistry
}

func (b *binder) Bind(ctx context.Context, identity string) (entertainment.Binding, error) {
	_, resources := b.graph.Snapshot()
	for _, res := range resources {
		cfg, ok := res.Payload.(*graph.EntertainmentConfiguration)
		if !ok || !cfg.Active {
			continue
		}

		members := make([]entertainment.Member, 0, len(cfg.Members))
		updated := make([]graph.EntertainmentMember, len(cfg.Members))
		changed := false

		for i, m := range cfg.Members {
			var preState *graph.Light
			var gateway string
			if lr, found := b.graph.Get(m.Light); found {
				if l, ok := lr.Payload.(*graph.Light); ok {
					snapshot := *l
					preState = &snapshot
					if dr, found := b.graph.Get(l.Owner); found {
						if d, ok := dr.Payload.(*graph.Device); ok {
							gateway = d.GatewayTag
						}
					}
				}
			}

			addrs := m.VirtualAddrs
			if len(addrs) == 0 {
				if segmentCount := b.segmentCount(m.Light); segmentCount > 1 {
					if s, ok := b.gateways.byName[gateway]; ok {
						resolved := make([]uint16, segmentCount)
						for j := range resolved {
							resolved[j] = uint16(j + 1)
						}
						if err := s.ConfigureSegments(ctx, m.Light, resolved); err != nil {
							return entertainment.Binding{}, huerr.Wrap(huerr.Unavailable, "segment configuration handshake failed", err)
						}
						addrs = resolved
						changed = true
					}
				}
			}
			updated[i] = graph.EntertainmentMember{Light: m.Light, VirtualAddrs: addrs}

			members = append(members, entertainment.Member{
				Light:           m.Light,
				Gateway:         gateway,
				Addrs:           addrs,
				PreSessionState: preState,
			})
		}

		if changed {
			next := *cfg
			next.Members = updated
			if _, err := b.graph.Upsert(res.Handle, &next); err != nil {
				return entertainment.Binding{}, err
			}
		}

		return entertainment.Binding{Config: res.Handle, Members: members}, nil
	}
	return entertainment.Binding{}, huerr.New(huerr.NotFound, "no active entertainment configuration")
}

// segmentCount looks up the declared segment count for light's
// entertainment service resource; a light with no such resource (or a
// count of zero) is single-segment and addressed directly by its
// physical address, with no command-7 handshake required.
func (b *binder) segmentCount(light graph.Handle) int {
	_, resources := b.graph.Snapshot()
	for _, res := range resources {
		if ent, ok := res.Payload.(*graph.Entertainment); ok && ent.Owner == light {
			if ent.SegmentCount > 0 {
				return ent.SegmentCount
			}
			return 1
		}
	}
	return 1
}

// pskLookup implements entertainment.PSKLookup over the paired-clients
// store: any currently-paired application key derives its PSK secret
// via persist.DeriveClientKey.
type pskLookup struct {
	clients *persist.PairedClients
}

func (p *pskLookup) Secret(identity string) ([]byte, bool) {
	if _, ok := p.clients.Authenticate(identity); !ok {
		return nil, false
	}
	hexKey, err := persist.DeriveClientKey(identity)
	if err != nil {
		return nil, false
	}
	secret, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, false
	}
	return secret, true
}

// pairedClientStore implements api.PairedClientStore over
// persist.PairedClients, translating its record type and deriving the
// client key the pairing response carries.
type pairedClientStore struct {
	clients *persist.PairedClients
}

func (s *pairedClientStore) Authenticate(appKey string) (string, bool) {
	return s.clients.Authenticate(appKey)
}

func (s *pairedClientStore) Pair(name string) (api.PairedClientRecord, error) {
	pc, err := s.clients.Pair(name)
	if err != nil {
		return api.PairedClientRecord{}, err
	}
	clientKey, err := persist.DeriveClientKey(pc.AppKey)
	if err != nil {
		return api.PairedClientRecord{}, err
	}
	return api.PairedClientRecord{AppKey: pc.AppKey, ClientKey: clientKey}, nil
}

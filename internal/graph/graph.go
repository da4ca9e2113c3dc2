package graph

import (
	"sync"
	"sync/atomic"

	"github.com/huebridged/bridge/internal/huerr"
)

// Mutation is one requested change within a batch passed to Apply. A nil
// Payload means delete; a non-nil Payload means upsert (create or update,
// whichever applies to Handle's current presence in the graph).
type Mutation struct {
	Handle  Handle
	Payload Payload
}

// snapshot is the immutable, copy-on-write view of the graph's resources.
// Readers hold a *snapshot obtained once and never see it mutate under
// them, even if the writer commits again in the meantime.
type snapshot map[Handle]Resource

// Graph is the single-writer, many-reader resource store: an in-memory
// typed, referentially checked graph with copy-on-write snapshots.
type Graph struct {
	writerMu sync.Mutex // serializes commits; never held across I/O
	current  atomic.Pointer[snapshot]
	seq      atomic.Uint64
	log      *ChangeLog
}

// New creates an empty Graph publishing change records to log.
func New(log *ChangeLog) *Graph {
	g := &Graph{log: log}
	empty := make(snapshot)
	g.current.Store(&empty)
	return g
}

// Get returns the current resource at h, if present.
func (g *Graph) Get(h Handle) (Resource, bool) {
	s := *g.current.Load()
	r, ok := s[h]
	return r, ok
}

// List returns every resource of the given type, in no particular order.
func (g *Graph) List(t ResourceType) []Resource {
	s := *g.current.Load()
	out := make([]Resource, 0)
	for _, r := range s {
		if r.Handle.Type == t {
			out = append(out, r)
		}
	}
	return out
}

// Snapshot returns the current sequence number and every resource in the
// graph, consistent as of one point in time.
func (g *Graph) Snapshot() (uint64, []Resource) {
	s := *g.current.Load()
	out := make([]Resource, 0, len(s))
	for _, r := range s {
		out = append(out, r)
	}
	return g.seq.Load(), out
}

// Upsert creates or updates a single resource. Convenience wrapper over
// Apply for the common single-handle case.
func (g *Graph) Upsert(h Handle, p Payload) (uint64, error) {
	return g.Apply([]Mutation{{Handle: h, Payload: p}})
}

// Delete removes a single resource. Convenience wrapper over Apply.
func (g *Graph) Delete(h Handle) (uint64, error) {
	return g.Apply([]Mutation{{Handle: h, Payload: nil}})
}

// Apply commits a batch of mutations atomically: either every mutation
// takes effect and reference integrity holds across the whole resulting
// graph, or none of it does.
func (g *Graph) Apply(muts []Mutation) (uint64, error) {
	if len(muts) == 0 {
		return g.seq.Load(), nil
	}

	g.writerMu.Lock()
	defer g.writerMu.Unlock()

	base := *g.current.Load()
	trial := make(snapshot, len(base)+len(muts))
	for h, r := range base {
		trial[h] = r
	}

	type pending struct {
		kind ChangeKind
		h    Handle
		res  Resource
	}
	records := make([]pending, 0, len(muts))

	for _, m := range muts {
		if m.Payload == nil {
			if _, existed := trial[m.Handle]; !existed {
				continue // deleting something already absent is a no-op
			}
			delete(trial, m.Handle)
			records = append(records, pending{kind: ChangeDelete, h: m.Handle})
			continue
		}

		if err := m.Payload.Validate(); err != nil {
			return g.seq.Load(), err
		}

		existing, existed := trial[m.Handle]
		version := uint64(1)
		kind := ChangeAdd
		if existed {
			version = existing.Version + 1
			kind = ChangeUpdate
		}

		r := Resource{Handle: m.Handle, Version: version, Payload: m.Payload}
		trial[m.Handle] = r
		records = append(records, pending{kind: kind, h: m.Handle, res: r})
	}

	if err := checkReferenceIntegrity(trial); err != nil {
		return g.seq.Load(), err
	}

	g.current.Store(&trial)

	for _, p := range records {
		seq := g.seq.Add(1)
		rec := ChangeRecord{Seq: seq, Kind: p.kind, Handle: p.h}
		if p.kind != ChangeDelete {
			res := p.res
			rec.Snapshot = &res
		}
		g.log.publish(rec)
	}

	return g.seq.Load(), nil
}

// checkReferenceIntegrity verifies every non-zero handle any resource in
// s references is itself present in s.
func checkReferenceIntegrity(s snapshot) error {
	for h, r := range s {
		for _, ref := range r.Payload.References() {
			if ref.IsZero() {
				continue // unset reference, not a dangling one
			}
			if _, ok := s[ref]; !ok {
				return huerr.New(huerr.ReferenceViolation,
					"resource "+h.String()+" references missing handle "+ref.String())
			}
		}
	}
	return nil
}

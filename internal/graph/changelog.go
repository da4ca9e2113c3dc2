package graph

import (
	"sync"
	"time"

	"github.com/huebridged/bridge/internal/huerr"
)

// ChangeKind tags one change-log record: add, update, or delete.
type ChangeKind string

const (
	ChangeAdd     ChangeKind = "add"
	ChangeUpdate  ChangeKind = "update"
	ChangeDelete  ChangeKind = "delete"
	ChangeOverrun ChangeKind = "overrun" // sentinel, never retained in the ring
)

// ChangeRecord is one entry in the change log.
type ChangeRecord struct {
	Seq      uint64
	Kind     ChangeKind
	Handle   Handle
	Snapshot *Resource // nil for delete and overrun
}

const (
	defaultRetain  = 4096 // ring buffer tail length
	defaultLagCap  = 1024 // subscriber channel capacity before StreamOverrun
	coalesceWindow = 100 * time.Millisecond
)

type pendingCoalesce struct {
	rec   ChangeRecord
	timer *time.Timer
}

type subscriber struct {
	id uint64
	ch chan ChangeRecord
}

// ChangeLog is the append-only, lag-bounded-fan-out sibling of Graph:
// an ordered record ring with per-subscriber cursors and overrun
// detection.
type ChangeLog struct {
	mu       sync.Mutex
	ring     []ChangeRecord
	retain   int
	lagCap   int
	subs     map[uint64]*subscriber
	nextSub  uint64
	pending  map[Handle]*pendingCoalesce
}

// NewChangeLog creates an empty change log with default retention and
// per-subscriber lag bound.
func NewChangeLog() *ChangeLog {
	return &ChangeLog{
		retain:  defaultRetain,
		lagCap:  defaultLagCap,
		subs:    make(map[uint64]*subscriber),
		pending: make(map[Handle]*pendingCoalesce),
	}
}

// publish is called by Graph.Apply once per mutation it commits. Updates
// to the same handle arriving within coalesceWindow of each other are
// merged into a single emitted record. Effect state is never coalesced
// with on/off transitions: when the buffered and incoming snapshots
// disagree on effect state versus on/off state at the same time, the
// buffered record flushes immediately and the incoming one starts a
// fresh coalescing window.
func (l *ChangeLog) publish(rec ChangeRecord) {
	if rec.Kind != ChangeUpdate {
		l.flushPending(rec.Handle)
		l.emit(rec)
		return
	}

	l.mu.Lock()
	p, buffered := l.pending[rec.Handle]
	if buffered && !sameCoalesceClass(p.rec.Snapshot, rec.Snapshot) {
		p.timer.Stop()
		delete(l.pending, rec.Handle)
		toEmit := p.rec
		l.mu.Unlock()
		l.emit(toEmit)
		l.mu.Lock()
		buffered = false
	}

	if buffered {
		p.rec = rec
		l.mu.Unlock()
		return
	}

	h := rec.Handle
	entry := &pendingCoalesce{rec: rec}
	entry.timer = time.AfterFunc(coalesceWindow, func() {
		l.mu.Lock()
		cur, ok := l.pending[h]
		if !ok {
			l.mu.Unlock()
			return
		}
		delete(l.pending, h)
		toEmit := cur.rec
		l.mu.Unlock()
		l.emit(toEmit)
	})
	l.pending[h] = entry
	l.mu.Unlock()
}

// flushPending emits and clears any buffered update for h without
// waiting out its coalescing window, used when a non-update record
// (add/delete) supersedes it.
func (l *ChangeLog) flushPending(h Handle) {
	l.mu.Lock()
	p, ok := l.pending[h]
	if !ok {
		l.mu.Unlock()
		return
	}
	p.timer.Stop()
	delete(l.pending, h)
	toEmit := p.rec
	l.mu.Unlock()
	l.emit(toEmit)
}

// sameCoalesceClass reports whether two light snapshots belong to the
// same coalescing class: both touching (or both not touching) effect
// state relative to on/off state. Non-light resources always coalesce.
func sameCoalesceClass(a, b *Resource) bool {
	if a == nil || b == nil {
		return true
	}
	la, aok := a.Payload.(*Light)
	lb, bok := b.Payload.(*Light)
	if !aok || !bok {
		return true
	}
	effectChanged := la.Effect != lb.Effect || la.EffectSpeed != lb.EffectSpeed
	onOffChanged := la.On != lb.On
	return !(effectChanged && onOffChanged)
}

// emit appends rec to the retained ring and fans it out to every live
// subscriber, dropping subscribers whose lag exceeds the configured
// bound with a StreamOverrun signal.
func (l *ChangeLog) emit(rec ChangeRecord) {
	l.mu.Lock()
	l.ring = append(l.ring, rec)
	if len(l.ring) > l.retain {
		l.ring = l.ring[len(l.ring)-l.retain:]
	}
	subs := make([]*subscriber, 0, len(l.subs))
	for _, s := range l.subs {
		subs = append(subs, s)
	}
	l.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- rec:
		default:
			l.dropSubscriber(s, true)
		}
	}
}

func (l *ChangeLog) dropSubscriber(s *subscriber, overrun bool) {
	l.mu.Lock()
	if _, ok := l.subs[s.id]; !ok {
		l.mu.Unlock()
		return
	}
	delete(l.subs, s.id)
	l.mu.Unlock()

	if overrun {
		select {
		case s.ch <- ChangeRecord{Kind: ChangeOverrun}:
		default:
			// The lagging channel is full; evict the oldest buffered
			// record so the overrun sentinel is always observed. The
			// subscriber has to re-snapshot anyway.
			select {
			case <-s.ch:
			default:
			}
			select {
			case s.ch <- ChangeRecord{Kind: ChangeOverrun}:
			default:
			}
		}
	}
	close(s.ch)
}

// Subscription is a live handle on the change log's fan-out. Records
// must be drained promptly; a ChangeOverrun record means the channel
// will close immediately after and the caller must re-snapshot.
type Subscription struct {
	Records <-chan ChangeRecord

	log *ChangeLog
	id  uint64
}

// Close detaches the subscription from the change log.
func (s *Subscription) Close() {
	s.log.mu.Lock()
	sub, ok := s.log.subs[s.id]
	delete(s.log.subs, s.id)
	s.log.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Subscribe returns a stream of change records starting after fromSeq.
// fromSeq of 0 means "start from the current tail, no replay". If
// fromSeq names a sequence number older than the retained ring, the
// subscriber cannot catch up and Subscribe returns a StreamOverrun
// error immediately, telling the caller to re-snapshot and
// re-subscribe.
func (l *ChangeLog) Subscribe(fromSeq uint64) (*Subscription, error) {
	l.mu.Lock()

	if fromSeq == 0 {
		// Start from the current tail: no replay, stream only future records.
		l.nextSub++
		sub := &subscriber{id: l.nextSub, ch: make(chan ChangeRecord, l.lagCap)}
		l.subs[sub.id] = sub
		l.mu.Unlock()
		return &Subscription{Records: sub.ch, log: l, id: sub.id}, nil
	}

	if len(l.ring) > 0 && fromSeq < l.ring[0].Seq-1 {
		l.mu.Unlock()
		return nil, streamOverrunErr()
	}

	replay := make([]ChangeRecord, 0)
	for _, r := range l.ring {
		if r.Seq > fromSeq {
			replay = append(replay, r)
		}
	}

	l.nextSub++
	sub := &subscriber{id: l.nextSub, ch: make(chan ChangeRecord, l.lagCap)}
	l.subs[sub.id] = sub
	l.mu.Unlock()

	for _, r := range replay {
		select {
		case sub.ch <- r:
		default:
			l.dropSubscriber(sub, true)
			return nil, streamOverrunErr()
		}
	}

	return &Subscription{Records: sub.ch, log: l, id: sub.id}, nil
}

func streamOverrunErr() error {
	return huerr.New(huerr.StreamOverrun, "requested sequence number is older than the retained change log tail")
}

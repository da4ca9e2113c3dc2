package graph

import (
	"testing"
	"time"
)

func TestChangeLogCoalescesBurstWithinWindow(t *testing.T) {
	l := NewChangeLog()
	sub, err := l.Subscribe(0)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	h := NewHandle(TypeLight, "coalesce-1")
	base := &Light{On: true, Brightness: 10, Effect: EffectNone}
	for i := 1; i <= 5; i++ {
		snap := &Resource{Handle: h, Version: uint64(i), Payload: base}
		l.publish(ChangeRecord{Seq: uint64(i), Kind: ChangeUpdate, Handle: h, Snapshot: snap})
	}

	select {
	case rec := <-sub.Records:
		if rec.Seq != 5 {
			t.Errorf("coalesced record Seq = %d, want 5 (latest of the burst)", rec.Seq)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for coalesced record")
	}

	select {
	case rec := <-sub.Records:
		t.Fatalf("expected exactly one coalesced record, got a second: %+v", rec)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestChangeLogDoesNotCoalesceEffectWithOnOffTransition(t *testing.T) {
	l := NewChangeLog()
	sub, err := l.Subscribe(0)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	h := NewHandle(TypeLight, "coalesce-2")
	onOffOnly := &Light{On: true, Brightness: 10, Effect: EffectNone}
	effectChange := &Light{On: false, Brightness: 10, Effect: EffectCandle}

	l.publish(ChangeRecord{Seq: 1, Kind: ChangeUpdate, Handle: h, Snapshot: &Resource{Handle: h, Version: 1, Payload: onOffOnly}})
	l.publish(ChangeRecord{Seq: 2, Kind: ChangeUpdate, Handle: h, Snapshot: &Resource{Handle: h, Version: 2, Payload: effectChange}})

	var got []uint64
	timeout := time.After(500 * time.Millisecond)
	for len(got) < 2 {
		select {
		case rec := <-sub.Records:
			got = append(got, rec.Seq)
		case <-timeout:
			t.Fatalf("expected 2 distinct records (on/off and effect change not coalesced), got %v", got)
		}
	}
}

func TestChangeLogAddAndDeleteAreNeverCoalesced(t *testing.T) {
	l := NewChangeLog()
	sub, err := l.Subscribe(0)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	h := NewHandle(TypeDevice, "add-del-1")
	l.publish(ChangeRecord{Seq: 1, Kind: ChangeAdd, Handle: h})
	l.publish(ChangeRecord{Seq: 2, Kind: ChangeDelete, Handle: h})

	for _, wantKind := range []ChangeKind{ChangeAdd, ChangeDelete} {
		select {
		case rec := <-sub.Records:
			if rec.Kind != wantKind {
				t.Errorf("Kind = %v, want %v", rec.Kind, wantKind)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %v record", wantKind)
		}
	}
}

func TestSubscribeOverrunOnStaleSeq(t *testing.T) {
	l := NewChangeLog()
	l.retain = 4

	h := NewHandle(TypeDevice, "overrun-1")
	for i := 1; i <= 10; i++ {
		l.publish(ChangeRecord{Seq: uint64(i), Kind: ChangeAdd, Handle: h})
	}

	if _, err := l.Subscribe(1); err == nil {
		t.Fatalf("expected StreamOverrun for a seq older than the retained tail")
	}
}

func TestSlowSubscriberDroppedWithOverrun(t *testing.T) {
	l := NewChangeLog()
	l.lagCap = 2

	sub, err := l.Subscribe(0)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	h := NewHandle(TypeDevice, "slow-1")
	for i := 1; i <= 5; i++ {
		l.publish(ChangeRecord{Seq: uint64(i), Kind: ChangeAdd, Handle: NewHandle(TypeDevice, h.String()+string(rune(i)))})
	}

	sawOverrun := false
	timeout := time.After(time.Second)
drain:
	for {
		select {
		case rec, ok := <-sub.Records:
			if !ok {
				break drain
			}
			if rec.Kind == ChangeOverrun {
				sawOverrun = true
			}
		case <-timeout:
			break drain
		}
	}
	if !sawOverrun {
		t.Errorf("expected a ChangeOverrun record before the channel closed")
	}
}

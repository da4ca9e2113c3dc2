package reconciler

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/huebridged/bridge/internal/graph"
	"github.com/huebridged/bridge/internal/huerr"
)

// fakeGatewayAck reads a segment-configure request off the session's
// outbound queue, acknowledges the write instantly (as the real drain
// loop would once the frame hit the wire), and feeds status back in as
// the gateway's command-7 response.
func fakeGatewayAck(t *testing.T, s *Session, upstreamID string, status uint16) {
	t.Helper()
	in := <-s.outbound.normal
	in.result <- nil

	var p rawCommandPayload
	if err := json.Unmarshal(in.Payload.Payload, &p); err != nil {
		t.Fatalf("unmarshal outbound payload: %v", err)
	}

	var wire [2]byte
	binary.LittleEndian.PutUint16(wire[:], status)
	resp := rawCommandPayload{ID: upstreamID, Cluster: 0xFC01, Command: 7, HexData: hex.EncodeToString(wire[:])}
	raw, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	s.handleRawResponse(raw)
}

func newTestSessionObj(t *testing.T) (*Session, *graph.Graph) {
	t.Helper()
	g := graph.New(graph.NewChangeLog())
	s := NewSession(GatewayConfig{Name: "hub1", CommandRPS: 50}, g, zerolog.Nop())
	return s, g
}

func TestStateStringNamesEveryState(t *testing.T) {
	states := []State{
		StateDisconnected, StateConnecting, StateHandshakeWait,
		StateInventoryFetch, StateLive, StateReconnecting,
	}
	seen := make(map[string]bool)
	for _, st := range states {
		name := st.String()
		if name == "" || name == "unknown" {
			t.Errorf("State(%d).String() = %q", int(st), name)
		}
		seen[name] = true
	}
	if len(seen) != len(states) {
		t.Errorf("expected %d distinct state names, got %d", len(states), len(seen))
	}
}

func TestNewSessionStartsDisconnected(t *testing.T) {
	s, _ := newTestSessionObj(t)
	if s.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", s.State())
	}
}

func TestSendIntentFailsFastWhenNotLive(t *testing.T) {
	s, _ := newTestSessionObj(t)
	on := true
	err := s.SendIntent(context.Background(), graph.NewHandle(graph.TypeLight, "x"), LightIntent{On: &on})
	if !huerr.Is(err, huerr.Unavailable) {
		t.Fatalf("err = %v, want Unavailable", err)
	}
}

func TestSendEntertainmentFrameFailsFastWhenNotLive(t *testing.T) {
	s, _ := newTestSessionObj(t)
	err := s.SendEntertainmentFrame(context.Background(), graph.NewHandle(graph.TypeLight, "x"), []byte{0x01})
	if !huerr.Is(err, huerr.Unavailable) {
		t.Fatalf("err = %v, want Unavailable", err)
	}
}

func TestSendIntentReportsNotFoundForUnownedLight(t *testing.T) {
	s, _ := newTestSessionObj(t)
	s.setState(StateLive)
	on := true
	err := s.SendIntent(context.Background(), graph.NewHandle(graph.TypeLight, "x"), LightIntent{On: &on})
	if !huerr.Is(err, huerr.NotFound) {
		t.Fatalf("err = %v, want NotFound", err)
	}
}

func TestOwnsReflectsInventory(t *testing.T) {
	s, g := newTestSessionObj(t)
	light := graph.NewHandle(graph.TypeLight, "hub1:sig-1:light")
	device := graph.NewHandle(graph.TypeDevice, "hub1:sig-1")
	if _, err := g.Upsert(device, &graph.Device{Name: "lamp"}); err != nil {
		t.Fatalf("Upsert device: %v", err)
	}
	if _, err := g.Upsert(light, &graph.Light{Owner: device, Brightness: 50, Effect: graph.EffectNone}); err != nil {
		t.Fatalf("Upsert light: %v", err)
	}

	if s.Owns(light) {
		t.Fatalf("Owns should be false before inventory is applied")
	}

	s.mapMu.Lock()
	s.devices["up-1"] = deviceLink{Device: device, Light: light}
	s.lightToUpstream[light] = "up-1"
	s.mapMu.Unlock()

	if !s.Owns(light) {
		t.Errorf("Owns should be true once tracked")
	}
}

func TestApplyDeviceStateUpdatesLight(t *testing.T) {
	s, g := newTestSessionObj(t)
	light := graph.NewHandle(graph.TypeLight, "hub1:sig-1:light")
	device := graph.NewHandle(graph.TypeDevice, "hub1:sig-1")
	if _, err := g.Upsert(device, &graph.Device{Name: "lamp"}); err != nil {
		t.Fatalf("Upsert device: %v", err)
	}
	if _, err := g.Upsert(light, &graph.Light{Owner: device, Brightness: 50, Effect: graph.EffectNone}); err != nil {
		t.Fatalf("Upsert light: %v", err)
	}
	s.devices["up-1"] = deviceLink{Device: device, Light: light}
	s.lightToUpstream[light] = "up-1"

	payload := []byte(`{"id":"up-1","on":true,"brightness":75}`)
	if err := s.applyDeviceState(payload); err != nil {
		t.Fatalf("applyDeviceState: %v", err)
	}

	r, ok := g.Get(light)
	if !ok {
		t.Fatalf("light missing from graph")
	}
	l := r.Payload.(*graph.Light)
	if !l.On {
		t.Errorf("On = false, want true")
	}
	if l.Brightness != 75 {
		t.Errorf("Brightness = %v, want 75", l.Brightness)
	}
}

func TestApplyDeviceStateUnknownUpstreamIDReturnsNotFound(t *testing.T) {
	s, _ := newTestSessionObj(t)
	err := s.applyDeviceState([]byte(`{"id":"ghost","on":true}`))
	if !huerr.Is(err, huerr.NotFound) {
		t.Fatalf("err = %v, want NotFound", err)
	}
}

func TestConfigureSegmentsFailsFastWhenNotLive(t *testing.T) {
	s, _ := newTestSessionObj(t)
	err := s.ConfigureSegments(context.Background(), graph.NewHandle(graph.TypeLight, "x"), []uint16{1, 2})
	if !huerr.Is(err, huerr.Unavailable) {
		t.Fatalf("err = %v, want Unavailable", err)
	}
}

func TestConfigureSegmentsSucceedsOnFirstZeroStatusResponse(t *testing.T) {
	s, _ := newTestSessionObj(t)
	s.setState(StateLive)
	light := graph.NewHandle(graph.TypeLight, "hub1:sig-1:light")
	s.mapMu.Lock()
	s.lightToUpstream[light] = "up-1"
	s.mapMu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- s.ConfigureSegments(context.Background(), light, []uint16{1, 2, 3})
	}()

	fakeGatewayAck(t, s, "up-1", 0x0000)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ConfigureSegments: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ConfigureSegments did not return after a successful response")
	}
}

func TestConfigureSegmentsRetriesOnceThenSucceeds(t *testing.T) {
	s, _ := newTestSessionObj(t)
	s.setState(StateLive)
	light := graph.NewHandle(graph.TypeLight, "hub1:sig-1:light")
	s.mapMu.Lock()
	s.lightToUpstream[light] = "up-1"
	s.mapMu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- s.ConfigureSegments(context.Background(), light, []uint16{1, 2})
	}()

	// First attempt: gateway rejects.
	fakeGatewayAck(t, s, "up-1", 0x0001)
	// Retried attempt: gateway accepts.
	fakeGatewayAck(t, s, "up-1", 0x0000)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ConfigureSegments: %v, want nil after the retried attempt succeeds", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ConfigureSegments did not return after its retry succeeded")
	}
}

func TestConfigureSegmentsFailsAfterRetryAlsoRejected(t *testing.T) {
	s, _ := newTestSessionObj(t)
	s.setState(StateLive)
	light := graph.NewHandle(graph.TypeLight, "hub1:sig-1:light")
	s.mapMu.Lock()
	s.lightToUpstream[light] = "up-1"
	s.mapMu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- s.ConfigureSegments(context.Background(), light, []uint16{1})
	}()

	fakeGatewayAck(t, s, "up-1", 0x0001)
	fakeGatewayAck(t, s, "up-1", 0x0001)

	select {
	case err := <-done:
		if !huerr.Is(err, huerr.Unavailable) {
			t.Fatalf("err = %v, want Unavailable after both attempts are rejected", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ConfigureSegments did not return after its retry was also rejected")
	}
}

package app

import (
	"testing"

	"github.com/huebridged/bridge/internal/graph"
	"github.com/huebridged/bridge/internal/persist"
)

func TestDeriveBridgeIDInsertsFFFE(t *testing.T) {
	got := deriveBridgeID("aa:bb:cc:dd:ee:ff")
	want := "AABBCCFFFEDDEEFF"
	if got != want {
		t.Errorf("deriveBridgeID = %q, want %q", got, want)
	}
}

func TestParseHandleStringRoundTrips(t *testing.T) {
	h := graph.NewHandle(graph.TypeRoom, "living-room")
	parsed, err := parseHandleString(h.String())
	if err != nil {
		t.Fatalf("parseHandleString: %v", err)
	}
	if parsed != h {
		t.Errorf("parseHandleString(%q) = %+v, want %+v", h.String(), parsed, h)
	}
}

func TestParseHandleStringRejectsUnknownType(t *testing.T) {
	if _, err := parseHandleString("not-a-type/" + graph.NewHandle(graph.TypeRoom, "x").ID.String()); err == nil {
		t.Error("expected an error for an unknown resource type")
	}
}

func TestParseHandleStringRejectsMalformed(t *testing.T) {
	if _, err := parseHandleString("room-without-a-slash"); err == nil {
		t.Error("expected an error for a handle with no '/'")
	}
	if _, err := parseHandleString("room/not-a-uuid"); err == nil {
		t.Error("expected an error for an invalid uuid")
	}
}

func TestHydrateGraphThenExtractSnapshotRoundTrips(t *testing.T) {
	log := graph.NewChangeLog()
	g := graph.New(log)

	room := graph.NewHandle(graph.TypeRoom, "living-room")
	snap := persist.Snapshot{
		Bridge: persist.BridgeIdentity{BridgeID: "AABBCCFFFEDDEEFF", MAC: "aabbccddeeff"},
		Rooms: []persist.RoomRecord{
			{Handle: room.String(), Name: "Living Room", Archetype: "living_room"},
		},
	}

	if err := hydrateGraph(g, snap); err != nil {
		t.Fatalf("hydrateGraph: %v", err)
	}

	res, ok := g.Get(room)
	if !ok {
		t.Fatal("room was not hydrated into the graph")
	}
	if res.Payload.(*graph.Room).Name != "Living Room" {
		t.Errorf("room name = %q, want Living Room", res.Payload.(*graph.Room).Name)
	}

	out := extractSnapshot(g, snap.Bridge)
	if len(out.Rooms) != 1 || out.Rooms[0].Handle != room.String() {
		t.Fatalf("extractSnapshot rooms = %+v", out.Rooms)
	}
	if out.Bridge != snap.Bridge {
		t.Errorf("extractSnapshot bridge = %+v, want %+v", out.Bridge, snap.Bridge)
	}
}

func TestHydrateGraphStubsDeviceBackedReferences(t *testing.T) {
	log := graph.NewChangeLog()
	g := graph.New(log)

	// The room's device and the entertainment configuration's light come
	// from gateway inventory, which has not run yet; hydration must still
	// commit the whole snapshot without a dangling reference.
	device := graph.NewHandle(graph.TypeDevice, "gw-1:0x0017880109abcdef")
	light := graph.NewHandle(graph.TypeLight, "gw-1:0x0017880109abcdef:1")
	room := graph.NewHandle(graph.TypeRoom, "living-room")
	entcfg := graph.NewHandle(graph.TypeEntertainmentConfig, "tv-sync")

	snap := persist.Snapshot{
		Rooms: []persist.RoomRecord{
			{Handle: room.String(), Name: "Living Room", Children: []string{device.String()}},
		},
		Entertainment: []persist.EntertainmentRecord{
			{Handle: entcfg.String(), Name: "TV Sync", Members: []persist.EntertainmentMemberRecord{
				{Light: light.String(), VirtualAddrs: []uint16{0xD297}},
			}},
		},
	}

	if err := hydrateGraph(g, snap); err != nil {
		t.Fatalf("hydrateGraph: %v", err)
	}

	if _, ok := g.Get(device); !ok {
		t.Error("referenced device was not hydrated as a placeholder")
	}
	lres, ok := g.Get(light)
	if !ok {
		t.Fatal("referenced light was not hydrated as a placeholder")
	}
	if err := lres.Payload.Validate(); err != nil {
		t.Errorf("placeholder light does not validate: %v", err)
	}

	// Inventory landing on the same derived handle overwrites the stub.
	if _, err := g.Upsert(light, &graph.Light{Name: "Hue play", Brightness: 50, Effect: graph.EffectNone}); err != nil {
		t.Fatalf("Upsert over placeholder: %v", err)
	}
	lres, _ = g.Get(light)
	if lres.Payload.(*graph.Light).Name != "Hue play" {
		t.Error("inventory upsert did not replace the placeholder payload")
	}
}

func TestHydrateGraphAppliesPersistedNamesAndExtractRoundTrips(t *testing.T) {
	log := graph.NewChangeLog()
	g := graph.New(log)

	light := graph.NewHandle(graph.TypeLight, "gw-1:0xabc:1")
	snap := persist.Snapshot{
		Names: map[string]string{light.String(): "Couch Lamp"},
	}

	if err := hydrateGraph(g, snap); err != nil {
		t.Fatalf("hydrateGraph: %v", err)
	}

	res, ok := g.Get(light)
	if !ok {
		t.Fatal("named light was not hydrated as a placeholder")
	}
	if res.Payload.(*graph.Light).Name != "Couch Lamp" {
		t.Errorf("placeholder name = %q, want Couch Lamp", res.Payload.(*graph.Light).Name)
	}

	out := extractSnapshot(g, persist.BridgeIdentity{})
	if out.Names[light.String()] != "Couch Lamp" {
		t.Errorf("extractSnapshot names = %+v, want the persisted rename carried through", out.Names)
	}
}

func TestExtractSnapshotSkipsGatewaySourcedGroups(t *testing.T) {
	log := graph.NewChangeLog()
	g := graph.New(log)

	gatewayGroup := graph.NewHandle(graph.TypeGroup, "upstream-group")
	if _, err := g.Upsert(gatewayGroup, &graph.Group{Name: "Kitchen", Gateway: "gw-1"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	userGroup := graph.NewHandle(graph.TypeGroup, "user-group")
	if _, err := g.Upsert(userGroup, &graph.Group{Name: "Custom"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	out := extractSnapshot(g, persist.BridgeIdentity{})
	if len(out.Groups) != 1 || out.Groups[0].Name != "Custom" {
		t.Errorf("extractSnapshot groups = %+v, want only the user-authored group", out.Groups)
	}
}

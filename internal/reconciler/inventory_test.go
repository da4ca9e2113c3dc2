package reconciler

import (
	"testing"
	"time"

	"github.com/huebridged/bridge/internal/graph"
)

func newTestSession(t *testing.T) (*graph.Graph, GatewayConfig, map[string]deviceLink, map[graph.Handle]string) {
	t.Helper()
	g := graph.New(graph.NewChangeLog())
	cfg := GatewayConfig{Name: "hub1"}
	return g, cfg, make(map[string]deviceLink), make(map[graph.Handle]string)
}

func TestApplyInventoryCreatesDevicesAndLights(t *testing.T) {
	g, cfg, devices, lightToUpstream := newTestSession(t)

	inv := inventoryPayload{Devices: []inventoryDevice{
		{ID: "up-1", Name: "Kitchen", Signature: "sig-1"},
		{ID: "up-2", Name: "Hallway", Signature: "sig-2"},
	}}

	if err := applyInventory(g, cfg, devices, lightToUpstream, inv); err != nil {
		t.Fatalf("applyInventory: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("devices = %d, want 2", len(devices))
	}
	link, ok := devices["up-1"]
	if !ok {
		t.Fatalf("missing link for up-1")
	}
	r, ok := g.Get(link.Light)
	if !ok {
		t.Fatalf("light not found in graph")
	}
	l := r.Payload.(*graph.Light)
	if l.Name != "Kitchen" {
		t.Errorf("Name = %q, want Kitchen", l.Name)
	}
	if lightToUpstream[link.Light] != "up-1" {
		t.Errorf("lightToUpstream[light] = %q, want up-1", lightToUpstream[link.Light])
	}
}

func TestApplyInventoryIsStableAcrossIdenticalRefresh(t *testing.T) {
	g, cfg, devices, lightToUpstream := newTestSession(t)
	inv := inventoryPayload{Devices: []inventoryDevice{{ID: "up-1", Name: "Kitchen", Signature: "sig-1"}}}

	if err := applyInventory(g, cfg, devices, lightToUpstream, inv); err != nil {
		t.Fatalf("first applyInventory: %v", err)
	}
	firstHandle := devices["up-1"].Light

	if err := applyInventory(g, cfg, devices, lightToUpstream, inv); err != nil {
		t.Fatalf("second applyInventory: %v", err)
	}
	if devices["up-1"].Light != firstHandle {
		t.Errorf("light handle changed across identical refresh")
	}
}

func TestApplyInventoryKeepsMissingDeviceDuringGracePeriod(t *testing.T) {
	g, cfg, devices, lightToUpstream := newTestSession(t)
	cfg.DeviceGracePeriod = time.Hour
	inv := inventoryPayload{Devices: []inventoryDevice{
		{ID: "up-1", Name: "Kitchen", Signature: "sig-1"},
		{ID: "up-2", Name: "Hallway", Signature: "sig-2"},
	}}
	if err := applyInventory(g, cfg, devices, lightToUpstream, inv); err != nil {
		t.Fatalf("applyInventory: %v", err)
	}
	gone := devices["up-2"]

	inv2 := inventoryPayload{Devices: []inventoryDevice{{ID: "up-1", Name: "Kitchen", Signature: "sig-1"}}}
	if err := applyInventory(g, cfg, devices, lightToUpstream, inv2); err != nil {
		t.Fatalf("second applyInventory: %v", err)
	}

	link, ok := devices["up-2"]
	if !ok {
		t.Fatalf("up-2 dropped from tracking before its grace period elapsed")
	}
	if link.missingSince.IsZero() {
		t.Errorf("missingSince not recorded on first miss")
	}
	if _, ok := g.Get(gone.Light); !ok {
		t.Errorf("light for up-2 deleted before its grace period elapsed")
	}
}

func TestApplyInventoryRemovesDevicesAfterGracePeriodExpires(t *testing.T) {
	g, cfg, devices, lightToUpstream := newTestSession(t)
	cfg.DeviceGracePeriod = 10 * time.Millisecond
	inv := inventoryPayload{Devices: []inventoryDevice{
		{ID: "up-1", Name: "Kitchen", Signature: "sig-1"},
		{ID: "up-2", Name: "Hallway", Signature: "sig-2"},
	}}
	if err := applyInventory(g, cfg, devices, lightToUpstream, inv); err != nil {
		t.Fatalf("applyInventory: %v", err)
	}
	gone := devices["up-2"]

	inv2 := inventoryPayload{Devices: []inventoryDevice{{ID: "up-1", Name: "Kitchen", Signature: "sig-1"}}}
	if err := applyInventory(g, cfg, devices, lightToUpstream, inv2); err != nil {
		t.Fatalf("second applyInventory: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if err := applyInventory(g, cfg, devices, lightToUpstream, inv2); err != nil {
		t.Fatalf("third applyInventory: %v", err)
	}

	if _, ok := devices["up-2"]; ok {
		t.Errorf("up-2 still tracked after its grace period elapsed")
	}
	if _, ok := g.Get(gone.Light); ok {
		t.Errorf("light for up-2 still present in graph")
	}
	if _, ok := g.Get(gone.Device); ok {
		t.Errorf("device for up-2 still present in graph")
	}
}

func TestApplyInventoryRefreshKeepsLiveLightState(t *testing.T) {
	g, cfg, devices, lightToUpstream := newTestSession(t)
	inv := inventoryPayload{Devices: []inventoryDevice{{ID: "up-1", Name: "Kitchen", Signature: "sig-1"}}}
	if err := applyInventory(g, cfg, devices, lightToUpstream, inv); err != nil {
		t.Fatalf("applyInventory: %v", err)
	}
	link := devices["up-1"]

	// A live state event lands between two fetches.
	r, _ := g.Get(link.Light)
	live := *r.Payload.(*graph.Light)
	live.On = true
	live.Brightness = 73
	if _, err := g.Upsert(link.Light, &live); err != nil {
		t.Fatalf("Upsert live state: %v", err)
	}

	if err := applyInventory(g, cfg, devices, lightToUpstream, inv); err != nil {
		t.Fatalf("refresh applyInventory: %v", err)
	}
	r, _ = g.Get(link.Light)
	got := r.Payload.(*graph.Light)
	if !got.On || got.Brightness != 73 {
		t.Errorf("refresh reset live state: on=%v brightness=%v", got.On, got.Brightness)
	}
}

func TestApplyInventoryRefreshKeepsClientRename(t *testing.T) {
	g, cfg, devices, lightToUpstream := newTestSession(t)
	inv := inventoryPayload{Devices: []inventoryDevice{{ID: "up-1", Name: "Kitchen", Signature: "sig-1"}}}
	if err := applyInventory(g, cfg, devices, lightToUpstream, inv); err != nil {
		t.Fatalf("applyInventory: %v", err)
	}
	link := devices["up-1"]

	r, _ := g.Get(link.Light)
	renamed := *r.Payload.(*graph.Light)
	renamed.Name = "Breakfast Nook"
	if _, err := g.Upsert(link.Light, &renamed); err != nil {
		t.Fatalf("Upsert rename: %v", err)
	}

	if err := applyInventory(g, cfg, devices, lightToUpstream, inv); err != nil {
		t.Fatalf("refresh applyInventory: %v", err)
	}
	r, _ = g.Get(link.Light)
	if got := r.Payload.(*graph.Light).Name; got != "Breakfast Nook" {
		t.Errorf("refresh reset rename: name = %q, want Breakfast Nook", got)
	}
}

func TestApplyInventoryRemovesStaleGatewayGroups(t *testing.T) {
	g, cfg, devices, lightToUpstream := newTestSession(t)
	inv := inventoryPayload{
		Devices: []inventoryDevice{{ID: "up-1", Name: "Kitchen", Signature: "sig-1"}},
		Groups:  []inventoryGroup{{ID: "g1", Name: "Downstairs", MemberIDs: []string{"up-1"}}},
	}
	if err := applyInventory(g, cfg, devices, lightToUpstream, inv); err != nil {
		t.Fatalf("applyInventory: %v", err)
	}
	userGroup := graph.NewHandle(graph.TypeGroup, "user-authored")
	if _, err := g.Upsert(userGroup, &graph.Group{Name: "Mine"}); err != nil {
		t.Fatalf("Upsert user group: %v", err)
	}

	inv2 := inventoryPayload{Devices: inv.Devices}
	if err := applyInventory(g, cfg, devices, lightToUpstream, inv2); err != nil {
		t.Fatalf("second applyInventory: %v", err)
	}

	stale := graph.NewHandle(graph.TypeGroup, cfg.Name+":g1")
	if _, ok := g.Get(stale); ok {
		t.Errorf("gateway group still present after upstream stopped reporting it")
	}
	if _, ok := g.Get(userGroup); !ok {
		t.Errorf("user-authored group was deleted by the gateway diff")
	}
}

func TestApplyInventoryDeleteStripsUserAuthoredReferences(t *testing.T) {
	g, cfg, devices, lightToUpstream := newTestSession(t)
	cfg.DeviceGracePeriod = time.Nanosecond
	inv := inventoryPayload{Devices: []inventoryDevice{
		{ID: "up-1", Name: "Kitchen", Signature: "sig-1"},
		{ID: "up-2", Name: "Hallway", Signature: "sig-2"},
	}}
	if err := applyInventory(g, cfg, devices, lightToUpstream, inv); err != nil {
		t.Fatalf("applyInventory: %v", err)
	}
	keep := devices["up-1"]
	gone := devices["up-2"]

	room := graph.NewHandle(graph.TypeRoom, "hall")
	if _, err := g.Upsert(room, &graph.Room{Name: "Hall", Children: []graph.Handle{keep.Device, gone.Device}}); err != nil {
		t.Fatalf("Upsert room: %v", err)
	}

	inv2 := inventoryPayload{Devices: []inventoryDevice{{ID: "up-1", Name: "Kitchen", Signature: "sig-1"}}}
	if err := applyInventory(g, cfg, devices, lightToUpstream, inv2); err != nil {
		t.Fatalf("second applyInventory (mark missing): %v", err)
	}
	time.Sleep(time.Millisecond)
	if err := applyInventory(g, cfg, devices, lightToUpstream, inv2); err != nil {
		t.Fatalf("third applyInventory (delete): %v", err)
	}

	if _, ok := g.Get(gone.Device); ok {
		t.Fatalf("device for up-2 still present in graph")
	}
	r, ok := g.Get(room)
	if !ok {
		t.Fatalf("room deleted alongside its device")
	}
	children := r.Payload.(*graph.Room).Children
	if len(children) != 1 || children[0] != keep.Device {
		t.Errorf("room children = %v, want only the surviving device", children)
	}
}

func TestApplyInventoryFiltersGroupsByPrefix(t *testing.T) {
	g, cfg, devices, lightToUpstream := newTestSession(t)
	cfg.GroupPrefix = "hb-"
	inv := inventoryPayload{
		Devices: []inventoryDevice{{ID: "up-1", Name: "Kitchen", Signature: "sig-1"}},
		Groups: []inventoryGroup{
			{ID: "g1", Name: "hb-Downstairs", MemberIDs: []string{"up-1"}},
			{ID: "g2", Name: "Upstairs", MemberIDs: []string{"up-1"}},
		},
	}
	if err := applyInventory(g, cfg, devices, lightToUpstream, inv); err != nil {
		t.Fatalf("applyInventory: %v", err)
	}

	groups := g.List(graph.TypeGroup)
	if len(groups) != 1 {
		t.Fatalf("groups = %d, want 1 (prefix filter should drop Upstairs)", len(groups))
	}
	gr := groups[0].Payload.(*graph.Group)
	if gr.Name != "Downstairs" {
		t.Errorf("Name = %q, want Downstairs (prefix stripped)", gr.Name)
	}
}

package persist

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsFreshSnapshot(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "snapshot.yaml"))
	snap, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.SchemaVersion != currentSchemaVersion {
		t.Errorf("SchemaVersion = %d, want %d", snap.SchemaVersion, currentSchemaVersion)
	}
	if len(snap.Rooms) != 0 {
		t.Errorf("fresh snapshot should have no rooms, got %d", len(snap.Rooms))
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.yaml")
	store := NewStore(path)

	snap := Snapshot{
		Bridge: BridgeIdentity{BridgeID: "001788fffe12ab34", MAC: "00:17:88:12:ab:34"},
		Rooms: []RoomRecord{
			{Handle: "room/abc", Name: "Living Room", Archetype: "living_room", Children: []string{"device/1", "device/2"}},
		},
		Scenes: []SceneRecord{
			{
				Handle: "scene/xyz",
				Name:   "Relax",
				Group:  "zone/1",
				Captures: []SceneLightCapture{
					{Light: "light/1", Brightness: 40, On: true, ColorMode: "xy", Effect: "none"},
				},
			},
		},
		Entertainment: []EntertainmentRecord{
			{
				Handle: "entertainment_configuration/1",
				Name:   "TV",
				Members: []EntertainmentMemberRecord{
					{Light: "light/1", VirtualAddrs: []uint16{0x1001, 0x1002}},
				},
			},
		},
		Names: map[string]string{"light/1": "Couch Lamp"},
	}

	if err := store.Save(snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.Bridge.BridgeID != snap.Bridge.BridgeID {
		t.Errorf("BridgeID = %q, want %q", loaded.Bridge.BridgeID, snap.Bridge.BridgeID)
	}
	if len(loaded.Rooms) != 1 || loaded.Rooms[0].Name != "Living Room" {
		t.Fatalf("Rooms = %+v, want one Living Room record", loaded.Rooms)
	}
	if len(loaded.Rooms[0].Children) != 2 {
		t.Errorf("room children = %d, want 2", len(loaded.Rooms[0].Children))
	}
	if len(loaded.Scenes) != 1 || len(loaded.Scenes[0].Captures) != 1 {
		t.Fatalf("Scenes = %+v, want one scene with one capture", loaded.Scenes)
	}
	if loaded.Entertainment[0].Members[0].VirtualAddrs[1] != 0x1002 {
		t.Errorf("virtual addr round trip failed: %+v", loaded.Entertainment[0].Members)
	}
	if loaded.Names["light/1"] != "Couch Lamp" {
		t.Errorf("Names[light/1] = %q, want Couch Lamp", loaded.Names["light/1"])
	}
}

func TestLoadRejectsNewerSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.yaml")
	if err := os.WriteFile(path, []byte("schema_version: 999\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	store := NewStore(path)
	if _, err := store.Load(); err == nil {
		t.Fatal("expected error loading a snapshot from a newer schema version")
	}
}

func TestSaveLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "snapshot.yaml"))

	if err := store.Save(Snapshot{}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("dir has %d entries after Save, want 1 (just the snapshot)", len(entries))
	}
}

package persist

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/huebridged/bridge/internal/graph"
)

// currentSchemaVersion is bumped whenever Snapshot's shape changes in a
// way that would misread under an older loader. Loaders reject a
// snapshot whose version they don't recognize rather than guess at a
// migration.
const currentSchemaVersion = 1

// Snapshot is the bridge's durable state: its own identity and the
// subset of the resource graph a user authored directly (rooms, zones,
// scenes, entertainment configurations, and any renames)
// rather than state mirrored from an upstream gateway. Device-backed
// resources are rebuilt from gateway inventory on every reconnect and
// are never part of the snapshot.
//
// graph.Resource.Payload is an interface and graph.Handle wraps a
// uuid.UUID that yaml.v3 has no reason to know
// how to round-trip; the snapshot represents every handle by its string
// form (handle.String(), "type/uuid") and holds one typed slice per
// user-authored resource kind instead of a generic []graph.Resource.
// internal/app is responsible for resolving these strings back to
// graph.Handle when rehydrating the graph on load.
type Snapshot struct {
	SchemaVersion int                   `yaml:"schema_version"`
	Bridge        BridgeIdentity        `yaml:"bridge"`
	Rooms         []RoomRecord          `yaml:"rooms,omitempty"`
	Zones         []ZoneRecord          `yaml:"zones,omitempty"`
	Groups        []GroupRecord         `yaml:"groups,omitempty"`
	Scenes        []SceneRecord         `yaml:"scenes,omitempty"`
	Entertainment []EntertainmentRecord `yaml:"entertainment_configurations,omitempty"`
	Names         map[string]string     `yaml:"names,omitempty"` // handle string -> user-overridden name
}

// RoomRecord persists one user-authored graph.Room.
type RoomRecord struct {
	Handle    string   `yaml:"handle"`
	Name      string   `yaml:"name"`
	Archetype string   `yaml:"archetype"`
	Children  []string `yaml:"children"`
}

// ZoneRecord persists one user-authored graph.Zone.
type ZoneRecord struct {
	Handle    string   `yaml:"handle"`
	Name      string   `yaml:"name"`
	Archetype string   `yaml:"archetype"`
	Children  []string `yaml:"children"`
}

// GroupRecord persists one user-authored graph.Group (Gateway == "";
// gateway-sourced groups are rebuilt from inventory, never persisted).
type GroupRecord struct {
	Handle string   `yaml:"handle"`
	Name   string   `yaml:"name"`
	Lights []string `yaml:"lights"`
}

// SceneLightCapture is one light's captured state within a scene.
type SceneLightCapture struct {
	Light      string   `yaml:"light"`
	Brightness float64  `yaml:"brightness"`
	On         bool     `yaml:"on"`
	ColorMode  string   `yaml:"color_mode"`
	ColorXY    graph.XY `yaml:"color_xy"`
	Mirek      uint16   `yaml:"mirek"`
	Effect     string   `yaml:"effect"`
}

// SceneRecord persists one graph.Scene, including its captured light
// states.
type SceneRecord struct {
	Handle   string              `yaml:"handle"`
	Name     string              `yaml:"name"`
	Group    string              `yaml:"group"`
	Captures []SceneLightCapture `yaml:"captures"`
}

// EntertainmentMemberRecord persists one entertainment configuration
// member's cached per-segment virtual addresses, so a restart doesn't
// have to rediscover them before the first stream.
type EntertainmentMemberRecord struct {
	Light        string   `yaml:"light"`
	VirtualAddrs []uint16 `yaml:"virtual_addrs"`
}

// EntertainmentRecord persists one graph.EntertainmentConfiguration.
type EntertainmentRecord struct {
	Handle  string                      `yaml:"handle"`
	Name    string                      `yaml:"name"`
	Members []EntertainmentMemberRecord `yaml:"members"`
}

// BridgeIdentity is the bridge's own persisted identity, generated once
// on first run and then held fixed for the life of the installation.
type BridgeIdentity struct {
	BridgeID        string `yaml:"bridge_id"`
	MAC             string `yaml:"mac"`
	CertFingerprint string `yaml:"cert_fingerprint"`
}

// Store is a single YAML-file-backed snapshot, rewritten atomically on
// every Save (write-temp, fsync, rename) and gated by schema_version on
// load.
type Store struct {
	path string
}

// NewStore returns a Store reading and writing the snapshot at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the snapshot from disk. A missing file is not an error: it
// returns a zero-value Snapshot stamped with the current schema version,
// the shape of a brand new bridge on its first boot.
func (s *Store) Load() (Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Snapshot{SchemaVersion: currentSchemaVersion}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}

	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("parse snapshot: %w", err)
	}
	if snap.SchemaVersion > currentSchemaVersion {
		return Snapshot{}, fmt.Errorf("snapshot schema_version %d is newer than this build supports (%d)",
			snap.SchemaVersion, currentSchemaVersion)
	}
	return snap, nil
}

// Save writes snap to disk atomically: marshal to a temp file in the
// same directory, fsync it, then rename over the target path, so a
// crash mid-write never leaves a truncated or partially-written
// snapshot behind.
func (s *Store) Save(snap Snapshot) error {
	snap.SchemaVersion = currentSchemaVersion

	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp snapshot file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync temp snapshot file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename temp snapshot into place: %w", err)
	}
	return nil
}

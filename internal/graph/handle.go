// Package graph holds the in-memory, typed, versioned, referentially
// consistent resource graph and its change log: the single source of
// truth every REST read, SSE push, and reconciler mutation goes through.
package graph

import (
	"github.com/google/uuid"
)

// ResourceType is the closed set of Hue v2 resource type tags.
type ResourceType string

const (
	TypeBridge               ResourceType = "bridge"
	TypeBridgeHome           ResourceType = "bridge_home"
	TypeDevice               ResourceType = "device"
	TypeRoom                 ResourceType = "room"
	TypeZone                 ResourceType = "zone"
	TypeGroup                ResourceType = "group"
	TypeLight                ResourceType = "light"
	TypeButton               ResourceType = "button"
	TypeMotion               ResourceType = "motion"
	TypeTemperature          ResourceType = "temperature"
	TypeScene                ResourceType = "scene"
	TypeEntertainment        ResourceType = "entertainment"
	TypeEntertainmentConfig  ResourceType = "entertainment_configuration"
	TypeGeofenceClient       ResourceType = "geofence_client"
	TypeBehaviorScript       ResourceType = "behavior_script"
	TypeBehaviorInstance     ResourceType = "behavior_instance"
	TypeZigbeeConnectivity   ResourceType = "zigbee_connectivity"
)

// validTypes is the closed set of recognized tags; ValidType rejects
// anything outside it rather than silently accepting new ones.
var validTypes = map[ResourceType]bool{
	TypeBridge:              true,
	TypeBridgeHome:          true,
	TypeDevice:              true,
	TypeRoom:                true,
	TypeZone:                true,
	TypeGroup:               true,
	TypeLight:               true,
	TypeButton:              true,
	TypeMotion:              true,
	TypeTemperature:         true,
	TypeScene:               true,
	TypeEntertainment:       true,
	TypeEntertainmentConfig: true,
	TypeGeofenceClient:      true,
	TypeBehaviorScript:      true,
	TypeBehaviorInstance:    true,
	TypeZigbeeConnectivity:  true,
}

// ValidType reports whether t is one of the closed resource-type tags.
func ValidType(t ResourceType) bool { return validTypes[t] }

// Handle is the pair (resource type, 128-bit id) uniquely naming a
// resource.
type Handle struct {
	Type ResourceType
	ID   uuid.UUID
}

func (h Handle) String() string { return string(h.Type) + "/" + h.ID.String() }

// IsZero reports whether h is the unset handle, used to mark an optional
// reference field as absent rather than dangling.
func (h Handle) IsZero() bool { return h.Type == "" && h.ID == uuid.Nil }

// bridgeNamespace is the fixed namespace UUID every resource identifier
// is derived against, so that restart preserves identity for a device
// with an unchanged upstream signature.
var bridgeNamespace = uuid.MustParse("b96b2c58-eb0b-4a63-8e6e-df9a9ff5d201")

// DeriveID deterministically derives a resource's stable 128-bit
// identifier from its type and the upstream device's unique signature
// (e.g. a Zigbee IEEE address or gateway-scoped device id). The same
// (resourceType, signature) pair always yields the same id, so a
// restarted bridge re-adopts the same identity for devices it has seen
// before.
func DeriveID(resourceType ResourceType, signature string) uuid.UUID {
	return uuid.NewSHA1(bridgeNamespace, []byte(string(resourceType)+":"+signature))
}

// NewHandle derives a Handle for a resource type and upstream signature.
func NewHandle(resourceType ResourceType, signature string) Handle {
	return Handle{Type: resourceType, ID: DeriveID(resourceType, signature)}
}

// NewRandomHandle mints a fresh Handle for a user-authored resource that
// has no upstream signature to derive an identity from (a client
// POSTing a new scene, room, zone, or entertainment configuration).
// Unlike NewHandle, restarting the bridge does not
// re-derive this id; the persisted snapshot carries it instead.
func NewRandomHandle(resourceType ResourceType) Handle {
	return Handle{Type: resourceType, ID: uuid.New()}
}

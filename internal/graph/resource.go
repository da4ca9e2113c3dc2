package graph

import (
	"github.com/huebridged/bridge/internal/huerr"
)

// Effect is the closed set of light effects.
type Effect string

const (
	EffectNone       Effect = "none"
	EffectCandle     Effect = "candle"
	EffectFireplace  Effect = "fireplace"
	EffectPrism      Effect = "prism"
	EffectSparkle    Effect = "sparkle"
	EffectOpal       Effect = "opal"
	EffectGlisten    Effect = "glisten"
	EffectUnderwater Effect = "underwater"
	EffectCosmos     Effect = "cosmos"
	EffectSunbeam    Effect = "sunbeam"
	EffectEnchant    Effect = "enchant"
	EffectSunrise    Effect = "sunrise"
)

var validEffects = map[Effect]bool{
	EffectNone: true, EffectCandle: true, EffectFireplace: true, EffectPrism: true,
	EffectSparkle: true, EffectOpal: true, EffectGlisten: true, EffectUnderwater: true,
	EffectCosmos: true, EffectSunbeam: true, EffectEnchant: true, EffectSunrise: true,
}

// ColorMode records which color representation a light most recently
// set. Exactly one of xy/temperature is current at a time; both values
// are retained.
type ColorMode string

const (
	ColorModeXY          ColorMode = "xy"
	ColorModeTemperature ColorMode = "temperature"
)

// XY is a chromaticity coordinate pair, gamut-scaled (x in [0,0.7347],
// y in [0,0.8264] per internal/codec/gamut).
type XY struct {
	X, Y float64
}

// GradientPoint is one stop in a light's gradient.
type GradientPoint struct {
	Color XY
}

// Gradient is present iff the light advertises gradient capability.
type Gradient struct {
	Points     []GradientPoint
	SegmentCap int // the device's declared segment count
}

// Payload is the per-type arm of the resource tagged union. Each
// resource type's behavior (validate, enumerate references) lives on its
// own arm rather than behind type switches scattered through the graph.
type Payload interface {
	Type() ResourceType
	References() []Handle
	Validate() error
}

// Light is the payload for a `light` resource.
type Light struct {
	Owner           Handle // the device this light belongs to
	Name            string
	On              bool
	Brightness      float64 // percent, [1,100]
	ColorMode       ColorMode
	ColorXY         XY
	ColorTempMirek  uint16
	Effect          Effect
	EffectSpeed     float64
	FadeSpeedMillis uint32
	Gradient        *Gradient
}

func (l *Light) Type() ResourceType   { return TypeLight }
func (l *Light) References() []Handle { return []Handle{l.Owner} }

func (l *Light) Validate() error {
	if l.Brightness < 1 || l.Brightness > 100 {
		return huerr.New(huerr.ReferenceViolation, "light brightness out of range [1,100]")
	}
	if !validEffects[l.Effect] {
		return huerr.New(huerr.ReferenceViolation, "light effect not in closed enum")
	}
	if l.Gradient != nil {
		if len(l.Gradient.Points) > 9 {
			return huerr.New(huerr.ReferenceViolation, "gradient point count exceeds 9")
		}
		if l.Gradient.SegmentCap > 0 && len(l.Gradient.Points) > l.Gradient.SegmentCap {
			return huerr.New(huerr.ReferenceViolation, "gradient point count exceeds device segment count")
		}
	}
	return nil
}

// Device is the payload for a `device` resource: the logical owner of
// one or more service resources (light, button, motion, ...).
type Device struct {
	Name       string
	Signature  string // upstream unique identifier this device was derived from
	Services   []Handle
	GatewayTag string // which reconciler session owns this device
}

func (d *Device) Type() ResourceType   { return TypeDevice }
func (d *Device) References() []Handle { return d.Services }
func (d *Device) Validate() error      { return nil }

// Room groups devices spatially; user-authored.
type Room struct {
	Name      string
	Archetype string
	Children  []Handle // device handles
}

func (r *Room) Type() ResourceType   { return TypeRoom }
func (r *Room) References() []Handle { return r.Children }
func (r *Room) Validate() error      { return nil }

// Zone groups lights logically, independent of physical room; user-authored.
type Zone struct {
	Name      string
	Archetype string
	Children  []Handle // light (or group) handles
}

func (z *Zone) Type() ResourceType   { return TypeZone }
func (z *Zone) References() []Handle { return z.Children }
func (z *Zone) Validate() error      { return nil }

// Group is the grouped-control surface over a room or zone's lights,
// including upstream-gateway groups exposed through the name-prefix
// filter.
type Group struct {
	Name    string
	Lights  []Handle
	Gateway string // owning gateway tag, empty for user-authored groups
}

func (g *Group) Type() ResourceType   { return TypeGroup }
func (g *Group) References() []Handle { return g.Lights }
func (g *Group) Validate() error      { return nil }

// Scene is a user-authored snapshot of light states, recallable onto a
// group.
type Scene struct {
	Name     string
	Group    Handle
	Captures map[Handle]Light
}

func (s *Scene) Type() ResourceType { return TypeScene }
func (s *Scene) References() []Handle {
	refs := make([]Handle, 0, len(s.Captures)+1)
	refs = append(refs, s.Group)
	for h := range s.Captures {
		refs = append(refs, h)
	}
	return refs
}
func (s *Scene) Validate() error { return nil }

// EntertainmentMember is one light participating in an entertainment
// configuration, with its segment's cached virtual address.
type EntertainmentMember struct {
	Light        Handle
	VirtualAddrs []uint16 // one per segment, cache populated by C4
}

// EntertainmentConfiguration is a persistent grouping of lights and
// their segment virtual addresses used by one entertainment session.
// Active records whether a client has started streaming on this
// configuration with a start action and not yet stopped it, matching
// the real v2 API's status field. Nothing prevents several
// configurations from being active at the same time.
type EntertainmentConfiguration struct {
	Name    string
	Active  bool
	Members []EntertainmentMember
}

func (e *EntertainmentConfiguration) Type() ResourceType { return TypeEntertainmentConfig }
func (e *EntertainmentConfiguration) References() []Handle {
	refs := make([]Handle, len(e.Members))
	for i, m := range e.Members {
		refs[i] = m.Light
	}
	return refs
}
func (e *EntertainmentConfiguration) Validate() error { return nil }

// Entertainment is the service resource advertising a light's
// entertainment streaming capability.
type Entertainment struct {
	Owner        Handle
	SegmentCount int
}

func (e *Entertainment) Type() ResourceType   { return TypeEntertainment }
func (e *Entertainment) References() []Handle { return []Handle{e.Owner} }
func (e *Entertainment) Validate() error      { return nil }

// Bridge is the single bridge resource.
type Bridge struct {
	Name      string
	MAC       string
	BridgeID  string
	SWVersion string
}

func (b *Bridge) Type() ResourceType   { return TypeBridge }
func (b *Bridge) References() []Handle { return nil }
func (b *Bridge) Validate() error      { return nil }

// BridgeHome is the root grouping resource every top-level room/zone
// ultimately rolls up into.
type BridgeHome struct {
	Children []Handle
}

func (b *BridgeHome) Type() ResourceType   { return TypeBridgeHome }
func (b *BridgeHome) References() []Handle { return b.Children }
func (b *BridgeHome) Validate() error      { return nil }

// Button is a service resource reporting the last button event.
type Button struct {
	Owner     Handle
	LastEvent string
}

func (b *Button) Type() ResourceType   { return TypeButton }
func (b *Button) References() []Handle { return []Handle{b.Owner} }
func (b *Button) Validate() error      { return nil }

// Motion is a service resource reporting occupancy.
type Motion struct {
	Owner  Handle
	Motion bool
	Valid  bool
}

func (m *Motion) Type() ResourceType   { return TypeMotion }
func (m *Motion) References() []Handle { return []Handle{m.Owner} }
func (m *Motion) Validate() error      { return nil }

// Temperature is a service resource reporting ambient temperature.
type Temperature struct {
	Owner      Handle
	MirekValue float64
	Valid      bool
}

func (t *Temperature) Type() ResourceType   { return TypeTemperature }
func (t *Temperature) References() []Handle { return []Handle{t.Owner} }
func (t *Temperature) Validate() error      { return nil }

// GeofenceClient is a user/mobile-app presence record.
type GeofenceClient struct {
	Name string
}

func (g *GeofenceClient) Type() ResourceType   { return TypeGeofenceClient }
func (g *GeofenceClient) References() []Handle { return nil }
func (g *GeofenceClient) Validate() error      { return nil }

// BehaviorScript is a read-only catalog entry for an installable behavior.
type BehaviorScript struct {
	Name string
}

func (b *BehaviorScript) Type() ResourceType   { return TypeBehaviorScript }
func (b *BehaviorScript) References() []Handle { return nil }
func (b *BehaviorScript) Validate() error      { return nil }

// BehaviorInstance is a configured instance of a BehaviorScript.
type BehaviorInstance struct {
	Script Handle
	Name   string
}

func (b *BehaviorInstance) Type() ResourceType   { return TypeBehaviorInstance }
func (b *BehaviorInstance) References() []Handle { return []Handle{b.Script} }
func (b *BehaviorInstance) Validate() error      { return nil }

// ZigbeeConnectivity is a service resource reporting a device's
// upstream link status.
type ZigbeeConnectivity struct {
	Owner  Handle
	Status string
}

func (z *ZigbeeConnectivity) Type() ResourceType   { return TypeZigbeeConnectivity }
func (z *ZigbeeConnectivity) References() []Handle { return []Handle{z.Owner} }
func (z *ZigbeeConnectivity) Validate() error      { return nil }

// Resource is one versioned node in the graph: a handle, its current
// version, and its typed payload.
type Resource struct {
	Handle  Handle
	Version uint64
	Payload Payload
}

package reconciler

import (
	"encoding/hex"
	"encoding/json"

	"github.com/huebridged/bridge/internal/codec/combinedstate"
	"github.com/huebridged/bridge/internal/graph"
	"github.com/huebridged/bridge/internal/huerr"
)

// LightIntent describes the subset of a light's desired state a client
// request or scene recall is asking to change; nil fields are left
// untouched, mirroring the v2 JSON PUT merge-patch semantics at the
// wire-translation layer.
type LightIntent struct {
	On            *bool
	Brightness    *float64
	ColorXY       *graph.XY
	ColorMirek    *uint16
	FadeSpeed     *uint32
	Effect        *graph.Effect
	EffectSpeed   *float64
	Gradient      *graph.Gradient
	GradientStyle *combinedstate.GradientStyle
}

// trivial reports whether in touches only fields the gateway's native
// "set" message carries; anything else requires a raw combined-state
// frame.
func (in LightIntent) trivial() bool {
	return in.FadeSpeed == nil && in.Effect == nil && in.EffectSpeed == nil &&
		in.Gradient == nil && in.GradientStyle == nil
}

type setMessagePayload struct {
	ID         string   `json:"id"`
	On         *bool    `json:"on,omitempty"`
	Brightness *float64 `json:"brightness,omitempty"`
	Mirek      *int     `json:"mirek,omitempty"`
	X          *float64 `json:"x,omitempty"`
	Y          *float64 `json:"y,omitempty"`
}

type rawCommandPayload struct {
	ID      string `json:"id"`
	Cluster int    `json:"cluster"`
	Command int    `json:"command"`
	HexData string `json:"hex_data"`
}

var effectToZigbee = map[graph.Effect]combinedstate.EffectType{
	graph.EffectNone:       combinedstate.EffectNone,
	graph.EffectCandle:     combinedstate.EffectCandle,
	graph.EffectFireplace:  combinedstate.EffectFireplace,
	graph.EffectPrism:      combinedstate.EffectPrism,
	graph.EffectSparkle:    combinedstate.EffectSparkle,
	graph.EffectOpal:       combinedstate.EffectOpal,
	graph.EffectGlisten:    combinedstate.EffectGlisten,
	graph.EffectUnderwater: combinedstate.EffectUnderwater,
	graph.EffectCosmos:     combinedstate.EffectCosmos,
	graph.EffectSunbeam:    combinedstate.EffectSunbeam,
	graph.EffectEnchant:    combinedstate.EffectEnchant,
	graph.EffectSunrise:    combinedstate.EffectSunrise,
}

// BuildEnvelope translates a light intent into the gateway JSON envelope
// it should be sent as: the native "set" message for trivial state, or a
// raw cluster-0xFC03 command-0 frame for anything combined-state-only.
func BuildEnvelope(upstreamID string, in LightIntent) (envelope, error) {
	if in.trivial() {
		return buildSetEnvelope(upstreamID, in)
	}
	return buildRawCombinedStateEnvelope(upstreamID, in)
}

func buildSetEnvelope(upstreamID string, in LightIntent) (envelope, error) {
	payload := setMessagePayload{ID: upstreamID, On: in.On, Brightness: in.Brightness}
	if in.ColorMirek != nil {
		m := int(*in.ColorMirek)
		payload.Mirek = &m
	}
	if in.ColorXY != nil {
		payload.X = &in.ColorXY.X
		payload.Y = &in.ColorXY.Y
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return envelope{}, err
	}
	return envelope{Topic: "device", Type: "set", Payload: raw}, nil
}

func buildRawCombinedStateEnvelope(upstreamID string, in LightIntent) (envelope, error) {
	frame := &combinedstate.Frame{}

	if in.On != nil {
		frame.OnOff = in.On
	}
	if in.Brightness != nil {
		b := percentToZigbeeBrightness(*in.Brightness)
		frame.Brightness = &b
	}
	if in.ColorMirek != nil {
		frame.ColorMirek = in.ColorMirek
	}
	if in.ColorXY != nil {
		frame.ColorXY = &combinedstate.ColorXY{X: in.ColorXY.X, Y: in.ColorXY.Y}
	}
	if in.FadeSpeed != nil {
		fs := uint16(*in.FadeSpeed)
		frame.FadeSpeed = &fs
	}
	if in.Effect != nil {
		et, ok := effectToZigbee[*in.Effect]
		if !ok {
			return envelope{}, huerr.New(huerr.MalformedFrame, "unknown effect name")
		}
		frame.EffectType = &et
	}
	if in.EffectSpeed != nil {
		es := uint8(*in.EffectSpeed*254 + 1)
		frame.EffectSpeed = &es
	}
	if in.Gradient != nil {
		style := combinedstate.GradientLinear
		if in.GradientStyle != nil {
			style = *in.GradientStyle
		}
		points := make([]combinedstate.ChromaPoint, len(in.Gradient.Points))
		for i, p := range in.Gradient.Points {
			points[i] = combinedstate.ChromaPoint{X: p.Color.X, Y: p.Color.Y}
		}
		frame.GradientColors = &combinedstate.GradientColors{Style: style, Colors: points}
	}

	wire, err := combinedstate.Serialize(frame)
	if err != nil {
		return envelope{}, err
	}

	payload := rawCommandPayload{ID: upstreamID, Cluster: 0xFC03, Command: 0, HexData: hex.EncodeToString(wire)}
	raw, err := json.Marshal(payload)
	if err != nil {
		return envelope{}, err
	}
	return envelope{Topic: "device", Type: "raw", Payload: raw}, nil
}

// buildEntertainmentEnvelope wraps a pre-serialized cluster-0xFC01
// command-1 frame (built by internal/codec/entertainment) in the
// gateway's raw-command envelope, used by the priority send path.
func buildEntertainmentEnvelope(upstreamID string, wire []byte) (envelope, error) {
	payload := rawCommandPayload{ID: upstreamID, Cluster: 0xFC01, Command: 1, HexData: hex.EncodeToString(wire)}
	raw, err := json.Marshal(payload)
	if err != nil {
		return envelope{}, err
	}
	return envelope{Topic: "device", Type: "raw", Payload: raw}, nil
}

// buildSegmentConfigureEnvelope wraps a pre-serialized cluster-0xFC01
// command-7 segment-map request in the gateway's raw-command envelope.
// The matching command-7 response arrives back on the same "device"/
// "raw_response" topic and is routed to the waiting ConfigureSegments
// call by Session.handleRawResponse.
func buildSegmentConfigureEnvelope(upstreamID string, wire []byte) (envelope, error) {
	payload := rawCommandPayload{ID: upstreamID, Cluster: 0xFC01, Command: 7, HexData: hex.EncodeToString(wire)}
	raw, err := json.Marshal(payload)
	if err != nil {
		return envelope{}, err
	}
	return envelope{Topic: "device", Type: "raw", Payload: raw}, nil
}

// percentToZigbeeBrightness converts the API's [1,100] percent value to
// the Zigbee [1,254] range.
func percentToZigbeeBrightness(pct float64) uint8 {
	if pct < 1 {
		pct = 1
	}
	if pct > 100 {
		pct = 100
	}
	v := 1 + (pct-1)/99*253
	return uint8(v + 0.5)
}

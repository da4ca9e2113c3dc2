// Package combinedstate implements bit-exact parsing and serialization of
// the manufacturer-specific Zigbee cluster 0xFC03 "combined state"
// command-0 frame: up to 9 light properties packed into a single
// command, each gated by a bit in a 16-bit header flag set.
//
// Parsing is total: every declared field is read in a fixed wire order
// regardless of the order its flag bit appears in, and any malformed or
// out-of-range field cleanly rejects the whole frame with a byte offset.
// Serialize is the exact inverse of Parse.
package combinedstate

import (
	"encoding/binary"

	"github.com/huebridged/bridge/internal/codec/gamut"
	"github.com/huebridged/bridge/internal/huerr"
)

// Flag is a single bit in the combined-state header.
type Flag uint16

// Header flag bits, in transmission order. Bits 9-15 are reserved and
// must be zero.
const (
	FlagOnOff          Flag = 1 << 0
	FlagBrightness     Flag = 1 << 1
	FlagColorMirek     Flag = 1 << 2
	FlagColorXY        Flag = 1 << 3
	FlagFadeSpeed      Flag = 1 << 4
	FlagEffectType     Flag = 1 << 5
	FlagGradientParams Flag = 1 << 6
	FlagEffectSpeed    Flag = 1 << 7
	FlagGradientColors Flag = 1 << 8

	reservedMask Flag = 0xFE00
)

// EffectType is the closed set of light effects.
type EffectType uint8

const (
	EffectNone EffectType = iota
	EffectCandle
	EffectFireplace
	EffectPrism
	EffectSparkle
	EffectOpal
	EffectGlisten
	EffectUnderwater
	EffectCosmos
	EffectSunbeam
	EffectEnchant
	EffectSunrise

	effectTypeCount = EffectSunrise + 1
)

// GradientStyle is the closed set of gradient rendering styles.
type GradientStyle uint8

const (
	GradientLinear    GradientStyle = 0x00
	GradientScattered GradientStyle = 0x02
	GradientMirrored  GradientStyle = 0x04
)

func validGradientStyle(s GradientStyle) bool {
	switch s {
	case GradientLinear, GradientScattered, GradientMirrored:
		return true
	}
	return false
}

// ColorXY is the combined-state frame's own XY encoding: full-range
// [0,1] unsigned fixed point scaled by 0xFFFF. This is deliberately a
// different convention from the gamut-scaled 12-bit gradient/
// entertainment colors (see gamut package); both conventions are real
// and kept distinct.
type ColorXY struct {
	X, Y float64
}

func encodeUnit(v float64) uint16 {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return uint16(v*0xFFFF + 0.5)
}

func decodeUnit(v uint16) float64 {
	return float64(v) / 0xFFFF
}

// ChromaPoint is one gamut-scaled gradient color.
type ChromaPoint struct {
	X, Y float64
}

// GradientColors is the variable-length gradient-color block.
type GradientColors struct {
	Style  GradientStyle
	Colors []ChromaPoint // 1..9 points
}

// GradientParams holds the raw fixed-point scale/offset bytes (5 integer
// bits, 3 fractional bits). A ScaleRaw of 0 is the "zoom to fit" sentinel.
type GradientParams struct {
	ScaleRaw  byte
	OffsetRaw byte
}

// Scale returns the numeric scale value, or 0 for the zoom-to-fit sentinel.
func (p GradientParams) Scale() float64 { return float64(p.ScaleRaw) / 8.0 }

// Offset returns the numeric offset value.
func (p GradientParams) Offset() float64 { return float64(p.OffsetRaw) / 8.0 }

// ZoomToFit reports whether Scale is the zoom-to-fit sentinel.
func (p GradientParams) ZoomToFit() bool { return p.ScaleRaw == 0 }

func validGradientParams(p GradientParams) bool {
	return p.ScaleRaw == 0 || p.ScaleRaw >= 0x08
}

// Frame is a fully-decoded combined-state command. Each field is nil
// when its corresponding header flag is unset.
type Frame struct {
	OnOff          *bool
	Brightness     *uint8 // valid range [1, 254]
	ColorMirek     *uint16
	ColorXY        *ColorXY
	FadeSpeed      *uint16 // 100ms units, 0 = instant
	EffectType     *EffectType
	GradientColors *GradientColors
	EffectSpeed    *uint8
	GradientParams *GradientParams
}

func (f *Frame) flags() Flag {
	var fl Flag
	if f.OnOff != nil {
		fl |= FlagOnOff
	}
	if f.Brightness != nil {
		fl |= FlagBrightness
	}
	if f.ColorMirek != nil {
		fl |= FlagColorMirek
	}
	if f.ColorXY != nil {
		fl |= FlagColorXY
	}
	if f.FadeSpeed != nil {
		fl |= FlagFadeSpeed
	}
	if f.EffectType != nil {
		fl |= FlagEffectType
	}
	if f.GradientColors != nil {
		fl |= FlagGradientColors
	}
	if f.EffectSpeed != nil {
		fl |= FlagEffectSpeed
	}
	if f.GradientParams != nil {
		fl |= FlagGradientParams
	}
	return fl
}

// Parse decodes a combined-state command-0 payload. Fields are read in
// fixed wire order (on_off, brightness, color_mirek, color_xy,
// fade_speed, effect_type, gradient_colors, effect_speed,
// gradient_params) regardless of flag bit order. Any malformed or
// out-of-range field, or any trailing byte, rejects the whole frame.
func Parse(data []byte) (*Frame, error) {
	if len(data) < 2 {
		return nil, huerr.Malformed(0, "frame shorter than header")
	}

	flags := Flag(binary.LittleEndian.Uint16(data[0:2]))
	if flags&reservedMask != 0 {
		return nil, huerr.Malformed(0, "reserved header bits set")
	}

	off := 2
	f := &Frame{}

	if flags&FlagOnOff != 0 {
		if off+1 > len(data) {
			return nil, huerr.Malformed(off, "truncated on_off field")
		}
		v := data[off] != 0
		f.OnOff = &v
		off++
	}

	if flags&FlagBrightness != 0 {
		if off+1 > len(data) {
			return nil, huerr.Malformed(off, "truncated brightness field")
		}
		b := data[off]
		if b == 0 || b == 255 {
			return nil, huerr.Malformed(off, "brightness out of range [1,254]")
		}
		f.Brightness = &b
		off++
	}

	if flags&FlagColorMirek != 0 {
		if off+2 > len(data) {
			return nil, huerr.Malformed(off, "truncated color_mirek field")
		}
		v := binary.LittleEndian.Uint16(data[off : off+2])
		f.ColorMirek = &v
		off += 2
	}

	if flags&FlagColorXY != 0 {
		if off+4 > len(data) {
			return nil, huerr.Malformed(off, "truncated color_xy field")
		}
		x := binary.LittleEndian.Uint16(data[off : off+2])
		y := binary.LittleEndian.Uint16(data[off+2 : off+4])
		f.ColorXY = &ColorXY{X: decodeUnit(x), Y: decodeUnit(y)}
		off += 4
	}

	if flags&FlagFadeSpeed != 0 {
		if off+2 > len(data) {
			return nil, huerr.Malformed(off, "truncated fade_speed field")
		}
		v := binary.LittleEndian.Uint16(data[off : off+2])
		f.FadeSpeed = &v
		off += 2
	}

	if flags&FlagEffectType != 0 {
		if off+1 > len(data) {
			return nil, huerr.Malformed(off, "truncated effect_type field")
		}
		v := EffectType(data[off])
		if v >= effectTypeCount {
			return nil, huerr.Malformed(off, "unknown effect_type")
		}
		f.EffectType = &v
		off++
	}

	if flags&FlagGradientColors != 0 {
		gc, n, err := parseGradientColors(data[off:], off)
		if err != nil {
			return nil, err
		}
		f.GradientColors = gc
		off += n
	}

	if flags&FlagEffectSpeed != 0 {
		if off+1 > len(data) {
			return nil, huerr.Malformed(off, "truncated effect_speed field")
		}
		v := data[off]
		f.EffectSpeed = &v
		off++
	}

	if flags&FlagGradientParams != 0 {
		if off+2 > len(data) {
			return nil, huerr.Malformed(off, "truncated gradient_params field")
		}
		p := GradientParams{ScaleRaw: data[off], OffsetRaw: data[off+1]}
		if !validGradientParams(p) {
			return nil, huerr.Malformed(off, "gradient_params scale below 0x08")
		}
		f.GradientParams = &p
		off += 2
	}

	if off != len(data) {
		return nil, huerr.Malformed(off, "trailing bytes after declared fields")
	}

	return f, nil
}

func parseGradientColors(data []byte, baseOff int) (*GradientColors, int, error) {
	if len(data) < 1 {
		return nil, 0, huerr.Malformed(baseOff, "truncated gradient_colors size byte")
	}
	size := int(data[0])
	if 1+size > len(data) {
		return nil, 0, huerr.Malformed(baseOff, "gradient_colors block exceeds frame")
	}
	if size < 4 {
		return nil, 0, huerr.Malformed(baseOff, "gradient_colors block too small")
	}
	block := data[1 : 1+size]

	countByte := block[0]
	if countByte&0x0F != 0 {
		return nil, 0, huerr.Malformed(baseOff+1, "gradient_colors low nibble must be zero")
	}
	count := int(countByte >> 4)
	if count == 0 || count >= 10 {
		return nil, 0, huerr.Malformed(baseOff+1, "gradient_colors count out of range [1,9]")
	}

	style := GradientStyle(block[1])
	if !validGradientStyle(style) {
		return nil, 0, huerr.Malformed(baseOff+2, "unknown gradient_style")
	}

	// block[2], block[3] are reserved bytes; not validated on parse.
	wantLen := 4 + 3*count
	if len(block) != wantLen {
		return nil, 0, huerr.Malformed(baseOff, "gradient_colors size does not match declared count")
	}

	colors := make([]ChromaPoint, count)
	for i := 0; i < count; i++ {
		var packed [3]byte
		copy(packed[:], block[4+3*i:4+3*i+3])
		x, y := gamut.UnpackChroma(packed)
		colors[i] = ChromaPoint{X: x, Y: y}
	}

	return &GradientColors{Style: style, Colors: colors}, 1 + size, nil
}

// Serialize encodes a Frame back to wire bytes. It is the exact inverse
// of Parse: for any Frame produced by Parse, Serialize(Parse(f)) == f.
func Serialize(f *Frame) ([]byte, error) {
	flags := f.flags()
	buf := make([]byte, 2, 16)
	binary.LittleEndian.PutUint16(buf, uint16(flags))

	if f.OnOff != nil {
		if *f.OnOff {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}

	if f.Brightness != nil {
		if *f.Brightness == 0 || *f.Brightness == 255 {
			return nil, huerr.New(huerr.Internal, "brightness out of range [1,254]")
		}
		buf = append(buf, *f.Brightness)
	}

	if f.ColorMirek != nil {
		buf = binary.LittleEndian.AppendUint16(buf, *f.ColorMirek)
	}

	if f.ColorXY != nil {
		buf = binary.LittleEndian.AppendUint16(buf, encodeUnit(f.ColorXY.X))
		buf = binary.LittleEndian.AppendUint16(buf, encodeUnit(f.ColorXY.Y))
	}

	if f.FadeSpeed != nil {
		buf = binary.LittleEndian.AppendUint16(buf, *f.FadeSpeed)
	}

	if f.EffectType != nil {
		if *f.EffectType >= effectTypeCount {
			return nil, huerr.New(huerr.Internal, "unknown effect_type")
		}
		buf = append(buf, byte(*f.EffectType))
	}

	if f.GradientColors != nil {
		gcBytes, err := serializeGradientColors(f.GradientColors)
		if err != nil {
			return nil, err
		}
		buf = append(buf, gcBytes...)
	}

	if f.EffectSpeed != nil {
		buf = append(buf, *f.EffectSpeed)
	}

	if f.GradientParams != nil {
		if !validGradientParams(*f.GradientParams) {
			return nil, huerr.New(huerr.Internal, "gradient_params scale below 0x08")
		}
		buf = append(buf, f.GradientParams.ScaleRaw, f.GradientParams.OffsetRaw)
	}

	return buf, nil
}

func serializeGradientColors(gc *GradientColors) ([]byte, error) {
	count := len(gc.Colors)
	if count == 0 || count >= 10 {
		return nil, huerr.New(huerr.Internal, "gradient_colors count out of range [1,9]")
	}
	if !validGradientStyle(gc.Style) {
		return nil, huerr.New(huerr.Internal, "unknown gradient_style")
	}

	size := 4 + 3*count
	block := make([]byte, 1, 1+size)
	block[0] = byte(size)
	block = append(block, byte(count<<4), byte(gc.Style), 0, 0)

	for _, c := range gc.Colors {
		packed := gamut.PackChroma(c.X, c.Y)
		block = append(block, packed[:]...)
	}

	return block, nil
}

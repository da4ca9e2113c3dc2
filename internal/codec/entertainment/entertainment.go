// Package entertainment implements bit-exact parsing and serialization of
// the manufacturer-specific Zigbee cluster 0xFC01 entertainment frames:
// command 1 (per-light color/brightness burst), command 3 (sync), and
// command 7 (segment-map configure). Command 4 (segment-map query) is a
// fixed-shape request with no payload fields to encode here.
package entertainment

import (
	"encoding/binary"

	"github.com/huebridged/bridge/internal/codec/gamut"
	"github.com/huebridged/bridge/internal/huerr"
)

// MaxLightBlocks is the maximum number of light blocks a command-1 frame
// may carry.
const MaxLightBlocks = 10

const lightBlockSize = 7 // addr(2) + brightness(2) + packed color(3)

// LightBlock is one light's update within a command-1 frame.
type LightBlock struct {
	Addr       uint16 // Zigbee short address
	Brightness uint16 // 11-bit value, upper 5 bits zero
	X, Y       float64
}

// Frame1 is a command-1 light-frame burst: counter plus 1..10 light blocks.
type Frame1 struct {
	Counter     uint32
	ReservedX0  byte // preserved from parse; emitted as stored
	Reserved04  byte // must equal 0x04
	LightBlocks []LightBlock
}

// ParseFrame1 decodes a command-1 payload.
func ParseFrame1(data []byte) (*Frame1, error) {
	if len(data) < 6 {
		return nil, huerr.Malformed(0, "frame shorter than command-1 header")
	}

	counter := binary.LittleEndian.Uint32(data[0:4])
	x0 := data[4]
	x04 := data[5]
	if x04 != 0x04 {
		return nil, huerr.Malformed(5, "reserved_0x04 field must equal 0x04")
	}

	rest := data[6:]
	if len(rest)%lightBlockSize != 0 {
		return nil, huerr.Malformed(6, "light block data not a multiple of 7 bytes")
	}
	count := len(rest) / lightBlockSize
	if count < 1 || count > MaxLightBlocks {
		return nil, huerr.Malformed(6, "light block count out of range [1,10]")
	}

	blocks := make([]LightBlock, count)
	for i := 0; i < count; i++ {
		off := i * lightBlockSize
		b := rest[off : off+lightBlockSize]

		addr := binary.LittleEndian.Uint16(b[0:2])
		briRaw := binary.LittleEndian.Uint16(b[2:4])
		if briRaw&0xF800 != 0 {
			return nil, huerr.Malformed(6+off+2, "brightness upper 5 bits must be zero")
		}

		var packed [3]byte
		copy(packed[:], b[4:7])
		x, y := gamut.UnpackChroma(packed)

		blocks[i] = LightBlock{Addr: addr, Brightness: briRaw, X: x, Y: y}
	}

	return &Frame1{
		Counter:     counter,
		ReservedX0:  x0,
		Reserved04:  x04,
		LightBlocks: blocks,
	}, nil
}

// SerializeFrame1 encodes a Frame1 back to wire bytes.
func SerializeFrame1(f *Frame1) ([]byte, error) {
	count := len(f.LightBlocks)
	if count < 1 || count > MaxLightBlocks {
		return nil, huerr.New(huerr.Internal, "light block count out of range [1,10]")
	}

	buf := make([]byte, 6, 6+count*lightBlockSize)
	binary.LittleEndian.PutUint32(buf[0:4], f.Counter)
	buf[4] = f.ReservedX0
	buf[5] = 0x04

	for _, lb := range f.LightBlocks {
		if lb.Brightness&0xF800 != 0 {
			return nil, huerr.New(huerr.Internal, "brightness upper 5 bits must be zero")
		}
		var addrBytes [2]byte
		binary.LittleEndian.PutUint16(addrBytes[:], lb.Addr)
		buf = append(buf, addrBytes[:]...)

		var briBytes [2]byte
		binary.LittleEndian.PutUint16(briBytes[:], lb.Brightness)
		buf = append(buf, briBytes[:]...)

		packed := gamut.PackChroma(lb.X, lb.Y)
		buf = append(buf, packed[:]...)
	}

	return buf, nil
}

// Frame3 is the command-3 sync message. The leading two bytes (x0, x1)
// have undocumented semantics upstream; per spec, they are emitted as
// zero and accepted as anything on parse.
type Frame3 struct {
	X0, X1  byte
	Counter uint32
}

// ParseFrame3 decodes a command-3 payload.
func ParseFrame3(data []byte) (*Frame3, error) {
	if len(data) != 6 {
		return nil, huerr.Malformed(0, "command-3 frame must be exactly 6 bytes")
	}
	return &Frame3{
		X0:      data[0],
		X1:      data[1],
		Counter: binary.LittleEndian.Uint32(data[2:6]),
	}, nil
}

// SerializeFrame3 encodes a Frame3, always emitting zero for x0/x1.
func SerializeFrame3(f *Frame3) []byte {
	buf := make([]byte, 6)
	buf[0] = 0
	buf[1] = 0
	binary.LittleEndian.PutUint32(buf[2:6], f.Counter)
	return buf
}

// SegmentAssignment is one entry in a command-7 segment-map configure
// request: the virtual address assigned to one physical segment, in
// segment order.
type SegmentAssignment struct {
	VirtualAddr uint16
}

// Frame7 is a command-7 segment-map configure request: a reserved byte,
// a segment count, then that many 2-byte LE virtual addresses in
// segment order.
type Frame7 struct {
	Reserved     byte // emitted as 0x00
	SegmentCount int
	Assignments  []SegmentAssignment
}

// ParseFrame7 decodes a command-7 payload.
func ParseFrame7(data []byte) (*Frame7, error) {
	if len(data) < 2 {
		return nil, huerr.Malformed(0, "command-7 payload shorter than header")
	}
	reserved := data[0]
	count := int(data[1])
	want := 2 + count*2
	if len(data) != want {
		return nil, huerr.Malformed(2, "command-7 payload length mismatch")
	}

	assignments := make([]SegmentAssignment, count)
	for i := 0; i < count; i++ {
		off := 2 + i*2
		assignments[i] = SegmentAssignment{
			VirtualAddr: binary.LittleEndian.Uint16(data[off : off+2]),
		}
	}

	return &Frame7{Reserved: reserved, SegmentCount: count, Assignments: assignments}, nil
}

// SerializeFrame7 encodes a Frame7 back to wire bytes.
func SerializeFrame7(f *Frame7) []byte {
	buf := make([]byte, 2, 2+len(f.Assignments)*2)
	buf[0] = 0
	buf[1] = byte(f.SegmentCount)
	for _, a := range f.Assignments {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], a.VirtualAddr)
		buf = append(buf, b[:]...)
	}
	return buf
}

// Frame7Response is the command-7 reply: 0x0000 on success, any other
// value is treated as a transport failure by the caller.
type Frame7Response struct {
	Status uint16
}

// Success reports whether the response indicates success (0x0000).
func (r Frame7Response) Success() bool { return r.Status == 0x0000 }

// ParseFrame7Response decodes a command-7 response payload.
func ParseFrame7Response(data []byte) (*Frame7Response, error) {
	if len(data) != 2 {
		return nil, huerr.Malformed(0, "command-7 response must be exactly 2 bytes")
	}
	return &Frame7Response{Status: binary.LittleEndian.Uint16(data)}, nil
}

package entertainment

import (
	"encoding/hex"
	"testing"

	"github.com/huebridged/bridge/internal/huerr"
)

func mustDecode(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex literal: %v", err)
	}
	return b
}

func TestSegmentConfigureRoundTrip(t *testing.T) {
	data := mustDecode(t, "000797d298d299d29ad29bd29cd29dd2")

	f, err := ParseFrame7(data)
	if err != nil {
		t.Fatalf("ParseFrame7: %v", err)
	}
	if f.SegmentCount != 7 {
		t.Fatalf("SegmentCount = %d, want 7", f.SegmentCount)
	}
	if f.Assignments[0].VirtualAddr != 0xD297 {
		t.Errorf("segment 0 virtual addr = %#x, want 0xD297", f.Assignments[0].VirtualAddr)
	}
	if f.Assignments[6].VirtualAddr != 0xD29D {
		t.Errorf("segment 6 virtual addr = %#x, want 0xD29D", f.Assignments[6].VirtualAddr)
	}

	out := SerializeFrame7(f)
	if hex.EncodeToString(out) != hex.EncodeToString(data) {
		t.Fatalf("SerializeFrame7(ParseFrame7(f)) = %x, want %x", out, data)
	}
}

func TestFrame7ResponseSuccess(t *testing.T) {
	resp, err := ParseFrame7Response([]byte{0x00, 0x00})
	if err != nil {
		t.Fatalf("ParseFrame7Response: %v", err)
	}
	if !resp.Success() {
		t.Errorf("Success() = false for 0x0000 response")
	}

	resp2, err := ParseFrame7Response([]byte{0x01, 0x00})
	if err != nil {
		t.Fatalf("ParseFrame7Response: %v", err)
	}
	if resp2.Success() {
		t.Errorf("Success() = true for non-zero response")
	}
}

func TestFrame1RoundTrip(t *testing.T) {
	f := &Frame1{
		Counter:    1234,
		ReservedX0: 0,
		Reserved04: 0x04,
		LightBlocks: []LightBlock{
			{Addr: 0xD297, Brightness: 1800, X: 0.3127, Y: 0.3290},
			{Addr: 0xD298, Brightness: 0, X: 0, Y: 0},
		},
	}

	wire, err := SerializeFrame1(f)
	if err != nil {
		t.Fatalf("SerializeFrame1: %v", err)
	}

	got, err := ParseFrame1(wire)
	if err != nil {
		t.Fatalf("ParseFrame1: %v", err)
	}
	if got.Counter != f.Counter {
		t.Errorf("Counter = %d, want %d", got.Counter, f.Counter)
	}
	if got.Reserved04 != 0x04 {
		t.Errorf("Reserved04 = %#x, want 0x04", got.Reserved04)
	}
	if len(got.LightBlocks) != 2 {
		t.Fatalf("len(LightBlocks) = %d, want 2", len(got.LightBlocks))
	}
	if got.LightBlocks[0].Addr != 0xD297 {
		t.Errorf("block 0 addr = %#x, want 0xD297", got.LightBlocks[0].Addr)
	}

	wire2, err := SerializeFrame1(got)
	if err != nil {
		t.Fatalf("re-serialize: %v", err)
	}
	if hex.EncodeToString(wire) != hex.EncodeToString(wire2) {
		t.Fatalf("not idempotent: %x != %x", wire, wire2)
	}
}

func TestFrame1Reserved04Enforced(t *testing.T) {
	data := []byte{0, 0, 0, 0, 0, 0x05, 0, 0, 0, 0, 0, 0, 0}
	if _, err := ParseFrame1(data); !huerr.Is(err, huerr.MalformedFrame) {
		t.Errorf("reserved_0x04 != 0x04 should reject, got %v", err)
	}
}

func TestFrame1BlockCountBoundaries(t *testing.T) {
	header := []byte{0, 0, 0, 0, 0, 0x04}

	if _, err := ParseFrame1(header); !huerr.Is(err, huerr.MalformedFrame) {
		t.Errorf("zero light blocks should reject, got %v", err)
	}

	tooMany := append([]byte{}, header...)
	for i := 0; i < MaxLightBlocks+1; i++ {
		tooMany = append(tooMany, 0, 0, 0, 0, 0, 0, 0)
	}
	if _, err := ParseFrame1(tooMany); !huerr.Is(err, huerr.MalformedFrame) {
		t.Errorf("11 light blocks should reject, got %v", err)
	}
}

func TestFrame1BrightnessUpperBitsRejected(t *testing.T) {
	data := []byte{0, 0, 0, 0, 0, 0x04, 0, 0, 0xFF, 0xFF, 0, 0, 0}
	if _, err := ParseFrame1(data); !huerr.Is(err, huerr.MalformedFrame) {
		t.Errorf("brightness with upper bits set should reject, got %v", err)
	}
}

func TestFrame3RoundTrip(t *testing.T) {
	f := &Frame3{X0: 0xAA, X1: 0xBB, Counter: 777}
	wire := SerializeFrame3(f)
	// x0/x1 have undocumented semantics and are always emitted as zero.
	if wire[0] != 0 || wire[1] != 0 {
		t.Errorf("x0/x1 should be emitted as zero, got %02x %02x", wire[0], wire[1])
	}

	got, err := ParseFrame3(wire)
	if err != nil {
		t.Fatalf("ParseFrame3: %v", err)
	}
	if got.Counter != f.Counter {
		t.Errorf("Counter = %d, want %d", got.Counter, f.Counter)
	}
}

package transport

import (
	"bufio"
	"bytes"
	"testing"
)

func TestReadBeastFrameModeSLong(t *testing.T) {
	payload := []byte{0x8D, 0x48, 0x40, 0xD6, 0x20, 0x2C, 0xC3, 0x71, 0xC3, 0x2C, 0xE0, 0x57, 0x60, 0x98}
	var buf bytes.Buffer
	buf.WriteByte(beastEscape)
	buf.WriteByte(beastTypeModeSLong)
	// 6-byte timestamp + 1-byte signal, arbitrary non-escape bytes
	buf.Write([]byte{1, 2, 3, 4, 5, 6, 7})
	buf.Write(payload)

	r := bufio.NewReader(&buf)
	ft, got, _, err := readBeastFrame(r)
	if err != nil {
		t.Fatalf("readBeastFrame: %v", err)
	}
	if ft != beastTypeModeSLong {
		t.Errorf("frame type = %x, want %x", ft, beastTypeModeSLong)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = %x, want %x", got, payload)
	}
}

func TestReadBeastFrameDestuffing(t *testing.T) {
	// A payload byte that is itself 0x1A must appear doubled on the wire.
	payload := []byte{0x1A, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	var buf bytes.Buffer
	buf.WriteByte(beastEscape)
	buf.WriteByte(beastTypeModeSShort)
	buf.Write([]byte{0, 0, 0, 0, 0, 0, 0}) // timestamp+signal, no escapes
	buf.WriteByte(beastEscape)
	buf.WriteByte(beastEscape) // stuffed 0x1A
	buf.Write(payload[1:])

	r := bufio.NewReader(&buf)
	_, got, _, err := readBeastFrame(r)
	if err != nil {
		t.Fatalf("readBeastFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = %x, want %x", got, payload)
	}
}

func TestReadBeastFrameSkipsGarbageBeforeMarker(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x01, 0x02}) // noise before the frame marker
	buf.WriteByte(beastEscape)
	buf.WriteByte(beastTypeModeAC)
	buf.Write([]byte{0, 0, 0, 0, 0, 0, 0})
	buf.Write([]byte{0xAA, 0xBB})

	r := bufio.NewReader(&buf)
	ft, got, _, err := readBeastFrame(r)
	if err != nil {
		t.Fatalf("readBeastFrame: %v", err)
	}
	if ft != beastTypeModeAC {
		t.Errorf("frame type = %x, want %x", ft, beastTypeModeAC)
	}
	if !bytes.Equal(got, []byte{0xAA, 0xBB}) {
		t.Errorf("payload = %x, want AABB", got)
	}
}

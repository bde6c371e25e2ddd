package dwarfunit

import (
	"encoding/binary"
	"testing"

	"github.com/snapstack/pstack/internal/snapcore"
)

func TestReaderULEB128(t *testing.T) {
	// 624485 encodes as 0xE5 0x8E 0x26 (the DWARF spec's own example).
	r := newReader(snapcore.NewBufferReader([]byte{0xE5, 0x8E, 0x26}), 0, binary.LittleEndian)
	v, err := r.uleb128()
	if err != nil {
		t.Fatalf("uleb128: %v", err)
	}
	if v != 624485 {
		t.Errorf("uleb128() = %d, want 624485", v)
	}
	if r.offset() != 3 {
		t.Errorf("offset() = %d, want 3", r.offset())
	}
}

func TestReaderSLEB128Negative(t *testing.T) {
	// -2 encodes as a single byte 0x7E.
	r := newReader(snapcore.NewBufferReader([]byte{0x7E}), 0, binary.LittleEndian)
	v, err := r.sleb128()
	if err != nil {
		t.Fatalf("sleb128: %v", err)
	}
	if v != -2 {
		t.Errorf("sleb128() = %d, want -2", v)
	}
}

func TestReaderLengthDWARF32(t *testing.T) {
	var buf []byte
	buf = binary.LittleEndian.AppendUint32(buf, 100)
	r := newReader(snapcore.NewBufferReader(buf), 0, binary.LittleEndian)
	length, width, err := r.length()
	if err != nil {
		t.Fatalf("length: %v", err)
	}
	if length != 100 || width != 4 {
		t.Errorf("length() = (%d, %d), want (100, 4)", length, width)
	}
}

func TestReaderLengthDWARF64Escape(t *testing.T) {
	var buf []byte
	buf = binary.LittleEndian.AppendUint32(buf, 0xffffffff)
	buf = binary.LittleEndian.AppendUint64(buf, 9000000000)
	r := newReader(snapcore.NewBufferReader(buf), 0, binary.LittleEndian)
	length, width, err := r.length()
	if err != nil {
		t.Fatalf("length: %v", err)
	}
	if length != 9000000000 || width != 8 {
		t.Errorf("length() = (%d, %d), want (9000000000, 8)", length, width)
	}
}

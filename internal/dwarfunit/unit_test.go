package dwarfunit

import (
	"encoding/binary"
	"testing"

	"github.com/snapstack/pstack/internal/snapcore"
)

// buildSingleUnitFixture assembles the .debug_abbrev and .debug_info
// bytes for one DWARF4 compilation unit with a single DW_TAG_compile_unit
// root DIE carrying DW_AT_name, DW_AT_low_pc, DW_AT_high_pc (both
// DW_FORM_addr, so high_pc is an absolute end address) and
// DW_AT_stmt_list, and wraps them in a synthetic ObjectImage.
func buildSingleUnitFixture(t *testing.T, name string, lowPC, highPC uint64) (*snapcore.ObjectImage, int64) {
	t.Helper()

	abbrev := []byte{
		0x01,       // abbrev code 1
		0x11,       // DW_TAG_compile_unit
		0x00,       // no children
		0x03, 0x08, // DW_AT_name, DW_FORM_string
		0x11, 0x01, // DW_AT_low_pc, DW_FORM_addr
		0x12, 0x01, // DW_AT_high_pc, DW_FORM_addr
		0x10, 0x06, // DW_AT_stmt_list, DW_FORM_data4
		0x00, 0x00, // attribute list terminator
		0x00, // abbreviation table terminator
	}

	var die []byte
	die = append(die, 0x01) // abbrev code 1
	die = append(die, []byte(name)...)
	die = append(die, 0x00) // DW_FORM_string NUL terminator
	die = binary.LittleEndian.AppendUint64(die, lowPC)
	die = binary.LittleEndian.AppendUint64(die, highPC)
	die = binary.LittleEndian.AppendUint32(die, 0) // stmt_list offset 0

	header := []byte{} // version(2) + abbrev_offset(4) + addr_size(1)
	header = binary.LittleEndian.AppendUint16(header, 4)
	header = binary.LittleEndian.AppendUint32(header, 0)
	header = append(header, 8)

	length := uint32(len(header) + len(die))
	var info []byte
	info = binary.LittleEndian.AppendUint32(info, length)
	info = append(info, header...)
	info = append(info, die...)

	rootOffset := int64(4 + len(header))

	combined := append(append([]byte{}, abbrev...), info...)
	img := snapcore.NewSyntheticImage("fixture", "amd64", snapcore.NewBufferReader(combined), nil)
	img.AddSection(".debug_abbrev", 0, int64(len(abbrev)))
	img.AddSection(".debug_info", int64(len(abbrev)), int64(len(info)))

	return img, rootOffset
}

func TestParseUnitHeaderDWARF4(t *testing.T) {
	img, rootOffset := buildSingleUnitFixture(t, "main", 0x401000, 0x401100)

	in, err := NewInfo(img, binary.LittleEndian, 8, nil)
	if err != nil {
		t.Fatalf("NewInfo: %v", err)
	}
	units := in.Units()
	if len(units) != 1 {
		t.Fatalf("len(Units()) = %d, want 1", len(units))
	}
	u := units[0]
	if u.Version != 4 {
		t.Errorf("Version = %d, want 4", u.Version)
	}
	if u.AddrLen != 8 {
		t.Errorf("AddrLen = %d, want 8", u.AddrLen)
	}
	if u.RootOffset != rootOffset {
		t.Errorf("RootOffset = %d, want %d", u.RootOffset, rootOffset)
	}
}

func TestUnitRootAndName(t *testing.T) {
	img, _ := buildSingleUnitFixture(t, "main.c", 0x401000, 0x401100)
	in, err := NewInfo(img, binary.LittleEndian, 8, nil)
	if err != nil {
		t.Fatalf("NewInfo: %v", err)
	}
	u := in.Units()[0]

	name, err := u.Name()
	if err != nil {
		t.Fatalf("Name: %v", err)
	}
	if name != "main.c" {
		t.Errorf("Name() = %q, want %q", name, "main.c")
	}
}

// TestDIEOutOfRangeIsNil covers §4.4/offset_to_die: an offset outside
// [Offset, End) -- or the reserved zero offset -- resolves to a nil DIE
// without error.
func TestDIEOutOfRangeIsNil(t *testing.T) {
	img, _ := buildSingleUnitFixture(t, "main", 0x1000, 0x2000)
	in, err := NewInfo(img, binary.LittleEndian, 8, nil)
	if err != nil {
		t.Fatalf("NewInfo: %v", err)
	}
	u := in.Units()[0]

	for _, off := range []int64{0, u.Offset - 1, u.End, u.End + 100} {
		d, err := u.DIE(off)
		if err != nil {
			t.Errorf("DIE(%d): unexpected error %v", off, err)
		}
		if d != nil {
			t.Errorf("DIE(%d) = %v, want nil", off, d)
		}
	}
}

func TestUnitContainingMatchesPCRange(t *testing.T) {
	img, _ := buildSingleUnitFixture(t, "main", 0x401000, 0x401100)
	in, err := NewInfo(img, binary.LittleEndian, 8, nil)
	if err != nil {
		t.Fatalf("NewInfo: %v", err)
	}

	u, err := in.UnitContaining(0x401050)
	if err != nil {
		t.Fatalf("UnitContaining: %v", err)
	}
	if u == nil {
		t.Fatal("UnitContaining(0x401050) = nil, want the unit")
	}

	u2, err := in.UnitContaining(0x500000)
	if err != nil {
		t.Fatalf("UnitContaining: %v", err)
	}
	if u2 != nil {
		t.Errorf("UnitContaining(0x500000) = %v, want nil", u2)
	}
}

func TestUnitPurgeClearsEntryCache(t *testing.T) {
	img, rootOffset := buildSingleUnitFixture(t, "main", 0x1000, 0x2000)
	in, err := NewInfo(img, binary.LittleEndian, 8, nil)
	if err != nil {
		t.Fatalf("NewInfo: %v", err)
	}
	u := in.Units()[0]

	if _, err := u.DIE(rootOffset); err != nil {
		t.Fatalf("DIE: %v", err)
	}
	if len(u.entries) == 0 {
		t.Fatal("entries cache is empty after a DIE lookup")
	}
	u.Purge()
	if len(u.entries) != 0 {
		t.Error("Purge() did not clear the entry cache")
	}
}

package dwarfunit

import (
	"testing"

	"github.com/snapstack/pstack/internal/snapcore"
)

func TestLoadAbbrevTable(t *testing.T) {
	abbrev := snapcore.NewBufferReader([]byte{
		0x01, 0x11, 0x00, // code 1, DW_TAG_compile_unit, no children
		0x03, 0x08, // DW_AT_name, DW_FORM_string
		0x00, 0x00, // terminator
		0x02, 0x2e, 0x01, // code 2, DW_TAG_subprogram, has children
		0x03, 0x08, // DW_AT_name, DW_FORM_string
		0x00, 0x00, // terminator
		0x00, // table terminator
	})

	tbl, err := loadAbbrevTable(abbrev, 0)
	if err != nil {
		t.Fatalf("loadAbbrevTable: %v", err)
	}
	if !tbl.has(1) || !tbl.has(2) {
		t.Errorf("codes = %v, want 1 and 2 present", tbl.codes)
	}
	if tbl.has(3) {
		t.Error("has(3) = true, want false: code 3 was never declared")
	}
}

func TestLoadAbbrevTableImplicitConst(t *testing.T) {
	// DW_FORM_implicit_const carries its operand inline in the
	// declaration (an SLEB128 right after the form), not per-DIE.
	abbrev := snapcore.NewBufferReader([]byte{
		0x01, 0x11, 0x00,
		0x3a, 0x21, 0x05, // DW_AT_decl_file, DW_FORM_implicit_const, value=5
		0x00, 0x00,
		0x00,
	})
	tbl, err := loadAbbrevTable(abbrev, 0)
	if err != nil {
		t.Fatalf("loadAbbrevTable: %v", err)
	}
	if !tbl.has(1) {
		t.Error("has(1) = false, want true")
	}
}

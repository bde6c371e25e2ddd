package dwarfunit

import "github.com/snapstack/pstack/internal/snapcore"

// DW_FORM_implicit_const carries an extra SLEB128 operand inline in the
// abbreviation declaration (its value, not the DIE, holds the constant).
const formImplicitConst = 0x21

// abbrevTable records where in .debug_abbrev each of a unit's
// abbreviation codes is declared. Unit.load builds it on the first DIE
// lookup; DIE decoding does not consult it, since stdlib debug/dwarf
// re-parses the declaration itself when it decodes a DIE, so this table
// doesn't retain the attribute/form list either.
type abbrevTable struct {
	codes map[uint64]int64
}

// loadAbbrevTable walks a .debug_abbrev section starting at off exactly
// as the reference Unit::load does: each declaration begins with a
// ULEB128 code, and the table is terminated by a code of 0. Grounded on
// original_source/dwarf_unit.cc.
func loadAbbrevTable(abbrev snapcore.ByteReader, off int64) (*abbrevTable, error) {
	r := newReader(abbrev, off, nil)
	t := &abbrevTable{codes: map[uint64]int64{}}
	for {
		declOff := r.offset()
		code, err := r.uleb128()
		if err != nil {
			return nil, err
		}
		if code == 0 {
			break
		}
		t.codes[code] = declOff

		if _, err := r.uleb128(); err != nil { // tag
			return nil, err
		}
		if _, err := r.u8(); err != nil { // has-children
			return nil, err
		}
		for {
			attr, err := r.uleb128()
			if err != nil {
				return nil, err
			}
			form, err := r.uleb128()
			if err != nil {
				return nil, err
			}
			if form == formImplicitConst {
				if _, err := r.sleb128(); err != nil {
					return nil, err
				}
			}
			if attr == 0 && form == 0 {
				break
			}
		}
	}
	return t, nil
}

// has reports whether code is declared in this table.
func (t *abbrevTable) has(code uint64) bool {
	_, ok := t.codes[code]
	return ok
}

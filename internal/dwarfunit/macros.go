package dwarfunit

import "debug/dwarf"

// DWARF macro-table attributes. DW_AT_macro_info is the DWARF4 and
// earlier encoding; DW_AT_GNU_macros was GCC's extension ahead of
// DWARF5 standardizing the equivalent DW_AT_macros.
const (
	attrMacroInfo dwarf.Attr = 0x43
	attrGNUMacros dwarf.Attr = 0x2119
	attrMacros    dwarf.Attr = 0x79
)

// Macros records which macro-table attribute a unit's root DIE carries
// and where its macro data begins in .debug_macro/.debug_macinfo.
// Decoding the macro opcode stream itself is left to a future consumer:
// nothing on the stack-trace path this module implements needs macro
// expansion, only the ability to say a unit has one.
type Macros struct {
	Offset  int64
	Version int // 4 for DW_AT_macro_info, 5 for DW_AT_GNU_macros/DW_AT_macros
}

// MacroInfo returns the unit's macro-table descriptor, checking
// DW_AT_GNU_macros, then DW_AT_macros, then DW_AT_macro_info in that
// order -- the precedence Unit::getMacros uses, since more than one may
// be present on a unit compiled by different toolchain generations.
func (u *Unit) MacroInfo() (*Macros, error) {
	u.mu.Lock()
	if u.macros != nil {
		m := u.macros
		u.mu.Unlock()
		return m, nil
	}
	u.mu.Unlock()

	root, err := u.Root()
	if err != nil || root == nil {
		return nil, err
	}

	for _, c := range []struct {
		attr    dwarf.Attr
		version int
	}{
		{attrGNUMacros, 5},
		{attrMacros, 5},
		{attrMacroInfo, 4},
	} {
		if v, ok := root.Entry.Val(c.attr).(int64); ok {
			m := &Macros{Offset: v, Version: c.version}
			u.mu.Lock()
			u.macros = m
			u.mu.Unlock()
			return m, nil
		}
	}
	return nil, nil
}

package dwarfunit

import (
	"debug/dwarf"
	"fmt"
)

// FunctionAt returns the name of the DW_TAG_subprogram DIE whose address
// ranges (DW_AT_low_pc/DW_AT_high_pc, or DW_AT_ranges for a
// discontiguous function) contain addr, which must already have any
// load bias subtracted by the caller. Returns ("", false) if no
// subprogram in this unit covers addr -- the caller still has a unit
// and, typically, a source line, so this is not itself a fatal
// condition.
func (u *Unit) FunctionAt(addr uint64) (string, bool, error) {
	rdr := u.info.Data.Reader()
	rdr.Seek(dwarf.Offset(u.Offset))

	for {
		entry, err := rdr.Next()
		if err != nil {
			return "", false, fmt.Errorf("dwarfunit: scanning unit at %#x for functions: %w", u.Offset, err)
		}
		if entry == nil || int64(entry.Offset) >= u.End {
			break
		}
		if entry.Tag != dwarf.TagSubprogram {
			continue
		}
		ranges, err := u.info.Data.Ranges(entry)
		if err != nil || len(ranges) == 0 {
			continue
		}
		for _, r := range ranges {
			if addr >= r[0] && addr < r[1] {
				name, _ := entry.Val(dwarf.AttrName).(string)
				if name == "" {
					name = fmt.Sprintf("??@%#x", r[0])
				}
				return name, true, nil
			}
		}
	}
	return "", false, nil
}

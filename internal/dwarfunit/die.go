package dwarfunit

import (
	"debug/dwarf"
	"fmt"
)

// DIE is a debug information entry, identified by its offset within the
// enclosing object's .debug_info. Attribute values live on Entry,
// decoded by stdlib debug/dwarf; DIE itself only carries the identity
// (which unit, which offset) this package's cache is keyed on.
type DIE struct {
	Unit   *Unit
	Offset int64
	Entry  *dwarf.Entry
}

// DIE returns the debug information entry at offset, which must lie
// within this unit's [Offset, End) bounds; a zero or out-of-range offset
// returns (nil, nil) straight away and is not cached. Decode results for
// in-range offsets are cached -- including a nil result, which acts as a
// negative cache entry -- so repeated lookups of the same DIE (common
// while walking parent/sibling chains) don't re-invoke stdlib's decoder.
// Mirrors
// Unit::offsetToRawDIE/offsetToDIE.
func (u *Unit) DIE(offset int64) (*DIE, error) {
	if offset == 0 || offset < u.Offset || offset >= u.End {
		return nil, nil
	}

	u.mu.Lock()
	if d, ok := u.entries[offset]; ok {
		u.mu.Unlock()
		return d, nil
	}
	u.mu.Unlock()

	if err := u.load(); err != nil {
		return nil, err
	}

	rdr := u.info.Data.Reader()
	rdr.Seek(dwarf.Offset(offset))
	entry, err := rdr.Next()
	if err != nil {
		return nil, fmt.Errorf("dwarfunit: decoding DIE at %#x: %w", offset, err)
	}

	var d *DIE
	if entry != nil {
		d = &DIE{Unit: u, Offset: offset, Entry: entry}
	}
	u.mu.Lock()
	u.entries[offset] = d // cached even when nil: this is the negative cache
	u.mu.Unlock()
	return d, nil
}

// Root returns this unit's top-level DIE: its DW_TAG_compile_unit,
// DW_TAG_partial_unit or DW_TAG_type_unit entry.
func (u *Unit) Root() (*DIE, error) {
	return u.DIE(u.RootOffset)
}

// Name returns the root DIE's DW_AT_name, or "" if absent.
func (u *Unit) Name() (string, error) {
	root, err := u.Root()
	if err != nil || root == nil {
		return "", err
	}
	name, _ := root.Entry.Val(dwarf.AttrName).(string)
	return name, nil
}

// Children returns d's immediate child DIEs by walking stdlib's reader
// from d's offset with the children flag. d.Entry.Children reports
// whether there are any.
func (d *DIE) Children() ([]*DIE, error) {
	if !d.Entry.Children {
		return nil, nil
	}
	rdr := d.Unit.info.Data.Reader()
	rdr.Seek(dwarf.Offset(d.Offset))
	if _, err := rdr.Next(); err != nil { // re-read d itself to position past it
		return nil, err
	}

	var kids []*DIE
	for {
		entry, err := rdr.Next()
		if err != nil {
			return nil, fmt.Errorf("dwarfunit: walking children of %#x: %w", d.Offset, err)
		}
		if entry == nil || entry.Tag == 0 {
			break // end of sibling chain (a null entry closes this nesting level)
		}
		kid := &DIE{Unit: d.Unit, Offset: int64(entry.Offset), Entry: entry}
		d.Unit.mu.Lock()
		d.Unit.entries[int64(entry.Offset)] = kid
		d.Unit.mu.Unlock()
		kids = append(kids, kid)
		if entry.Children {
			if err := skipSubtree(rdr); err != nil {
				return nil, err
			}
		}
	}
	return kids, nil
}

// skipSubtree advances rdr past entries until it passes the terminating
// null entry of the current nesting level, without caching what it
// skips (a caller wanting those DIEs should call Children on them
// directly once it reaches them).
func skipSubtree(rdr *dwarf.Reader) error {
	depth := 1
	for depth > 0 {
		entry, err := rdr.Next()
		if err != nil {
			return err
		}
		if entry == nil {
			return fmt.Errorf("dwarfunit: unexpected end of DIE tree")
		}
		if entry.Tag == 0 {
			depth--
			continue
		}
		if entry.Children {
			depth++
		}
	}
	return nil
}

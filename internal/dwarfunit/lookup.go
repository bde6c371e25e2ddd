package dwarfunit

// UnitContaining returns the unit whose root DIE's address ranges cover
// addr (object-local, load bias already subtracted), or nil if no unit
// matches. Mirrors Info::findUnitForAddr scanning the unit table built
// by NewInfo.
func (in *Info) UnitContaining(addr uint64) (*Unit, error) {
	for _, u := range in.units {
		root, err := u.Root()
		if err != nil {
			return nil, err
		}
		if root == nil {
			continue
		}
		ranges, err := in.Data.Ranges(root.Entry)
		if err != nil || len(ranges) == 0 {
			continue
		}
		for _, r := range ranges {
			if addr >= r[0] && addr < r[1] {
				return u, nil
			}
		}
	}
	return nil, nil
}

package dwarfunit

import (
	"bytes"
	"debug/dwarf"
	"fmt"

	"github.com/go-delve/delve/pkg/dwarf/line"

	"github.com/snapstack/pstack/internal/snapcore"
)

// Lines returns this unit's line-number program, parsed on first request.
// Decoding the line-program state machine itself is delegated to
// go-delve/delve's line-table parser; this package's job is recognizing
// when a unit has one (DW_TAG_compile_unit/DW_TAG_partial_unit root with
// a DW_AT_stmt_list attribute) and caching the result, matching
// Unit::getLines.
func (u *Unit) Lines() (*line.DebugLineInfo, error) {
	u.mu.Lock()
	if u.lines != nil {
		li := u.lines
		u.mu.Unlock()
		return li, nil
	}
	u.mu.Unlock()

	root, err := u.Root()
	if err != nil || root == nil {
		return nil, err
	}
	if root.Entry.Tag != dwarf.TagCompileUnit && root.Entry.Tag != dwarf.TagPartialUnit {
		return nil, nil
	}
	stmtList, ok := root.Entry.Val(dwarf.AttrStmtList).(int64)
	if !ok {
		return nil, nil
	}
	if u.info.lineSec == nil {
		return nil, fmt.Errorf("dwarfunit: unit at %#x references .debug_line but the object has none", u.Offset)
	}

	buf := make([]byte, u.info.lineSec.Size())
	if err := snapcore.ReadFull(u.info.lineSec, buf, 0); err != nil {
		return nil, fmt.Errorf("dwarfunit: reading .debug_line: %w", err)
	}
	if stmtList < 0 || stmtList >= int64(len(buf)) {
		return nil, fmt.Errorf("dwarfunit: DW_AT_stmt_list %#x out of range", stmtList)
	}
	compDir, _ := root.Entry.Val(dwarf.AttrCompDir).(string)

	li := line.Parse(compDir, bytes.NewBuffer(buf[stmtList:]), nil, nil, 0, false, u.AddrLen)

	u.mu.Lock()
	u.lines = li
	u.mu.Unlock()
	return li, nil
}

// SourceForAddr maps a program-counter address -- local to this unit's
// object, with any load bias already subtracted by the caller -- to the
// (file, line) pair covering it, via the unit's line table. Mirrors
// Unit::sourceFromAddr.
func (u *Unit) SourceForAddr(addr uint64) (file string, lineNo int, ok bool, err error) {
	root, err := u.Root()
	if err != nil || root == nil {
		return "", 0, false, err
	}
	li, err := u.Lines()
	if err != nil || li == nil {
		return "", 0, false, err
	}
	lowPC, _ := root.Entry.Val(dwarf.AttrLowpc).(uint64)
	file, lineNo = li.PCToLine(lowPC, addr)
	return file, lineNo, file != "", nil
}

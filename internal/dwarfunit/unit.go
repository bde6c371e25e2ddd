// Package dwarfunit implements the unit-level DWARF bookkeeping a
// stack-trace tool needs: per-unit header parsing, lazy abbreviation-
// table loading, and a sparse, negative-caching offset-to-DIE table.
// Raw attribute and form decoding is delegated to the standard library's
// debug/dwarf package once a DIE's offset is known; this package owns
// only the structure stdlib doesn't expose: the compilation-unit header
// fields (DWARF32/DWARF64, per-version unit-type dispatch), the DIE
// cache, and purge(). It is a close translation of the reference
// implementation's Unit class (original_source/dwarf_unit.cc).
package dwarfunit

import (
	"debug/dwarf"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/go-delve/delve/pkg/dwarf/frame"
	"github.com/go-delve/delve/pkg/dwarf/line"
	"github.com/sirupsen/logrus"

	"github.com/snapstack/pstack/internal/snapcore"
)

// ErrMalformedUnit marks a compilation-unit header this package cannot
// make sense of -- currently, a DWARF5 unit-type byte outside the
// standard's defined set. Per the error design this is a fatal format
// error: the object's .debug_info is corrupt or from a producer this
// package doesn't understand, and no unit past this point can be
// trusted either, since the header's length field is what lets the
// scanner find the next unit.
var ErrMalformedUnit = errors.New("dwarfunit: malformed compilation unit header")

// UnitType is DWARF5's DW_UT_* unit-type byte.
type UnitType uint8

const (
	UTCompile      UnitType = 0x01
	UTType         UnitType = 0x02
	UTPartial      UnitType = 0x03
	UTSkeleton     UnitType = 0x04
	UTSplitCompile UnitType = 0x05
	UTSplitType    UnitType = 0x06
)

// Info is the section-level DWARF state shared by every Unit belonging
// to one object image: this package's own view of .debug_info/
// .debug_abbrev/.debug_line for header and abbreviation bookkeeping, and
// a stdlib debug/dwarf.Data for decoding individual DIEs by offset.
type Info struct {
	Data *dwarf.Data

	img     *snapcore.ObjectImage
	info    snapcore.ByteReader
	abbrev  snapcore.ByteReader
	lineSec snapcore.ByteReader // nil if the object has no .debug_line
	order   binary.ByteOrder
	addrSize int
	log     *logrus.Logger

	units []*Unit

	frameOnce    sync.Once
	frameEntries frame.FrameDescriptionEntries
	frameErr     error
}

// NewInfo scans img's .debug_info section for compilation-unit headers,
// the way the reference Info builds its unit table, and wraps img's
// sections in a stdlib dwarf.Data for per-DIE attribute decoding. order
// is the object's byte order; addrSize is its pointer width in bytes
// (used for the DWARF2-and-earlier header variant, which measures
// section offsets in the target's address width rather than a fixed 4 or
// 8 bytes, and as the pointer size when parsing call-frame information).
func NewInfo(img *snapcore.ObjectImage, order binary.ByteOrder, addrSize int, log *logrus.Logger) (*Info, error) {
	if log == nil {
		log = logrus.New()
	}
	infoSec, ok := img.SectionReader(".debug_info", ".zdebug_info")
	if !ok {
		return nil, fmt.Errorf("dwarfunit: %s has no .debug_info section", img.Path)
	}
	abbrevSec, ok := img.SectionReader(".debug_abbrev", ".zdebug_abbrev")
	if !ok {
		return nil, fmt.Errorf("dwarfunit: %s has no .debug_abbrev section", img.Path)
	}
	lineSec, _ := img.SectionReader(".debug_line", ".zdebug_line")

	data, err := buildStdlibData(img)
	if err != nil {
		return nil, fmt.Errorf("dwarfunit: %s: %w", img.Path, err)
	}

	in := &Info{
		Data:     data,
		img:      img,
		info:     infoSec,
		abbrev:   abbrevSec,
		lineSec:  lineSec,
		order:    order,
		addrSize: addrSize,
		log:      log,
	}
	if err := in.scanUnits(); err != nil {
		return nil, fmt.Errorf("dwarfunit: %s: %w", img.Path, err)
	}
	return in, nil
}

// buildStdlibData reads the DWARF sections img carries and hands them to
// stdlib debug/dwarf.New, the library this package treats as already
// available for raw attribute/form decoding.
func buildStdlibData(img *snapcore.ObjectImage) (*dwarf.Data, error) {
	sec := func(primary, alias string) []byte {
		r, ok := img.SectionReader(primary, alias)
		if !ok {
			return nil
		}
		buf := make([]byte, r.Size())
		if err := snapcore.ReadFull(r, buf, 0); err != nil {
			return nil
		}
		return buf
	}
	abbrev := sec(".debug_abbrev", ".zdebug_abbrev")
	infoBytes := sec(".debug_info", ".zdebug_info")
	str := sec(".debug_str", ".zdebug_str")
	lineBytes := sec(".debug_line", ".zdebug_line")
	ranges := sec(".debug_ranges", ".zdebug_ranges")
	return dwarf.New(abbrev, nil, nil, infoBytes, lineBytes, nil, ranges, str)
}

// Units returns every compilation unit found in the object, in the order
// they appear in .debug_info.
func (in *Info) Units() []*Unit { return in.units }

func (in *Info) scanUnits() error {
	pos := int64(0)
	total := in.info.Size()
	for pos < total {
		u, next, err := parseUnitHeader(in, pos)
		if err != nil {
			return fmt.Errorf("unit at %#x: %w", pos, err)
		}
		in.units = append(in.units, u)
		if next <= pos {
			return fmt.Errorf("unit at %#x: non-increasing unit length", pos)
		}
		pos = next
	}
	return nil
}

// FrameDescriptionEntries parses and returns the object's call-frame
// information (.debug_frame, falling back to .eh_frame), so an external
// unwinder can step the stack without this package implementing CFI
// evaluation itself -- that remains out of scope here.
func (in *Info) FrameDescriptionEntries() (frame.FrameDescriptionEntries, error) {
	in.frameOnce.Do(func() {
		data, ok := in.frameSection()
		if !ok {
			in.frameErr = fmt.Errorf("dwarfunit: %s has no .debug_frame or .eh_frame section", in.img.Path)
			return
		}
		in.frameEntries, in.frameErr = frame.Parse(data, frame.DwarfEndian(data), 0, in.addrSize, 0)
	})
	return in.frameEntries, in.frameErr
}

func (in *Info) frameSection() ([]byte, bool) {
	for _, names := range [][2]string{{".debug_frame", ".zdebug_frame"}, {".eh_frame", ""}} {
		r, ok := in.img.SectionReader(names[0], names[1])
		if !ok {
			continue
		}
		buf := make([]byte, r.Size())
		if err := snapcore.ReadFull(r, buf, 0); err == nil {
			return buf, true
		}
	}
	return nil, false
}

// Unit is one DWARF compilation unit: its header fields, plus a sparse,
// negative-caching offset-to-DIE table. Per-DIE attribute decoding is
// delegated to stdlib debug/dwarf; this type owns what stdlib doesn't:
// per-unit abbreviation-table loading, the DIE cache, and purge().
type Unit struct {
	info *Info

	Offset       int64
	Length       int64
	End          int64
	Version      uint16
	DwarfLen     int // 4 or 8: width of this unit's section-offset fields
	UnitType     UnitType
	AddrLen      int
	AbbrevOffset int64
	RootOffset   int64
	ID           [8]byte // only meaningful for DW_UT_split_compile/split_type

	mu      sync.Mutex
	abbrev  *abbrevTable // nil until first DIE lookup: Unit::load is lazy
	entries map[int64]*DIE
	lines   *line.DebugLineInfo
	macros  *Macros
}

func parseUnitHeader(in *Info, pos int64) (*Unit, int64, error) {
	r := newReader(in.info, pos, in.order)
	offset := r.offset()

	length, dwarfLen, err := r.length()
	if err != nil {
		return nil, 0, err
	}
	end := r.offset() + length

	version, err := r.u16()
	if err != nil {
		return nil, 0, err
	}
	if version <= 2 {
		// DWARF2 and earlier measure section offsets in the target's
		// address width rather than a fixed 4 or 8 bytes.
		dwarfLen = in.addrSize
	}

	u := &Unit{
		info:     in,
		Offset:   offset,
		Length:   length,
		End:      end,
		Version:  version,
		DwarfLen: dwarfLen,
		entries:  map[int64]*DIE{},
	}

	if version >= 5 {
		ut, err := r.u8()
		if err != nil {
			return nil, 0, err
		}
		u.UnitType = UnitType(ut)
		switch u.UnitType {
		case UTCompile, UTType, UTPartial, UTSkeleton:
			addrLen, err := r.u8()
			if err != nil {
				return nil, 0, err
			}
			u.AddrLen = int(addrLen)
			abbrevOff, err := r.uint(dwarfLen)
			if err != nil {
				return nil, 0, err
			}
			u.AbbrevOffset = int64(abbrevOff)
		case UTSplitCompile, UTSplitType:
			addrLen, err := r.u8()
			if err != nil {
				return nil, 0, err
			}
			u.AddrLen = int(addrLen)
			abbrevOff, err := r.uint(dwarfLen)
			if err != nil {
				return nil, 0, err
			}
			u.AbbrevOffset = int64(abbrevOff)
			var id [8]byte
			if err := snapcore.ReadFull(in.info, id[:], r.offset()); err != nil {
				return nil, 0, err
			}
			r.pos += 8
			u.ID = id
		default:
			return nil, 0, fmt.Errorf("%w: unit type %#x", ErrMalformedUnit, u.UnitType)
		}
	} else {
		width := 4
		if version > 2 {
			width = dwarfLen
		}
		abbrevOff, err := r.uint(width)
		if err != nil {
			return nil, 0, err
		}
		u.AbbrevOffset = int64(abbrevOff)
		addrLen, err := r.u8()
		if err != nil {
			return nil, 0, err
		}
		u.AddrLen = int(addrLen)
	}
	u.RootOffset = r.offset()
	return u, end, nil
}

// load parses this unit's abbreviation table on first use, matching
// Unit::load's lazy behavior: a tool that only ever decodes a handful of
// units in a large binary never pays the abbreviation-parsing cost for
// the rest.
func (u *Unit) load() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.abbrev != nil {
		return nil
	}
	t, err := loadAbbrevTable(u.info.abbrev, u.AbbrevOffset)
	if err != nil {
		return fmt.Errorf("dwarfunit: unit at %#x: loading abbreviations: %w", u.Offset, err)
	}
	u.abbrev = t
	return nil
}

// purge drops this unit's DIE cache, line table and macro table, freeing
// the memory a consumer no longer needs after it's done walking this
// unit. Matches Unit::purge, which the reference tool calls after fully
// processing each compilation unit while building a whole-object symbol
// table.
func (u *Unit) Purge() {
	u.mu.Lock()
	u.entries = map[int64]*DIE{}
	u.lines = nil
	u.macros = nil
	u.mu.Unlock()
}

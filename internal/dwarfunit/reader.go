package dwarfunit

import (
	"encoding/binary"
	"fmt"

	"github.com/snapstack/pstack/internal/snapcore"
)

// reader is a small sequential byte cursor over a DWARF section,
// providing the handful of primitives unit-header and abbreviation-table
// parsing need: fixed-width integers and ULEB128/SLEB128. It mirrors the
// reference implementation's DWARFReader. Decoding individual DIE
// attributes and forms is left entirely to stdlib debug/dwarf; this type
// exists only for the header/abbreviation bookkeeping this package owns
// directly.
type reader struct {
	r     snapcore.ByteReader
	pos   int64
	order binary.ByteOrder
}

func newReader(r snapcore.ByteReader, pos int64, order binary.ByteOrder) *reader {
	if order == nil {
		order = binary.LittleEndian
	}
	return &reader{r: r, pos: pos, order: order}
}

func (d *reader) offset() int64 { return d.pos }

func (d *reader) u8() (uint8, error) {
	var b [1]byte
	if err := snapcore.ReadFull(d.r, b[:], d.pos); err != nil {
		return 0, err
	}
	d.pos++
	return b[0], nil
}

func (d *reader) u16() (uint16, error) {
	var b [2]byte
	if err := snapcore.ReadFull(d.r, b[:], d.pos); err != nil {
		return 0, err
	}
	d.pos += 2
	return d.order.Uint16(b[:]), nil
}

func (d *reader) u32() (uint32, error) {
	var b [4]byte
	if err := snapcore.ReadFull(d.r, b[:], d.pos); err != nil {
		return 0, err
	}
	d.pos += 4
	return d.order.Uint32(b[:]), nil
}

func (d *reader) u64() (uint64, error) {
	var b [8]byte
	if err := snapcore.ReadFull(d.r, b[:], d.pos); err != nil {
		return 0, err
	}
	d.pos += 8
	return d.order.Uint64(b[:]), nil
}

// uint reads a width-byte (4 or 8) unsigned integer: the pattern the
// reference reader calls getuint(width) for fields whose width depends
// on whether the unit uses the 32- or 64-bit DWARF format.
func (d *reader) uint(width int) (uint64, error) {
	switch width {
	case 4:
		v, err := d.u32()
		return uint64(v), err
	case 8:
		return d.u64()
	default:
		return 0, fmt.Errorf("dwarfunit: unsupported integer width %d", width)
	}
}

func (d *reader) uleb128() (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := d.u8()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}
	return result, nil
}

func (d *reader) sleb128() (int64, error) {
	var result int64
	var shift uint
	var b uint8
	var err error
	for {
		b, err = d.u8()
		if err != nil {
			return 0, err
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, nil
}

// length reads a DWARF "initial length" field: a 32-bit length, or (the
// 64-bit DWARF format escape) 0xffffffff followed by a 64-bit length. It
// returns the length and the width -- 4 or 8 -- that subsequent
// section-offset-valued fields in this unit use, mirroring the reference
// reader's getlength(&dwarfLen) convention.
func (d *reader) length() (length int64, offsetWidth int, err error) {
	v, err := d.u32()
	if err != nil {
		return 0, 0, err
	}
	if v == 0xffffffff {
		v64, err := d.u64()
		if err != nil {
			return 0, 0, err
		}
		return int64(v64), 8, nil
	}
	return int64(v), 4, nil
}

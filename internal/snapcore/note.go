package snapcore

// Note is a typed, named annotation record embedded in a snapshot or
// executable's PT_NOTE segments. The CORE/PRSTATUS, CORE/PRPSINFO,
// CORE/AUXV and CORE/FILE notes are the ones the task model interprets;
// everything else is exposed but otherwise unused.
type Note struct {
	Name string
	Type uint32
	Data ByteReader
}

// Well-known note types this module interprets. Values match the host
// ELF core-dump convention (see elf.NT_PRSTATUS / elf.NT_PRPSINFO in the
// standard library; NT_FILE/NT_AUXV are defined locally because they
// aren't in package elf).
const (
	NTPRStatus uint32 = 1
	NTPRPSInfo uint32 = 3
	NTAuxv     uint32 = 6
	NTFile     uint32 = 0x46494c45
)

// decodeNotes walks a PT_NOTE segment's raw bytes (already read into buf)
// and returns each record it finds. The on-disk layout is the standard
// ELF note encoding: namesz/descsz/type header, then name padded to a
// 4-byte boundary, then descriptor padded the same way.
func decodeNotes(buf []byte, order byteOrder) []Note {
	var notes []Note
	for len(buf) >= 12 {
		namesz := order.Uint32(buf[0:4])
		descsz := order.Uint32(buf[4:8])
		typ := order.Uint32(buf[8:12])
		buf = buf[12:]
		if uint64(namesz) > uint64(len(buf)) {
			break
		}
		name := ""
		if namesz > 0 {
			name = string(buf[:namesz-1]) // trim the NUL terminator
		}
		buf = buf[align4(namesz):]
		if uint64(descsz) > uint64(len(buf)) {
			break
		}
		desc := buf[:descsz]
		buf = buf[align4(descsz):]
		notes = append(notes, Note{Name: name, Type: typ, Data: NewBufferReader(desc)})
	}
	return notes
}

func align4(n uint32) uint32 {
	return (n + 3) &^ 3
}

// byteOrder is the minimal subset of encoding/binary.ByteOrder decodeNotes
// needs; it avoids pulling the full interface into this file's signature.
type byteOrder interface {
	Uint32([]byte) uint32
}

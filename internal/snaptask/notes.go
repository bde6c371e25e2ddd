package snaptask

import (
	"encoding/binary"
	"strings"

	"github.com/snapstack/pstack/internal/snapcore"
)

// applyNotes folds the CORE/* notes of a snapshot into t: one LWP per
// NT_PRSTATUS, the command line from NT_PRPSINFO, the tag/value pairs of
// NT_AUXV, and the shared-object set from NT_FILE. Grounded on the
// reference CoreProcess constructor's note walk (original_source/dead.cc)
// and the readNote/readPRStatus/readNTFile family of note readers.
func (t *Task) applyNotes(notes []snapcore.Note, order binary.ByteOrder, cache *snapcore.ImageCache) error {
	for _, n := range notes {
		if n.Name != "CORE" {
			continue
		}
		br, ok := n.Data.(*snapcore.BufferReader)
		if !ok {
			continue
		}
		desc := br.Bytes()

		switch n.Type {
		case snapcore.NTPRStatus:
			t.applyPRStatus(desc)
		case snapcore.NTPRPSInfo:
			t.applyPRPSInfo(desc)
		case snapcore.NTAuxv:
			t.applyAuxv(desc, order)
		case snapcore.NTFile:
			t.applyFileNote(desc, order, cache)
		}
	}
	return nil
}

func (t *Task) applyPRStatus(desc []byte) {
	regs, pid, cursig, err := parsePRStatus(t.ArchName, desc)
	if err != nil {
		t.addWarning("NT_PRSTATUS: %v", err)
		return
	}
	t.mu.Lock()
	if len(t.lwps) == 0 {
		t.primaryPid = pid
	}
	t.lwps[pid] = &LWP{Pid: pid, Regs: regs, Signal: cursig}
	t.mu.Unlock()
}

// prpsinfoArgsOffset/Size locate the Args field of Linux's elf_prpsinfo
// for amd64, matching the linuxPrPsInfo struct layout it's read from.
const (
	prpsinfoArgsOffset = 56
	prpsinfoArgsSize   = 80
)

func (t *Task) applyPRPSInfo(desc []byte) {
	if t.ArchName != "amd64" {
		// Only the amd64 prpsinfo layout is known here.
		return
	}
	if len(desc) < prpsinfoArgsOffset+prpsinfoArgsSize {
		t.addWarning("NT_PRPSINFO payload too short (%d bytes)", len(desc))
		return
	}
	args := strings.Trim(string(desc[prpsinfoArgsOffset:prpsinfoArgsOffset+prpsinfoArgsSize]), "\x00 ")
	t.mu.Lock()
	t.args = args
	t.mu.Unlock()
}

func (t *Task) applyAuxv(desc []byte, order binary.ByteOrder) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for len(desc) >= 16 {
		tag := order.Uint64(desc[0:8])
		val := order.Uint64(desc[8:16])
		desc = desc[16:]
		if tag == 0 { // AT_NULL terminates the vector
			break
		}
		t.auxv[tag] = val
	}
}

// fileNoteHeaderSize is sizeof(FileNoteHeader): count and page_size,
// each a native-width Elf_Off (8 bytes on the 64-bit targets this
// package supports; 32-bit targets would need a 4-byte layout instead).
const fileNoteHeaderSize = 16

// fileEntrySize is sizeof(FileEntry): start, end, file-offset-in-pages.
const fileEntrySize = 24

// applyFileNote walks an NT_FILE note (count/page_size header, a table
// of start/end/file-offset-in-pages entries, then a block of
// NUL-separated path names) and loads every entry whose file offset is
// zero -- the entry describing where an object's own header is mapped,
// exactly as loadSharedObjectsFromFileNote picks out candidates to load.
// A load failure for one entry is recorded as a warning and does not
// abort the rest of the note.
func (t *Task) applyFileNote(desc []byte, order binary.ByteOrder, cache *snapcore.ImageCache) {
	if len(desc) < fileNoteHeaderSize {
		t.addWarning("NT_FILE payload too short for header (%d bytes)", len(desc))
		return
	}
	count := order.Uint64(desc[0:8])
	pageSize := order.Uint64(desc[8:16])
	entries := desc[fileNoteHeaderSize:]

	tableSize := count * fileEntrySize
	if uint64(len(entries)) < tableSize {
		t.addWarning("NT_FILE payload too short for %d entries", count)
		return
	}
	names := entries[tableSize:]
	entries = entries[:tableSize]

	nameOff := 0
	for i := uint64(0); i < count; i++ {
		e := entries[i*fileEntrySize:]
		start := snapcore.Address(order.Uint64(e[0:8]))
		fileOffPages := order.Uint64(e[16:24])

		name, n := readNulString(names, nameOff)
		nameOff += n

		if fileOffPages != 0 {
			continue
		}

		img, err := cache.Load(name, snapcore.LoadObjectImage)
		if err != nil {
			t.addWarning("NT_FILE: loading %s at %#x: %v", name, start, err)
			continue
		}
		t.mu.Lock()
		t.objects = append(t.objects, &loadedObject{bias: start, image: img})
		t.mu.Unlock()
	}
	_ = pageSize // kept for documentation; fileOffPages*pageSize isn't needed once we only use the ==0 case
}

func readNulString(b []byte, off int) (string, int) {
	if off >= len(b) {
		return "", 0
	}
	i := off
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[off:i]), i - off + 1
}

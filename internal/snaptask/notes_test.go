package snaptask

import (
	"encoding/binary"
	"testing"

	"github.com/snapstack/pstack/internal/snapcore"
)

func newTestTask() *Task {
	return &Task{
		ArchName: "amd64",
		lwps:     map[uint64]*LWP{},
		auxv:     map[uint64]uint64{},
		log:      testLogger(),
	}
}

func TestApplyPRStatusSetsPrimaryPidFromFirst(t *testing.T) {
	task := newTestTask()
	task.applyPRStatus(makePRStatus(100, 0, 0x1000, 0x2000))
	task.applyPRStatus(makePRStatus(101, 0, 0x1100, 0x2100))

	if got := task.PrimaryPid(); got != 100 {
		t.Errorf("PrimaryPid() = %d, want 100 (the first PRSTATUS seen)", got)
	}
	if len(task.LWPs()) != 2 {
		t.Errorf("len(LWPs()) = %d, want 2", len(task.LWPs()))
	}
}

func TestPrimaryPidIsMinusOneWithNoThreads(t *testing.T) {
	task := newTestTask()
	if got := task.PrimaryPid(); got != -1 {
		t.Errorf("PrimaryPid() = %d, want -1 for a task with no PRSTATUS notes", got)
	}
}

func TestGetRegistersNoSuchLwp(t *testing.T) {
	task := newTestTask()
	task.applyPRStatus(makePRStatus(7, 11, 0x1000, 0x2000))

	if _, err := task.GetRegisters(9999); err == nil {
		t.Fatal("GetRegisters: want ErrNoSuchLwp for an unknown pid, got nil")
	} else if !isNoSuchLwp(err) {
		t.Errorf("GetRegisters: err = %v, want it to wrap ErrNoSuchLwp", err)
	}

	regs, err := task.GetRegisters(7)
	if err != nil {
		t.Fatalf("GetRegisters(7): %v", err)
	}
	if regs.PC != 0x1000 {
		t.Errorf("PC = %#x, want 0x1000", regs.PC)
	}
	if lwp := task.LWP(7); lwp.Signal != 11 {
		t.Errorf("LWP(7).Signal = %d, want 11 (pr_cursig)", lwp.Signal)
	}
}

func isNoSuchLwp(err error) bool {
	for err != nil {
		if err == ErrNoSuchLwp {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func TestApplyAuxvStopsAtAtNull(t *testing.T) {
	task := newTestTask()
	buf := make([]byte, 64)
	binary.LittleEndian.PutUint64(buf[0:8], AtEntry)
	binary.LittleEndian.PutUint64(buf[8:16], 0xabc000)
	binary.LittleEndian.PutUint64(buf[16:24], 55) // some later tag
	binary.LittleEndian.PutUint64(buf[24:32], 99)
	// AT_NULL terminator at [32:48); values left zero.
	binary.LittleEndian.PutUint64(buf[48:56], 77) // past AT_NULL: must be ignored
	binary.LittleEndian.PutUint64(buf[56:64], 1)

	task.applyAuxv(buf, binary.LittleEndian)

	if v, ok := task.Auxv(AtEntry); !ok || v != 0xabc000 {
		t.Errorf("Auxv(AT_ENTRY) = (%#x, %v), want (0xabc000, true)", v, ok)
	}
	if v, ok := task.Auxv(55); !ok || v != 99 {
		t.Errorf("Auxv(55) = (%#x, %v), want (99, true)", v, ok)
	}
	if v, ok := task.Auxv(77); ok {
		t.Errorf("Auxv(77) = (%#x, true), want absent: it follows AT_NULL", v)
	}
}

// TestApplyFileNoteSwallowsLoadFailure covers §4.3's "failures to load
// an individual entry are swallowed; the next entry is attempted": a
// FILE note entry pointing at a path that can't be loaded should not
// abort note processing, just record a warning.
func TestApplyFileNoteSwallowsLoadFailure(t *testing.T) {
	task := newTestTask()
	cache := snapcore.NewImageCache()

	name := "/nonexistent/path/does-not-exist.so"
	desc := buildFileNote(t, []fileNoteEntry{
		{start: 0x7f0000000000, end: 0x7f0000001000, fileOffPages: 0, path: name},
	})

	task.applyFileNote(desc, binary.LittleEndian, cache)

	if len(task.objects) != 0 {
		t.Errorf("objects = %v, want none loaded for an unloadable path", task.objects)
	}
	if len(task.Warnings()) == 0 {
		t.Error("Warnings() is empty, want a warning recorded for the failed load")
	}
}

type fileNoteEntry struct {
	start, end   uint64
	fileOffPages uint64
	path         string
}

func buildFileNote(t *testing.T, entries []fileNoteEntry) []byte {
	t.Helper()
	var buf []byte
	put64 := func(v uint64) {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v)
		buf = append(buf, b[:]...)
	}
	put64(uint64(len(entries)))
	put64(4096)
	for _, e := range entries {
		put64(e.start)
		put64(e.end)
		put64(e.fileOffPages)
	}
	for _, e := range entries {
		buf = append(buf, []byte(e.path)...)
		buf = append(buf, 0)
	}
	return buf
}

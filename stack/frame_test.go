package stack

import (
	"context"
	"errors"
	"testing"

	"github.com/snapstack/pstack/internal/snapcore"
	"github.com/snapstack/pstack/internal/snaptask"
)

func newTaskForBindTests(t *testing.T) *snaptask.Task {
	t.Helper()
	return snaptask.NewForTest("amd64", nil)
}

func TestBindSourceUnmappedAddress(t *testing.T) {
	task := newTaskForBindTests(t)
	b := NewBinder(task)

	if _, _, _, err := b.BindSource(0xdeadbeef); !errors.Is(err, ErrUnmapped) {
		t.Fatalf("BindSource: err = %v, want ErrUnmapped", err)
	}
}

func TestBindSourceNoDebugInfo(t *testing.T) {
	objSegs := []*snapcore.Segment{{Vaddr: 0, FileOff: 0, FileSize: 0x1000, MemSize: 0x1000}}
	obj := snapcore.NewSyntheticImage("/bin/stripped", "amd64", snapcore.NewBufferReader(make([]byte, 0x1000)), objSegs)

	task := snaptask.NewForTest("amd64", []snaptask.TestLoadedObject{{Bias: 0x400000, Image: obj}})
	b := NewBinder(task)

	if _, _, _, err := b.BindSource(0x400500); !errors.Is(err, ErrNoDebugInfo) {
		t.Fatalf("BindSource: err = %v, want ErrNoDebugInfo (no .debug_info section)", err)
	}
}

func TestBindSynthesizesNameWhenUnresolved(t *testing.T) {
	task := newTaskForBindTests(t)
	b := NewBinder(task)

	f := b.Bind(0x1234)
	if f.HasSource {
		t.Error("HasSource = true, want false for an address with no debug info")
	}
	if f.Function == "" {
		t.Error("Function is empty, want a synthesized placeholder name")
	}
}

type fakeUnwinder struct {
	pcs map[uint64][]uint64
}

func (f fakeUnwinder) Unwind(ctx context.Context, task *snaptask.Task, pid uint64, maxFrames int) ([]uint64, error) {
	return f.pcs[pid], nil
}

func TestGetStacksOneStackPerLWP(t *testing.T) {
	task := snaptask.NewForTestWithLWPs("amd64", nil, map[uint64]snaptask.Registers{
		1: {PC: 0x1000},
		2: {PC: 0x2000},
	})

	unwinder := fakeUnwinder{pcs: map[uint64][]uint64{1: {0x1000, 0x1010}, 2: {0x2000}}}
	stacks, err := GetStacks(context.Background(), task, unwinder, Options{}, 16)
	if err != nil {
		t.Fatalf("GetStacks: %v", err)
	}
	if len(stacks) != 2 {
		t.Fatalf("len(stacks) = %d, want 2", len(stacks))
	}
	byPid := map[uint64]ThreadStack{}
	for _, s := range stacks {
		byPid[s.Pid] = s
	}
	if len(byPid[1].Frames) != 2 {
		t.Errorf("thread 1 has %d frames, want 2", len(byPid[1].Frames))
	}
	if len(byPid[2].Frames) != 1 {
		t.Errorf("thread 2 has %d frames, want 1", len(byPid[2].Frames))
	}
}

package snaptask

import (
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/snapstack/pstack/internal/snapcore"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel) // keep test output quiet
	return log
}

// TestAddressRangesProjectsSnapshotSegments is scenario-8 of the testable
// properties: address_ranges() equals the {vaddr, file_size, mem_size}
// projection of the snapshot's loadable segments, in order.
func TestAddressRangesProjectsSnapshotSegments(t *testing.T) {
	segs := []*snapcore.Segment{
		{Vaddr: 0x1000, FileOff: 0, FileSize: 0x100, MemSize: 0x200},
		{Vaddr: 0x2000, FileOff: 0x100, FileSize: 0x50, MemSize: 0x50},
	}
	snap := snapcore.NewSyntheticImage("snap", "amd64", snapcore.NewBufferReader(make([]byte, 0x200)), segs)

	task := &Task{snapshot: snap, lwps: map[uint64]*LWP{}, auxv: map[uint64]uint64{}, log: testLogger()}
	ranges := task.AddressRanges()

	if len(ranges) != 2 {
		t.Fatalf("len(ranges) = %d, want 2", len(ranges))
	}
	for i, seg := range segs {
		r := ranges[i]
		if r.Vaddr != seg.Vaddr || r.FileSize != seg.FileSize || r.MemSize != seg.MemSize {
			t.Errorf("ranges[%d] = %+v, want {%d %d %d}", i, r, seg.Vaddr, seg.FileSize, seg.MemSize)
		}
	}
}

func TestFindSegmentResolvesLoadedObjectBias(t *testing.T) {
	objSegs := []*snapcore.Segment{{Vaddr: 0, FileOff: 0, FileSize: 0x1000, MemSize: 0x1000}}
	obj := snapcore.NewSyntheticImage("/lib/libX.so", "amd64", snapcore.NewBufferReader(make([]byte, 0x1000)), objSegs)

	task := &Task{
		lwps:    map[uint64]*LWP{},
		auxv:    map[uint64]uint64{},
		log:     testLogger(),
		objects: []*loadedObject{{bias: 0x7f0000000000, image: obj}},
	}

	bias, gotObj, seg := task.FindSegment(0x7f0000000500)
	if bias != 0x7f0000000000 {
		t.Errorf("bias = %#x, want 0x7f0000000000", bias)
	}
	if gotObj != obj {
		t.Errorf("object = %v, want %v", gotObj, obj)
	}
	if seg == nil {
		t.Fatal("seg = nil, want a match")
	}
}

package snaptask

import (
	"github.com/sirupsen/logrus"

	"github.com/snapstack/pstack/internal/memreader"
	"github.com/snapstack/pstack/internal/snapcore"
)

// TestLoadedObject is a {load_bias, object image} binding for assembling
// a Task without going through note interpretation, for packages one
// layer up (the frame binder, a future unwinder) that need a Task whose
// address space is under their own control.
type TestLoadedObject struct {
	Bias  snapcore.Address
	Image *snapcore.ObjectImage
}

// NewForTest builds a Task with no snapshot and the given loaded-object
// set, for exercising FindSegment/ReadMemory and frame binding without a
// real core file.
func NewForTest(archName string, objects []TestLoadedObject) *Task {
	t := &Task{
		ArchName: archName,
		lwps:     map[uint64]*LWP{},
		auxv:     map[uint64]uint64{},
		log:      discardLogger(),
	}
	for _, o := range objects {
		t.objects = append(t.objects, &loadedObject{bias: o.Bias, image: o.Image})
	}
	t.mem = memreader.New(nil, t.FindSegment)
	return t
}

// NewForTestWithLWPs is NewForTest plus a fixed lwp map, for exercising
// GetStacks/GetRegisters against known register values.
func NewForTestWithLWPs(archName string, objects []TestLoadedObject, lwps map[uint64]Registers) *Task {
	t := NewForTest(archName, objects)
	for pid, regs := range lwps {
		t.lwps[pid] = &LWP{Pid: pid, Regs: regs}
		if t.primaryPid == 0 {
			t.primaryPid = pid
		}
	}
	return t
}

func discardLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

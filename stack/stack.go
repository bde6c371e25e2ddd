// Package stack turns a task's registers and memory into the frame
// sequences a text or structured-record printer consumes: get_stacks,
// in spec terms. It does not itself walk call frames -- the reference
// tool's Process::getStacks delegates that to an architecture-specific
// unwinder, and this package keeps the same boundary, taking an
// Unwinder as a collaborator and doing only the frame-to-source binding
// (frame.go) once a sequence of return addresses is in hand.
package stack

import (
	"context"

	"github.com/snapstack/pstack/internal/snapcore"
	"github.com/snapstack/pstack/internal/snaptask"
)

// Frame is one entry of a thread's stack: the return address the
// unwinder reported, plus whatever this package could resolve from it.
// Function is a best-effort name -- synthesized from the address when
// no debug info covers it, per the "non-fatal missing debug info"
// handling in the error design. File/Line/HasSource describe the
// source location, when one was found.
type Frame struct {
	IP        snapcore.Address
	Function  string
	File      string
	Line      int
	HasSource bool
}

// ThreadStack is the frame sequence captured for one lwp.
type ThreadStack struct {
	Pid    uint64
	Frames []Frame
}

// Options carries the caller's stack-walking preferences (which
// registers to trust, whether to stop at main, and similar knobs the
// reference tool's PstackOptions bundles). It holds a single field
// here: option parsing is out of scope for this package, and an
// embedding CLI is expected to grow this struct with the flags it
// actually offers.
type Options struct {
	// StopAtMain records a preference for ending a stack at the first
	// frame named "main". GetStacks does not read it and Unwinder.Unwind
	// does not receive it, so setting it does not change the returned
	// stacks.
	StopAtMain bool
}

// Unwinder walks the call stack of one lwp in task, returning the
// sequence of return addresses from innermost to outermost, bounded to
// at most maxFrames entries. It is the "unwinder that actually walks
// call frames" the design explicitly keeps external: an
// architecture-specific CFI evaluator (built, for instance, on
// dwarfunit's FrameDescriptionEntries and a DWARF expression
// evaluator) implements this interface and is supplied by the caller.
type Unwinder interface {
	Unwind(ctx context.Context, task *snaptask.Task, pid uint64, maxFrames int) ([]uint64, error)
}

// GetStacks returns one ThreadStack per lwp in task, in the order
// snaptask.Task.LWPs reports them, unwound by unwinder and bound to
// source locations via a Binder built fresh for this call. A per-frame
// binding failure never aborts the whole walk: Unmapped and
// NoDebugInfo addresses still produce a Frame, just one with a
// synthesized "??@<addr>" Function and an empty File (see frame.go's
// Bind).
func GetStacks(ctx context.Context, task *snaptask.Task, unwinder Unwinder, options Options, maxFrames int) ([]ThreadStack, error) {
	binder := NewBinder(task)
	lwps := task.LWPs()
	stacks := make([]ThreadStack, 0, len(lwps))
	for _, l := range lwps {
		pcs, err := unwinder.Unwind(ctx, task, l.Pid, maxFrames)
		if err != nil {
			return nil, err
		}
		frames := make([]Frame, len(pcs))
		for i, pc := range pcs {
			frames[i] = binder.Bind(pc)
		}
		stacks = append(stacks, ThreadStack{Pid: l.Pid, Frames: frames})
	}
	return stacks, nil
}

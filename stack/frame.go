package stack

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/snapstack/pstack/internal/dwarfunit"
	"github.com/snapstack/pstack/internal/snapcore"
	"github.com/snapstack/pstack/internal/snaptask"
)

// Binder implements the frame-to-source binding algorithm of §4.5: find
// the loaded object covering a PC, subtract its load bias, find the
// compilation unit whose root covers the translated address, and ask
// that unit for the (file, line) pair and enclosing function. It caches
// one dwarfunit.Info per object image it has seen, since building one
// walks the whole .debug_info section -- expensive to redo per frame
// when a stack revisits the same object repeatedly, which it usually
// does.
type Binder struct {
	task *snaptask.Task

	mu    sync.Mutex
	infos map[*snapcore.ObjectImage]*infoEntry
}

type infoEntry struct {
	info *dwarfunit.Info
	err  error
}

// NewBinder returns a Binder for resolving frames in task.
func NewBinder(task *snaptask.Task) *Binder {
	return &Binder{task: task, infos: map[*snapcore.ObjectImage]*infoEntry{}}
}

// BindSource runs the four-step frame-to-source binding algorithm:
// locate the owning object, translate to an object-local address, find
// the covering unit, and ask it for the source line and enclosing
// function name. Fails with ErrUnmapped if no loaded object's segment
// covers pc, or ErrNoDebugInfo if the object has no debug info or no
// unit covers the translated address.
func (b *Binder) BindSource(pc snapcore.Address) (file string, line int, function string, err error) {
	bias, obj, seg := b.task.FindSegment(pc)
	if seg == nil {
		return "", 0, "", fmt.Errorf("%w: %#x", ErrUnmapped, pc)
	}
	local := uint64(pc.Sub(bias))

	info, err := b.infoFor(obj)
	if err != nil {
		return "", 0, "", fmt.Errorf("%w: %s: %v", ErrNoDebugInfo, obj.Path, err)
	}

	unit, err := info.UnitContaining(local)
	if err != nil {
		return "", 0, "", fmt.Errorf("stack: %s: %w", obj.Path, err)
	}
	if unit == nil {
		return "", 0, "", fmt.Errorf("%w: %s: no unit covers %#x", ErrNoDebugInfo, obj.Path, local)
	}

	file, line, ok, err := unit.SourceForAddr(local)
	if err != nil {
		return "", 0, "", fmt.Errorf("stack: %s: %w", obj.Path, err)
	}
	if !ok {
		file, line = "", 0
	}
	fn, _, err := unit.FunctionAt(local)
	if err != nil {
		return "", 0, "", fmt.Errorf("stack: %s: %w", obj.Path, err)
	}
	return file, line, fn, nil
}

// infoFor returns the cached dwarfunit.Info for obj, building it on
// first request. A build failure -- most commonly "no .debug_info
// section", for a stripped shared object -- is cached too, so repeated
// frames in the same object don't re-attempt the scan.
func (b *Binder) infoFor(obj *snapcore.ObjectImage) (*dwarfunit.Info, error) {
	b.mu.Lock()
	if e, ok := b.infos[obj]; ok {
		b.mu.Unlock()
		return e.info, e.err
	}
	b.mu.Unlock()

	addrSize := 8
	order := binary.ByteOrder(binary.LittleEndian)
	if b.task.Arch != nil {
		addrSize = b.task.Arch.PointerSize
		order = b.task.Arch.ByteOrder
	}
	info, err := dwarfunit.NewInfo(obj, order, addrSize, nil)

	b.mu.Lock()
	b.infos[obj] = &infoEntry{info: info, err: err}
	b.mu.Unlock()
	return info, err
}

// Bind resolves pc the same way BindSource does, but never fails: a
// missing mapping or missing debug info is non-fatal per the error
// design, and produces a Frame with a synthesized function name and no
// source location instead of aborting the walk.
func (b *Binder) Bind(pc uint64) Frame {
	addr := snapcore.Address(pc)
	file, line, fn, err := b.BindSource(addr)
	if err != nil {
		return Frame{IP: addr, Function: fmt.Sprintf("??@%#x", pc)}
	}
	if fn == "" {
		fn = fmt.Sprintf("??@%#x", pc)
	}
	return Frame{
		IP:        addr,
		Function:  fn,
		File:      file,
		Line:      line,
		HasSource: file != "",
	}
}

//go:build linux && amd64

package snaptask

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/snapstack/pstack/internal/snapcore"
)

// liveThread runs every ptrace call for one traced pid on a dedicated,
// locked OS thread: ptrace attaches a specific kernel thread to a
// tracee, so every subsequent call affecting it must come from that same
// thread. Grounded on program/server/ptrace.go's ptraceRun.
type liveThread struct {
	fc chan func() error
	ec chan error
}

func newLiveThread() *liveThread {
	t := &liveThread{fc: make(chan func() error), ec: make(chan error)}
	go t.run()
	return t
}

func (t *liveThread) run() {
	runtime.LockOSThread()
	for f := range t.fc {
		t.ec <- f()
	}
}

func (t *liveThread) do(f func() error) error {
	t.fc <- f
	return <-t.ec
}

func (t *liveThread) close() {
	close(t.fc)
}

// LiveTask attaches to a running process via ptrace and exposes its
// memory and registers through the same ByteReader/Registers shapes a
// snapshot-backed Task uses, so the frame binder and unwinder need no
// special casing between the two paths. This is intentionally thin --
// resuming, single-stepping and writing memory are explicitly out of
// scope here. cmd/stackdump does not use it: that command only reads
// snapshot files.
type LiveTask struct {
	pid    int
	thread *liveThread
}

// AttachLive attaches to pid and waits for it to stop.
func AttachLive(pid int) (*LiveTask, error) {
	th := newLiveThread()
	if err := th.do(func() error { return unix.PtraceAttach(pid) }); err != nil {
		th.close()
		return nil, fmt.Errorf("snaptask: ptrace attach %d: %w", pid, err)
	}
	var status unix.WaitStatus
	if err := th.do(func() error {
		_, err := unix.Wait4(pid, &status, 0, nil)
		return err
	}); err != nil {
		th.close()
		return nil, fmt.Errorf("snaptask: waiting for stop of %d: %w", pid, err)
	}
	return &LiveTask{pid: pid, thread: th}, nil
}

// Detach resumes pid and releases the attaching thread. The Task must
// not be used after Detach returns.
func (t *LiveTask) Detach() error {
	err := t.thread.do(func() error { return unix.PtraceDetach(t.pid) })
	t.thread.close()
	return err
}

// Registers reads the general-purpose register file of the traced pid.
// Multi-threaded live targets are out of scope: pid names the single
// thread attached by AttachLive.
func (t *LiveTask) Registers() (Registers, error) {
	var regs unix.PtraceRegs
	if err := t.thread.do(func() error { return unix.PtraceGetRegs(t.pid, &regs) }); err != nil {
		return Registers{}, fmt.Errorf("snaptask: ptrace getregs %d: %w", t.pid, err)
	}
	return Registers{
		PC: snapcore.Address(regs.Rip),
		SP: snapcore.Address(regs.Rsp),
		Raw: []uint64{
			regs.R15, regs.R14, regs.R13, regs.R12, regs.Rbp, regs.Rbx,
			regs.R11, regs.R10, regs.R9, regs.R8, regs.Rax, regs.Rcx,
			regs.Rdx, regs.Rsi, regs.Rdi, regs.Orig_rax, regs.Rip, regs.Cs,
			regs.Eflags, regs.Rsp, regs.Ss, regs.Fs_base, regs.Gs_base,
			regs.Ds, regs.Es, regs.Fs, regs.Gs,
		},
	}, nil
}

// ReadAt implements snapcore.ByteReader by peeking the tracee's memory,
// grounded on program/server/ptrace.go's ptracePeek.
func (t *LiveTask) ReadAt(p []byte, off int64) (int, error) {
	var n int
	err := t.thread.do(func() error {
		var peekErr error
		n, peekErr = unix.PtracePeekText(t.pid, uintptr(off), p)
		return peekErr
	})
	if err != nil {
		return n, err
	}
	if n != len(p) {
		return n, fmt.Errorf("snaptask: short ptrace peek at %#x: got %d of %d bytes", off, n, len(p))
	}
	return n, nil
}

// Size reports the largest offset ReadAt will accept. A live task has no
// fixed extent the way a snapshot file does, so this is simply the
// largest value an int64 offset can hold.
func (t *LiveTask) Size() int64 { return 1<<63 - 1 }

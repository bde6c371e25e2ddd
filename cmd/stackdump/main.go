// Command stackdump prints a stack trace for a kernel task snapshot (an
// ELF core file); it does not attach to live processes. It is the thin
// driver the core packages are built to sit underneath: option parsing
// and output formatting, left out of scope for the library itself, live
// entirely here, following the reference tool's emain/usage split
// between argument handling and the actual stack walk.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/snapstack/pstack/internal/snapcore"
	"github.com/snapstack/pstack/internal/snaptask"
	"github.com/snapstack/pstack/stack"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		maxFrames int
		asJSON    bool
		verbose   bool
	)

	cmd := &cobra.Command{
		Use:   "stackdump <core-file>",
		Short: "print a stack trace from a kernel task snapshot",
		Long: "stackdump reads a kernel task snapshot (an ELF core file) and prints\n" +
			"the stack of every thread it contains, resolving program counters to\n" +
			"source locations where debug information is available.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.New()
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}
			return run(cmd.Context(), args[0], maxFrames, asJSON, log)
		},
	}
	cmd.Flags().IntVar(&maxFrames, "max-frames", 1024, "maximum number of frames to print per thread")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print stacks as JSON records instead of text")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log recoverable problems while reading the snapshot")
	return cmd
}

func run(ctx context.Context, path string, maxFrames int, asJSON bool, log *logrus.Logger) error {
	cache := snapcore.NewImageCache()
	task, err := snaptask.NewFromSnapshot(path, cache, log)
	if err != nil {
		return fmt.Errorf("stackdump: %w", err)
	}
	for _, w := range task.Warnings() {
		log.Warn(w)
	}

	stacks, err := stack.GetStacks(ctx, task, registersOnlyUnwinder{}, stack.Options{}, maxFrames)
	if err != nil {
		return fmt.Errorf("stackdump: %w", err)
	}

	if asJSON {
		return json.NewEncoder(os.Stdout).Encode(stacks)
	}
	dumpText(os.Stdout, path, task, stacks)
	return nil
}

func dumpText(w *os.File, path string, task *snaptask.Task, stacks []stack.ThreadStack) {
	fmt.Fprintf(w, "task: %s\n", path)
	if exe := task.Executable(); exe != "" {
		fmt.Fprintf(w, "executable: %s\n", exe)
	}
	for _, s := range stacks {
		fmt.Fprintf(w, "thread %d:\n", s.Pid)
		for _, f := range s.Frames {
			if f.HasSource {
				fmt.Fprintf(w, "  %#016x %s (%s:%d)\n", uint64(f.IP), f.Function, f.File, f.Line)
			} else {
				fmt.Fprintf(w, "  %#016x %s\n", uint64(f.IP), f.Function)
			}
		}
		fmt.Fprintln(w)
	}
}

// registersOnlyUnwinder is a minimal stand-in for the call-frame
// unwinder the stack package takes as an external collaborator: it
// reports only the thread's current program counter, with no attempt
// to walk parent frames via call-frame information. A real deployment
// supplies its own Unwinder built on dwarfunit's
// FrameDescriptionEntries; this keeps the command runnable without one.
type registersOnlyUnwinder struct{}

func (registersOnlyUnwinder) Unwind(ctx context.Context, task *snaptask.Task, pid uint64, maxFrames int) ([]uint64, error) {
	regs, err := task.GetRegisters(pid)
	if err != nil {
		return nil, err
	}
	return []uint64{uint64(regs.PC)}, nil
}

package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vk/kernelbake/internal/localexecutor"
)

// Call records one program invocation seen by a FakeToolchain.
type Call struct {
	Program string
	Args    []string
}

// FakeToolchain is an in-process localexecutor.Runner that behaves like the
// ROCm tools kernelbake drives:
//
//   - hipcc writes the contents of its source argument to the -o path, or
//     exits 1 when the source base name is listed in FailSources;
//   - hipify-perl prints its input with "cuda" replaced by "hip", or exits 1
//     when Translate is false;
//   - rocminfo prints ProbeOutput.
//
// Programs listed in Missing fail to spawn.
type FakeToolchain struct {
	FailSources map[string]bool
	Translate   bool
	ProbeOutput string
	Missing     map[string]bool
	Delay       time.Duration

	mu    sync.Mutex
	calls []Call

	active    atomic.Int32
	maxActive atomic.Int32
}

// Run implements localexecutor.Runner.
func (f *FakeToolchain) Run(ctx context.Context, name string, args ...string) (*localexecutor.Output, error) {
	prog := filepath.Base(name)

	f.mu.Lock()
	f.calls = append(f.calls, Call{Program: prog, Args: slices.Clone(args)})
	f.mu.Unlock()

	if f.Missing[prog] {
		return nil, &localexecutor.SpawnError{Program: name, Err: os.ErrNotExist}
	}

	switch prog {
	case "hipcc":
		return f.compile(args)
	case "hipify-perl":
		return f.translate(args)
	case "rocminfo":
		return &localexecutor.Output{Stdout: []byte(f.ProbeOutput)}, nil
	}
	return &localexecutor.Output{ExitCode: 127, Stderr: []byte(prog + ": unknown fake program")}, nil
}

func (f *FakeToolchain) compile(args []string) (*localexecutor.Output, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		old := f.maxActive.Load()
		if n <= old || f.maxActive.CompareAndSwap(old, n) {
			break
		}
	}
	if f.Delay > 0 {
		time.Sleep(f.Delay)
	}

	src := args[len(args)-1]
	var out string
	for i, a := range args {
		if a == "-o" && i+1 < len(args) {
			out = args[i+1]
		}
	}

	if f.FailSources[filepath.Base(src)] {
		return &localexecutor.Output{
			ExitCode: 1,
			Stdout:   []byte("compiling " + src + "\n"),
			Stderr:   []byte(fmt.Sprintf("%s:1:1: error: unknown type name 'broken'\n", src)),
		}, nil
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return &localexecutor.Output{ExitCode: 1, Stderr: []byte(err.Error())}, nil
	}
	if err := os.WriteFile(out, append([]byte("HSACO:"), data...), 0o644); err != nil {
		return &localexecutor.Output{ExitCode: 1, Stderr: []byte(err.Error())}, nil
	}
	return &localexecutor.Output{}, nil
}

func (f *FakeToolchain) translate(args []string) (*localexecutor.Output, error) {
	if !f.Translate || len(args) != 1 {
		return &localexecutor.Output{ExitCode: 1, Stderr: []byte("hipify-perl: translation failed")}, nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return &localexecutor.Output{ExitCode: 1, Stderr: []byte(err.Error())}, nil
	}
	return &localexecutor.Output{Stdout: []byte(strings.ReplaceAll(string(data), "cuda", "hip"))}, nil
}

// Calls returns the invocations of prog, in call order.
func (f *FakeToolchain) Calls(prog string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if c.Program == prog {
			out = append(out, c)
		}
	}
	return out
}

// MaxConcurrentCompiles is the highest number of hipcc calls seen running at
// the same time.
func (f *FakeToolchain) MaxConcurrentCompiles() int {
	return int(f.maxActive.Load())
}

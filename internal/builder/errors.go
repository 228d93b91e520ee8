package builder

import (
	"fmt"
	"strings"

	"github.com/vk/kernelbake/internal/errdefs"
)

// CompileError is a device compiler run that exited with a nonzero status.
type CompileError struct {
	Source      string
	CommandLine string
	ExitCode    int
	Stdout      []byte
	Stderr      []byte
}

func (e *CompileError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: compiling %s failed with exit status %d\n", errdefs.ErrCompile, e.Source, e.ExitCode)
	fmt.Fprintf(&b, "command: %s\n", e.CommandLine)
	if len(e.Stdout) > 0 {
		fmt.Fprintf(&b, "stdout:\n%s\n", strings.TrimRight(string(e.Stdout), "\n"))
	}
	if len(e.Stderr) > 0 {
		fmt.Fprintf(&b, "stderr:\n%s\n", strings.TrimRight(string(e.Stderr), "\n"))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Is matches errdefs.ErrCompile.
func (e *CompileError) Is(target error) bool { return target == errdefs.ErrCompile }

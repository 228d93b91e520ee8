// Package compile turns one kernel source into one device code object by
// driving the external translator and device compiler.
package compile

import (
	"context"
	"path/filepath"
	"slices"

	"github.com/vk/kernelbake/internal/ctxlog"
	"github.com/vk/kernelbake/internal/errdefs"
	"github.com/vk/kernelbake/internal/fsutil"
	"github.com/vk/kernelbake/internal/localexecutor"
)

// DefaultArtifactExt is the extension of compiled code objects.
const DefaultArtifactExt = ".hsaco"

// FixedFlags are passed to every compilation.
var FixedFlags = []string{"-O3", "-ffast-math"}

// Options are shared by every task of a build.
type Options struct {
	Compiler    string
	Translator  string
	Translate   bool
	Arch        string
	OutDir      string
	ArtifactExt string
	IncludeRoot string
	IncludeDirs []string
	ExtraArgs   []string
}

// ArtifactPath derives the code object path of source: the source's base name
// with its extension replaced, inside outDir.
func ArtifactPath(source, outDir, ext string) string {
	if ext == "" {
		ext = DefaultArtifactExt
	}
	return filepath.Join(outDir, fsutil.Stem(source)+ext)
}

// Task is the compilation of a single kernel source.
type Task struct {
	Source string
	// Translated is the translator's output when translation succeeded.
	Translated string
	Output     string
	Args       []string

	opts Options
}

// New creates the task for source. Nothing runs until Run.
func New(source string, opts Options) *Task {
	return &Task{
		Source: source,
		Output: ArtifactPath(source, opts.OutDir, opts.ArtifactExt),
		opts:   opts,
	}
}

// Input is the file handed to the compiler.
func (t *Task) Input() string {
	if t.Translated != "" {
		return t.Translated
	}
	return t.Source
}

// Arguments builds the compiler argument list for input.
func Arguments(input, output string, opts Options) []string {
	args := []string{
		"--offload-arch=" + opts.Arch,
		"--genco",
		"-o", output,
	}
	args = append(args, FixedFlags...)
	args = append(args, opts.ExtraArgs...)
	for _, dir := range opts.IncludeDirs {
		args = append(args, "-I"+dir)
	}
	if opts.IncludeRoot != "" {
		args = append(args, "-I"+opts.IncludeRoot)
	}
	return append(args, input)
}

// CommandLine renders the compiler invocation for diagnostics.
func (t *Task) CommandLine() string {
	return localexecutor.CommandLine(t.opts.Compiler, t.Args...)
}

// Run translates the source when enabled, then compiles it. The returned
// error is non-nil only when the compiler could not be started; a compiler
// that ran and failed is reported in the Result.
func (t *Task) Run(ctx context.Context, runner localexecutor.Runner) (*Result, error) {
	logger := ctxlog.FromContext(ctx).With("kernel", t.Source)

	t.Translated = ""
	if t.opts.Translate {
		if translated, ok := Translate(ctx, runner, t.opts.Translator, t.Source, t.opts.OutDir); ok {
			t.Translated = translated
		}
	}
	t.Args = Arguments(t.Input(), t.Output, t.opts)

	logger.Debug("Invoking device compiler.", "command", t.CommandLine())
	out, err := runner.Run(ctx, t.opts.Compiler, slices.Clone(t.Args)...)
	if err != nil {
		return nil, errdefs.Spawn(err, "device compiler for %s", t.Source)
	}

	return &Result{
		Source:      t.Source,
		CommandLine: t.CommandLine(),
		ExitCode:    out.ExitCode,
		Stdout:      out.Stdout,
		Stderr:      out.Stderr,
	}, nil
}

// Result is the outcome of one compiler run.
type Result struct {
	Source      string
	CommandLine string
	ExitCode    int
	Stdout      []byte
	Stderr      []byte
}

// Failed reports a nonzero compiler exit.
func (r *Result) Failed() bool { return r.ExitCode != 0 }

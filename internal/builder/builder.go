package builder

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/vk/kernelbake/internal/artifacts"
	"github.com/vk/kernelbake/internal/bindings"
	"github.com/vk/kernelbake/internal/compile"
	"github.com/vk/kernelbake/internal/ctxlog"
	"github.com/vk/kernelbake/internal/errdefs"
	"github.com/vk/kernelbake/internal/executor"
	"github.com/vk/kernelbake/internal/fsutil"
	"github.com/vk/kernelbake/internal/localexecutor"
	"github.com/vk/kernelbake/internal/sources"
	"github.com/vk/kernelbake/internal/staleness"
	"github.com/vk/kernelbake/internal/toolchain"
	"go.uber.org/multierr"
)

// JobsEnvVar overrides the worker count. It must hold a positive integer.
const JobsEnvVar = "KERNELBAKE_JOBS"

// Builder holds everything one build needs. Construct it with New and adjust
// the exported fields before calling Build.
type Builder struct {
	Toolchain toolchain.Config
	Sources   *sources.Set
	Templates []sources.Template
	OutDir    string

	// Package and BindingsFile name the generated Go file.
	Package      string
	BindingsFile string

	ArtifactExt string
	// SourceExt is the extension given to instantiated templates.
	SourceExt   string
	IncludeDirs []string
	ExtraArgs   []string
	Translate   bool
	// Verbose logs every successful compile at info level.
	Verbose bool

	// Jobs fixes the worker count. When zero it is resolved with Workers.
	Jobs int

	Runner   localexecutor.Runner
	Getenv   func(string) string
	CPUCount func() (int, error)
}

// New returns a Builder with default naming and the real process runner.
func New(tc toolchain.Config, set *sources.Set, outDir string) *Builder {
	if set == nil {
		set = &sources.Set{}
	}
	return &Builder{
		Toolchain:    tc,
		Sources:      set,
		OutDir:       outDir,
		Package:      bindings.DefaultPackage,
		BindingsFile: bindings.DefaultFileName,
		ArtifactExt:  compile.DefaultArtifactExt,
		SourceExt:    sources.DefaultKernelExt,
		Runner:       localexecutor.New(),
		Getenv:       os.Getenv,
		CPUCount:     func() (int, error) { return cpu.Counts(false) },
	}
}

// Entry describes one kernel of a build.
type Entry struct {
	Source   string
	Artifact string
	Name     string
	Compiled bool
}

// Manifest is the outcome of a successful Build.
type Manifest struct {
	Arch    string
	Workers int
	Entries []Entry
	// Compiled lists the kernels that were compiled by this invocation.
	Compiled []string
	Bindings []bindings.Binding
	// WriteNeeded is true when the bindings had to be (re)written.
	WriteNeeded  bool
	BindingsPath string
	DepfilePath  string
}

// BindingsPath is where the generated Go file lives.
func (b *Builder) BindingsPath() string {
	return filepath.Join(b.OutDir, b.BindingsFile)
}

// ArtifactOf maps a kernel source to its code object path.
func (b *Builder) ArtifactOf(source string) string {
	return compile.ArtifactPath(source, b.OutDir, b.ArtifactExt)
}

// Build compiles every stale kernel and refreshes the bindings when needed.
func (b *Builder) Build(ctx context.Context) (*Manifest, error) {
	ctx, logger := ctxlog.With(ctx, "arch", b.Toolchain.Arch)

	if !b.Toolchain.Found() {
		if b.Toolchain.RootErr != nil {
			return nil, b.Toolchain.RootErr
		}
		return nil, errdefs.Configf("no ROCm toolchain root found (checked %s and %s); set ROCM_PATH or configure rocm_path",
			strings.Join(toolchain.RootEnvVars, ", "), strings.Join(toolchain.DefaultRoots, ", "))
	}
	if b.OutDir == "" {
		return nil, errdefs.Configf("no output directory configured")
	}
	workers, err := b.workers()
	if err != nil {
		return nil, err
	}
	pool, err := executor.NewPool(workers)
	if err != nil {
		return nil, errdefs.Config(err, "creating worker pool")
	}
	logger.Debug("Build configuration validated.", "root", b.Toolchain.Root, "workers", workers)

	if err := os.MkdirAll(b.OutDir, 0o755); err != nil {
		return nil, errdefs.IO(err, b.OutDir)
	}

	kernels, err := b.kernels()
	if err != nil {
		return nil, err
	}
	if err := bindings.CheckUnique(kernels); err != nil {
		return nil, err
	}
	if err := b.copyIncludes(ctx); err != nil {
		return nil, err
	}

	before, err := artifacts.Scan(b.OutDir, b.ArtifactExt)
	if err != nil {
		return nil, err
	}
	existing, _ := artifacts.Reconcile(before, kernels)

	stale := staleness.Filter(kernels, b.ArtifactOf)
	logger.Info("Kernel sources checked.", "total", len(kernels), "stale", len(stale), "up_to_date", len(kernels)-len(stale))

	results, err := b.compileAll(ctx, pool, stale)
	if err != nil {
		return nil, err
	}
	if err := b.checkResults(ctx, results); err != nil {
		return nil, err
	}

	after, err := artifacts.Scan(b.OutDir, b.ArtifactExt)
	if err != nil {
		return nil, err
	}
	present, missing := artifacts.Reconcile(after, kernels)
	if len(missing) > 0 {
		return nil, &errdefs.Error{
			Kind: errdefs.ErrCompile,
			Msg:  "device compiler reported success but produced no artifact for " + strings.Join(missing, ", "),
		}
	}

	m := b.manifest(stale, present, workers)
	m.WriteNeeded = len(stale) > 0 || len(existing) < len(kernels) || !fsutil.Exists(m.BindingsPath)
	if !m.WriteNeeded {
		logger.Info("Bindings are up to date.", "path", m.BindingsPath)
		return m, nil
	}

	if err := bindings.Emit(m.BindingsPath, bindings.File{
		Package:  b.Package,
		Arch:     b.Toolchain.Arch,
		Bindings: m.Bindings,
	}); err != nil {
		return nil, err
	}
	if err := bindings.WriteDepfile(m.DepfilePath, m.BindingsPath, b.dependencies()); err != nil {
		return nil, err
	}
	logger.Info("Bindings written.", "path", m.BindingsPath, "kernels", len(m.Bindings))

	return m, nil
}

func (b *Builder) workers() (int, error) {
	if b.Jobs > 0 {
		return b.Jobs, nil
	}
	return Workers(b.Getenv, b.CPUCount)
}

// Workers resolves the pool size: JobsEnvVar if set, otherwise the number of
// physical cores, otherwise the number of logical CPUs. A nil getenv reads
// the process environment and a nil cpuCount asks gopsutil.
func Workers(getenv func(string) string, cpuCount func() (int, error)) (int, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv(JobsEnvVar); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 1 {
			return 0, errdefs.Configf("%s must be a positive integer, got %q", JobsEnvVar, v)
		}
		return n, nil
	}
	if cpuCount == nil {
		cpuCount = func() (int, error) { return cpu.Counts(false) }
	}
	if n, err := cpuCount(); err == nil && n > 0 {
		return n, nil
	}
	return runtime.NumCPU(), nil
}

// kernels returns the configured kernel sources followed by the units
// instantiated from templates.
func (b *Builder) kernels() ([]string, error) {
	kernels := append([]string(nil), b.Sources.Kernels...)
	for _, tmpl := range b.Templates {
		units, err := tmpl.Expand(b.OutDir, b.SourceExt)
		if err != nil {
			return nil, err
		}
		kernels = append(kernels, units...)
	}
	return kernels, nil
}

// copyIncludes places every include file in the output directory. All copies
// are attempted and every failure is reported.
func (b *Builder) copyIncludes(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	owners := make(map[string]string, len(b.Sources.Includes))
	for _, inc := range b.Sources.Includes {
		base := filepath.Base(inc)
		if prev, ok := owners[base]; ok {
			return errdefs.Configf("include files %s and %s would both be copied to %s", prev, inc, base)
		}
		owners[base] = inc
	}

	var errs error
	for _, inc := range b.Sources.Includes {
		dst := filepath.Join(b.OutDir, filepath.Base(inc))
		if filepath.Clean(filepath.Dir(inc)) == filepath.Clean(b.OutDir) {
			continue
		}
		if err := fsutil.CopyFile(inc, dst); err != nil {
			errs = multierr.Append(errs, errdefs.IO(err, inc))
		}
	}
	if errs == nil {
		logger.Debug("Include files copied.", "count", len(b.Sources.Includes), "dir", b.OutDir)
	}
	return errs
}

// compileAll runs one task per stale kernel and returns their results in
// input order.
func (b *Builder) compileAll(ctx context.Context, pool *executor.Pool, stale []string) ([]*compile.Result, error) {
	opts := compile.Options{
		Compiler:    b.Toolchain.Compiler(),
		Translator:  b.Toolchain.Translator(),
		Translate:   b.Translate,
		Arch:        b.Toolchain.Arch,
		OutDir:      b.OutDir,
		ArtifactExt: b.ArtifactExt,
		IncludeRoot: b.Toolchain.IncludeRoot,
		IncludeDirs: b.IncludeDirs,
		ExtraArgs:   b.ExtraArgs,
	}

	results := make([]*compile.Result, len(stale))
	err := pool.Run(ctx, len(stale), func(ctx context.Context, i int) error {
		res, err := compile.New(stale[i], opts).Run(ctx, b.Runner)
		if err != nil {
			return err
		}
		results[i] = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (b *Builder) checkResults(ctx context.Context, results []*compile.Result) error {
	logger := ctxlog.FromContext(ctx)
	for i, res := range results {
		if res == nil {
			return &errdefs.Error{Kind: errdefs.ErrCompile, Msg: "no compile result recorded for job " + strconv.Itoa(i)}
		}
		if res.Failed() {
			return &CompileError{
				Source:      res.Source,
				CommandLine: res.CommandLine,
				ExitCode:    res.ExitCode,
				Stdout:      res.Stdout,
				Stderr:      res.Stderr,
			}
		}
		if b.Verbose {
			logger.Info("Kernel compiled.", "kernel", res.Source, "command", res.CommandLine)
		} else {
			logger.Debug("Kernel compiled.", "kernel", res.Source)
		}
	}
	return nil
}

func (b *Builder) manifest(stale []string, present []artifacts.Pair, workers int) *Manifest {
	compiled := make(map[string]bool, len(stale))
	for _, s := range stale {
		compiled[s] = true
	}

	m := &Manifest{
		Arch:         b.Toolchain.Arch,
		Workers:      workers,
		Compiled:     stale,
		BindingsPath: b.BindingsPath(),
		DepfilePath:  b.BindingsPath() + bindings.DepfileSuffix,
	}
	for _, p := range present {
		bnd := bindings.New(p.Source, p.Artifact)
		m.Bindings = append(m.Bindings, bnd)
		m.Entries = append(m.Entries, Entry{
			Source:   p.Source,
			Artifact: p.Artifact,
			Name:     bnd.Name,
			Compiled: compiled[p.Source],
		})
	}
	return m
}

// dependencies lists every input whose change should rerun the build.
// Instantiated template units are outputs, so their templates are listed
// instead.
func (b *Builder) dependencies() []string {
	deps := b.Sources.All()
	for _, tmpl := range b.Templates {
		deps = append(deps, tmpl.Source)
	}
	return deps
}

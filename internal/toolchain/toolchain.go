// Package toolchain locates the ROCm/HIP SDK and decides which GPU
// architecture kernels are compiled for.
package toolchain

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/vk/kernelbake/internal/ctxlog"
	"github.com/vk/kernelbake/internal/errdefs"
	"github.com/vk/kernelbake/internal/fsutil"
	"github.com/vk/kernelbake/internal/localexecutor"
)

const (
	// MarkerHeader must exist below a directory for it to be accepted as an
	// SDK root.
	MarkerHeader = "include/hip/hip_runtime.h"

	// ArchEnvVar overrides architecture detection. Its value is trusted as is.
	ArchEnvVar = "KERNELBAKE_GPU_ARCH"

	// DefaultArch is used when neither the override nor the probe yields an
	// architecture.
	DefaultArch = "gfx1030"

	ProbeTool      = "rocminfo"
	CompilerTool   = "hipcc"
	TranslatorTool = "hipify-perl"
)

// RootEnvVars are consulted in order when no explicit root is given.
var RootEnvVars = []string{"ROCM_PATH", "HIP_PATH", "ROCM_HOME"}

// DefaultRoots are conventional install locations, tried after RootEnvVars.
var DefaultRoots = []string{"/opt/rocm", "/usr/local/rocm", "/usr"}

// Config is the resolved toolchain. Root is empty when no SDK was found; that
// only becomes fatal when a build actually needs it.
type Config struct {
	Root        string
	IncludeRoot string
	Arch        string
	// RootErr explains an empty Root when an explicit override was rejected.
	RootErr error
}

// Found reports whether an SDK root was located.
func (c Config) Found() bool { return c.Root != "" }

// Tool returns the path of a toolchain program: the copy shipped in the SDK's
// bin directory when present, otherwise the bare name for a PATH lookup.
func (c Config) Tool(name string) string {
	if c.Root != "" {
		p := filepath.Join(c.Root, "bin", name)
		if fsutil.Exists(p) {
			return p
		}
	}
	return name
}

// Compiler is the device compiler.
func (c Config) Compiler() string { return c.Tool(CompilerTool) }

// Translator is the CUDA to HIP source translator.
func (c Config) Translator() string { return c.Tool(TranslatorTool) }

// Locator resolves a Config. The zero value is not usable; use NewLocator.
type Locator struct {
	// Override is an explicit SDK root supplied by the caller.
	Override string
	// EnvVars and Candidates default to RootEnvVars and DefaultRoots.
	EnvVars    []string
	Candidates []string
	// Getenv and Runner are swapped out in tests.
	Getenv   func(string) string
	Runner   localexecutor.Runner
	LookPath func(string) (string, error)
}

// NewLocator returns a Locator reading the process environment and running
// the real probe tool.
func NewLocator(override string) *Locator {
	return &Locator{
		Override:   override,
		EnvVars:    RootEnvVars,
		Candidates: DefaultRoots,
		Getenv:     os.Getenv,
		Runner:     localexecutor.New(),
		LookPath:   exec.LookPath,
	}
}

// Resolve finds the SDK root and the target architecture. A missing SDK root
// is not an error here, even when an explicit override was rejected; the
// reason is kept in Config.RootErr. A probe tool that exists but cannot be
// started is an error.
func (l *Locator) Resolve(ctx context.Context) (Config, error) {
	logger := ctxlog.FromContext(ctx)

	root, rootErr := l.findRoot()

	cfg := Config{Root: root, RootErr: rootErr}
	switch {
	case root != "":
		cfg.IncludeRoot = filepath.Join(root, "include")
		logger.Debug("Toolchain root located.", "root", root)
	case rootErr != nil:
		logger.Warn("Configured ROCm root rejected.", "error", rootErr)
	default:
		logger.Warn("No ROCm installation found; set ROCM_PATH or pass an explicit root before building.",
			"env_vars", l.envVars(), "candidates", l.candidates())
	}

	arch, err := l.resolveArch(ctx, cfg)
	if err != nil {
		return Config{}, err
	}
	cfg.Arch = arch
	logger.Debug("Target architecture resolved.", "arch", arch)

	return cfg, nil
}

func (l *Locator) findRoot() (string, error) {
	if l.Override != "" {
		if !IsRoot(l.Override) {
			return "", errdefs.Configf("toolchain root %s does not contain %s", l.Override, MarkerHeader)
		}
		return l.Override, nil
	}
	for _, name := range l.envVars() {
		if v := l.getenv(name); v != "" && IsRoot(v) {
			return v, nil
		}
	}
	for _, c := range l.candidates() {
		if IsRoot(c) {
			return c, nil
		}
	}
	return "", nil
}

// IsRoot reports whether dir looks like a genuine SDK root.
func IsRoot(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, MarkerHeader))
	return err == nil && !info.IsDir()
}

func (l *Locator) resolveArch(ctx context.Context, cfg Config) (string, error) {
	logger := ctxlog.FromContext(ctx)

	if arch := l.getenv(ArchEnvVar); arch != "" {
		logger.Debug("Using architecture from environment.", "env", ArchEnvVar, "arch", arch)
		return arch, nil
	}

	tool := cfg.Tool(ProbeTool)
	if tool == ProbeTool {
		lookPath := l.LookPath
		if lookPath == nil {
			lookPath = exec.LookPath
		}
		if _, err := lookPath(ProbeTool); err != nil {
			logger.Warn("Architecture probe not available, falling back to default.", "tool", ProbeTool, "arch", DefaultArch)
			return DefaultArch, nil
		}
	}

	out, err := l.Runner.Run(ctx, tool)
	if err != nil {
		var spawnErr *localexecutor.SpawnError
		if errors.As(err, &spawnErr) {
			return "", errdefs.Spawn(err, "architecture probe %s", tool)
		}
		return "", err
	}
	if !out.Success() {
		logger.Warn("Architecture probe failed, falling back to default.", "tool", tool, "exit_code", out.ExitCode, "arch", DefaultArch)
		return DefaultArch, nil
	}

	if arch, ok := ParseArch(out.Stdout); ok {
		return arch, nil
	}
	logger.Warn("Architecture probe reported no GPU agent, falling back to default.", "tool", tool, "arch", DefaultArch)
	return DefaultArch, nil
}

func (l *Locator) getenv(name string) string {
	if l.Getenv == nil {
		return os.Getenv(name)
	}
	return l.Getenv(name)
}

func (l *Locator) envVars() []string {
	if l.EnvVars == nil {
		return RootEnvVars
	}
	return l.EnvVars
}

func (l *Locator) candidates() []string {
	if l.Candidates == nil {
		return DefaultRoots
	}
	return l.Candidates
}

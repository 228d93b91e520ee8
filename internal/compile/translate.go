package compile

import (
	"context"
	"os"
	"path/filepath"

	"github.com/vk/kernelbake/internal/ctxlog"
	"github.com/vk/kernelbake/internal/fsutil"
	"github.com/vk/kernelbake/internal/localexecutor"
)

// TranslatedExt is the extension of translator output.
const TranslatedExt = ".hip"

// TranslatedPath is where the translation of source is written.
func TranslatedPath(source, outDir string) string {
	return filepath.Join(outDir, fsutil.Stem(source)+TranslatedExt)
}

// Translate runs translator on source and stores its stdout next to the
// build outputs. It is best effort: when the translator is missing, fails,
// prints nothing or the output cannot be written, any earlier translation is
// removed and ok is false so the caller compiles the original source.
func Translate(ctx context.Context, runner localexecutor.Runner, translator, source, outDir string) (path string, ok bool) {
	logger := ctxlog.FromContext(ctx).With("kernel", source)
	dst := TranslatedPath(source, outDir)

	if sameFile(dst, source) {
		return "", false
	}

	fallback := func(reason string, args ...any) (string, bool) {
		logger.Debug("Translation skipped, compiling original source.", append([]any{"reason", reason}, args...)...)
		os.Remove(dst)
		return "", false
	}

	out, err := runner.Run(ctx, translator, source)
	if err != nil {
		return fallback("translator unavailable", "error", err)
	}
	if !out.Success() {
		return fallback("translator failed", "exit_code", out.ExitCode, "stderr", string(out.Stderr))
	}
	if len(out.Stdout) == 0 {
		return fallback("translator produced no output")
	}
	if err := fsutil.WriteFileAtomic(dst, out.Stdout, 0o644); err != nil {
		return fallback("writing translation failed", "error", err)
	}

	logger.Debug("Kernel translated.", "output", dst)
	return dst, true
}

func sameFile(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}

package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/peterbourgon/ff/v4"
	"github.com/vk/kernelbake/internal/app"
	"github.com/vk/kernelbake/internal/fsutil"
	"github.com/vk/kernelbake/internal/hclconfig"
)

// EnvVarPrefix maps every flag to an environment variable, e.g. -out-dir to
// KERNELBAKE_OUT_DIR.
const EnvVarPrefix = "KERNELBAKE"

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated app.Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	flagSet := flag.NewFlagSet("kernelbake", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
kernelbake - compiles GPU kernels ahead of time and embeds them in Go.

Usage:
  kernelbake [options] [MANIFEST]

Arguments:
  MANIFEST
    Path to an HCL build manifest. Defaults to ./kernels.hcl when present;
    otherwise kernel sources are discovered below the working directory.

Every option can also be set through a KERNELBAKE_<NAME> environment
variable, e.g. KERNELBAKE_OUT_DIR. KERNELBAKE_JOBS limits parallel compiles
and KERNELBAKE_GPU_ARCH skips architecture detection.

Options:
`)
		flagSet.PrintDefaults()
	}

	configFlag := flagSet.String("config", "", "Path to the HCL build manifest.")
	outDirFlag := flagSet.String("out-dir", "", "Directory for artifacts and generated bindings.")
	rocmFlag := flagSet.String("rocm-path", "", "ROCm installation root; overrides discovery.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	verboseFlag := flagSet.Bool("v", false, "Log every compiler invocation.")

	if err := ff.Parse(flagSet, args, ff.WithEnvVarPrefix(EnvVarPrefix)); err != nil {
		if errors.Is(err, ff.ErrHelp) {
			flagSet.Usage()
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	path := *configFlag
	if path == "" && flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}
	if flagSet.NArg() > 1 {
		return nil, false, &ExitError{Code: 2, Message: "at most one manifest may be given"}
	}
	if path == "" && fsutil.Exists(hclconfig.DefaultFileName) {
		path = hclconfig.DefaultFileName
	}

	cfg, err := app.NewConfig(app.Config{
		ManifestPath: path,
		OutDir:       *outDirFlag,
		RocmPath:     *rocmFlag,
		LogFormat:    strings.ToLower(*logFormatFlag),
		LogLevel:     strings.ToLower(*logLevelFlag),
		Verbose:      *verboseFlag,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	return cfg, false, nil
}

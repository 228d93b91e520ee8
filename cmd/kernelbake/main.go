// Command kernelbake compiles GPU kernel sources into code objects and
// generates a Go file embedding them. It is meant to run from go:generate.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/burdiyan/go/mainutil"
	"github.com/vk/kernelbake/internal/app"
	"github.com/vk/kernelbake/internal/cli"
	"github.com/vk/kernelbake/internal/errdefs"
	"github.com/vk/kernelbake/internal/hclconfig"
)

func main() {
	mainutil.Run(func() error {
		ctx := mainutil.TrapSignals()

		err := run(ctx, os.Stdout, os.Stderr, slices.Clone(os.Args[1:]))
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		return err
	})
}

// run encapsulates the main application logic for easier testing and error
// handling. Configuration problems come back as an ExitError with code 2.
func run(ctx context.Context, outW, logW io.Writer, args []string) error {
	cfg, shouldExit, err := cli.Parse(args, outW)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	a := app.NewApp(outW, logW, cfg, hclconfig.NewLoader())
	if _, err := a.Run(ctx); err != nil {
		if errors.Is(err, errdefs.ErrConfig) {
			return &cli.ExitError{Code: 2, Message: err.Error()}
		}
		return err
	}
	return nil
}

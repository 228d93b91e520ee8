package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/sanity-io/litter"
	"github.com/vk/kernelbake/internal/builder"
	"github.com/vk/kernelbake/internal/config"
	"github.com/vk/kernelbake/internal/ctxlog"
	"github.com/vk/kernelbake/internal/localexecutor"
	"github.com/vk/kernelbake/internal/toolchain"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	config *Config
	loader config.Loader

	runner localexecutor.Runner
	getenv func(string) string
}

// Option customizes an App.
type Option func(*App)

// WithRunner replaces the process runner used for every toolchain program.
func WithRunner(r localexecutor.Runner) Option {
	return func(a *App) { a.runner = r }
}

// WithGetenv replaces the environment lookup used by toolchain discovery and
// worker sizing.
func WithGetenv(fn func(string) string) Option {
	return func(a *App) { a.getenv = fn }
}

// NewApp is the constructor for the main application. The build summary goes
// to outW and logs go to logW.
func NewApp(outW, logW io.Writer, cfg *Config, loader config.Loader, opts ...Option) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, logW)
	logger.Debug("Logger configured successfully.")

	a := &App{
		outW:   outW,
		logger: logger,
		config: cfg,
		loader: loader,
		runner: localexecutor.New(),
		getenv: os.Getenv,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run loads the manifest, resolves the toolchain and performs one build.
func (a *App) Run(ctx context.Context) (*builder.Manifest, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	m, err := a.loadManifest(ctx)
	if err != nil {
		return nil, err
	}
	if a.logger.Enabled(ctx, slog.LevelDebug) {
		dump := litter.Config
		dump.HidePrivateFields = true
		a.logger.Debug("Build manifest resolved.", "manifest", dump.Sdump(m))
	}

	// Checked before discovery can spawn the architecture probe.
	workers, err := builder.Workers(a.getenv, nil)
	if err != nil {
		return nil, err
	}

	locator := toolchain.NewLocator(m.RocmPath)
	locator.Getenv = a.getenv
	locator.Runner = a.runner
	tc, err := locator.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving toolchain: %w", err)
	}

	b, err := a.newBuilder(m, tc, workers)
	if err != nil {
		return nil, err
	}

	a.logger.Info("Starting kernel build.", "out_dir", b.OutDir, "arch", tc.Arch, "kernels", len(b.Sources.Kernels), "templates", len(b.Templates))
	result, err := b.Build(ctx)
	if err != nil {
		return nil, err
	}

	a.report(result)
	a.logger.Debug("App.Run method finished.")
	return result, nil
}

// loadManifest reads the configured manifest, or starts from an empty one
// anchored at the working directory, then applies command-line overrides.
func (a *App) loadManifest(ctx context.Context) (*config.Manifest, error) {
	var m *config.Manifest
	if a.config.ManifestPath != "" {
		loaded, err := a.loader.Load(ctx, a.config.ManifestPath)
		if err != nil {
			return nil, err
		}
		m = loaded
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determining project directory: %w", err)
		}
		a.logger.Debug("No manifest given, discovering sources.", "project_dir", wd)
		m = &config.Manifest{ProjectDir: wd}
	}

	if a.config.OutDir != "" {
		m.OutDir = a.config.OutDir
	}
	if a.config.RocmPath != "" {
		m.RocmPath = a.config.RocmPath
	}
	m.Verbose = m.Verbose || a.config.Verbose
	return m, nil
}

package app

import (
	"path/filepath"

	"github.com/vk/kernelbake/internal/builder"
	"github.com/vk/kernelbake/internal/config"
	"github.com/vk/kernelbake/internal/errdefs"
	"github.com/vk/kernelbake/internal/sources"
	"github.com/vk/kernelbake/internal/toolchain"
	"go.uber.org/multierr"
)

// DefaultOutDir is used below the project directory when no output
// directory is configured.
const DefaultOutDir = "kernels"

// newBuilder turns a manifest into a ready-to-run Builder. Source patterns
// are expanded here, so the Builder sees concrete file lists.
func (a *App) newBuilder(m *config.Manifest, tc toolchain.Config, workers int) (*builder.Builder, error) {
	outDir := m.OutDir
	if outDir == "" {
		outDir = filepath.Join(m.ProjectDir, DefaultOutDir)
	}
	kernelExt := orDefault(m.KernelExt, sources.DefaultKernelExt)
	headerExt := orDefault(m.HeaderExt, sources.DefaultHeaderExt)

	set, err := a.sourceSet(m, outDir, kernelExt, headerExt)
	if err != nil {
		return nil, err
	}
	templates, err := resolveTemplates(m.Templates)
	if err != nil {
		return nil, err
	}

	b := builder.New(tc, set, outDir)
	b.Templates = templates
	b.SourceExt = kernelExt
	b.Package = orDefault(m.Package, b.Package)
	b.BindingsFile = orDefault(m.BindingsFile, b.BindingsFile)
	b.ArtifactExt = orDefault(m.ArtifactExt, b.ArtifactExt)
	b.IncludeDirs = m.IncludeDirs
	b.ExtraArgs = m.ExtraArgs
	b.Translate = m.Translate
	b.Verbose = m.Verbose
	b.Jobs = workers
	b.Runner = a.runner
	b.Getenv = a.getenv
	return b, nil
}

// sourceSet discovers sources by extension unless the manifest lists kernel
// patterns. Include and watch patterns replace whatever discovery found.
func (a *App) sourceSet(m *config.Manifest, outDir, kernelExt, headerExt string) (*sources.Set, error) {
	set := &sources.Set{}
	if len(m.Kernels) == 0 {
		discovered, err := sources.Discover(m.ProjectDir, kernelExt, headerExt, outDir)
		if err != nil {
			return nil, err
		}
		set = discovered
		a.logger.Debug("Kernel sources discovered.", "root", m.ProjectDir, "kernels", len(set.Kernels), "includes", len(set.Includes))
	} else if err := set.GlobKernels(m.Kernels...); err != nil {
		return nil, err
	}

	if len(m.Includes) > 0 {
		if err := set.GlobIncludes(m.Includes...); err != nil {
			return nil, err
		}
	}
	if len(m.Watch) > 0 {
		if err := set.GlobWatched(m.Watch...); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// resolveTemplates resolves element type names, reporting every unknown one.
func resolveTemplates(defs []*config.Template) ([]sources.Template, error) {
	var (
		out  []sources.Template
		errs error
	)
	for _, def := range defs {
		t := sources.Template{Name: def.Name, Source: def.Source}
		for _, name := range def.Types {
			et, err := sources.ParseElemType(name)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			t.Types = append(t.Types, et)
		}
		out = append(out, t)
	}
	if errs != nil {
		return nil, errdefs.Config(errs, "invalid template element types")
	}
	return out, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

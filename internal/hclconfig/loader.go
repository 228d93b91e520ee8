package hclconfig

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/kernelbake/internal/config"
	"github.com/vk/kernelbake/internal/ctxlog"
	"github.com/vk/kernelbake/internal/errdefs"
	"github.com/vk/kernelbake/internal/fsutil"
	"go.uber.org/multierr"
)

// DefaultFileName is the manifest looked up when no path is given.
const DefaultFileName = "kernels.hcl"

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct {
	// Environ feeds the `env` object. Defaults to os.Environ.
	Environ func() []string
}

// NewLoader creates a new HCL manifest loader.
func NewLoader() *Loader {
	return &Loader{Environ: os.Environ}
}

var _ config.Loader = (*Loader)(nil)

// Load parses and decodes the manifest at path. Every relative path in the
// manifest is resolved against the manifest's directory.
func (l *Loader) Load(ctx context.Context, path string) (*config.Manifest, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path", path)

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errdefs.Config(err, "resolving manifest path %s", path)
	}
	projectDir := filepath.Dir(abs)

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(abs)
	if diags.HasErrors() {
		return nil, errdefs.Config(diags, "failed to parse manifest %s", path)
	}

	environ := os.Environ
	if l.Environ != nil {
		environ = l.Environ
	}

	var root manifestFile
	diags = gohcl.DecodeBody(file.Body, evalContext(projectDir, environ()), &root)
	if diags.HasErrors() {
		return nil, errdefs.Config(diags, "failed to decode manifest %s", path)
	}

	m, err := translate(projectDir, &root)
	if err != nil {
		return nil, err
	}
	m.Path = abs

	logger.Debug("HCL loading complete.",
		"project_dir", m.ProjectDir,
		"kernel_patterns", len(m.Kernels),
		"templates", len(m.Templates),
	)
	return m, nil
}

// translate converts the decoded file into the format-agnostic model and
// checks that every referenced file exists. All problems are reported
// together.
func translate(projectDir string, f *manifestFile) (*config.Manifest, error) {
	m := &config.Manifest{
		ProjectDir:   projectDir,
		RocmPath:     resolve(projectDir, f.RocmPath),
		OutDir:       resolve(projectDir, f.OutDir),
		Package:      f.Package,
		BindingsFile: f.BindingsFile,
		KernelExt:    f.KernelExt,
		HeaderExt:    f.HeaderExt,
		ArtifactExt:  f.ArtifactExt,
		Kernels:      resolveAll(projectDir, f.Kernels),
		Includes:     resolveAll(projectDir, f.Includes),
		Watch:        resolveAll(projectDir, f.Watch),
		IncludeDirs:  resolveAll(projectDir, f.IncludeDirs),
		ExtraArgs:    f.ExtraArgs,
		Translate:    f.Translate,
		Verbose:      f.Verbose,
	}

	var errs error
	for _, dir := range m.IncludeDirs {
		if !fsutil.Exists(dir) {
			errs = multierr.Append(errs, fmt.Errorf("include directory %s does not exist", dir))
		}
	}

	seen := make(map[string]bool, len(f.Templates))
	for _, tb := range f.Templates {
		if seen[tb.Name] {
			errs = multierr.Append(errs, fmt.Errorf("template %q is declared more than once", tb.Name))
			continue
		}
		seen[tb.Name] = true

		src := resolve(projectDir, tb.Source)
		if !fsutil.Exists(src) {
			errs = multierr.Append(errs, fmt.Errorf("template %q: source %s does not exist", tb.Name, src))
		}
		m.Templates = append(m.Templates, &config.Template{
			Name:   tb.Name,
			Source: src,
			Types:  tb.Types,
		})
	}

	if errs != nil {
		return nil, errdefs.Config(errs, "invalid manifest")
	}
	return m, nil
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

func resolveAll(dir string, paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = resolve(dir, p)
	}
	return out
}

package bindings

import (
	"bytes"
	"fmt"
	"go/format"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"github.com/vk/kernelbake/internal/errdefs"
	"github.com/vk/kernelbake/internal/fsutil"
)

// DefaultFileName is the generated file's name inside the output directory.
const DefaultFileName = "kernels.go"

// DefaultPackage is the package clause of the generated file.
const DefaultPackage = "kernels"

// Binding ties one generated identifier to one code object.
type Binding struct {
	Name     string
	Source   string
	Artifact string
}

// New builds the binding of a kernel source and its artifact.
func New(source, artifact string) Binding {
	return Binding{Name: ConstName(source), Source: source, Artifact: artifact}
}

// File describes the generated Go file.
type File struct {
	Package  string
	Arch     string
	Bindings []Binding
}

type templateBinding struct {
	Name    string
	Key     string
	Source  string
	Pattern string
}

var fileTemplate = template.Must(template.New("bindings").Parse(`// Code generated by kernelbake. DO NOT EDIT.

package {{.Package}}

import _ "embed"

// Arch is the GPU architecture the code objects below were compiled for.
const Arch = {{printf "%q" .Arch}}
{{range .Bindings}}
// {{.Name}} is the code object compiled from {{.Source}}.
//
//go:embed {{.Pattern}}
var {{.Name}} []byte
{{end}}
// Kernels maps each kernel's file stem to its code object.
{{if .Bindings -}}
var Kernels = map[string][]byte{
{{- range .Bindings}}
	{{printf "%q" .Key}}: {{.Name}},
{{- end}}
}
{{- else -}}
var Kernels = map[string][]byte{}
{{- end}}
`))

// Render produces the formatted Go source for f. Bindings appear in the
// order given.
func Render(f File) ([]byte, error) {
	pkg := f.Package
	if pkg == "" {
		pkg = DefaultPackage
	}

	data := struct {
		Package  string
		Arch     string
		Bindings []templateBinding
	}{Package: pkg, Arch: f.Arch}

	for _, b := range f.Bindings {
		base := filepath.Base(b.Artifact)
		pattern := base
		if strings.ContainsAny(base, " \t\"`") {
			pattern = strconv.Quote(base)
		}
		data.Bindings = append(data.Bindings, templateBinding{
			Name:    b.Name,
			Key:     fsutil.Stem(b.Source),
			Source:  filepath.Base(b.Source),
			Pattern: pattern,
		})
	}

	var buf bytes.Buffer
	if err := fileTemplate.Execute(&buf, data); err != nil {
		return nil, err
	}
	src, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("formatting generated bindings: %w", err)
	}
	return src, nil
}

// Emit renders f and writes it to path, replacing any previous version
// atomically. Every artifact must live in the same directory as path, since
// go:embed only reaches files of the generated package.
func Emit(path string, f File) error {
	dir := filepath.Dir(path)
	for _, b := range f.Bindings {
		if filepath.Clean(filepath.Dir(b.Artifact)) != filepath.Clean(dir) {
			return errdefs.Configf("artifact %s is outside the bindings directory %s", b.Artifact, dir)
		}
	}

	src, err := Render(f)
	if err != nil {
		return errdefs.IO(err, path)
	}
	if err := fsutil.WriteFileAtomic(path, src, 0o644); err != nil {
		return errdefs.IO(err, path)
	}
	return nil
}

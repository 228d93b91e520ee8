package sources

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/vk/kernelbake/internal/errdefs"
	"github.com/vk/kernelbake/internal/fsutil"
)

// ElemType is a numeric element type a kernel template can be instantiated
// for. The set is closed; anything else is rejected at configuration time.
type ElemType string

const (
	I32 ElemType = "i32"
	U32 ElemType = "u32"
	I64 ElemType = "i64"
	U64 ElemType = "u64"
	F32 ElemType = "f32"
	F64 ElemType = "f64"
)

var cTypes = map[ElemType]string{
	I32: "int32_t",
	U32: "uint32_t",
	I64: "int64_t",
	U64: "uint64_t",
	F32: "float",
	F64: "double",
}

// ElemTypes lists the supported element types.
func ElemTypes() []ElemType {
	out := make([]ElemType, 0, len(cTypes))
	for t := range cTypes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseElemType validates a type name.
func ParseElemType(s string) (ElemType, error) {
	t := ElemType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := cTypes[t]; !ok {
		return "", errdefs.Configf("unsupported element type %q (supported: %v)", s, ElemTypes())
	}
	return t, nil
}

// CType is the device-side C type spelling.
func (t ElemType) CType() string { return cTypes[t] }

// Template is a kernel source written against a placeholder element type.
// It is instantiated once per listed type, producing one compilation unit
// each.
type Template struct {
	Name   string
	Source string
	Types  []ElemType
}

// templateData is what a template sees.
type templateData struct {
	Name   string // unit name, e.g. "sort_f32"
	Type   string // C type, e.g. "float"
	Suffix string // element type tag, e.g. "f32"
}

// Expand renders one unit per element type into outDir, named
// "<Name>_<type><ext>", and returns their paths in Types order. A unit whose
// rendered content is unchanged is not rewritten, so its modification time
// keeps the compiled artifact fresh.
func (t Template) Expand(outDir, ext string) ([]string, error) {
	if len(t.Types) == 0 {
		return nil, errdefs.Configf("template %q lists no element types", t.Name)
	}

	text, err := os.ReadFile(t.Source)
	if err != nil {
		return nil, errdefs.Config(err, "reading template %q", t.Name)
	}
	tmpl, err := template.New(filepath.Base(t.Source)).Option("missingkey=error").Parse(string(text))
	if err != nil {
		return nil, errdefs.Config(err, "parsing template %q", t.Name)
	}

	units := make([]string, 0, len(t.Types))
	for _, et := range t.Types {
		if _, ok := cTypes[et]; !ok {
			return nil, errdefs.Configf("template %q: unsupported element type %q", t.Name, et)
		}
		data := templateData{
			Name:   t.Name + "_" + string(et),
			Type:   et.CType(),
			Suffix: string(et),
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return nil, errdefs.Config(err, "rendering template %q for %s", t.Name, et)
		}

		unit := filepath.Join(outDir, data.Name+ext)
		if old, err := os.ReadFile(unit); err != nil || !bytes.Equal(old, buf.Bytes()) {
			if err := fsutil.WriteFileAtomic(unit, buf.Bytes(), 0o644); err != nil {
				return nil, errdefs.IO(err, unit)
			}
		}
		units = append(units, unit)
	}
	return units, nil
}

package config

// Manifest is the unified, format-agnostic description of one kernel build.
// Empty fields mean "use the default".
type Manifest struct {
	// Path is the file the manifest was read from, if any.
	Path string
	// ProjectDir anchors relative paths and source discovery.
	ProjectDir string

	RocmPath     string
	OutDir       string
	Package      string
	BindingsFile string

	KernelExt   string
	HeaderExt   string
	ArtifactExt string

	// Kernels, Includes and Watch hold glob patterns. With no kernel
	// patterns the project directory is searched by extension instead.
	Kernels  []string
	Includes []string
	Watch    []string

	IncludeDirs []string
	ExtraArgs   []string
	Translate   bool
	Verbose     bool

	Templates []*Template
}

// Template is the format-agnostic representation of a `template` block.
type Template struct {
	Name   string
	Source string
	Types  []string
}

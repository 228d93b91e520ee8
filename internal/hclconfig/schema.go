package hclconfig

// manifestFile is decoded from the body of a manifest. Unknown attributes
// and blocks are rejected.
type manifestFile struct {
	RocmPath     string `hcl:"rocm_path,optional"`
	OutDir       string `hcl:"out_dir,optional"`
	Package      string `hcl:"package,optional"`
	BindingsFile string `hcl:"bindings_file,optional"`

	KernelExt   string `hcl:"kernel_ext,optional"`
	HeaderExt   string `hcl:"header_ext,optional"`
	ArtifactExt string `hcl:"artifact_ext,optional"`

	Kernels  []string `hcl:"kernels,optional"`
	Includes []string `hcl:"includes,optional"`
	Watch    []string `hcl:"watch,optional"`

	IncludeDirs []string `hcl:"include_dirs,optional"`
	ExtraArgs   []string `hcl:"extra_args,optional"`
	Translate   bool     `hcl:"translate,optional"`
	Verbose     bool     `hcl:"verbose,optional"`

	Templates []*templateBlock `hcl:"template,block"`
}

// templateBlock is a `template "<name>" { ... }` block.
type templateBlock struct {
	Name   string   `hcl:"name,label"`
	Source string   `hcl:"source"`
	Types  []string `hcl:"types"`
}

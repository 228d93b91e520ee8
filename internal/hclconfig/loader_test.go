package hclconfig

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/kernelbake/internal/config"
	"github.com/vk/kernelbake/internal/errdefs"
	"github.com/vk/kernelbake/internal/testutil"
)

func newTestLoader(env ...string) *Loader {
	return &Loader{Environ: func() []string { return env }}
}

const fullManifest = `
rocm_path    = env.SDK
out_dir      = "gen/kernels"
package      = "gpu"
kernels      = ["src/**/*.cu"]
includes     = ["src/*.cuh"]
watch        = ["${project_dir}/build.sh"]
include_dirs = ["third_party/cub"]
extra_args   = [format("-DBLOCK=%d", 256), upper("-dfoo")]
translate    = true
verbose      = true

template "sort" {
  source = "templates/sort.cu.tmpl"
  types  = ["f32", "i64"]
}
`

func TestLoad_FullManifest(t *testing.T) {
	ctx, _ := testutil.Context(t)
	dir := t.TempDir()
	testutil.WriteFiles(t, dir, map[string]string{
		"third_party/cub/cub.cuh": "",
		"templates/sort.cu.tmpl":  "",
		DefaultFileName:           fullManifest,
	})

	m, err := newTestLoader("SDK=/opt/rocm-6.1", "HOME=/root").Load(ctx, filepath.Join(dir, DefaultFileName))
	require.NoError(t, err)

	want := &config.Manifest{
		Path:        filepath.Join(dir, DefaultFileName),
		ProjectDir:  dir,
		RocmPath:    "/opt/rocm-6.1",
		OutDir:      filepath.Join(dir, "gen", "kernels"),
		Package:     "gpu",
		Kernels:     []string{filepath.Join(dir, "src/**/*.cu")},
		Includes:    []string{filepath.Join(dir, "src/*.cuh")},
		Watch:       []string{dir + "/build.sh"},
		IncludeDirs: []string{filepath.Join(dir, "third_party", "cub")},
		ExtraArgs:   []string{"-DBLOCK=256", "-DFOO"},
		Translate:   true,
		Verbose:     true,
		Templates: []*config.Template{{
			Name:   "sort",
			Source: filepath.Join(dir, "templates", "sort.cu.tmpl"),
			Types:  []string{"f32", "i64"},
		}},
	}
	if diff := cmp.Diff(want, m); diff != "" {
		t.Errorf("manifest mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_EmptyManifest(t *testing.T) {
	ctx, _ := testutil.Context(t)
	dir := t.TempDir()
	testutil.WriteFiles(t, dir, map[string]string{DefaultFileName: "# defaults only\n"})

	m, err := newTestLoader().Load(ctx, filepath.Join(dir, DefaultFileName))
	require.NoError(t, err)
	assert.Equal(t, dir, m.ProjectDir)
	assert.Empty(t, m.Kernels)
	assert.Empty(t, m.OutDir)
	assert.False(t, m.Translate)
}

func TestLoad_Errors(t *testing.T) {
	testCases := []struct {
		name     string
		manifest string
		contains []string
	}{
		{
			name:     "syntax error",
			manifest: "kernels = [\"a.cu\"\n",
			contains: []string{"failed to parse manifest"},
		},
		{
			name:     "unknown attribute",
			manifest: "compiler = \"nvcc\"\n",
			contains: []string{"failed to decode manifest", "compiler"},
		},
		{
			name:     "unset environment variable",
			manifest: "rocm_path = env.NOT_SET\n",
			contains: []string{"failed to decode manifest"},
		},
		{
			name: "missing files reported together",
			manifest: `
include_dirs = ["nope"]
template "sort" {
  source = "missing.tmpl"
  types  = ["f32"]
}
`,
			contains: []string{"include directory", "nope", "missing.tmpl"},
		},
		{
			name: "duplicate template",
			manifest: `
template "sort" {
  source = "kernels.hcl"
  types  = ["f32"]
}
template "sort" {
  source = "kernels.hcl"
  types  = ["i32"]
}
`,
			contains: []string{`template "sort" is declared more than once`},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx, _ := testutil.Context(t)
			dir := t.TempDir()
			testutil.WriteFiles(t, dir, map[string]string{DefaultFileName: tc.manifest})

			_, err := newTestLoader().Load(ctx, filepath.Join(dir, DefaultFileName))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errdefs.ErrConfig))
			for _, s := range tc.contains {
				assert.Contains(t, err.Error(), s)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	ctx, _ := testutil.Context(t)
	_, err := newTestLoader().Load(ctx, filepath.Join(t.TempDir(), DefaultFileName))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrConfig))
}

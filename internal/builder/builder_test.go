package builder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/kernelbake/internal/errdefs"
	"github.com/vk/kernelbake/internal/sources"
	"github.com/vk/kernelbake/internal/testutil"
	"github.com/vk/kernelbake/internal/toolchain"
)

// newTestBuilder returns a Builder over the given kernel files (relative to a
// fresh project dir) that drives fake.
func newTestBuilder(t *testing.T, fake *testutil.FakeToolchain, env map[string]string, files map[string]string, kernels ...string) (*Builder, string) {
	t.Helper()

	project := t.TempDir()
	testutil.WriteFiles(t, project, files)

	var paths []string
	for _, k := range kernels {
		paths = append(paths, filepath.Join(project, k))
	}
	for name := range files {
		testutil.Age(t, time.Hour, filepath.Join(project, filepath.FromSlash(name)))
	}

	set := &sources.Set{}
	require.NoError(t, set.SetKernels(paths...))

	root := testutil.SDKRoot(t)
	tc := toolchain.Config{Root: root, IncludeRoot: filepath.Join(root, "include"), Arch: "gfx1030"}

	b := New(tc, set, filepath.Join(project, "out"))
	b.Runner = fake
	b.Getenv = func(k string) string { return env[k] }
	b.CPUCount = func() (int, error) { return 4, nil }
	return b, project
}

func TestBuild_SingleKernel(t *testing.T) {
	ctx, logs := testutil.Context(t)
	fake := &testutil.FakeToolchain{}
	b, project := newTestBuilder(t, fake, nil, map[string]string{"a.cu": "__global__ void a() {}\n"}, "a.cu")

	m, err := b.Build(ctx)
	require.NoError(t, err)

	out := filepath.Join(project, "out")
	assert.Len(t, fake.Calls("hipcc"), 1)
	assert.FileExists(t, filepath.Join(out, "a.hsaco"))
	assert.True(t, m.WriteNeeded)
	assert.Equal(t, []string{filepath.Join(project, "a.cu")}, m.Compiled)
	require.Len(t, m.Entries, 1)
	assert.Equal(t, "A", m.Entries[0].Name)
	assert.True(t, m.Entries[0].Compiled)

	generated, err := os.ReadFile(filepath.Join(out, "kernels.go"))
	require.NoError(t, err)
	assert.Contains(t, string(generated), "//go:embed a.hsaco\n")
	assert.Contains(t, string(generated), "var A []byte")
	assert.Contains(t, string(generated), `const Arch = "gfx1030"`)

	var tagged bool
	for _, line := range strings.Split(logs.String(), "\n") {
		if strings.Contains(line, "Invoking device compiler.") {
			tagged = strings.Contains(line, "arch=gfx1030")
		}
	}
	assert.True(t, tagged, "compiler logs carry the build's architecture")
}

func TestBuild_RerunIsNoop(t *testing.T) {
	ctx, logs := testutil.Context(t)
	fake := &testutil.FakeToolchain{}
	b, project := newTestBuilder(t, fake, nil, map[string]string{
		"a.cu": "__global__ void a() {}\n",
		"b.cu": "__global__ void b() {}\n",
	}, "a.cu", "b.cu")

	_, err := b.Build(ctx)
	require.NoError(t, err)
	require.Len(t, fake.Calls("hipcc"), 2)

	bindingsPath := filepath.Join(project, "out", "kernels.go")
	testutil.Age(t, time.Minute, bindingsPath)
	before := testutil.ModTime(t, bindingsPath)

	m, err := b.Build(ctx)
	require.NoError(t, err)

	assert.Len(t, fake.Calls("hipcc"), 2, "second build must not compile")
	assert.False(t, m.WriteNeeded)
	assert.Empty(t, m.Compiled)
	assert.Len(t, m.Bindings, 2)
	assert.Equal(t, before, testutil.ModTime(t, bindingsPath))
	assert.Contains(t, logs.String(), "Bindings are up to date.")
}

func TestBuild_RecompilesTouchedSource(t *testing.T) {
	ctx, _ := testutil.Context(t)
	fake := &testutil.FakeToolchain{}
	b, project := newTestBuilder(t, fake, nil, map[string]string{
		"a.cu": "__global__ void a() {}\n",
		"b.cu": "__global__ void b() {}\n",
	}, "a.cu", "b.cu")

	_, err := b.Build(ctx)
	require.NoError(t, err)

	out := filepath.Join(project, "out")
	testutil.Age(t, time.Minute, filepath.Join(out, "a.hsaco"), filepath.Join(out, "b.hsaco"))
	now := time.Now()
	require.NoError(t, os.Chtimes(filepath.Join(project, "b.cu"), now, now))

	m, err := b.Build(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(project, "b.cu")}, m.Compiled)
	assert.True(t, m.WriteNeeded)
	assert.Len(t, fake.Calls("hipcc"), 3)
}

func TestBuild_CompileFailure(t *testing.T) {
	ctx, _ := testutil.Context(t)
	fake := &testutil.FakeToolchain{FailSources: map[string]bool{"b.cu": true}}
	b, project := newTestBuilder(t, fake, nil, map[string]string{
		"a.cu": "__global__ void a() {}\n",
		"b.cu": "broken b;\n",
	}, "a.cu", "b.cu")

	_, err := b.Build(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrCompile))

	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, filepath.Join(project, "b.cu"), cerr.Source)
	assert.Equal(t, 1, cerr.ExitCode)
	assert.Contains(t, err.Error(), cerr.CommandLine)
	assert.Contains(t, err.Error(), "unknown type name 'broken'")
	assert.True(t, strings.HasSuffix(cerr.CommandLine, filepath.Join(project, "b.cu")))

	out := filepath.Join(project, "out")
	assert.Len(t, fake.Calls("hipcc"), 2, "a failure must not cancel other compiles")
	assert.FileExists(t, filepath.Join(out, "a.hsaco"))
	assert.NoFileExists(t, filepath.Join(out, "kernels.go"))
}

func TestBuild_InvalidJobs(t *testing.T) {
	for _, v := range []string{"abc", "0", "-3"} {
		t.Run(v, func(t *testing.T) {
			ctx, _ := testutil.Context(t)
			fake := &testutil.FakeToolchain{}
			b, project := newTestBuilder(t, fake, map[string]string{JobsEnvVar: v},
				map[string]string{"a.cu": "__global__ void a() {}\n"}, "a.cu")

			_, err := b.Build(ctx)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errdefs.ErrConfig))
			assert.Contains(t, err.Error(), JobsEnvVar)
			assert.Empty(t, fake.Calls("hipcc"))
			assert.NoDirExists(t, filepath.Join(project, "out"))
		})
	}
}

func TestBuild_WorkerLimit(t *testing.T) {
	ctx, _ := testutil.Context(t)
	fake := &testutil.FakeToolchain{Delay: 20 * time.Millisecond}

	files := map[string]string{}
	var kernels []string
	for _, n := range []string{"k1", "k2", "k3", "k4", "k5", "k6"} {
		files[n+".cu"] = "__global__ void " + n + "() {}\n"
		kernels = append(kernels, n+".cu")
	}
	b, _ := newTestBuilder(t, fake, map[string]string{JobsEnvVar: "2"}, files, kernels...)

	m, err := b.Build(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, m.Workers)
	assert.Len(t, fake.Calls("hipcc"), 6)
	assert.LessOrEqual(t, fake.MaxConcurrentCompiles(), 2)
	assert.Len(t, m.Bindings, 6)
}

func TestBuild_DefaultWorkers(t *testing.T) {
	b := &Builder{
		Getenv:   func(string) string { return "" },
		CPUCount: func() (int, error) { return 0, errors.New("no cpu info") },
	}
	n, err := b.workers()
	require.NoError(t, err)
	assert.Positive(t, n)

	b.CPUCount = func() (int, error) { return 6, nil }
	n, err = b.workers()
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	b.Jobs = 3
	n, err = b.workers()
	require.NoError(t, err)
	assert.Equal(t, 3, n, "a preset worker count wins over the environment")
}

func TestWorkers(t *testing.T) {
	env := map[string]string{JobsEnvVar: " 5 "}
	n, err := Workers(func(k string) string { return env[k] }, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	env[JobsEnvVar] = "many"
	_, err = Workers(func(k string) string { return env[k] }, func() (int, error) {
		t.Fatal("CPU count consulted despite an explicit job count")
		return 0, nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrConfig))
}

func TestBuild_StemCollision(t *testing.T) {
	ctx, _ := testutil.Context(t)
	fake := &testutil.FakeToolchain{}
	b, _ := newTestBuilder(t, fake, nil, map[string]string{
		"a.cu":  "__global__ void a() {}\n",
		"a.hip": "__global__ void a2() {}\n",
	}, "a.cu", "a.hip")

	_, err := b.Build(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrConfig))
	assert.Contains(t, err.Error(), "A <- ")
	assert.Empty(t, fake.Calls("hipcc"))
}

func TestBuild_MissingToolchainRoot(t *testing.T) {
	ctx, _ := testutil.Context(t)
	fake := &testutil.FakeToolchain{}
	b, _ := newTestBuilder(t, fake, nil, map[string]string{"a.cu": "x\n"}, "a.cu")
	b.Toolchain = toolchain.Config{Arch: "gfx1030"}

	_, err := b.Build(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrConfig))
	assert.Contains(t, err.Error(), "ROCM_PATH")
	assert.Empty(t, fake.Calls("hipcc"))

	b.Toolchain.RootErr = errdefs.Configf("toolchain root /nowhere does not contain %s", toolchain.MarkerHeader)
	_, err = b.Build(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrConfig))
	assert.Contains(t, err.Error(), "/nowhere")
	assert.Empty(t, fake.Calls("hipcc"))
}

func TestBuild_SpawnFailureAborts(t *testing.T) {
	ctx, _ := testutil.Context(t)
	fake := &testutil.FakeToolchain{Missing: map[string]bool{"hipcc": true}}
	b, project := newTestBuilder(t, fake, nil, map[string]string{"a.cu": "x\n"}, "a.cu")

	_, err := b.Build(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrSpawn))
	assert.False(t, errors.Is(err, errdefs.ErrCompile))
	assert.NoFileExists(t, filepath.Join(project, "out", "kernels.go"))
}

func TestBuild_CancelledContext(t *testing.T) {
	ctx, _ := testutil.Context(t)
	ctx, cancel := context.WithCancel(ctx)
	cancel()

	fake := &testutil.FakeToolchain{}
	b, project := newTestBuilder(t, fake, nil, map[string]string{
		"a.cu": "__global__ void a() {}\n",
		"b.cu": "__global__ void b() {}\n",
	}, "a.cu", "b.cu")

	var err error
	require.NotPanics(t, func() { _, err = b.Build(ctx) })
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fake.Calls("hipcc"))
	assert.NoFileExists(t, filepath.Join(project, "out", "kernels.go"))
}

func TestBuild_TranslatesWhenEnabled(t *testing.T) {
	ctx, _ := testutil.Context(t)
	fake := &testutil.FakeToolchain{Translate: true}
	b, project := newTestBuilder(t, fake, nil, map[string]string{
		"a.cu": "#include <cuda_runtime.h>\n__global__ void a() {}\n",
	}, "a.cu")
	b.Translate = true

	_, err := b.Build(ctx)
	require.NoError(t, err)

	out := filepath.Join(project, "out")
	calls := fake.Calls("hipcc")
	require.Len(t, calls, 1)
	assert.Equal(t, filepath.Join(out, "a.hip"), calls[0].Args[len(calls[0].Args)-1])

	artifact, err := os.ReadFile(filepath.Join(out, "a.hsaco"))
	require.NoError(t, err)
	assert.Contains(t, string(artifact), "hip_runtime.h")
}

func TestBuild_TranslationFallback(t *testing.T) {
	ctx, _ := testutil.Context(t)
	fake := &testutil.FakeToolchain{Translate: false}
	b, project := newTestBuilder(t, fake, nil, map[string]string{"a.cu": "__global__ void a() {}\n"}, "a.cu")
	b.Translate = true

	_, err := b.Build(ctx)
	require.NoError(t, err)

	calls := fake.Calls("hipcc")
	require.Len(t, calls, 1)
	assert.Equal(t, filepath.Join(project, "a.cu"), calls[0].Args[len(calls[0].Args)-1])
}

func TestBuild_IncludesAndDepfile(t *testing.T) {
	ctx, _ := testutil.Context(t)
	fake := &testutil.FakeToolchain{}
	b, project := newTestBuilder(t, fake, nil, map[string]string{
		"a.cu":           "#include \"common.cuh\"\n",
		"inc/common.cuh": "#define BLOCK 256\n",
		"tools/gen.py":   "print()\n",
	}, "a.cu")
	require.NoError(t, b.Sources.SetIncludes(filepath.Join(project, "inc", "common.cuh")))
	require.NoError(t, b.Sources.SetWatched(filepath.Join(project, "tools", "gen.py")))

	m, err := b.Build(ctx)
	require.NoError(t, err)

	out := filepath.Join(project, "out")
	copied, err := os.ReadFile(filepath.Join(out, "common.cuh"))
	require.NoError(t, err)
	assert.Equal(t, "#define BLOCK 256\n", string(copied))

	dep, err := os.ReadFile(m.DepfilePath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(dep), m.BindingsPath+":"))
	for _, p := range []string{"a.cu", "inc/common.cuh", "tools/gen.py"} {
		assert.Contains(t, string(dep), filepath.Join(project, filepath.FromSlash(p)))
	}
}

func TestBuild_IncludeBasenameCollision(t *testing.T) {
	ctx, _ := testutil.Context(t)
	fake := &testutil.FakeToolchain{}
	b, project := newTestBuilder(t, fake, nil, map[string]string{
		"a.cu":         "x\n",
		"x/common.cuh": "1\n",
		"y/common.cuh": "2\n",
	}, "a.cu")
	require.NoError(t, b.Sources.SetIncludes(
		filepath.Join(project, "x", "common.cuh"),
		filepath.Join(project, "y", "common.cuh"),
	))

	_, err := b.Build(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrConfig))
	assert.Empty(t, fake.Calls("hipcc"))
}

func TestBuild_Templates(t *testing.T) {
	ctx, _ := testutil.Context(t)
	fake := &testutil.FakeToolchain{}
	b, project := newTestBuilder(t, fake, nil, map[string]string{
		"sort.cu.tmpl": "__global__ void {{.Name}}({{.Type}} *xs) {}\n",
	})
	b.Templates = []sources.Template{{
		Name:   "sort",
		Source: filepath.Join(project, "sort.cu.tmpl"),
		Types:  []sources.ElemType{sources.F32, sources.I64},
	}}

	m, err := b.Build(ctx)
	require.NoError(t, err)

	var names []string
	for _, e := range m.Entries {
		names = append(names, e.Name)
	}
	if diff := cmp.Diff([]string{"SORT_F32", "SORT_I64"}, names); diff != "" {
		t.Errorf("binding names mismatch (-want +got):\n%s", diff)
	}

	unit, err := os.ReadFile(filepath.Join(project, "out", "sort_f32.cu"))
	require.NoError(t, err)
	assert.Equal(t, "__global__ void sort_f32(float *xs) {}\n", string(unit))

	m, err = b.Build(ctx)
	require.NoError(t, err)
	assert.Empty(t, m.Compiled, "unchanged template units must stay fresh")
}

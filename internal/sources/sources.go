// Package sources decides which files take part in a kernel build: kernel
// sources (one compilation unit each), headers copied next to them, and
// watched files that only trigger reruns.
package sources

import (
	"fmt"
	"slices"
	"strings"

	"github.com/vk/kernelbake/internal/errdefs"
	"github.com/vk/kernelbake/internal/fsutil"
)

const (
	DefaultKernelExt = ".cu"
	DefaultHeaderExt = ".cuh"
)

// Set is the resolved list of build inputs. Every list is kept in discovery
// order, which is also the order bindings are emitted in.
type Set struct {
	Kernels  []string
	Includes []string
	Watched  []string
}

// Discover walks root and collects kernels by kernelExt and headers by
// headerExt. Directories in skip (usually the output directory) are ignored.
// Finding nothing is fine.
func Discover(root, kernelExt, headerExt string, skip ...string) (*Set, error) {
	kernels, err := fsutil.FindFilesByExtension(root, kernelExt, skip...)
	if err != nil {
		return nil, errdefs.Config(err, "discovering kernel sources in %s", root)
	}
	headers, err := fsutil.FindFilesByExtension(root, headerExt, skip...)
	if err != nil {
		return nil, errdefs.Config(err, "discovering headers in %s", root)
	}
	return &Set{Kernels: kernels, Includes: headers}, nil
}

// SetKernels replaces the kernel list. Every path must exist.
func (s *Set) SetKernels(paths ...string) error {
	if err := checkExist("kernel", paths); err != nil {
		return err
	}
	s.Kernels = slices.Clone(paths)
	return nil
}

// SetIncludes replaces the header list. Every path must exist.
func (s *Set) SetIncludes(paths ...string) error {
	if err := checkExist("include", paths); err != nil {
		return err
	}
	s.Includes = slices.Clone(paths)
	return nil
}

// SetWatched replaces the watched dependency list. Every path must exist.
func (s *Set) SetWatched(paths ...string) error {
	if err := checkExist("watched", paths); err != nil {
		return err
	}
	s.Watched = slices.Clone(paths)
	return nil
}

// GlobKernels expands patterns now and replaces the kernel list with the
// matches. Entries without glob metacharacters are literal paths and must
// exist.
func (s *Set) GlobKernels(patterns ...string) error {
	files, err := glob("kernel", patterns)
	if err != nil {
		return err
	}
	s.Kernels = files
	return nil
}

// GlobIncludes is GlobKernels for the header list.
func (s *Set) GlobIncludes(patterns ...string) error {
	files, err := glob("include", patterns)
	if err != nil {
		return err
	}
	s.Includes = files
	return nil
}

// GlobWatched is GlobKernels for the watched list.
func (s *Set) GlobWatched(patterns ...string) error {
	files, err := glob("watched", patterns)
	if err != nil {
		return err
	}
	s.Watched = files
	return nil
}

// All returns every input file: kernels, then includes, then watched.
func (s *Set) All() []string {
	out := make([]string, 0, len(s.Kernels)+len(s.Includes)+len(s.Watched))
	out = append(out, s.Kernels...)
	out = append(out, s.Includes...)
	return append(out, s.Watched...)
}

func glob(kind string, entries []string) ([]string, error) {
	var literals, patterns []string
	for _, e := range entries {
		if fsutil.IsPattern(e) {
			patterns = append(patterns, e)
		} else {
			literals = append(literals, e)
		}
	}
	if err := checkExist(kind, literals); err != nil {
		return nil, err
	}

	files, err := fsutil.Glob(patterns...)
	if err != nil {
		return nil, errdefs.Config(err, "expanding %s patterns %s", kind, strings.Join(patterns, ", "))
	}
	for _, l := range literals {
		if !slices.Contains(files, l) {
			files = append(files, l)
		}
	}
	slices.Sort(files)
	return files, nil
}

// MissingPathsError names every path of an explicit list that does not exist.
type MissingPathsError struct {
	Kind  string
	Paths []string
}

func (e *MissingPathsError) Error() string {
	return fmt.Sprintf("%d %s path(s) do not exist: %s", len(e.Paths), e.Kind, strings.Join(e.Paths, ", "))
}

func checkExist(kind string, paths []string) error {
	missing := fsutil.Missing(paths)
	if len(missing) == 0 {
		return nil
	}
	return &errdefs.Error{Kind: errdefs.ErrConfig, Err: &MissingPathsError{Kind: kind, Paths: missing}}
}

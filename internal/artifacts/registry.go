// Package artifacts inventories the code objects already present in the
// output directory, including those produced by earlier runs.
package artifacts

import (
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar"
	"github.com/vk/kernelbake/internal/errdefs"
	"github.com/vk/kernelbake/internal/fsutil"
)

// Scan lists the files in outDir carrying the artifact extension, sorted.
func Scan(outDir, ext string) ([]string, error) {
	pattern := filepath.Join(escape(outDir), "*"+ext)
	matches, err := doublestar.Glob(pattern)
	if err != nil {
		return nil, errdefs.IO(err, outDir)
	}
	sort.Strings(matches)
	return matches, nil
}

// Pair links a kernel source to its artifact on disk.
type Pair struct {
	Source   string
	Artifact string
}

// Reconcile matches scanned artifacts to kernels by file stem. It returns the
// pairs in kernel order and the kernels that have no artifact yet. Artifacts
// left over from kernels no longer in the build are ignored.
func Reconcile(scanned, kernels []string) (present []Pair, missing []string) {
	byStem := make(map[string]string, len(scanned))
	for _, a := range scanned {
		byStem[fsutil.Stem(a)] = a
	}
	for _, k := range kernels {
		if a, ok := byStem[fsutil.Stem(k)]; ok {
			present = append(present, Pair{Source: k, Artifact: a})
		} else {
			missing = append(missing, k)
		}
	}
	return present, missing
}

// escape protects glob metacharacters in a literal directory path.
func escape(dir string) string {
	out := make([]rune, 0, len(dir))
	for _, r := range dir {
		switch r {
		case '*', '?', '[', ']', '{', '}':
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}

// Package bindings writes the Go source that exposes compiled code objects
// to the consuming program, plus a dependency file for the outer build.
package bindings

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vk/kernelbake/internal/errdefs"
	"github.com/vk/kernelbake/internal/fsutil"
)

// ConstName derives the identifier for a kernel source: its file stem
// uppercased, with every character outside [A-Z0-9_] replaced by '_'. A name
// that does not start with a letter gets a "K" prefix so the result is an
// exported identifier and never the blank identifier.
func ConstName(source string) string {
	stem := strings.ToUpper(fsutil.Stem(source))
	var b strings.Builder
	for _, r := range stem {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	name := b.String()
	if name == "" || name[0] < 'A' || name[0] > 'Z' {
		name = "K" + name
	}
	return name
}

// CollisionError lists kernel sources that map to the same identifier.
type CollisionError struct {
	Collisions map[string][]string
}

func (e *CollisionError) Error() string {
	names := make([]string, 0, len(e.Collisions))
	for name := range e.Collisions {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s <- %s", name, strings.Join(e.Collisions[name], ", ")))
	}
	return "kernel sources collide on generated names: " + strings.Join(parts, "; ")
}

// CheckUnique fails when two sources would share a constant name. Sharing a
// stem also means sharing an artifact path, so this guards both.
func CheckUnique(sources []string) error {
	owners := make(map[string][]string, len(sources))
	for _, src := range sources {
		name := ConstName(src)
		owners[name] = append(owners[name], src)
	}

	collisions := make(map[string][]string)
	for name, srcs := range owners {
		if len(srcs) > 1 {
			collisions[name] = srcs
		}
	}
	if len(collisions) == 0 {
		return nil
	}
	return &errdefs.Error{Kind: errdefs.ErrConfig, Err: &CollisionError{Collisions: collisions}}
}

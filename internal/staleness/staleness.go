// Package staleness decides whether a compiled artifact still matches its
// kernel source.
//
// The check compares modification times only. A source restored with an old
// timestamp (for example by touch -d or some VCS checkouts) is not detected.
package staleness

import "os"

// IsStale reports whether source must be recompiled into artifact. The
// artifact is fresh only when it exists and was modified strictly after the
// source; any error reading either timestamp counts as stale.
func IsStale(source, artifact string) bool {
	artInfo, err := os.Stat(artifact)
	if err != nil {
		return true
	}
	srcInfo, err := os.Stat(source)
	if err != nil {
		return true
	}
	return !artInfo.ModTime().After(srcInfo.ModTime())
}

// Filter returns the sources whose artifact is stale, preserving order.
func Filter(sources []string, artifactOf func(string) string) []string {
	var stale []string
	for _, src := range sources {
		if IsStale(src, artifactOf(src)) {
			stale = append(stale, src)
		}
	}
	return stale
}

package bindings

import (
	"strings"

	"github.com/vk/kernelbake/internal/errdefs"
	"github.com/vk/kernelbake/internal/fsutil"
)

// DepfileSuffix is appended to the bindings path to name its depfile.
const DepfileSuffix = ".d"

// Depfile renders a Make-style rule stating that target depends on deps.
func Depfile(target string, deps []string) []byte {
	var b strings.Builder
	b.WriteString(escapeMake(target))
	b.WriteString(":")
	for _, d := range deps {
		b.WriteString(" \\\n  ")
		b.WriteString(escapeMake(d))
	}
	b.WriteString("\n")
	return []byte(b.String())
}

// WriteDepfile writes the rule for target to path.
func WriteDepfile(path, target string, deps []string) error {
	if err := fsutil.WriteFileAtomic(path, Depfile(target, deps), 0o644); err != nil {
		return errdefs.IO(err, path)
	}
	return nil
}

func escapeMake(p string) string {
	r := strings.NewReplacer(" ", `\ `, "#", `\#`, "$", "$$")
	return r.Replace(p)
}

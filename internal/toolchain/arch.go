package toolchain

import (
	"bufio"
	"bytes"
	"strings"
)

// ArchPrefix starts every AMD GPU architecture tag.
const ArchPrefix = "gfx"

// ParseArch scans probe output for the first line naming a GPU agent, such as
//
//	Name:                    gfx1030
//
// and returns its architecture tag. Feature suffixes ("gfx90a:sramecc+:xnack-")
// and ISA prefixes ("amdgcn-amd-amdhsa--gfx90a") are stripped.
func ParseArch(output []byte) (string, bool) {
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "Name:") {
			continue
		}
		for _, field := range strings.Fields(line) {
			idx := strings.Index(field, ArchPrefix)
			if idx < 0 {
				continue
			}
			tag := field[idx:]
			end := len(ArchPrefix)
			for end < len(tag) && isTagChar(tag[end]) {
				end++
			}
			if end > len(ArchPrefix) {
				return tag[:end], true
			}
		}
	}
	return "", false
}

func isTagChar(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z')
}

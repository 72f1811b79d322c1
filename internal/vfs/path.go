package vfs

import "strings"

// maxSymlinkHops bounds symlink chain resolution per spec.md §3.
const maxSymlinkHops = 40

// splitPath normalizes an absolute path into its non-empty segments,
// resolving "." by dropping it and ".." by popping the previous segment.
// ".." above the root is simply discarded rather than erroring: the walk
// never goes above "/".
func splitPath(p string) []string {
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, seg := range parts {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, seg)
		}
	}
	return out
}

// normalize returns the canonical absolute form of p.
func normalize(p string) string {
	segs := splitPath(p)
	if len(segs) == 0 {
		return "/"
	}
	return "/" + strings.Join(segs, "/")
}

func joinSegs(segs []string) string {
	if len(segs) == 0 {
		return "/"
	}
	return "/" + strings.Join(segs, "/")
}

func dirAndBase(p string) (dir, base string) {
	segs := splitPath(p)
	if len(segs) == 0 {
		return "/", ""
	}
	return joinSegs(segs[:len(segs)-1]), segs[len(segs)-1]
}

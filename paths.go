package zarrutils

import "strings"

// NormalizePath makes a logical node path consistent across storage
// systems: backslashes become forward slashes, leading and trailing
// slashes are stripped and runs of slashes collapse to one. The root is "".
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	parts := strings.Split(p, "/")
	kept := parts[:0]
	for _, part := range parts {
		if part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, "/")
}

// joinKey joins a node path and a key name, leaving the root unprefixed
func joinKey(p, name string) string {
	if p == "" {
		return name
	}
	return p + "/" + name
}

// parentPath returns the path of the node containing p, "" for top level
func parentPath(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return ""
}

// displayPath renders the root as "/"
func displayPath(p string) string {
	if p == "" {
		return "/"
	}
	return p
}

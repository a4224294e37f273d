// Package pathenc implements the directory-name encoding AI CLI tools use
// to flatten a project's absolute path into a single directory segment
// under their own data directory (e.g. Claude Code's
// ~/.claude/projects/-Users-alice-code-myapp).
package pathenc

import "strings"

// Encode maps an absolute path to its flattened directory-name form by
// replacing every path separator and dot with a dash, matching Claude
// Code's own convention. It is lossy: a path that itself contains a
// literal dash is indistinguishable from one with a separator or dot
// there, and collisions are possible in principle. Callers that need the
// original path back should prefer a value recorded at scan time
// (Session.EncodedDirName) over re-deriving it.
func Encode(path string) string {
	replacer := strings.NewReplacer("/", "-", ".", "-")
	return replacer.Replace(path)
}

// Decode reverses Encode on a best-effort basis by turning dashes back
// into separators. Because Encode is lossy, Decode cannot always recover
// the exact original path; it exists for display and heuristics, not for
// round-tripping guarantees.
func Decode(encoded string) string {
	if encoded == "" {
		return ""
	}
	decoded := strings.ReplaceAll(encoded, "-", "/")
	if !strings.HasPrefix(decoded, "/") {
		return decoded
	}
	return decoded
}

// ProjectName extracts just the last path segment from an encoded
// directory name, which is what collectors use as a human-readable
// project label when no more precise name is available.
func ProjectName(encodedDirName string) string {
	decoded := Decode(encodedDirName)
	if !strings.HasPrefix(decoded, "/") {
		return encodedDirName
	}
	segments := strings.Split(decoded, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] != "" && !strings.HasPrefix(segments[i], ".") {
			return segments[i]
		}
	}
	return "unknown"
}

package utils

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// CleanSubPath normalizes a slash separated relative path. Empty, "." and "/"
// yield "". Duplicate slashes and "." segments are removed and ".." segments
// are resolved. A path that climbs above its root is rejected.
//
// Example usage:
//
//	sub, err := CleanSubPath("dir//./a.txt") // "dir/a.txt"
func CleanSubPath(p string) (string, error) {
	depth := 0
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".":
		case "..":
			depth--
			if depth < 0 {
				return "", fmt.Errorf("path %q escapes its root", p)
			}
		default:
			depth++
		}
	}
	clean := strings.TrimPrefix(path.Clean("/"+p), "/")
	return clean, nil
}

// splitURI splits a URI into its "scheme://authority" head and the path that
// follows. A string without "://" is treated as a bare path.
func splitURI(uri string) (head, rest string) {
	if i := strings.Index(uri, "://"); i >= 0 {
		head = uri[:i+3]
		rest = uri[i+3:]
		if j := strings.Index(rest, "/"); j >= 0 {
			return head + rest[:j], rest[j:]
		}
		return head + rest, ""
	}
	return "", uri
}

// JoinURI appends a relative sub path to a base URI. Trailing slashes on the
// base are collapsed so the result never holds a double slash at the seam.
// Neither part is decoded, so percent-encoding is preserved.
//
// Example usage:
//
//	JoinURI("oss://bucket/fileset/", "dir/a.txt") // "oss://bucket/fileset/dir/a.txt"
//	JoinURI("file:///", "tmp")                    // "file:///tmp"
func JoinURI(base, sub string) string {
	head, rest := splitURI(base)
	rest = strings.TrimRight(rest, "/")
	sub = strings.Trim(sub, "/")

	switch {
	case sub == "" && rest == "":
		return head + "/"
	case sub == "":
		return head + rest
	default:
		return head + rest + "/" + sub
	}
}

// RelativeTo returns the path of target below base, without a leading slash.
// It reports false when target is not base or a descendant of it. When the
// strings do not share a prefix the URIs are compared by scheme, host and
// path, so an authority a backend spells with a port or different case still matches.
func RelativeTo(base, target string) (string, bool) {
	nb := JoinURI(base, "")
	nt := JoinURI(target, "")
	if rel, ok := relativePath(nb, nt); ok {
		return rel, true
	}

	bu, err := url.Parse(nb)
	if err != nil {
		return "", false
	}
	tu, err := url.Parse(nt)
	if err != nil || !strings.EqualFold(bu.Scheme, tu.Scheme) || !strings.EqualFold(bu.Hostname(), tu.Hostname()) {
		return "", false
	}
	return relativePath(bu.EscapedPath(), tu.EscapedPath())
}

func relativePath(base, target string) (string, bool) {
	if target == base {
		return "", true
	}
	prefix := base
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if strings.HasPrefix(target, prefix) {
		return strings.Trim(target[len(prefix):], "/"), true
	}
	return "", false
}

// URIPath returns the path component of a URI, or the input when it carries no scheme.
func URIPath(uri string) string {
	_, rest := splitURI(uri)
	if rest == "" {
		return "/"
	}
	return rest
}

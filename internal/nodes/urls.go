package nodes

import (
	"strings"
)

// NormalizeRepoURL reduces a repository URL to a comparable form: scheme
// (https, ssh, git@) is dropped, a trailing .git is dropped, and the result
// is lowercased.
func NormalizeRepoURL(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))
	s = strings.TrimSuffix(s, "/")
	s = strings.TrimSuffix(s, ".git")

	for _, prefix := range []string{"https://", "http://", "ssh://", "git://"} {
		s = strings.TrimPrefix(s, prefix)
	}
	// git@host:owner/repo → host/owner/repo
	if strings.HasPrefix(s, "git@") {
		s = strings.TrimPrefix(s, "git@")
		s = strings.Replace(s, ":", "/", 1)
	}
	// ssh://git@host/... leaves a user prefix behind
	s = strings.TrimPrefix(s, "git@")
	return s
}

// SameRepoURL reports whether two repository URLs identify the same repo.
func SameRepoURL(a, b string) bool {
	return NormalizeRepoURL(a) == NormalizeRepoURL(b)
}

// SplitRef separates an optional @ref suffix from a package identifier or
// URL: "url@v1.2" → ("url", "v1.2"). An @ inside a scp-style user prefix is
// not a ref separator.
func SplitRef(identifier string) (string, string) {
	i := strings.LastIndex(identifier, "@")
	if i <= 0 {
		return identifier, ""
	}
	// git@host:... has the @ before any path separator
	rest := identifier[i+1:]
	if strings.ContainsAny(rest, "/:") {
		return identifier, ""
	}
	return identifier[:i], rest
}

// IsGitURL reports whether an install identifier is a VCS URL rather than a
// registry id or local directory name.
func IsGitURL(identifier string) bool {
	lower := strings.ToLower(identifier)
	return strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "ssh://") ||
		strings.HasPrefix(lower, "git://") ||
		strings.HasPrefix(lower, "git@")
}

// PackageIDFromURL derives the lowercase package id from a repository URL.
func PackageIDFromURL(url string) string {
	s := NormalizeRepoURL(url)
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	return s
}

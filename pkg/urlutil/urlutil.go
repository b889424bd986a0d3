// Package urlutil holds URL helpers shared by the crawler and coordinator.
package urlutil

import (
	"net/url"
	"strings"
)

// MaxURLLength is the longest URL the crawler will store or enqueue.
const MaxURLLength = 2048

// Host returns the lowercased hostname (no port) of a raw URL, or "" when
// the URL does not parse.
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// IsHTTP reports whether the URL parses and carries an http or https scheme.
func IsHTTP(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// Normalize strips the fragment from a URL, producing the canonical form
// used for frontier identity. Anything that fails to parse is returned as-is.
func Normalize(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// NormalizePath returns the URL path with any trailing slash removed.
// Two URLs with the same normalized path are dedup candidates.
func NormalizePath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimRight(u.Path, "/")
}

// Truncate clips a URL to MaxURLLength bytes.
func Truncate(rawURL string) string {
	if len(rawURL) > MaxURLLength {
		return rawURL[:MaxURLLength]
	}
	return rawURL
}

// Resolve joins a possibly-relative href against base and returns the
// absolute URL, or "" when either side fails to parse.
func Resolve(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

package auditfetch

import (
	"net/url"
	"strings"
)

// APIPrefix marks same-origin routes. Paths under it are never redirected to a
// configured backend base.
const APIPrefix = "/api/"

// ResolveURL returns the URL a request for path is sent to. Absolute URLs and
// same-origin API paths pass through untouched; anything else is joined onto
// base.
func ResolveURL(path, base string) string {
	if IsAbsoluteURL(path) {
		return path
	}

	if strings.HasPrefix(path, APIPrefix) {
		return path
	}

	if base == "" {
		return path
	}

	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

func IsAbsoluteURL(path string) bool {
	lower := strings.ToLower(path)

	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func hostOf(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return "same-origin"
	}

	return parsed.Host
}

package gateway

import (
	"net/url"
	"path"
	"strings"
)

// RewriteManifest prefixes every relative reference in an HLS playlist with
// base, so the browser resolves segment URIs against the host that served
// the playlist (this proxy) instead of learning the upstream host. Comment
// lines (leading '#'), blank lines, and already-absolute references pass
// through unchanged.
func RewriteManifest(manifest, base string) string {
	if base != "" && !strings.HasSuffix(base, "/") {
		base += "/"
	}

	lines := strings.Split(manifest, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if isAbsoluteRef(trimmed) {
			continue
		}
		lines[i] = base + trimmed
	}
	return strings.Join(lines, "\n")
}

// isAbsoluteRef reports whether ref already resolves without the manifest's
// base: a full URL ("scheme://"), a protocol-relative URL ("//host"), or a
// root-relative path ("/...").
func isAbsoluteRef(ref string) bool {
	if strings.HasPrefix(ref, "/") {
		return true
	}
	u, err := url.Parse(ref)
	if err != nil {
		// Unparseable lines are left alone rather than mangled.
		return true
	}
	return u.IsAbs()
}

// BasePath returns the directory portion of a URL path, with a trailing
// slash, for use as the rewrite base of a manifest fetched from that URL.
func BasePath(u *url.URL) string {
	dir := path.Dir(u.Path)
	if dir == "." || dir == "/" {
		return "/"
	}
	return dir + "/"
}

// Package assets serves the app's static files during development.
//
// Static requests are answered before any route matching runs. Lookup
// is deliberately strict: traversal and absolute-path tricks are
// rejected, and a file only matches when its on-disk name agrees with
// the requested path byte for byte, so apps developed on
// case-insensitive filesystems do not break once deployed to
// case-sensitive ones.
package assets

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Responder answers requests for files under a static directory.
type Responder struct {
	// Dir is the static files directory.
	Dir string

	// Prefix is the URL prefix assets are served under, e.g. "/assets".
	// An empty prefix serves from the site root.
	Prefix string

	// MimeTypes maps file extensions to Content-Type values. Unknown
	// extensions are left to http.ServeContent, which derives the type
	// from the system extension table or by sniffing.
	MimeTypes map[string]string
}

// RelPath returns a sanitized path relative to the static directory
// for a request path, or false when the request is not a static
// candidate.
func (s *Responder) RelPath(urlPath string) (string, bool) {
	if s.Dir == "" {
		return "", false
	}

	rel := s.stripPrefix(urlPath)
	if rel == "" {
		return "", false
	}

	// NUL can arrive via %00.
	if strings.IndexByte(rel, 0) != -1 {
		return "", false
	}
	if strings.Contains(rel, "\\") {
		return "", false
	}

	// A leading "/" after prefix stripping is an absolute-path attempt
	// ("/assets//etc/passwd" => "/etc/passwd").
	if strings.HasPrefix(rel, "/") {
		return "", false
	}

	// Reject dot-segments before cleaning so traversal attempts are not
	// cleaned away into something innocuous.
	for _, seg := range strings.Split(rel, "/") {
		if seg == "." || seg == ".." {
			return "", false
		}
	}

	clean := path.Clean(rel)
	if clean == "." || clean == "" || clean == ".." || strings.HasPrefix(clean, "../") || strings.HasPrefix(clean, "/") {
		return "", false
	}

	osPath := filepath.FromSlash(clean)
	if filepath.IsAbs(osPath) || filepath.VolumeName(osPath) != "" {
		return "", false
	}

	return clean, true
}

// Has reports whether the request path names an existing static file.
// The name must match the on-disk spelling exactly.
func (s *Responder) Has(urlPath string) bool {
	rel, ok := s.RelPath(urlPath)
	if !ok {
		return false
	}

	full := filepath.Join(s.Dir, filepath.FromSlash(rel))
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return false
	}

	return s.caseMatches(rel)
}

// caseMatches verifies every path component against the directory
// listing. os.Stat alone would accept a wrong-case name on
// case-insensitive filesystems.
func (s *Responder) caseMatches(rel string) bool {
	dir := s.Dir
	for _, seg := range strings.Split(rel, "/") {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return false
		}
		found := false
		for _, e := range entries {
			if e.Name() == seg {
				found = true
				break
			}
		}
		if !found {
			return false
		}
		dir = filepath.Join(dir, seg)
	}
	return true
}

// ServeHTTP serves the static file for the request, or 404.
func (s *Responder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	rel, ok := s.RelPath(r.URL.Path)
	if !ok || !s.Has(r.URL.Path) {
		http.NotFound(w, r)
		return
	}

	full := filepath.Join(s.Dir, filepath.FromSlash(rel))
	f, err := os.Open(full)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	if ct := s.contentType(rel); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")

	http.ServeContent(w, r, rel, info.ModTime(), f)
}

// contentType resolves the Content-Type for a file path. An empty
// return leaves the header to http.ServeContent.
func (s *Responder) contentType(rel string) string {
	return s.MimeTypes[path.Ext(rel)]
}

// stripPrefix removes the asset prefix from a URL path, returning the
// candidate relative path or "" when the path is outside the prefix.
func (s *Responder) stripPrefix(urlPath string) string {
	prefix := s.Prefix
	if prefix == "" {
		prefix = "/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	if prefix == "/" {
		return strings.TrimPrefix(urlPath, "/")
	}

	if !strings.HasPrefix(urlPath, prefix) {
		return ""
	}
	return strings.TrimPrefix(urlPath, prefix)
}

package api

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"loopweb/internal/models"
	"loopweb/internal/platform"
)

var (
	longCacheExts = map[string]bool{
		".js": true, ".css": true, ".woff": true, ".woff2": true, ".ttf": true, ".eot": true,
	}
	imageCacheExts = map[string]bool{
		".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".svg": true, ".ico": true, ".webp": true,
	}
)

// staticSite serves the built single-page site. Paths without a file
// extension that do not exist on disk get the index page so client-side
// routes survive a reload.
type staticSite struct {
	dir         string
	index       string
	spaFallback bool
}

func newStaticSite(cfg models.StaticConfig) *staticSite {
	index := cfg.IndexFile
	if index == "" {
		index = "index.html"
	}
	return &staticSite{dir: cfg.Dir, index: index, spaFallback: cfg.SPAFallback}
}

func (s *staticSite) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := path.Clean("/" + r.URL.Path)

	f, info, err := s.open(name)
	if err != nil {
		if !s.spaFallback || path.Ext(name) != "" {
			writeError(w, r, http.StatusNotFound, models.ErrorCodeNotFound, "Not found")
			return
		}
		f, info, err = s.open("/" + s.index)
		if err != nil {
			writeError(w, r, http.StatusNotFound, models.ErrorCodeNotFound, "Not found")
			return
		}
	}
	defer f.Close()

	setStaticCacheHeaders(w.Header(), info.Name())
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// open resolves name inside the site directory. Directories resolve to their
// index page.
func (s *staticSite) open(name string) (*os.File, os.FileInfo, error) {
	full := filepath.Join(s.dir, filepath.FromSlash(name))

	info, err := os.Stat(full)
	if err != nil {
		return nil, nil, err
	}
	if info.IsDir() {
		full = filepath.Join(full, s.index)
		if info, err = os.Stat(full); err != nil {
			return nil, nil, err
		}
		if info.IsDir() {
			return nil, nil, os.ErrNotExist
		}
	}

	f, err := os.Open(full)
	if err != nil {
		return nil, nil, err
	}
	return f, info, nil
}

// setStaticCacheHeaders applies the caching rules of the site: HTML is never
// cached so a deploy is picked up immediately, hashed bundles and fonts are
// cached for a year and images for thirty days.
func setStaticCacheHeaders(h http.Header, name string) {
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case ext == ".html":
		h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
		h.Set("Pragma", "no-cache")
		h.Set("Expires", "0")
		h.Set("Accept-CH", platform.AcceptCH)
	case longCacheExts[ext]:
		h.Set("Cache-Control", "public, max-age=31536000")
	case imageCacheExts[ext]:
		h.Set("Cache-Control", "public, max-age=2592000")
	default:
		h.Set("Cache-Control", "public, max-age=31536000")
	}
}

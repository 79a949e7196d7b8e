package api

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// staticHandler serves the client bundle behind the route-table gate.
// Unknown paths without an extension fall back to index.html so client-side
// routes survive a reload.
func (s *Server) staticHandler() http.Handler {
	root := http.Dir(s.opts.StaticDir)
	files := http.FileServer(root)

	spa := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := path.Clean("/" + r.URL.Path)
		if path.Ext(name) == "" && !exists(s.opts.StaticDir, name) {
			http.ServeFile(w, r, filepath.Join(s.opts.StaticDir, "index.html"))
			return
		}
		files.ServeHTTP(w, r)
	})

	return s.gated(s.opts.Routes)(spa)
}

func exists(dir, name string) bool {
	info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(strings.TrimPrefix(name, "/"))))
	return err == nil && !info.IsDir()
}

package server

import (
	"embed"
	"net/http"
)

//go:embed static/index.html
var staticFS embed.FS

// serveIndex returns the embedded chat client page. Only the exact root
// path matches; everything else under "/" is a 404.
func serveIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	page, err := staticFS.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "index unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

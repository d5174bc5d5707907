// Package web embeds the landing pages and renders the quote result card.
package web

import (
	"bytes"
	"embed"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/ttakmal/internal/result"
)

//go:embed static
var staticFS embed.FS

//go:embed templates/result.html
var resultTemplate string

var resultPage = template.Must(template.New("result").Parse(resultTemplate))

// Handler serves the embedded pages. A path without an extension resolves
// to the matching .html page, and anything else falls back to index.html.
func Handler() http.Handler {
	subFS, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}

	fileServer := http.FileServer(http.FS(subFS))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.Trim(r.URL.Path, "/")
		if path == "" {
			fileServer.ServeHTTP(w, r)
			return
		}

		if exists(subFS, path) {
			fileServer.ServeHTTP(w, r)
			return
		}
		if !strings.Contains(path, ".") && exists(subFS, path+".html") {
			serveFile(w, subFS, path+".html")
			return
		}

		r.URL.Path = "/"
		fileServer.ServeHTTP(w, r)
	})
}

// ResultHandler renders the result card from the handoff query.
func ResultHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := result.Parse(r.URL.Query())

		var buf bytes.Buffer
		if err := resultPage.Execute(&buf, h); err != nil {
			slog.Error("web: failed to render result", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(buf.Bytes())
	})
}

func exists(fsys fs.FS, name string) bool {
	f, err := fsys.Open(name)
	if err != nil {
		return false
	}
	if closeErr := f.Close(); closeErr != nil {
		slog.Debug("web: failed to close embedded file", "path", name, "error", closeErr)
	}
	return true
}

// serveFile writes an embedded page directly. http.FileServer would redirect
// "/about.html" requests back to "/about".
func serveFile(w http.ResponseWriter, fsys fs.FS, name string) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		http.NotFound(w, nil)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(data)
}

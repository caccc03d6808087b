package web

import (
	"embed"
	"html/template"
	"io/fs"
	"sync"
)

//go:embed *.html app.css
var content embed.FS

var (
	tmpl *template.Template
	once sync.Once
)

// Templates returns the parsed auth form templates, embedded at build time.
// Each page is looked up by file name and pulls in the "head" and "foot"
// blocks from partials.html.
func Templates() *template.Template {
	once.Do(func() {
		tmpl = template.Must(template.ParseFS(content, "*.html"))
	})
	return tmpl
}

// StaticFS exposes embedded static assets such as CSS.
func StaticFS() fs.FS {
	return content
}

// Package web holds the browser front end served by the gin server.
package web

import (
	"embed"
	"html/template"
	"io/fs"
	"net/http"
)

//go:embed templates/*.html static
var files embed.FS

// Templates parses the page templates.
func Templates() (*template.Template, error) {
	return template.New("").Funcs(template.FuncMap{
		"kb": func(n int64) int64 { return (n + 1023) / 1024 },
	}).ParseFS(files, "templates/*.html")
}

// Static serves the JS/CSS assets.
func Static() http.FileSystem {
	sub, err := fs.Sub(files, "static")
	if err != nil {
		panic(err)
	}
	return http.FS(sub)
}

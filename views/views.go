// Package views embeds the HTML templates and translation files
package views

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed templates locales
var FS embed.FS

// Templates returns the template tree for the html engine
func Templates() http.FileSystem {
	sub, err := fs.Sub(FS, "templates")
	if err != nil {
		panic(err)
	}
	return http.FS(sub)
}

// Package assets embeds the browser client and the SQL migrations so the
// server binary runs without any files next to it.
package assets

import (
	"embed"
	"io/fs"
)

//go:embed web sql
var files embed.FS

// Web is the static browser client (index.html at its root).
var Web = mustSub("web")

// Migrations holds the *.sql schema files, applied in lexical order.
var Migrations = mustSub("sql")

func mustSub(dir string) fs.FS {
	sub, err := fs.Sub(files, dir)
	if err != nil {
		panic(err)
	}
	return sub
}

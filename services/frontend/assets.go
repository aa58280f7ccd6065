package frontend

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static
var staticAssets embed.FS

const assetCacheControl = "public, max-age=3600"

// StaticHandler serves the embedded files under static/. Mount it behind
// http.StripPrefix so request paths are relative to that directory.
func StaticHandler() http.Handler {
	assets, err := fs.Sub(staticAssets, "static")
	if err != nil {
		panic(err)
	}
	files := http.FileServer(http.FS(assets))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", assetCacheControl)
		files.ServeHTTP(w, r)
	})
}

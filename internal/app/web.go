package app

import (
	"embed"
	"net/http"
)

//go:embed static
var staticFS embed.FS

// registerWeb serves the browser client: the drawing page at / and the
// login page at /login. Everything else under /static is served as-is.
func registerWeb(mux *http.ServeMux) {
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		servePage(w, r, "static/index.html")
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		servePage(w, r, "static/login.html")
	})
	mux.Handle("/static/", http.FileServer(http.FS(staticFS)))
}

func servePage(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := staticFS.ReadFile(name)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(body)
}

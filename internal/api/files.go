package api

import (
	"net/http"
)

func (rt *Router) handleServeFile(w http.ResponseWriter, r *http.Request) {
	rt.files.ServeFile(w, r, r.PathValue("path"))
}

func (rt *Router) handleListFiles(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	infos, err := rt.files.List(path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeList(w, infos, len(infos))
}

package api

import (
	"net/http"

	"github.com/pureboot/pureboot/internal/models"
)

func (rt *Router) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	wfs, err := rt.resolver.List()
	if err != nil {
		writeError(w, err)
		return
	}
	if wfs == nil {
		wfs = []*models.Workflow{}
	}
	writeList(w, wfs, len(wfs))
}

func (rt *Router) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := rt.resolver.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, wf)
}

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pureboot/pureboot/internal/models"
)

func (rt *Router) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := rt.store.ListGroups()
	if err != nil {
		writeError(w, err)
		return
	}
	if groups == nil {
		groups = []*models.DeviceGroup{}
	}
	writeList(w, groups, len(groups))
}

func (rt *Router) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var group models.DeviceGroup
	if err := json.NewDecoder(r.Body).Decode(&group); err != nil {
		writeValidationError(w, "invalid JSON body")
		return
	}
	if group.Name == "" {
		writeValidationError(w, "name is required")
		return
	}
	now := time.Now().UTC()
	group.ID = uuid.NewString()
	group.CreatedAt = now
	group.UpdatedAt = now
	if err := rt.store.CreateGroup(&group); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, &group)
}

func (rt *Router) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	group, err := rt.store.GetGroup(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, group)
}

func (rt *Router) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	existing, err := rt.store.GetGroup(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	var group models.DeviceGroup
	if err := json.NewDecoder(r.Body).Decode(&group); err != nil {
		writeValidationError(w, "invalid JSON body")
		return
	}
	if group.Name == "" {
		writeValidationError(w, "name is required")
		return
	}
	group.ID = existing.ID
	group.CreatedAt = existing.CreatedAt
	if err := rt.store.UpdateGroup(&group); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, &group)
}

func (rt *Router) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := rt.store.DeleteGroup(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "group deleted")
}

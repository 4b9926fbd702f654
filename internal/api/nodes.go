package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/pureboot/pureboot/internal/lifecycle"
	"github.com/pureboot/pureboot/internal/models"
	"github.com/pureboot/pureboot/internal/store"
)

// clientIP extracts the remote address without its port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (rt *Router) handleListNodes(w http.ResponseWriter, r *http.Request) {
	filter := store.NodeFilter{
		State:   models.NodeState(r.URL.Query().Get("state")),
		GroupID: r.URL.Query().Get("group_id"),
		Tag:     r.URL.Query().Get("tag"),
		Limit:   queryInt(r, "limit", 0),
		Offset:  queryInt(r, "offset", 0),
	}
	if filter.State != "" && !filter.State.Valid() {
		writeValidationError(w, "unknown state "+strconv.Quote(string(filter.State)))
		return
	}
	nodes, total, err := rt.store.ListNodes(filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if nodes == nil {
		nodes = []*models.Node{}
	}
	writeList(w, nodes, total)
}

func (rt *Router) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	var req models.Node
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "invalid JSON body")
		return
	}
	if req.MACAddress == "" {
		writeValidationError(w, "macAddress is required")
		return
	}
	if req.Architecture != "" && !models.ValidArchitecture(req.Architecture) {
		writeValidationError(w, "unsupported architecture "+strconv.Quote(req.Architecture))
		return
	}
	if req.BootMode != "" && !models.ValidBootMode(req.BootMode) {
		writeValidationError(w, "unsupported boot mode "+strconv.Quote(req.BootMode))
		return
	}
	if req.State != "" && !req.State.Valid() {
		writeValidationError(w, "unknown state "+strconv.Quote(string(req.State)))
		return
	}

	tags := req.Tags
	req.Tags = nil
	node, err := rt.lifecycle.CreateNode(&req)
	if err != nil {
		if errors.Is(err, models.ErrInvalidMAC) {
			writeValidationError(w, err.Error())
			return
		}
		writeError(w, err)
		return
	}
	for _, tag := range tags {
		if err := rt.store.AddTag(node.ID, tag); err != nil {
			writeError(w, err)
			return
		}
	}
	node.Tags = tags
	writeData(w, http.StatusCreated, node)
}

func (rt *Router) handleGetNode(w http.ResponseWriter, r *http.Request) {
	node, err := rt.store.GetNode(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, node)
}

func (rt *Router) handleUpdateNode(w http.ResponseWriter, r *http.Request) {
	var update lifecycle.AdminUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeValidationError(w, "invalid JSON body")
		return
	}
	node, err := rt.lifecycle.UpdateNode(r.PathValue("id"), update)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, node)
}

// handleDeleteNode retires the node. Permanent removal of the row and its
// history requires ?hard=true.
func (rt *Router) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if r.URL.Query().Get("hard") == "true" {
		if err := rt.store.DeleteNode(id); err != nil {
			writeError(w, err)
			return
		}
		writeMessage(w, http.StatusOK, "node deleted")
		return
	}
	node, err := rt.lifecycle.Retire(id, models.TriggerAdmin)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, node)
}

type transitionRequest struct {
	State  models.NodeState `json:"state"`
	Reason string           `json:"reason,omitempty"`
}

func (rt *Router) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "invalid JSON body")
		return
	}
	if !req.State.Valid() {
		writeValidationError(w, "unknown state "+strconv.Quote(string(req.State)))
		return
	}
	var metadata json.RawMessage
	if req.Reason != "" {
		metadata, _ = json.Marshal(map[string]string{"reason": req.Reason})
	}
	node, err := rt.lifecycle.Transition(r.PathValue("id"), req.State, models.TriggerAdmin, metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, node)
}

type tagRequest struct {
	Tag string `json:"tag"`
}

func (rt *Router) handleAddTag(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Tag == "" {
		writeValidationError(w, "tag is required")
		return
	}
	id := r.PathValue("id")
	if _, err := rt.store.GetNode(id); err != nil {
		writeError(w, err)
		return
	}
	if err := rt.store.AddTag(id, req.Tag); err != nil {
		writeError(w, err)
		return
	}
	node, err := rt.store.GetNode(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, node)
}

func (rt *Router) handleRemoveTag(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := rt.store.GetNode(id); err != nil {
		writeError(w, err)
		return
	}
	if err := rt.store.RemoveTag(id, r.PathValue("tag")); err != nil {
		writeError(w, err)
		return
	}
	node, err := rt.store.GetNode(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, node)
}

// handleReport ingests a node status report and refreshes the node's health.
// A replayed report with a known event id acknowledges without re-processing
// so queue drains stay idempotent.
func (rt *Router) handleReport(w http.ResponseWriter, r *http.Request) {
	var report lifecycle.Report
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		writeValidationError(w, "invalid JSON body")
		return
	}
	node, event, err := rt.lifecycle.ProcessReport(report, clientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, lifecycle.ErrDuplicateEvent):
			writeJSON(w, http.StatusOK, envelope{
				Success: true,
				Data:    node,
				Message: "event already processed",
			})
		case errors.Is(err, lifecycle.ErrBadReport), errors.Is(err, models.ErrInvalidMAC):
			writeValidationError(w, err.Error())
		default:
			writeError(w, err)
		}
		return
	}
	if err := rt.monitor.RecomputeAfterReport(node.ID); err != nil {
		writeError(w, err)
		return
	}
	node, err = rt.store.GetNode(node.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"node":  node,
		"event": event,
	})
}

func (rt *Router) handleNodeEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := rt.store.GetNode(id); err != nil {
		writeError(w, err)
		return
	}
	eventType := r.URL.Query().Get("event_type")
	if eventType == "" {
		eventType = r.URL.Query().Get("type")
	}
	events, total, err := rt.store.ListEvents(store.EventFilter{
		NodeID: id,
		Type:   models.EventType(eventType),
		Limit:  queryInt(r, "limit", 100),
		Offset: queryInt(r, "offset", 0),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []*models.NodeEvent{}
	}
	writeList(w, events, total)
}

func (rt *Router) handleNodeStateLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := rt.store.GetNode(id); err != nil {
		writeError(w, err)
		return
	}
	logs, err := rt.store.ListStateLogs(id, queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, err)
		return
	}
	if logs == nil {
		logs = []*models.NodeStateLog{}
	}
	writeList(w, logs, len(logs))
}

func (rt *Router) handleStalledNodes(w http.ResponseWriter, r *http.Request) {
	timeout := rt.cfg.InstallTimeout()
	if timeout <= 0 {
		writeList(w, []*models.Node{}, 0)
		return
	}
	nodes, err := rt.store.ListStalledNodes(timeout)
	if err != nil {
		writeError(w, err)
		return
	}
	if nodes == nil {
		nodes = []*models.Node{}
	}
	writeList(w, nodes, len(nodes))
}

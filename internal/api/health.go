package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pureboot/pureboot/internal/models"
	"github.com/pureboot/pureboot/internal/store"
)

func (rt *Router) handleHealthSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := rt.monitor.Summary()
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, summary)
}

func (rt *Router) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := models.AlertStatus(q.Get("status"))
	if status == "" {
		status = models.AlertActive
	}
	if q.Get("status") == "all" {
		status = ""
	}
	alerts, err := rt.store.ListAlerts(store.AlertFilter{
		Status:   status,
		Severity: models.AlertSeverity(q.Get("severity")),
		NodeID:   q.Get("node_id"),
		Limit:    queryInt(r, "limit", 0),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if alerts == nil {
		alerts = []*models.HealthAlert{}
	}
	writeList(w, alerts, len(alerts))
}

type acknowledgeRequest struct {
	AcknowledgedBy string `json:"acknowledgedBy"`
}

func (rt *Router) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	var req acknowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "invalid JSON body")
		return
	}
	if req.AcknowledgedBy == "" {
		req.AcknowledgedBy = "operator"
	}
	if err := rt.store.AcknowledgeAlert(r.PathValue("id"), req.AcknowledgedBy); err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "alert acknowledged")
}

// handleNodeHealth returns the node's current health fields plus its active
// alerts.
func (rt *Router) handleNodeHealth(w http.ResponseWriter, r *http.Request) {
	node, err := rt.store.GetNode(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	alerts, err := rt.store.ListAlerts(store.AlertFilter{
		Status: models.AlertActive,
		NodeID: node.ID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if alerts == nil {
		alerts = []*models.HealthAlert{}
	}
	payload := map[string]any{
		"nodeId":       node.ID,
		"healthStatus": node.HealthStatus,
		"healthScore":  node.HealthScore,
		"lastSeenAt":   node.LastSeenAt,
		"alerts":       alerts,
	}
	writeData(w, http.StatusOK, payload)
}

// handleNodeHealthHistory returns snapshots over the trailing window. The
// hours parameter is clamped to [1, 168].
func (rt *Router) handleNodeHealthHistory(w http.ResponseWriter, r *http.Request) {
	node, err := rt.store.GetNode(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	hours := queryInt(r, "hours", 24)
	if hours < 1 {
		hours = 1
	}
	if hours > 168 {
		hours = 168
	}
	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	snaps, err := rt.store.ListSnapshots(node.ID, since)
	if err != nil {
		writeError(w, err)
		return
	}
	if snaps == nil {
		snaps = []*models.NodeHealthSnapshot{}
	}
	writeList(w, snaps, len(snaps))
}

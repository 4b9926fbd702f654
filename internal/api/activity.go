package api

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/pureboot/pureboot/internal/store"
)

// activityItem is one entry in the merged operator activity feed.
type activityItem struct {
	Kind      string    `json:"kind"` // state_change | event | alert
	NodeID    string    `json:"nodeId"`
	Summary   string    `json:"summary"`
	Timestamp time.Time `json:"timestamp"`
}

// handleActivity merges recent state transitions, node events and alerts into
// one feed, newest first.
func (rt *Router) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	if limit < 1 {
		limit = 1
	}
	if limit > 500 {
		limit = 500
	}

	items := make([]activityItem, 0, limit*3)

	logs, err := rt.store.ListRecentStateLogs(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, l := range logs {
		items = append(items, activityItem{
			Kind:      "state_change",
			NodeID:    l.NodeID,
			Summary:   fmt.Sprintf("state %s to %s (%s)", l.FromState, l.ToState, l.TriggeredBy),
			Timestamp: l.Timestamp,
		})
	}

	events, _, err := rt.store.ListEvents(store.EventFilter{Limit: limit})
	if err != nil {
		writeError(w, err)
		return
	}
	for _, e := range events {
		summary := fmt.Sprintf("event %s (%s)", e.Type, e.Status)
		if e.Message != "" {
			summary += ": " + e.Message
		}
		items = append(items, activityItem{
			Kind:      "event",
			NodeID:    e.NodeID,
			Summary:   summary,
			Timestamp: e.Timestamp,
		})
	}

	alerts, err := rt.store.ListAlerts(store.AlertFilter{Limit: limit})
	if err != nil {
		writeError(w, err)
		return
	}
	for _, a := range alerts {
		items = append(items, activityItem{
			Kind:      "alert",
			NodeID:    a.NodeID,
			Summary:   fmt.Sprintf("%s alert %s: %s", a.Severity, a.Type, a.Message),
			Timestamp: a.CreatedAt,
		})
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Timestamp.After(items[j].Timestamp) })
	if len(items) > limit {
		items = items[:limit]
	}
	writeList(w, items, len(items))
}

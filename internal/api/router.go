// Package api exposes the controller's HTTP surface: the /api/v1 JSON API,
// the PXE boot endpoint, boot artifact downloads and the WebSocket feed.
package api

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pureboot/pureboot/internal/boot"
	"github.com/pureboot/pureboot/internal/config"
	"github.com/pureboot/pureboot/internal/files"
	"github.com/pureboot/pureboot/internal/health"
	"github.com/pureboot/pureboot/internal/lifecycle"
	"github.com/pureboot/pureboot/internal/store"
	"github.com/pureboot/pureboot/internal/websocket"
	"github.com/pureboot/pureboot/internal/workflows"
)

// Router wires every HTTP handler onto a ServeMux.
type Router struct {
	cfg       *config.Config
	store     *store.Store
	lifecycle *lifecycle.Manager
	engine    *boot.Engine
	resolver  *workflows.Resolver
	monitor   *health.Monitor
	hub       *websocket.Hub
	files     *files.Server

	mux *http.ServeMux
}

// NewRouter builds the router over its collaborators. files may be nil when
// no artifact backend is configured.
func NewRouter(cfg *config.Config, st *store.Store, lm *lifecycle.Manager, engine *boot.Engine,
	resolver *workflows.Resolver, monitor *health.Monitor, hub *websocket.Hub, fileServer *files.Server) *Router {
	rt := &Router{
		cfg:       cfg,
		store:     st,
		lifecycle: lm,
		engine:    engine,
		resolver:  resolver,
		monitor:   monitor,
		hub:       hub,
		files:     fileServer,
		mux:       http.NewServeMux(),
	}
	rt.routes()
	return rt
}

func (rt *Router) routes() {
	mux := rt.mux

	// Boot path. Plain text, never errors toward the firmware.
	mux.HandleFunc("GET /boot", rt.handleBoot)
	mux.HandleFunc("GET /boot/{mac}", rt.handleBoot)

	// Nodes.
	mux.HandleFunc("GET /api/v1/nodes", rt.handleListNodes)
	mux.HandleFunc("POST /api/v1/nodes", rt.handleCreateNode)
	mux.HandleFunc("GET /api/v1/nodes/stalled", rt.handleStalledNodes)
	mux.HandleFunc("POST /api/v1/nodes/report", rt.handleReport)
	mux.HandleFunc("GET /api/v1/nodes/{id}", rt.handleGetNode)
	mux.HandleFunc("PATCH /api/v1/nodes/{id}", rt.handleUpdateNode)
	mux.HandleFunc("DELETE /api/v1/nodes/{id}", rt.handleDeleteNode)
	mux.HandleFunc("PATCH /api/v1/nodes/{id}/state", rt.handleTransition)
	mux.HandleFunc("POST /api/v1/nodes/{id}/tags", rt.handleAddTag)
	mux.HandleFunc("DELETE /api/v1/nodes/{id}/tags/{tag}", rt.handleRemoveTag)
	mux.HandleFunc("GET /api/v1/nodes/{id}/events", rt.handleNodeEvents)
	mux.HandleFunc("GET /api/v1/nodes/{id}/state-logs", rt.handleNodeStateLogs)
	mux.HandleFunc("GET /api/v1/nodes/{id}/health", rt.handleNodeHealth)
	mux.HandleFunc("GET /api/v1/nodes/{id}/health/history", rt.handleNodeHealthHistory)

	// Groups.
	mux.HandleFunc("GET /api/v1/groups", rt.handleListGroups)
	mux.HandleFunc("POST /api/v1/groups", rt.handleCreateGroup)
	mux.HandleFunc("GET /api/v1/groups/{id}", rt.handleGetGroup)
	mux.HandleFunc("PUT /api/v1/groups/{id}", rt.handleUpdateGroup)
	mux.HandleFunc("DELETE /api/v1/groups/{id}", rt.handleDeleteGroup)

	// Workflows are read-only over the API; records are published as files.
	mux.HandleFunc("GET /api/v1/workflows", rt.handleListWorkflows)
	mux.HandleFunc("GET /api/v1/workflows/{id}", rt.handleGetWorkflow)

	// Health.
	mux.HandleFunc("GET /api/v1/health/summary", rt.handleHealthSummary)
	mux.HandleFunc("GET /api/v1/health/alerts", rt.handleListAlerts)
	mux.HandleFunc("POST /api/v1/health/alerts/{id}/acknowledge", rt.handleAcknowledgeAlert)

	// Activity feed.
	mux.HandleFunc("GET /api/v1/activity", rt.handleActivity)

	// Boot artifacts.
	if rt.files != nil {
		mux.HandleFunc("GET /files/{path...}", rt.handleServeFile)
		mux.HandleFunc("GET /api/v1/files", rt.handleListFiles)
	}

	// Subscriptions and liveness.
	mux.HandleFunc("GET /ws", rt.hub.HandleWebSocket)
	mux.HandleFunc("GET /healthz", rt.handleHealthz)
}

// Handler returns the mux wrapped in the shared middleware.
func (rt *Router) Handler() http.Handler {
	return withRecovery(withRequestLog(rt.mux))
}

// handleHealthz is the liveness probe; site agents poll it to detect central
// reachability.
func (rt *Router) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"subscribers": rt.hub.ClientCount(),
		"time":        time.Now().UTC().Format(time.RFC3339),
	})
}

func withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

func withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("Handler panicked")
				writeErrorCode(w, http.StatusInternalServerError, "InternalError", "")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

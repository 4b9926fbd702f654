package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pureboot/pureboot/internal/ipxe"
	"github.com/pureboot/pureboot/internal/lifecycle"
	"github.com/pureboot/pureboot/internal/models"
)

// Server is the agent's HTTP surface toward local PXE clients: boot scripts,
// cached artifacts, report ingestion and the status endpoint. When central is
// reachable it proxies; when not it serves from the cache and queues writes.
type Server struct {
	store   *Store
	client  *Client
	conn    *Connectivity
	offline *OfflineDecider
	content *ContentCache

	mux *http.ServeMux
}

// NewServer builds the agent HTTP server.
func NewServer(store *Store, client *Client, conn *Connectivity, offline *OfflineDecider, content *ContentCache) *Server {
	s := &Server{
		store:   store,
		client:  client,
		conn:    conn,
		offline: offline,
		content: content,
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /boot", s.handleBoot)
	s.mux.HandleFunc("GET /boot/{mac}", s.handleBoot)
	s.mux.HandleFunc("POST /api/v1/nodes/report", s.handleReport)
	s.mux.HandleFunc("GET /files/{path...}", s.handleFile)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	return s
}

// Handler returns the agent's HTTP handler.
func (s *Server) Handler() http.Handler { return s.mux }

func writeScript(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}

// handleBoot forwards the boot request to central when online, falling back
// to the cached decision on any forwarding failure.
func (s *Server) handleBoot(w http.ResponseWriter, r *http.Request) {
	mac := r.PathValue("mac")
	if mac == "" {
		mac = r.URL.Query().Get("mac")
	}
	q := r.URL.Query()
	hints := models.HardwareHints{
		Vendor:     q.Get("vendor"),
		Model:      q.Get("model"),
		Serial:     q.Get("serial"),
		SystemUUID: q.Get("uuid"),
	}

	// A node with an undecided state conflict is parked until an operator
	// resolves it; acting on either side's state could be wrong.
	if norm, err := models.NormalizeMAC(mac); err == nil {
		held, herr := s.store.HasUnresolvedConflict(norm)
		if herr != nil {
			log.Error().Err(herr).Str("mac", norm).Msg("Failed to check conflicts for boot decision")
		}
		if held {
			log.Warn().Str("mac", norm).Msg("Boot held, node has an unresolved state conflict")
			writeScript(w, ipxe.ConflictHold(norm, ipxe.DefaultWaitSeconds).Body)
			return
		}
	}

	if s.conn.IsOnline() {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		script, err := s.client.BootScript(ctx, mac, r.RemoteAddr, hints)
		if err == nil {
			writeScript(w, script)
			return
		}
		log.Warn().Err(err).Str("mac", mac).Msg("Boot proxy to central failed, deciding from cache")
	}

	writeScript(w, s.offline.Decide(mac).Body)
}

// handleReport forwards reports to central when online. While offline the
// report is queued and the node gets a queued acknowledgement so installers
// do not treat the site outage as their own failure.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	var report lifecycle.Report
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "ValidationError", "detail": "invalid JSON body"})
		return
	}

	if s.conn.IsOnline() {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		if err := s.client.Report(ctx, report); err == nil {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{"success": true})
			return
		} else {
			log.Warn().Err(err).Str("mac", report.MAC).Msg("Report proxy to central failed, queueing")
		}
	}

	payload, err := json.Marshal(report)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	item, err := s.store.Enqueue(models.QueueEvent, report.MAC, payload)
	if err != nil {
		log.Error().Err(err).Str("mac", report.MAC).Msg("Failed to queue report")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "InternalError"})
		return
	}

	s.applyLocal(report)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"status":  "queued",
		"offline": true,
		"queueId": item.ID,
	})
}

// applyLocal advances the cached node state for events whose meaning is
// unambiguous, so offline boot decisions track install progress.
func (s *Server) applyLocal(report lifecycle.Report) {
	mac, err := models.NormalizeMAC(report.MAC)
	if err != nil {
		return
	}
	node, err := s.store.GetNode(mac)
	if err != nil || node == nil {
		return
	}

	var next models.NodeState
	switch report.Event {
	case models.EventInstallStarted:
		if node.State == models.StatePending {
			next = models.StateInstalling
		}
	case models.EventInstallComplete:
		if node.State == models.StateInstalling {
			next = models.StateInstalled
		}
	case models.EventFirstBoot:
		if node.State == models.StateInstalled {
			next = models.StateActive
		}
	}
	if next == "" {
		return
	}
	node.State = next
	node.StateChangedAt = time.Now().UTC()
	if err := s.store.PutNode(node); err != nil {
		log.Error().Err(err).Str("mac", mac).Msg("Failed to advance cached node state")
		return
	}
	log.Info().Str("mac", mac).Str("state", string(next)).Msg("Cached node state advanced offline")
}

// handleFile serves a cached boot artifact.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	if !s.content.Has(path) {
		http.NotFound(w, r)
		return
	}
	f, err := os.Open(s.content.LocalPath(path))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.ServeContent(w, r, path, stat.ModTime(), f)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := BuildStatus(s.store, s.conn, s.content.dir)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"success": true, "data": status})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"success": true, "data": map[string]any{"status": "ok"}})
}

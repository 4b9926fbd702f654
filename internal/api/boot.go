package api

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pureboot/pureboot/internal/ipxe"
	"github.com/pureboot/pureboot/internal/metrics"
	"github.com/pureboot/pureboot/internal/models"
)

// bootDecisionDeadline caps how long the firmware waits for a decision. iPXE
// clients give up and fall through to the next boot device, so a slow
// decision is served as an explicit local boot instead.
const bootDecisionDeadline = 30 * time.Second

// handleBoot serves the iPXE script for a PXE client. The MAC arrives either
// as a path segment or the ?mac= query parameter; optional hardware hints
// ride along as query parameters.
func (rt *Router) handleBoot(w http.ResponseWriter, r *http.Request) {
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
	ip := clientIP(r)

	done := make(chan ipxe.Script, 1)
	go func() {
		done <- rt.engine.Decide(mac, ip, hints)
	}()

	var script ipxe.Script
	select {
	case script = <-done:
	case <-time.After(bootDecisionDeadline):
		log.Warn().Str("mac", mac).Str("ip", ip).Msg("Boot decision timed out, serving local boot")
		script = ipxe.LocalBoot()
	}

	metrics.BootRequests.WithLabelValues(script.Kind).Inc()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(script.Body))
}

// Package metrics exposes Prometheus instrumentation for the controller and
// the site agent.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	// BootRequests counts boot decisions by the script kind served.
	BootRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pureboot",
		Name:      "boot_requests_total",
		Help:      "Boot requests handled, labelled by served script kind.",
	}, []string{"script"})

	// EventsIngested counts node reports by event type.
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pureboot",
		Name:      "events_ingested_total",
		Help:      "Node status events ingested, labelled by event type.",
	}, []string{"event"})

	// StateTransitions counts committed transitions by target state.
	StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pureboot",
		Name:      "state_transitions_total",
		Help:      "Committed node state transitions, labelled by target state.",
	}, []string{"to_state"})

	// ActiveAlerts tracks currently active health alerts.
	ActiveAlerts = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pureboot",
		Name:      "active_alerts",
		Help:      "Currently active health alerts.",
	})

	// QueueDepth tracks pending items in the site agent's sync queue.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pureboot",
		Subsystem: "agent",
		Name:      "queue_depth",
		Help:      "Pending mutations in the site agent sync queue.",
	})

	// QueueDrains counts drain outcomes.
	QueueDrains = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pureboot",
		Subsystem: "agent",
		Name:      "queue_drain_total",
		Help:      "Queue drain item outcomes.",
	}, []string{"result"})
)

// StartServer serves /metrics on addr until ctx is cancelled.
func StartServer(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Str("addr", addr).Msg("Metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
}

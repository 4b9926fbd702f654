package health

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/pureboot/pureboot/internal/config"
	"github.com/pureboot/pureboot/internal/lifecycle"
	"github.com/pureboot/pureboot/internal/metrics"
	"github.com/pureboot/pureboot/internal/models"
	"github.com/pureboot/pureboot/internal/store"
	"github.com/pureboot/pureboot/internal/websocket"
)

// Monitor owns health recomputation, alert lifecycle and snapshots.
type Monitor struct {
	store     *store.Store
	cfg       *config.Config
	lifecycle *lifecycle.Manager
	hub       lifecycle.Broadcaster

	now func() time.Time
}

// NewMonitor wires the health monitor. hub may be nil in tests.
func NewMonitor(st *store.Store, cfg *config.Config, lm *lifecycle.Manager, hub lifecycle.Broadcaster) *Monitor {
	return &Monitor{store: st, cfg: cfg, lifecycle: lm, hub: hub, now: time.Now}
}

// SetClock overrides the time source. Test use only.
func (m *Monitor) SetClock(now func() time.Time) { m.now = now }

func (m *Monitor) broadcast(eventType string, data any) {
	if m.hub != nil {
		m.hub.Broadcast(eventType, data)
	}
}

// RecomputeAfterReport refreshes one node's health right after a report was
// ingested. A node that came back healthy gets its staleness alerts
// auto-resolved.
func (m *Monitor) RecomputeAfterReport(nodeID string) error {
	return m.lifecycle.WithNodeLock(nodeID, func() error {
		node, err := m.store.GetNode(nodeID)
		if err != nil {
			return err
		}
		previous := node.HealthStatus
		m.applyHealth(node)
		if err := m.store.UpdateNode(node); err != nil {
			return err
		}
		if node.HealthStatus == models.HealthHealthy {
			m.resolveAlert(node.ID, models.AlertNodeStale)
			m.resolveAlert(node.ID, models.AlertNodeOffline)
		}
		if previous != node.HealthStatus {
			m.broadcast(websocket.EventStatusChanged, map[string]any{
				"nodeId": node.ID,
				"from":   previous,
				"to":     node.HealthStatus,
			})
		}
		return nil
	})
}

// CheckPass is the scheduled health evaluation over the whole fleet.
func (m *Monitor) CheckPass() error {
	nodes, err := m.store.ListNodesNotRetired()
	if err != nil {
		return fmt.Errorf("health check failed to list nodes: %w", err)
	}

	created := 0
	for _, node := range nodes {
		if err := m.checkNode(node.ID, &created); err != nil {
			log.Error().Err(err).Str("node", node.ID).Msg("Health check failed for node")
		}
	}

	if total, _, err := m.store.CountActiveAlerts(); err == nil {
		metrics.ActiveAlerts.Set(float64(total))
	}

	if created > 0 {
		summary, err := m.Summary()
		if err == nil {
			m.broadcast(websocket.EventSummaryUpdated, summary)
		}
	}
	return nil
}

func (m *Monitor) checkNode(nodeID string, created *int) error {
	return m.lifecycle.WithNodeLock(nodeID, func() error {
		node, err := m.store.GetNode(nodeID)
		if err != nil {
			return err
		}
		previous := node.HealthStatus
		m.applyHealth(node)
		if err := m.store.UpdateNode(node); err != nil {
			return err
		}

		switch node.HealthStatus {
		case models.HealthStale:
			if m.cfg.AlertOnStale {
				if m.createAlert(node, models.AlertNodeStale, models.SeverityWarning,
					fmt.Sprintf("Node %s has not been seen for over %d minutes", node.MACAddress, m.cfg.StaleThresholdMinutes)) {
					*created++
				}
			}
		case models.HealthOffline:
			m.resolveAlert(node.ID, models.AlertNodeStale)
			if m.cfg.AlertOnOffline {
				if m.createAlert(node, models.AlertNodeOffline, models.SeverityCritical,
					fmt.Sprintf("Node %s appears offline (last seen over %d minutes ago)", node.MACAddress, m.cfg.OfflineThresholdMinutes)) {
					*created++
				}
			}
		case models.HealthHealthy:
			m.resolveAlert(node.ID, models.AlertNodeStale)
			m.resolveAlert(node.ID, models.AlertNodeOffline)
		}

		if m.cfg.AlertOnScoreBelow > 0 {
			if node.HealthScore < m.cfg.AlertOnScoreBelow {
				if m.createAlert(node, models.AlertLowHealthScore, models.SeverityWarning,
					fmt.Sprintf("Node %s health score %.0f is below threshold %.0f", node.MACAddress, node.HealthScore, m.cfg.AlertOnScoreBelow)) {
					*created++
				}
			} else {
				m.resolveAlert(node.ID, models.AlertLowHealthScore)
			}
		}

		// Stuck installs get their own alert; it clears once the node leaves
		// installing.
		if timeout := m.cfg.InstallTimeout(); timeout > 0 {
			if node.State == models.StateInstalling && m.now().Sub(node.StateChangedAt) > timeout {
				if m.createAlert(node, models.AlertInstallTimeout, models.SeverityWarning,
					fmt.Sprintf("Node %s has been installing for over %d minutes", node.MACAddress, m.cfg.InstallTimeoutMinutes)) {
					*created++
				}
			} else if node.State != models.StateInstalling {
				m.resolveAlert(node.ID, models.AlertInstallTimeout)
			}
		}

		if previous != node.HealthStatus {
			m.broadcast(websocket.EventStatusChanged, map[string]any{
				"nodeId": node.ID,
				"from":   previous,
				"to":     node.HealthStatus,
			})
		}
		return nil
	})
}

func (m *Monitor) applyHealth(node *models.Node) {
	now := m.now().UTC()
	node.HealthStatus = Classify(node.LastSeenAt, now, m.cfg.StaleThreshold(), m.cfg.OfflineThreshold())
	node.HealthScore = Score(node, now, m.cfg)
}

// createAlert inserts an active alert unless one of the same (node, type) is
// already active. Returns whether a new alert was created.
func (m *Monitor) createAlert(node *models.Node, alertType models.AlertType, severity models.AlertSeverity, message string) bool {
	details, _ := json.Marshal(map[string]any{
		"mac":         node.MACAddress,
		"state":       node.State,
		"healthScore": node.HealthScore,
	})
	alert := &models.HealthAlert{
		ID:        ulid.Make().String(),
		NodeID:    node.ID,
		Type:      alertType,
		Severity:  severity,
		Status:    models.AlertActive,
		Message:   message,
		Details:   details,
		CreatedAt: m.now().UTC(),
	}
	if err := m.store.CreateAlert(alert); err != nil {
		if !errors.Is(err, store.ErrAlertExists) {
			log.Error().Err(err).Str("node", node.ID).Str("type", string(alertType)).Msg("Failed to create alert")
		}
		return false
	}
	log.Warn().
		Str("node", node.ID).
		Str("type", string(alertType)).
		Str("severity", string(severity)).
		Msg("Health alert created")
	m.broadcast(websocket.EventAlertCreated, alert)
	return true
}

func (m *Monitor) resolveAlert(nodeID string, alertType models.AlertType) {
	alert, err := m.store.ResolveActiveAlert(nodeID, alertType)
	if err != nil {
		log.Error().Err(err).Str("node", nodeID).Str("type", string(alertType)).Msg("Failed to resolve alert")
		return
	}
	if alert == nil {
		return
	}
	log.Info().Str("node", nodeID).Str("type", string(alertType)).Msg("Health alert resolved")
	m.broadcast(websocket.EventAlertResolved, map[string]any{
		"alertId":   alert.ID,
		"nodeId":    nodeID,
		"alertType": alertType,
	})
}

// SnapshotPass writes one health snapshot per non-retired node.
func (m *Monitor) SnapshotPass() error {
	nodes, err := m.store.ListNodesNotRetired()
	if err != nil {
		return fmt.Errorf("snapshot pass failed to list nodes: %w", err)
	}
	now := m.now().UTC()
	for _, node := range nodes {
		snap := &models.NodeHealthSnapshot{
			ID:              ulid.Make().String(),
			NodeID:          node.ID,
			Timestamp:       now,
			Status:          node.HealthStatus,
			Score:           node.HealthScore,
			BootCount:       node.BootCount,
			InstallAttempts: node.InstallAttempts,
			IPAddress:       node.IPAddress,
		}
		if node.LastSeenAt != nil {
			seconds := int64(now.Sub(*node.LastSeenAt).Seconds())
			snap.SecondsSinceSeen = &seconds
		}
		if err := m.store.AddSnapshot(snap); err != nil {
			log.Error().Err(err).Str("node", node.ID).Msg("Failed to write health snapshot")
		}
	}
	log.Debug().Int("nodes", len(nodes)).Msg("Health snapshots written")
	return nil
}

// CleanupPass prunes snapshots older than the retention window.
func (m *Monitor) CleanupPass() error {
	cutoff := m.now().AddDate(0, 0, -m.cfg.SnapshotRetentionDays)
	deleted, err := m.store.PruneSnapshots(cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("Pruned expired health snapshots")
	}
	return nil
}

// Summary builds the fleet-wide health roll-up.
func (m *Monitor) Summary() (*models.HealthSummary, error) {
	nodes, err := m.store.ListNodesNotRetired()
	if err != nil {
		return nil, err
	}
	summary := &models.HealthSummary{
		Total:    len(nodes),
		ByStatus: make(map[models.HealthStatus]int),
	}
	var scoreSum float64
	for _, node := range nodes {
		summary.ByStatus[node.HealthStatus]++
		scoreSum += node.HealthScore
	}
	if len(nodes) > 0 {
		summary.AverageScore = math.Round(scoreSum/float64(len(nodes))*10) / 10
	}
	total, critical, err := m.store.CountActiveAlerts()
	if err != nil {
		return nil, err
	}
	summary.ActiveAlerts = total
	summary.CriticalAlerts = critical
	return summary, nil
}

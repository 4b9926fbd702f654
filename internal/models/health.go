package models

import (
	"encoding/json"
	"time"
)

// AlertType names a monitoring condition.
type AlertType string

const (
	AlertNodeStale      AlertType = "node_stale"
	AlertNodeOffline    AlertType = "node_offline"
	AlertLowHealthScore AlertType = "low_health_score"
	AlertInstallTimeout AlertType = "install_timeout"
)

// AlertSeverity ranks an alert.
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// AlertStatus is an alert's lifecycle position.
type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// HealthAlert is an operator-visible monitoring condition on a node.
// At most one active alert exists per (node, type) pair.
type HealthAlert struct {
	ID             string          `json:"id"`
	NodeID         string          `json:"nodeId"`
	Type           AlertType       `json:"alertType"`
	Severity       AlertSeverity   `json:"severity"`
	Status         AlertStatus     `json:"status"`
	Message        string          `json:"message"`
	Details        json.RawMessage `json:"details,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	AcknowledgedAt *time.Time      `json:"acknowledgedAt,omitempty"`
	AcknowledgedBy string          `json:"acknowledgedBy,omitempty"`
	ResolvedAt     *time.Time      `json:"resolvedAt,omitempty"`
}

// NodeHealthSnapshot is a periodic point-in-time capture of a node's health.
type NodeHealthSnapshot struct {
	ID               string       `json:"id"`
	NodeID           string       `json:"nodeId"`
	Timestamp        time.Time    `json:"timestamp"`
	Status           HealthStatus `json:"status"`
	Score            float64      `json:"score"`
	SecondsSinceSeen *int64       `json:"secondsSinceSeen,omitempty"`
	BootCount        int          `json:"bootCount"`
	InstallAttempts  int          `json:"installAttempts"`
	IPAddress        string       `json:"ipAddress,omitempty"`
}

// HealthSummary is the fleet-wide roll-up exposed to callers.
type HealthSummary struct {
	Total          int                  `json:"total"`
	ByStatus       map[HealthStatus]int `json:"byStatus"`
	AverageScore   float64              `json:"averageScore"`
	ActiveAlerts   int                  `json:"activeAlerts"`
	CriticalAlerts int                  `json:"criticalAlerts"`
}

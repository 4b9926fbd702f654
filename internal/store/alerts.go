package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pureboot/pureboot/internal/models"
)

// ErrAlertNotFound is returned when an alert lookup matches nothing.
var ErrAlertNotFound = errors.New("alert not found")

// ErrAlertExists is returned when an active alert of the same (node, type)
// pair already exists.
var ErrAlertExists = errors.New("active alert already exists")

// CreateAlert inserts an alert. The partial unique index on active alerts
// enforces at most one active alert per (node, type).
func (s *Store) CreateAlert(a *models.HealthAlert) error {
	_, err := s.db.Exec(`INSERT INTO health_alerts
		(id, node_id, alert_type, severity, status, message, details, created_at, acknowledged_at, acknowledged_by, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.NodeID, string(a.Type), string(a.Severity), string(a.Status), a.Message,
		nullableString(a.Details), toMillis(a.CreatedAt),
		toMillisPtr(a.AcknowledgedAt), a.AcknowledgedBy, toMillisPtr(a.ResolvedAt))
	if err != nil {
		// modernc.org/sqlite reports unique violations by column list, not
		// index name, so match both forms.
		if strings.Contains(err.Error(), "idx_alerts_active") ||
			strings.Contains(err.Error(), "health_alerts.node_id, health_alerts.alert_type") {
			return ErrAlertExists
		}
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// GetActiveAlert returns the active alert for (node, type), or ErrAlertNotFound.
func (s *Store) GetActiveAlert(nodeID string, alertType models.AlertType) (*models.HealthAlert, error) {
	rows, err := s.db.Query(alertSelect+` WHERE node_id = ? AND alert_type = ? AND status = 'active'`,
		nodeID, string(alertType))
	if err != nil {
		return nil, fmt.Errorf("failed to query active alert: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, ErrAlertNotFound
	}
	return scanAlert(rows)
}

// AlertFilter narrows ListAlerts results.
type AlertFilter struct {
	Status   models.AlertStatus
	Severity models.AlertSeverity
	NodeID   string
	Limit    int
}

const alertSelect = `SELECT id, node_id, alert_type, severity, status, message, details,
	created_at, acknowledged_at, acknowledged_by, resolved_at FROM health_alerts`

// ListAlerts returns alerts newest first.
func (s *Store) ListAlerts(filter AlertFilter) ([]*models.HealthAlert, error) {
	where := []string{"1=1"}
	args := []any{}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if filter.NodeID != "" {
		where = append(where, "node_id = ?")
		args = append(args, filter.NodeID)
	}
	query := alertSelect + ` WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.HealthAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// AcknowledgeAlert marks an active alert acknowledged.
func (s *Store) AcknowledgeAlert(id, user string) error {
	res, err := s.db.Exec(`UPDATE health_alerts
		SET status = 'acknowledged', acknowledged_at = ?, acknowledged_by = ?
		WHERE id = ? AND status = 'active'`,
		toMillis(time.Now()), user, id)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// ResolveActiveAlert resolves the active alert for (node, type) if one
// exists, returning whether a row was resolved.
func (s *Store) ResolveActiveAlert(nodeID string, alertType models.AlertType) (*models.HealthAlert, error) {
	alert, err := s.GetActiveAlert(nodeID, alertType)
	if err != nil {
		if errors.Is(err, ErrAlertNotFound) {
			return nil, nil
		}
		return nil, err
	}
	now := time.Now().UTC()
	if _, err := s.db.Exec(`UPDATE health_alerts SET status = 'resolved', resolved_at = ?
		WHERE id = ?`, toMillis(now), alert.ID); err != nil {
		return nil, fmt.Errorf("failed to resolve alert: %w", err)
	}
	alert.Status = models.AlertResolved
	alert.ResolvedAt = &now
	return alert, nil
}

// CountActiveAlerts returns total active alerts and how many are critical.
func (s *Store) CountActiveAlerts() (total int, critical int, err error) {
	err = s.db.QueryRow(`SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN severity = 'critical' THEN 1 ELSE 0 END), 0)
		FROM health_alerts WHERE status = 'active'`).Scan(&total, &critical)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return total, critical, nil
}

func scanAlert(rows *sql.Rows) (*models.HealthAlert, error) {
	var a models.HealthAlert
	var alertType, severity, status string
	var details sql.NullString
	var created int64
	var acked, resolved sql.NullInt64

	if err := rows.Scan(&a.ID, &a.NodeID, &alertType, &severity, &status, &a.Message,
		&details, &created, &acked, &a.AcknowledgedBy, &resolved); err != nil {
		return nil, fmt.Errorf("failed to scan alert: %w", err)
	}
	a.Type = models.AlertType(alertType)
	a.Severity = models.AlertSeverity(severity)
	a.Status = models.AlertStatus(status)
	if details.Valid {
		a.Details = []byte(details.String)
	}
	a.CreatedAt = fromMillis(created)
	a.AcknowledgedAt = fromMillisPtr(acked)
	a.ResolvedAt = fromMillisPtr(resolved)
	return &a, nil
}

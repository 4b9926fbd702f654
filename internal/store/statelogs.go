package store

import (
	"database/sql"
	"fmt"

	"github.com/pureboot/pureboot/internal/models"
)

// AppendStateLog persists one committed state transition record.
func (s *Store) AppendStateLog(l *models.NodeStateLog) error {
	_, err := s.db.Exec(`INSERT INTO node_state_logs
		(id, node_id, from_state, to_state, triggered_by, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.NodeID, string(l.FromState), string(l.ToState), string(l.TriggeredBy),
		nullableString(l.Metadata), toMillis(l.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to append state log: %w", err)
	}
	return nil
}

// ListStateLogs returns a node's transition history, newest first. A zero
// limit returns everything.
func (s *Store) ListStateLogs(nodeID string, limit int) ([]*models.NodeStateLog, error) {
	query := `SELECT id, node_id, from_state, to_state, triggered_by, metadata, timestamp
		FROM node_state_logs WHERE node_id = ? ORDER BY timestamp DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.Query(query, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list state logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.NodeStateLog
	for rows.Next() {
		l, err := scanStateLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// ListRecentStateLogs returns the newest transition records across all nodes.
func (s *Store) ListRecentStateLogs(limit int) ([]*models.NodeStateLog, error) {
	rows, err := s.db.Query(`SELECT id, node_id, from_state, to_state, triggered_by, metadata, timestamp
		FROM node_state_logs ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list state logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.NodeStateLog
	for rows.Next() {
		l, err := scanStateLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func scanStateLog(rows *sql.Rows) (*models.NodeStateLog, error) {
	var l models.NodeStateLog
	var from, to, trigger string
	var metadata sql.NullString
	var ts int64
	if err := rows.Scan(&l.ID, &l.NodeID, &from, &to, &trigger, &metadata, &ts); err != nil {
		return nil, fmt.Errorf("failed to scan state log: %w", err)
	}
	l.FromState = models.NodeState(from)
	l.ToState = models.NodeState(to)
	l.TriggeredBy = models.TriggeredBy(trigger)
	if metadata.Valid {
		l.Metadata = []byte(metadata.String)
	}
	l.Timestamp = fromMillis(ts)
	return &l, nil
}

package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/pureboot/pureboot/internal/models"
)

// AddSnapshot persists one health snapshot row.
func (s *Store) AddSnapshot(snap *models.NodeHealthSnapshot) error {
	var since any
	if snap.SecondsSinceSeen != nil {
		since = *snap.SecondsSinceSeen
	}
	_, err := s.db.Exec(`INSERT INTO node_health_snapshots
		(id, node_id, timestamp, status, score, seconds_since_seen, boot_count, install_attempts, ip_address)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.NodeID, toMillis(snap.Timestamp), string(snap.Status), snap.Score,
		since, snap.BootCount, snap.InstallAttempts, snap.IPAddress)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns a node's snapshots inside the window, oldest first.
func (s *Store) ListSnapshots(nodeID string, since time.Time) ([]*models.NodeHealthSnapshot, error) {
	rows, err := s.db.Query(`SELECT id, node_id, timestamp, status, score,
		seconds_since_seen, boot_count, install_attempts, ip_address
		FROM node_health_snapshots WHERE node_id = ? AND timestamp >= ?
		ORDER BY timestamp`, nodeID, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*models.NodeHealthSnapshot
	for rows.Next() {
		var snap models.NodeHealthSnapshot
		var status string
		var ts int64
		var since sql.NullInt64
		if err := rows.Scan(&snap.ID, &snap.NodeID, &ts, &status, &snap.Score,
			&since, &snap.BootCount, &snap.InstallAttempts, &snap.IPAddress); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snap.Status = models.HealthStatus(status)
		snap.Timestamp = fromMillis(ts)
		if since.Valid {
			v := since.Int64
			snap.SecondsSinceSeen = &v
		}
		snaps = append(snaps, &snap)
	}
	return snaps, rows.Err()
}

// PruneSnapshots deletes snapshots older than the cutoff and returns how many
// rows were removed.
func (s *Store) PruneSnapshots(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM node_health_snapshots WHERE timestamp < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	deleted, _ := res.RowsAffected()
	return deleted, nil
}

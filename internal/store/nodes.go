package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pureboot/pureboot/internal/models"
)

// ErrNodeNotFound is returned when a node lookup matches nothing.
var ErrNodeNotFound = errors.New("node not found")

// ErrDuplicateMAC is returned when a create collides on the MAC address.
var ErrDuplicateMAC = errors.New("mac address already registered")

const nodeColumns = `id, mac_address, hostname, ip_address, architecture, boot_mode,
	vendor, model, serial, system_uuid, state, workflow_id, group_id,
	install_attempts, last_install_error, boot_count, last_boot_at,
	previous_ip_address, last_ip_change_at, health_status, health_score,
	created_at, updated_at, last_seen_at, state_changed_at`

// NodeFilter narrows ListNodes results.
type NodeFilter struct {
	State   models.NodeState
	GroupID string
	Tag     string
	Limit   int
	Offset  int
}

// CreateNode inserts a new node row.
func (s *Store) CreateNode(n *models.Node) error {
	_, err := s.db.Exec(`INSERT INTO nodes (`+nodeColumns+`) VALUES
		(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.MACAddress, n.Hostname, n.IPAddress, n.Architecture, n.BootMode,
		n.Vendor, n.Model, n.Serial, n.SystemUUID, string(n.State), n.WorkflowID, n.GroupID,
		n.InstallAttempts, n.LastInstallError, n.BootCount, toMillisPtr(n.LastBootAt),
		n.PreviousIPAddress, toMillisPtr(n.LastIPChangeAt), string(n.HealthStatus), n.HealthScore,
		toMillis(n.CreatedAt), toMillis(n.UpdatedAt), toMillisPtr(n.LastSeenAt), toMillis(n.StateChangedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: nodes.mac_address") {
			return ErrDuplicateMAC
		}
		return fmt.Errorf("failed to insert node: %w", err)
	}
	return nil
}

// UpdateNode rewrites every mutable column of an existing node row and bumps
// updated_at. Callers are expected to hold the per-node write lock.
func (s *Store) UpdateNode(n *models.Node) error {
	n.UpdatedAt = time.Now().UTC()
	res, err := s.db.Exec(`UPDATE nodes SET
		hostname = ?, ip_address = ?, architecture = ?, boot_mode = ?,
		vendor = ?, model = ?, serial = ?, system_uuid = ?,
		state = ?, workflow_id = ?, group_id = ?,
		install_attempts = ?, last_install_error = ?, boot_count = ?, last_boot_at = ?,
		previous_ip_address = ?, last_ip_change_at = ?, health_status = ?, health_score = ?,
		updated_at = ?, last_seen_at = ?, state_changed_at = ?
		WHERE id = ?`,
		n.Hostname, n.IPAddress, n.Architecture, n.BootMode,
		n.Vendor, n.Model, n.Serial, n.SystemUUID,
		string(n.State), n.WorkflowID, n.GroupID,
		n.InstallAttempts, n.LastInstallError, n.BootCount, toMillisPtr(n.LastBootAt),
		n.PreviousIPAddress, toMillisPtr(n.LastIPChangeAt), string(n.HealthStatus), n.HealthScore,
		toMillis(n.UpdatedAt), toMillisPtr(n.LastSeenAt), toMillis(n.StateChangedAt),
		n.ID)
	if err != nil {
		return fmt.Errorf("failed to update node: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNodeNotFound
	}
	return nil
}

// GetNode loads a node by surrogate id.
func (s *Store) GetNode(id string) (*models.Node, error) {
	row := s.db.QueryRow(`SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id)
	return s.scanNode(row)
}

// GetNodeByMAC loads a node by normalized MAC address.
func (s *Store) GetNodeByMAC(mac string) (*models.Node, error) {
	row := s.db.QueryRow(`SELECT `+nodeColumns+` FROM nodes WHERE mac_address = ?`, mac)
	return s.scanNode(row)
}

// ListNodes returns nodes matching the filter, newest first.
func (s *Store) ListNodes(filter NodeFilter) ([]*models.Node, int, error) {
	where := []string{"1=1"}
	args := []any{}
	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(filter.State))
	}
	if filter.GroupID != "" {
		where = append(where, "group_id = ?")
		args = append(args, filter.GroupID)
	}
	if filter.Tag != "" {
		where = append(where, "id IN (SELECT node_id FROM node_tags WHERE tag = ?)")
		args = append(args, filter.Tag)
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM nodes WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count nodes: %w", err)
	}

	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE ` + clause + ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, filter.Offset)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*models.Node
	for rows.Next() {
		n, err := s.scanNodeRows(rows)
		if err != nil {
			return nil, 0, err
		}
		nodes = append(nodes, n)
	}
	if err := s.loadTags(nodes); err != nil {
		return nil, 0, err
	}
	return nodes, total, rows.Err()
}

// ListNodesNotRetired returns every node whose state is not retired, for the
// scheduled health passes.
func (s *Store) ListNodesNotRetired() ([]*models.Node, error) {
	nodes, _, err := s.ListNodes(NodeFilter{})
	if err != nil {
		return nil, err
	}
	out := nodes[:0]
	for _, n := range nodes {
		if n.State != models.StateRetired {
			out = append(out, n)
		}
	}
	return out, nil
}

// ListStalledNodes returns nodes stuck in installing longer than timeout.
func (s *Store) ListStalledNodes(timeout time.Duration) ([]*models.Node, error) {
	cutoff := time.Now().Add(-timeout)
	rows, err := s.db.Query(`SELECT `+nodeColumns+` FROM nodes
		WHERE state = ? AND state_changed_at < ? ORDER BY state_changed_at`,
		string(models.StateInstalling), toMillis(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to list stalled nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*models.Node
	for rows.Next() {
		n, err := s.scanNodeRows(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// DeleteNode removes a node row and its tags. Lifecycle data (events, logs,
// snapshots) is removed with it; callers use state transitions for soft
// retirement instead.
func (s *Store) DeleteNode(id string) error {
	res, err := s.db.Exec(`DELETE FROM nodes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNodeNotFound
	}
	s.db.Exec(`DELETE FROM node_tags WHERE node_id = ?`, id)
	s.db.Exec(`DELETE FROM node_events WHERE node_id = ?`, id)
	s.db.Exec(`DELETE FROM node_state_logs WHERE node_id = ?`, id)
	s.db.Exec(`DELETE FROM node_health_snapshots WHERE node_id = ?`, id)
	return nil
}

// AddTag attaches a tag to a node; adding an existing tag is a no-op.
func (s *Store) AddTag(nodeID, tag string) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO node_tags (node_id, tag) VALUES (?, ?)`, nodeID, tag)
	return err
}

// RemoveTag detaches a tag from a node.
func (s *Store) RemoveTag(nodeID, tag string) error {
	_, err := s.db.Exec(`DELETE FROM node_tags WHERE node_id = ? AND tag = ?`, nodeID, tag)
	return err
}

func (s *Store) loadTags(nodes []*models.Node) error {
	for _, n := range nodes {
		tags, err := s.tagsFor(n.ID)
		if err != nil {
			return err
		}
		n.Tags = tags
	}
	return nil
}

func (s *Store) tagsFor(nodeID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT tag FROM node_tags WHERE node_id = ? ORDER BY tag`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tags: %w", err)
	}
	defer rows.Close()
	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanNode(row rowScanner) (*models.Node, error) {
	n, err := scanNodeColumns(row)
	if err != nil {
		return nil, err
	}
	tags, err := s.tagsFor(n.ID)
	if err != nil {
		return nil, err
	}
	n.Tags = tags
	return n, nil
}

func (s *Store) scanNodeRows(rows *sql.Rows) (*models.Node, error) {
	return scanNodeColumns(rows)
}

func scanNodeColumns(row rowScanner) (*models.Node, error) {
	var n models.Node
	var state, health string
	var lastBoot, lastIPChange, lastSeen sql.NullInt64
	var created, updated, stateChanged int64

	err := row.Scan(&n.ID, &n.MACAddress, &n.Hostname, &n.IPAddress, &n.Architecture, &n.BootMode,
		&n.Vendor, &n.Model, &n.Serial, &n.SystemUUID, &state, &n.WorkflowID, &n.GroupID,
		&n.InstallAttempts, &n.LastInstallError, &n.BootCount, &lastBoot,
		&n.PreviousIPAddress, &lastIPChange, &health, &n.HealthScore,
		&created, &updated, &lastSeen, &stateChanged)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNodeNotFound
		}
		return nil, fmt.Errorf("failed to scan node: %w", err)
	}

	n.State = models.NodeState(state)
	n.HealthStatus = models.HealthStatus(health)
	n.LastBootAt = fromMillisPtr(lastBoot)
	n.LastIPChangeAt = fromMillisPtr(lastIPChange)
	n.LastSeenAt = fromMillisPtr(lastSeen)
	n.CreatedAt = fromMillis(created)
	n.UpdatedAt = fromMillis(updated)
	n.StateChangedAt = fromMillis(stateChanged)
	return &n, nil
}

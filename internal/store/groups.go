package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pureboot/pureboot/internal/models"
)

// ErrGroupNotFound is returned when a group lookup matches nothing.
var ErrGroupNotFound = errors.New("group not found")

const groupColumns = `id, name, description, default_workflow_id, auto_provision,
	is_site, autonomy_level, cache_policy, conflict_strategy, created_at, updated_at`

// CreateGroup inserts a device group row.
func (s *Store) CreateGroup(g *models.DeviceGroup) error {
	_, err := s.db.Exec(`INSERT INTO device_groups (`+groupColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Name, g.Description, g.DefaultWorkflowID, g.AutoProvision,
		g.IsSite, g.AutonomyLevel, g.CachePolicy, g.ConflictStrategy,
		toMillis(g.CreatedAt), toMillis(g.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert group: %w", err)
	}
	return nil
}

// UpdateGroup rewrites a group row.
func (s *Store) UpdateGroup(g *models.DeviceGroup) error {
	g.UpdatedAt = time.Now().UTC()
	res, err := s.db.Exec(`UPDATE device_groups SET name = ?, description = ?,
		default_workflow_id = ?, auto_provision = ?, is_site = ?,
		autonomy_level = ?, cache_policy = ?, conflict_strategy = ?, updated_at = ?
		WHERE id = ?`,
		g.Name, g.Description, g.DefaultWorkflowID, g.AutoProvision, g.IsSite,
		g.AutonomyLevel, g.CachePolicy, g.ConflictStrategy, toMillis(g.UpdatedAt), g.ID)
	if err != nil {
		return fmt.Errorf("failed to update group: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrGroupNotFound
	}
	return nil
}

// GetGroup loads a group by id.
func (s *Store) GetGroup(id string) (*models.DeviceGroup, error) {
	row := s.db.QueryRow(`SELECT `+groupColumns+` FROM device_groups WHERE id = ?`, id)
	return scanGroup(row)
}

// ListGroups returns all device groups ordered by name.
func (s *Store) ListGroups() ([]*models.DeviceGroup, error) {
	rows, err := s.db.Query(`SELECT ` + groupColumns + ` FROM device_groups ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []*models.DeviceGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// DeleteGroup removes a group and detaches its nodes.
func (s *Store) DeleteGroup(id string) error {
	res, err := s.db.Exec(`DELETE FROM device_groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrGroupNotFound
	}
	_, err = s.db.Exec(`UPDATE nodes SET group_id = '' WHERE group_id = ?`, id)
	return err
}

func scanGroup(row rowScanner) (*models.DeviceGroup, error) {
	var g models.DeviceGroup
	var created, updated int64
	err := row.Scan(&g.ID, &g.Name, &g.Description, &g.DefaultWorkflowID, &g.AutoProvision,
		&g.IsSite, &g.AutonomyLevel, &g.CachePolicy, &g.ConflictStrategy, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("failed to scan group: %w", err)
	}
	g.CreatedAt = fromMillis(created)
	g.UpdatedAt = fromMillis(updated)
	return &g, nil
}

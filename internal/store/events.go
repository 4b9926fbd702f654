package store

import (
	"database/sql"
	"fmt"

	"github.com/pureboot/pureboot/internal/models"
)

// AppendEvent persists a node event. Events are never edited or deleted by
// the ingest path.
func (s *Store) AppendEvent(e *models.NodeEvent) error {
	var progress any
	if e.Progress != nil {
		progress = *e.Progress
	}
	_, err := s.db.Exec(`INSERT INTO node_events
		(id, node_id, event_type, status, message, progress, metadata, client_ip, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.NodeID, string(e.Type), string(e.Status), e.Message, progress,
		nullableString(e.Metadata), e.ClientIP, toMillis(e.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// EventExists reports whether an event id was already persisted. Queue
// drains may deliver the same mutation twice; the ingest path uses this to
// stay idempotent per (node, event id).
func (s *Store) EventExists(id string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM node_events WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check event: %w", err)
	}
	return true, nil
}

// EventFilter narrows ListEvents results.
type EventFilter struct {
	NodeID string
	Type   models.EventType
	Limit  int
	Offset int
}

// ListEvents returns events newest first.
func (s *Store) ListEvents(filter EventFilter) ([]*models.NodeEvent, int, error) {
	where := "1=1"
	args := []any{}
	if filter.NodeID != "" {
		where += " AND node_id = ?"
		args = append(args, filter.NodeID)
	}
	if filter.Type != "" {
		where += " AND event_type = ?"
		args = append(args, string(filter.Type))
	}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM node_events WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}

	query := `SELECT id, node_id, event_type, status, message, progress, metadata, client_ip, timestamp
		FROM node_events WHERE ` + where + ` ORDER BY timestamp DESC, id DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, filter.Offset)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*models.NodeEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, e)
	}
	return events, total, rows.Err()
}

func scanEvent(rows *sql.Rows) (*models.NodeEvent, error) {
	var e models.NodeEvent
	var eventType, status string
	var progress sql.NullInt64
	var metadata sql.NullString
	var ts int64

	if err := rows.Scan(&e.ID, &e.NodeID, &eventType, &status, &e.Message,
		&progress, &metadata, &e.ClientIP, &ts); err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}
	e.Type = models.EventType(eventType)
	e.Status = models.EventStatus(status)
	if progress.Valid {
		p := int(progress.Int64)
		e.Progress = &p
	}
	if metadata.Valid {
		e.Metadata = []byte(metadata.String)
	}
	e.Timestamp = fromMillis(ts)
	return &e, nil
}

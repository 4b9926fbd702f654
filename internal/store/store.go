// Package store provides the controller's relational persistence on SQLite.
// The nodes table is authoritative; state logs, events, health snapshots and
// alert rows are append-only (alerts additionally move through their status
// lifecycle).
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Store wraps the controller database.
type Store struct {
	db *sql.DB
}

// New opens (creating if necessary) the controller database at dbPath and
// initializes the schema. SQLite runs in WAL mode with a single writer
// connection, which serializes all writes at the database level.
func New(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("Controller database ready")
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		mac_address TEXT NOT NULL UNIQUE,
		hostname TEXT NOT NULL DEFAULT '',
		ip_address TEXT NOT NULL DEFAULT '',
		architecture TEXT NOT NULL DEFAULT 'x86_64',
		boot_mode TEXT NOT NULL DEFAULT 'bios',
		vendor TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		serial TEXT NOT NULL DEFAULT '',
		system_uuid TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		workflow_id TEXT NOT NULL DEFAULT '',
		group_id TEXT NOT NULL DEFAULT '',
		install_attempts INTEGER NOT NULL DEFAULT 0,
		last_install_error TEXT NOT NULL DEFAULT '',
		boot_count INTEGER NOT NULL DEFAULT 0,
		last_boot_at INTEGER,
		previous_ip_address TEXT NOT NULL DEFAULT '',
		last_ip_change_at INTEGER,
		health_status TEXT NOT NULL DEFAULT 'unknown',
		health_score REAL NOT NULL DEFAULT 100,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		last_seen_at INTEGER,
		state_changed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_nodes_state ON nodes(state);
	CREATE INDEX IF NOT EXISTS idx_nodes_group ON nodes(group_id);

	CREATE TABLE IF NOT EXISTS node_tags (
		node_id TEXT NOT NULL,
		tag TEXT NOT NULL,
		PRIMARY KEY (node_id, tag)
	);

	CREATE TABLE IF NOT EXISTS device_groups (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		default_workflow_id TEXT NOT NULL DEFAULT '',
		auto_provision INTEGER NOT NULL DEFAULT 0,
		is_site INTEGER NOT NULL DEFAULT 0,
		autonomy_level TEXT NOT NULL DEFAULT '',
		cache_policy TEXT NOT NULL DEFAULT '',
		conflict_strategy TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS node_state_logs (
		id TEXT PRIMARY KEY,
		node_id TEXT NOT NULL,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		triggered_by TEXT NOT NULL,
		metadata TEXT,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_state_logs_node ON node_state_logs(node_id, timestamp);

	CREATE TABLE IF NOT EXISTS node_events (
		id TEXT PRIMARY KEY,
		node_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		status TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		progress INTEGER,
		metadata TEXT,
		client_ip TEXT NOT NULL DEFAULT '',
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_node ON node_events(node_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_type ON node_events(event_type);

	CREATE TABLE IF NOT EXISTS node_health_snapshots (
		id TEXT PRIMARY KEY,
		node_id TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		status TEXT NOT NULL,
		score REAL NOT NULL,
		seconds_since_seen INTEGER,
		boot_count INTEGER NOT NULL,
		install_attempts INTEGER NOT NULL,
		ip_address TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_node ON node_health_snapshots(node_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_snapshots_time ON node_health_snapshots(timestamp);

	CREATE TABLE IF NOT EXISTS health_alerts (
		id TEXT PRIMARY KEY,
		node_id TEXT NOT NULL,
		alert_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		status TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		details TEXT,
		created_at INTEGER NOT NULL,
		acknowledged_at INTEGER,
		acknowledged_by TEXT NOT NULL DEFAULT '',
		resolved_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_node ON health_alerts(node_id, alert_type, status);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_active
		ON health_alerts(node_id, alert_type) WHERE status = 'active';
	`
	_, err := s.db.Exec(schema)
	return err
}

// Millisecond-precision storage for timestamps keeps ordering stable across
// rapid successive writes.

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func toMillisPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func fromMillisPtr(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := fromMillis(ms.Int64)
	return &t
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

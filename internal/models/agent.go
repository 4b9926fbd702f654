package models

import (
	"encoding/json"
	"time"
)

// QueueItemType is the kind of mutation held in the site agent's sync queue.
type QueueItemType string

const (
	QueueRegistration QueueItemType = "registration"
	QueueStateUpdate  QueueItemType = "state_update"
	QueueEvent        QueueItemType = "event"
)

// QueueItemStatus is a queue item's processing position.
type QueueItemStatus string

const (
	QueuePending    QueueItemStatus = "pending"
	QueueProcessing QueueItemStatus = "processing"
	QueueFailed     QueueItemStatus = "failed"
)

// QueueItem is one pending outbound mutation waiting for central reachability.
type QueueItem struct {
	ID        string          `json:"id"`
	Type      QueueItemType   `json:"type"`
	MAC       string          `json:"mac"`
	Payload   json.RawMessage `json:"payload"`
	Status    QueueItemStatus `json:"status"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"lastError,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// ConflictType classifies a divergence between cached and central node state.
type ConflictType string

const (
	ConflictStateMismatch  ConflictType = "state_mismatch"
	ConflictMissingLocal   ConflictType = "missing_local"
	ConflictMissingCentral ConflictType = "missing_central"
)

// Conflict resolution strategies configurable per site.
const (
	ResolveCentralWins = "central_wins"
	ResolveLastWrite   = "last_write"
	ResolveSiteWins    = "site_wins"
	ResolveManual      = "manual"
)

// Conflict records a divergence discovered on reconnect.
type Conflict struct {
	ID           string       `json:"id"`
	MAC          string       `json:"mac"`
	Type         ConflictType `json:"type"`
	LocalState   NodeState    `json:"localState,omitempty"`
	CentralState NodeState    `json:"centralState,omitempty"`
	LocalTime    *time.Time   `json:"localTime,omitempty"`
	CentralTime  *time.Time   `json:"centralTime,omitempty"`
	Resolved     bool         `json:"resolved"`
	Strategy     string       `json:"strategy,omitempty"`
	DetectedAt   time.Time    `json:"detectedAt"`
}

// CachedNode is the agent's last-known view of a central node record.
type CachedNode struct {
	MAC            string    `json:"mac"`
	NodeID         string    `json:"nodeId,omitempty"`
	State          NodeState `json:"state"`
	WorkflowID     string    `json:"workflowId,omitempty"`
	StateChangedAt time.Time `json:"stateChangedAt"`
	SyncedAt       time.Time `json:"syncedAt"`
}

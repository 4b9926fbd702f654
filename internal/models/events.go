package models

import (
	"encoding/json"
	"time"
)

// EventType is the discriminator for node lifecycle signals.
type EventType string

const (
	EventBootStarted     EventType = "boot_started"
	EventInstallStarted  EventType = "install_started"
	EventInstallProgress EventType = "install_progress"
	EventInstallComplete EventType = "install_complete"
	EventInstallFailed   EventType = "install_failed"
	EventFirstBoot       EventType = "first_boot"
	EventHeartbeat       EventType = "heartbeat"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventBootStarted, EventInstallStarted, EventInstallProgress,
		EventInstallComplete, EventInstallFailed, EventFirstBoot, EventHeartbeat:
		return true
	}
	return false
}

// EventStatus qualifies a reported event.
type EventStatus string

const (
	EventStatusSuccess    EventStatus = "success"
	EventStatusFailed     EventStatus = "failed"
	EventStatusInProgress EventStatus = "in_progress"
)

// Valid reports whether s is a known event status.
func (s EventStatus) Valid() bool {
	return s == EventStatusSuccess || s == EventStatusFailed || s == EventStatusInProgress
}

// NodeEvent is one append-only lifecycle signal received from a node.
type NodeEvent struct {
	ID        string          `json:"id"`
	NodeID    string          `json:"nodeId"`
	Type      EventType       `json:"eventType"`
	Status    EventStatus     `json:"status"`
	Message   string          `json:"message,omitempty"`
	Progress  *int            `json:"progress,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	ClientIP  string          `json:"clientIp,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// TriggeredBy identifies what caused a state transition.
type TriggeredBy string

const (
	TriggerAdmin      TriggeredBy = "admin"
	TriggerNodeReport TriggeredBy = "node_report"
	TriggerTimeout    TriggeredBy = "timeout"
	TriggerAuto       TriggeredBy = "auto"
)

// NodeStateLog is one append-only record of a committed state transition.
type NodeStateLog struct {
	ID          string          `json:"id"`
	NodeID      string          `json:"nodeId"`
	FromState   NodeState       `json:"fromState"`
	ToState     NodeState       `json:"toState"`
	TriggeredBy TriggeredBy     `json:"triggeredBy"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

package lifecycle

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/pureboot/pureboot/internal/metrics"
	"github.com/pureboot/pureboot/internal/models"
)

// Report is a status report received from a booting, installing or running
// machine. EventID is optional; agents replaying a drained queue supply it so
// duplicate deliveries are detected.
type Report struct {
	MAC      string               `json:"mac"`
	Event    models.EventType     `json:"event"`
	Status   models.EventStatus   `json:"status"`
	Message  string               `json:"message,omitempty"`
	Progress *int                 `json:"progress,omitempty"`
	Metadata json.RawMessage      `json:"event_metadata,omitempty"`
	Hardware models.HardwareHints `json:"hardware,omitempty"`
	Hostname string               `json:"hostname,omitempty"`
	EventID  string               `json:"event_id,omitempty"`

	// InstallationStatus is the legacy reporting field; when set it is
	// normalized onto the corresponding event kind.
	InstallationStatus string `json:"installation_status,omitempty"`
}

// ErrDuplicateEvent marks a replayed report that was already processed.
var ErrDuplicateEvent = errors.New("event already processed")

// ErrBadReport wraps every malformed-report failure so callers can map it to
// a client error.
var ErrBadReport = errors.New("bad report")

// normalize maps the legacy installation_status values onto event kinds so a
// single state machine drives both report formats.
func (r *Report) normalize() error {
	if r.Event == "" && r.InstallationStatus != "" {
		switch r.InstallationStatus {
		case "started":
			r.Event = models.EventInstallStarted
		case "progress":
			r.Event = models.EventInstallProgress
		case "complete":
			r.Event = models.EventInstallComplete
		case "failed":
			r.Event = models.EventInstallFailed
		default:
			return fmt.Errorf("%w: unknown installation_status %q", ErrBadReport, r.InstallationStatus)
		}
	}
	if !r.Event.Valid() {
		return fmt.Errorf("%w: unknown event type %q", ErrBadReport, r.Event)
	}
	if r.Status == "" {
		switch r.Event {
		case models.EventInstallFailed:
			r.Status = models.EventStatusFailed
		case models.EventInstallProgress:
			r.Status = models.EventStatusInProgress
		default:
			r.Status = models.EventStatusSuccess
		}
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: unknown event status %q", ErrBadReport, r.Status)
	}
	if r.Progress != nil && (*r.Progress < 0 || *r.Progress > 100) {
		return fmt.Errorf("%w: progress %d out of range 0-100", ErrBadReport, *r.Progress)
	}
	return nil
}

// ProcessReport ingests a node status report: it appends the event, advances
// the state machine where the event implies a transition, and returns the
// updated node. The event row is persisted before any state log row.
func (m *Manager) ProcessReport(report Report, clientIP string) (*models.Node, *models.NodeEvent, error) {
	if err := report.normalize(); err != nil {
		return nil, nil, err
	}
	mac, err := models.NormalizeMAC(report.MAC)
	if err != nil {
		return nil, nil, err
	}

	node, err := m.store.GetNodeByMAC(mac)
	if err != nil {
		return nil, nil, err
	}

	unlock := m.lockNode(node.ID)
	defer unlock()

	// Reload under the lock; another writer may have advanced the node.
	node, err = m.store.GetNode(node.ID)
	if err != nil {
		return nil, nil, err
	}

	eventID := report.EventID
	if eventID == "" {
		eventID = ulid.Make().String()
	} else if exists, err := m.store.EventExists(eventID); err != nil {
		return nil, nil, err
	} else if exists {
		return node, nil, ErrDuplicateEvent
	}

	now := m.now().UTC()

	// A running node is authoritative about itself: reported hardware
	// overwrites stored values, unlike the boot path.
	if report.Hardware.Vendor != "" {
		node.Vendor = report.Hardware.Vendor
	}
	if report.Hardware.Model != "" {
		node.Model = report.Hardware.Model
	}
	if report.Hardware.Serial != "" {
		node.Serial = report.Hardware.Serial
	}
	if report.Hardware.SystemUUID != "" {
		node.SystemUUID = report.Hardware.SystemUUID
	}
	if report.Hostname != "" {
		node.Hostname = report.Hostname
	}
	m.trackSeen(node, clientIP, now)

	event := &models.NodeEvent{
		ID:        eventID,
		NodeID:    node.ID,
		Type:      report.Event,
		Status:    report.Status,
		Message:   report.Message,
		Progress:  report.Progress,
		Metadata:  report.Metadata,
		ClientIP:  clientIP,
		Timestamp: now,
	}
	if err := m.store.AppendEvent(event); err != nil {
		return nil, nil, err
	}
	metrics.EventsIngested.WithLabelValues(string(report.Event)).Inc()

	if err := m.advance(node, report); err != nil {
		return nil, nil, err
	}

	if err := m.store.UpdateNode(node); err != nil {
		return nil, nil, err
	}

	log.Debug().
		Str("node", node.ID).
		Str("event", string(report.Event)).
		Str("state", string(node.State)).
		Msg("Report processed")
	return node, event, nil
}

// advance applies the event-driven transition rules. Events whose implied
// transition is not permitted by the current state are logged but otherwise
// no-ops, which keeps replays idempotent.
func (m *Manager) advance(node *models.Node, report Report) error {
	switch report.Event {
	case models.EventBootStarted:
		node.BootCount++
		now := m.now().UTC()
		node.LastBootAt = &now

	case models.EventInstallStarted:
		if node.State == models.StatePending {
			return m.transitionLocked(node, models.StateInstalling, models.TriggerNodeReport, nil)
		}

	case models.EventInstallProgress:
		// Event already logged; no transition.

	case models.EventInstallComplete:
		if node.State == models.StateInstalling {
			return m.transitionLocked(node, models.StateInstalled, models.TriggerNodeReport, nil)
		}

	case models.EventInstallFailed:
		if node.State == models.StateInstalling {
			return m.handleInstallFailureLocked(node, report.Message, models.TriggerNodeReport)
		}

	case models.EventFirstBoot:
		if node.State == models.StateInstalled {
			return m.transitionLocked(node, models.StateActive, models.TriggerNodeReport, report.Metadata)
		}

	case models.EventHeartbeat:
		// Liveness only.
	}
	return nil
}

// trackSeen moves last_seen_at forward and records IP changes.
func (m *Manager) trackSeen(node *models.Node, clientIP string, now time.Time) {
	if node.LastSeenAt == nil || now.After(*node.LastSeenAt) {
		seen := now
		node.LastSeenAt = &seen
	}
	if clientIP != "" && node.IPAddress != clientIP {
		if node.IPAddress != "" {
			node.PreviousIPAddress = node.IPAddress
			changed := now
			node.LastIPChangeAt = &changed
		}
		node.IPAddress = clientIP
	}
}

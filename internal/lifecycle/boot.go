package lifecycle

import (
	"encoding/json"

	"github.com/pureboot/pureboot/internal/models"
)

// BootTouch records a PXE sighting: last_seen_at moves forward, IP changes
// are tracked, and empty hardware fields are filled from the firmware hints.
// Existing hardware values are never overwritten on this path; the firmware
// is less authoritative than a running node.
func (m *Manager) BootTouch(nodeID, clientIP string, hints models.HardwareHints) (*models.Node, error) {
	unlock := m.lockNode(nodeID)
	defer unlock()

	node, err := m.store.GetNode(nodeID)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	m.trackSeen(node, clientIP, now)

	if node.Vendor == "" {
		node.Vendor = hints.Vendor
	}
	if node.Model == "" {
		node.Model = hints.Model
	}
	if node.Serial == "" {
		node.Serial = hints.Serial
	}
	if node.SystemUUID == "" {
		node.SystemUUID = hints.SystemUUID
	}

	if err := m.store.UpdateNode(node); err != nil {
		return nil, err
	}
	return node, nil
}

// CheckInstallTimeout applies the install-timeout policy to an installing
// node. When the node has been installing longer than the configured timeout
// the install-failure sub-protocol runs with the timeout trigger. The
// returned node reflects any state change.
func (m *Manager) CheckInstallTimeout(nodeID string) (*models.Node, error) {
	timeout := m.cfg.InstallTimeout()
	if timeout <= 0 {
		return m.store.GetNode(nodeID)
	}

	unlock := m.lockNode(nodeID)
	defer unlock()

	node, err := m.store.GetNode(nodeID)
	if err != nil {
		return nil, err
	}
	if node.State != models.StateInstalling {
		return node, nil
	}
	if m.now().Sub(node.StateChangedAt) <= timeout {
		return node, nil
	}

	msg := "installation timed out"
	if err := m.handleInstallFailureLocked(node, msg, models.TriggerTimeout); err != nil {
		return nil, err
	}
	return node, nil
}

// AdminUpdate applies an admin PATCH to mutable node attributes under the
// node lock and broadcasts the update. State is not touched here; explicit
// transitions go through Transition.
type AdminUpdate struct {
	Hostname   *string  `json:"hostname,omitempty"`
	WorkflowID *string  `json:"workflowId,omitempty"`
	GroupID    *string  `json:"groupId,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// UpdateNode applies an AdminUpdate and returns the fresh node.
func (m *Manager) UpdateNode(nodeID string, update AdminUpdate) (*models.Node, error) {
	unlock := m.lockNode(nodeID)
	defer unlock()

	node, err := m.store.GetNode(nodeID)
	if err != nil {
		return nil, err
	}
	if update.Hostname != nil {
		node.Hostname = *update.Hostname
	}
	if update.WorkflowID != nil {
		node.WorkflowID = *update.WorkflowID
	}
	if update.GroupID != nil {
		node.GroupID = *update.GroupID
	}
	if err := m.store.UpdateNode(node); err != nil {
		return nil, err
	}
	if update.Tags != nil {
		for _, tag := range update.Tags {
			if err := m.store.AddTag(nodeID, tag); err != nil {
				return nil, err
			}
		}
		node, err = m.store.GetNode(nodeID)
		if err != nil {
			return nil, err
		}
	}

	payload, _ := json.Marshal(node)
	m.broadcast("node.updated", json.RawMessage(payload))
	return node, nil
}

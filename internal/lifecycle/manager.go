// Package lifecycle owns every mutation of a node's state. The transition
// executor is the only path that changes a node's lifecycle state; event
// ingest, the boot engine and the scheduled health passes all go through it.
package lifecycle

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/pureboot/pureboot/internal/config"
	"github.com/pureboot/pureboot/internal/metrics"
	"github.com/pureboot/pureboot/internal/models"
	"github.com/pureboot/pureboot/internal/statemachine"
	"github.com/pureboot/pureboot/internal/store"
)

// Broadcaster receives best-effort notifications about committed changes.
type Broadcaster interface {
	Broadcast(eventType string, data any)
}

// Manager serializes writes per node and drives the state machine.
type Manager struct {
	store *store.Store
	cfg   *config.Config
	hub   Broadcaster

	locks sync.Map // node id -> *sync.Mutex

	// now is a test hook.
	now func() time.Time
}

// NewManager wires the lifecycle manager. hub may be nil in tests.
func NewManager(st *store.Store, cfg *config.Config, hub Broadcaster) *Manager {
	return &Manager{
		store: st,
		cfg:   cfg,
		hub:   hub,
		now:   time.Now,
	}
}

// Store exposes the backing store for read paths.
func (m *Manager) Store() *store.Store { return m.store }

// SetClock overrides the time source. Test use only.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

func (m *Manager) lockNode(nodeID string) func() {
	muAny, _ := m.locks.LoadOrStore(nodeID, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// WithNodeLock runs fn while holding the node's write lock. Used by
// collaborators (health passes) that mutate node rows outside a transition.
func (m *Manager) WithNodeLock(nodeID string, fn func() error) error {
	unlock := m.lockNode(nodeID)
	defer unlock()
	return fn()
}

func (m *Manager) broadcast(eventType string, data any) {
	if m.hub != nil {
		m.hub.Broadcast(eventType, data)
	}
}

// CreateNode registers a node explicitly (admin path). The MAC is normalized
// and must be unique.
func (m *Manager) CreateNode(n *models.Node) (*models.Node, error) {
	mac, err := models.NormalizeMAC(n.MACAddress)
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()

	n.ID = uuid.NewString()
	n.MACAddress = mac
	if n.State == "" {
		n.State = models.StateDiscovered
	}
	if !n.State.Valid() {
		return nil, fmt.Errorf("invalid state %q", n.State)
	}
	if n.Architecture == "" {
		n.Architecture = models.ArchX86_64
	}
	if n.BootMode == "" {
		n.BootMode = models.BootModeBIOS
	}
	n.HealthStatus = models.HealthUnknown
	n.HealthScore = 100
	n.CreatedAt = now
	n.UpdatedAt = now
	n.StateChangedAt = now

	if err := m.store.CreateNode(n); err != nil {
		return nil, err
	}
	log.Info().Str("node", n.ID).Str("mac", mac).Str("state", string(n.State)).Msg("Node created")
	m.broadcast("node.created", n)
	return n, nil
}

// AutoRegister creates a node in discovered state on first PXE sighting.
func (m *Manager) AutoRegister(mac, clientIP string, hints models.HardwareHints) (*models.Node, error) {
	now := m.now().UTC()
	n := &models.Node{
		ID:           uuid.NewString(),
		MACAddress:   mac,
		IPAddress:    clientIP,
		Architecture: models.ArchX86_64,
		BootMode:     models.BootModeBIOS,
		Vendor:       hints.Vendor,
		Model:        hints.Model,
		Serial:       hints.Serial,
		SystemUUID:   hints.SystemUUID,
		State:        models.StateDiscovered,
		GroupID:      m.cfg.DefaultGroupID,
		HealthStatus: models.HealthUnknown,
		HealthScore:  100,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastSeenAt:   &now,
		StateChangedAt: now,
	}
	if err := m.store.CreateNode(n); err != nil {
		return nil, err
	}
	log.Info().Str("node", n.ID).Str("mac", mac).Str("ip", clientIP).Msg("Auto-registered new node")
	m.broadcast("node.created", n)
	return n, nil
}

// Transition moves a node to a new state under the node lock, appending
// exactly one state log row and broadcasting the change. Illegal moves fail
// with *statemachine.InvalidTransitionError and leave the node untouched.
func (m *Manager) Transition(nodeID string, to models.NodeState, trigger models.TriggeredBy, metadata json.RawMessage) (*models.Node, error) {
	unlock := m.lockNode(nodeID)
	defer unlock()

	node, err := m.store.GetNode(nodeID)
	if err != nil {
		return nil, err
	}
	if err := m.transitionLocked(node, to, trigger, metadata); err != nil {
		return nil, err
	}
	return node, nil
}

// transitionLocked commits a transition on an already-locked, freshly loaded
// node. The caller must hold the node lock.
func (m *Manager) transitionLocked(node *models.Node, to models.NodeState, trigger models.TriggeredBy, metadata json.RawMessage) error {
	if !to.Valid() {
		return fmt.Errorf("invalid state %q", to)
	}
	if !statemachine.CanTransition(node.State, to) {
		return statemachine.NewInvalidTransition(node.State, to)
	}

	now := m.now().UTC()
	from := node.State

	// install_attempts resets only on pending→installing.
	if from == models.StatePending && to == models.StateInstalling {
		node.InstallAttempts = 0
		node.LastInstallError = ""
	}

	node.State = to
	node.StateChangedAt = now
	if err := m.store.UpdateNode(node); err != nil {
		return err
	}

	logEntry := &models.NodeStateLog{
		ID:          ulid.Make().String(),
		NodeID:      node.ID,
		FromState:   from,
		ToState:     to,
		TriggeredBy: trigger,
		Metadata:    metadata,
		Timestamp:   now,
	}
	if err := m.store.AppendStateLog(logEntry); err != nil {
		return err
	}

	metrics.StateTransitions.WithLabelValues(string(to)).Inc()
	log.Info().
		Str("node", node.ID).
		Str("mac", node.MACAddress).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("trigger", string(trigger)).
		Msg("Node state changed")

	m.broadcast("node.state_changed", map[string]any{
		"nodeId":    node.ID,
		"mac":       node.MACAddress,
		"fromState": from,
		"toState":   to,
		"trigger":   trigger,
	})
	return nil
}

// Retire transitions a node to retired from any non-retired state.
func (m *Manager) Retire(nodeID string, trigger models.TriggeredBy) (*models.Node, error) {
	return m.Transition(nodeID, models.StateRetired, trigger, nil)
}

// handleInstallFailureLocked applies the install-failure sub-protocol on a
// locked node: bump the attempt counter, record the error, and fail the
// install once attempts reach the configured maximum.
func (m *Manager) handleInstallFailureLocked(node *models.Node, errMsg string, trigger models.TriggeredBy) error {
	node.InstallAttempts++
	node.LastInstallError = errMsg

	if node.InstallAttempts >= m.cfg.MaxInstallAttempts {
		meta, _ := json.Marshal(map[string]any{
			"attempts": node.InstallAttempts,
			"error":    errMsg,
		})
		if err := m.transitionLocked(node, models.StateInstallFailed, trigger, meta); err != nil {
			return err
		}
		log.Warn().
			Str("node", node.ID).
			Int("attempts", node.InstallAttempts).
			Str("error", errMsg).
			Msg("Node exceeded install attempts")
		return nil
	}

	// Retries remain: stay in installing, the next boot retries the install.
	if err := m.store.UpdateNode(node); err != nil {
		return err
	}
	log.Warn().
		Str("node", node.ID).
		Int("attempts", node.InstallAttempts).
		Int("max", m.cfg.MaxInstallAttempts).
		Str("error", errMsg).
		Msg("Install attempt failed, node will retry")
	return nil
}

// HandleInstallFailure is the public entry for the install-failure
// sub-protocol.
func (m *Manager) HandleInstallFailure(nodeID, errMsg string, trigger models.TriggeredBy) (*models.Node, error) {
	unlock := m.lockNode(nodeID)
	defer unlock()

	node, err := m.store.GetNode(nodeID)
	if err != nil {
		return nil, err
	}
	if err := m.handleInstallFailureLocked(node, errMsg, trigger); err != nil {
		return nil, err
	}
	return node, nil
}

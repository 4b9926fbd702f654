// Package models defines the entities shared by the boot engine, the
// lifecycle state machine, the health monitor, and the site agent.
package models

import "time"

// NodeState is a node's position in the provisioning lifecycle.
type NodeState string

const (
	StateDiscovered     NodeState = "discovered"
	StateIgnored        NodeState = "ignored"
	StatePending        NodeState = "pending"
	StateInstalling     NodeState = "installing"
	StateInstalled      NodeState = "installed"
	StateActive         NodeState = "active"
	StateReprovision    NodeState = "reprovision"
	StateMigrating      NodeState = "migrating"
	StateRetired        NodeState = "retired"
	StateDecommissioned NodeState = "decommissioned"
	StateWiping         NodeState = "wiping"
	StateInstallFailed  NodeState = "install_failed"
)

// AllNodeStates lists every legal lifecycle state.
var AllNodeStates = []NodeState{
	StateDiscovered, StateIgnored, StatePending, StateInstalling,
	StateInstalled, StateActive, StateReprovision, StateMigrating,
	StateRetired, StateDecommissioned, StateWiping, StateInstallFailed,
}

// Valid reports whether s is one of the enumerated lifecycle states.
func (s NodeState) Valid() bool {
	for _, known := range AllNodeStates {
		if s == known {
			return true
		}
	}
	return false
}

// HealthStatus is the derived liveness classification of a node.
type HealthStatus string

const (
	HealthUnknown HealthStatus = "unknown"
	HealthHealthy HealthStatus = "healthy"
	HealthStale   HealthStatus = "stale"
	HealthOffline HealthStatus = "offline"
)

// Architecture values accepted for nodes and workflows.
const (
	ArchX86_64  = "x86_64"
	ArchARM64   = "arm64"
	ArchAarch64 = "aarch64"
)

// Boot modes accepted for nodes and workflows.
const (
	BootModeBIOS = "bios"
	BootModeUEFI = "uefi"
)

// ValidArchitecture reports whether arch is a supported architecture string.
func ValidArchitecture(arch string) bool {
	return arch == ArchX86_64 || arch == ArchARM64 || arch == ArchAarch64
}

// ValidBootMode reports whether mode is a supported boot mode string.
func ValidBootMode(mode string) bool {
	return mode == BootModeBIOS || mode == BootModeUEFI
}

// Node is one managed physical or virtual machine, identified by MAC.
type Node struct {
	ID         string `json:"id"`
	MACAddress string `json:"macAddress"`
	Hostname   string `json:"hostname,omitempty"`
	IPAddress  string `json:"ipAddress,omitempty"`

	Architecture string `json:"architecture"`
	BootMode     string `json:"bootMode"`

	Vendor     string `json:"vendor,omitempty"`
	Model      string `json:"model,omitempty"`
	Serial     string `json:"serial,omitempty"`
	SystemUUID string `json:"systemUuid,omitempty"`

	State      NodeState `json:"state"`
	WorkflowID string    `json:"workflowId,omitempty"`
	GroupID    string    `json:"groupId,omitempty"`
	Tags       []string  `json:"tags,omitempty"`

	InstallAttempts  int    `json:"installAttempts"`
	LastInstallError string `json:"lastInstallError,omitempty"`

	BootCount         int        `json:"bootCount"`
	LastBootAt        *time.Time `json:"lastBootAt,omitempty"`
	PreviousIPAddress string     `json:"previousIpAddress,omitempty"`
	LastIPChangeAt    *time.Time `json:"lastIpChangeAt,omitempty"`

	HealthStatus HealthStatus `json:"healthStatus"`
	HealthScore  float64      `json:"healthScore"`

	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	LastSeenAt     *time.Time `json:"lastSeenAt,omitempty"`
	StateChangedAt time.Time  `json:"stateChangedAt"`
}

// HardwareHints carries optional hardware descriptors supplied by a booting
// or reporting machine. Empty fields mean "not provided".
type HardwareHints struct {
	Vendor     string `json:"vendor,omitempty"`
	Model      string `json:"model,omitempty"`
	Serial     string `json:"serial,omitempty"`
	SystemUUID string `json:"systemUuid,omitempty"`
}

// Empty reports whether no hint was supplied at all.
func (h HardwareHints) Empty() bool {
	return h.Vendor == "" && h.Model == "" && h.Serial == "" && h.SystemUUID == ""
}

// DeviceGroup is a named collection of nodes with optional shared defaults.
// A group with IsSite set represents a remote site served by an agent.
type DeviceGroup struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Description       string    `json:"description,omitempty"`
	DefaultWorkflowID string    `json:"defaultWorkflowId,omitempty"`
	AutoProvision     bool      `json:"autoProvision"`
	IsSite            bool      `json:"isSite"`
	AutonomyLevel     string    `json:"autonomyLevel,omitempty"`
	CachePolicy       string    `json:"cachePolicy,omitempty"`
	ConflictStrategy  string    `json:"conflictStrategy,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

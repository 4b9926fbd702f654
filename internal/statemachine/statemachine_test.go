package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pureboot/pureboot/internal/models"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from models.NodeState
		to   models.NodeState
		want bool
	}{
		{"discovered to pending", models.StateDiscovered, models.StatePending, true},
		{"discovered to ignored", models.StateDiscovered, models.StateIgnored, true},
		{"discovered to active", models.StateDiscovered, models.StateActive, false},
		{"ignored back to discovered", models.StateIgnored, models.StateDiscovered, true},
		{"pending to installing", models.StatePending, models.StateInstalling, true},
		{"pending to installed", models.StatePending, models.StateInstalled, false},
		{"installing to installed", models.StateInstalling, models.StateInstalled, true},
		{"installing to install_failed", models.StateInstalling, models.StateInstallFailed, true},
		{"install_failed to pending", models.StateInstallFailed, models.StatePending, true},
		{"installed to active", models.StateInstalled, models.StateActive, true},
		{"active to reprovision", models.StateActive, models.StateReprovision, true},
		{"active to migrating", models.StateActive, models.StateMigrating, true},
		{"active to decommissioned", models.StateActive, models.StateDecommissioned, true},
		{"reprovision to pending", models.StateReprovision, models.StatePending, true},
		{"migrating to active", models.StateMigrating, models.StateActive, true},
		{"retired to decommissioned", models.StateRetired, models.StateDecommissioned, true},
		{"decommissioned to wiping", models.StateDecommissioned, models.StateWiping, true},
		{"wiping to decommissioned", models.StateWiping, models.StateDecommissioned, true},
		{"active to installing", models.StateActive, models.StateInstalling, false},
		{"installed to pending", models.StateInstalled, models.StatePending, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestRetireOverride(t *testing.T) {
	for _, from := range models.AllNodeStates {
		if from == models.StateRetired {
			assert.False(t, CanTransition(from, models.StateRetired), "retired must not re-retire")
			continue
		}
		assert.True(t, CanTransition(from, models.StateRetired), "retire from %s", from)
	}
}

func TestAllowedTransitionsIncludesRetire(t *testing.T) {
	allowed := AllowedTransitions(models.StateDiscovered)
	assert.Equal(t, []models.NodeState{models.StatePending, models.StateIgnored, models.StateRetired}, allowed)

	// install_failed already lists retired; no duplicate is appended.
	allowed = AllowedTransitions(models.StateInstallFailed)
	assert.Equal(t, []models.NodeState{models.StatePending, models.StateRetired}, allowed)

	// retired gets no retire override appended.
	allowed = AllowedTransitions(models.StateRetired)
	assert.Equal(t, []models.NodeState{models.StateDecommissioned}, allowed)
}

func TestInvalidTransitionErrorMessage(t *testing.T) {
	err := NewInvalidTransition(models.StateDiscovered, models.StateActive)
	require.NotNil(t, err)
	assert.Equal(t, "discovered→active not allowed; legal: [pending, ignored, retired]", err.Error())
}

func TestReversibleLoops(t *testing.T) {
	// ignored and wiping both round-trip with their counterpart.
	assert.True(t, CanTransition(models.StateDiscovered, models.StateIgnored))
	assert.True(t, CanTransition(models.StateIgnored, models.StateDiscovered))
	assert.True(t, CanTransition(models.StateDecommissioned, models.StateWiping))
	assert.True(t, CanTransition(models.StateWiping, models.StateDecommissioned))
}

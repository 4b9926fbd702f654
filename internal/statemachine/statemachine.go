// Package statemachine defines the legal progression of a node through its
// provisioning lifecycle. It is pure: persistence and notification live in
// the lifecycle package.
package statemachine

import (
	"fmt"
	"strings"

	"github.com/pureboot/pureboot/internal/models"
)

// transitions is the authoritative from → {to} table.
var transitions = map[models.NodeState][]models.NodeState{
	models.StateDiscovered:     {models.StatePending, models.StateIgnored},
	models.StateIgnored:        {models.StateDiscovered},
	models.StatePending:        {models.StateInstalling},
	models.StateInstalling:     {models.StateInstalled, models.StateInstallFailed},
	models.StateInstallFailed:  {models.StatePending, models.StateRetired},
	models.StateInstalled:      {models.StateActive},
	models.StateActive:         {models.StateReprovision, models.StateMigrating, models.StateRetired, models.StateDecommissioned},
	models.StateReprovision:    {models.StatePending},
	models.StateMigrating:      {models.StateActive},
	models.StateRetired:        {models.StateDecommissioned},
	models.StateDecommissioned: {models.StateWiping},
	models.StateWiping:         {models.StateDecommissioned},
}

// CanTransition reports whether from → to is legal. A retire is allowed from
// any non-retired state as a policy override.
func CanTransition(from, to models.NodeState) bool {
	if to == models.StateRetired {
		return from != models.StateRetired
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the legal target states for from, including the
// retire override, in stable table order.
func AllowedTransitions(from models.NodeState) []models.NodeState {
	allowed := append([]models.NodeState(nil), transitions[from]...)
	if from != models.StateRetired && !contains(allowed, models.StateRetired) {
		allowed = append(allowed, models.StateRetired)
	}
	return allowed
}

func contains(states []models.NodeState, s models.NodeState) bool {
	for _, candidate := range states {
		if candidate == s {
			return true
		}
	}
	return false
}

// InvalidTransitionError reports an attempted illegal transition together
// with the legal target set.
type InvalidTransitionError struct {
	From    models.NodeState
	To      models.NodeState
	Allowed []models.NodeState
}

func (e *InvalidTransitionError) Error() string {
	names := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		names[i] = string(s)
	}
	return fmt.Sprintf("%s→%s not allowed; legal: [%s]", e.From, e.To, strings.Join(names, ", "))
}

// NewInvalidTransition builds the error for an illegal from → to attempt.
func NewInvalidTransition(from, to models.NodeState) *InvalidTransitionError {
	return &InvalidTransitionError{From: from, To: to, Allowed: AllowedTransitions(from)}
}

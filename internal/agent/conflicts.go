package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"

	"github.com/pureboot/pureboot/internal/lifecycle"
	"github.com/pureboot/pureboot/internal/models"
)

// DetectConflicts compares the local cache against central's node records
// after a reconnect and records every divergence. Returned conflicts are also
// persisted for the status endpoint.
func (s *Store) DetectConflicts(central []*models.Node) ([]*models.Conflict, error) {
	cached, err := s.ListNodes()
	if err != nil {
		return nil, err
	}

	centralByMAC := make(map[string]*models.Node, len(central))
	for _, n := range central {
		centralByMAC[n.MACAddress] = n
	}
	cachedByMAC := make(map[string]*models.CachedNode, len(cached))
	for _, n := range cached {
		cachedByMAC[n.MAC] = n
	}

	now := time.Now().UTC()
	var conflicts []*models.Conflict

	for mac, local := range cachedByMAC {
		remote, ok := centralByMAC[mac]
		if !ok {
			conflicts = append(conflicts, &models.Conflict{
				ID:         ulid.Make().String(),
				MAC:        mac,
				Type:       models.ConflictMissingCentral,
				LocalState: local.State,
				LocalTime:  &local.StateChangedAt,
				DetectedAt: now,
			})
			continue
		}
		if remote.State != local.State {
			localTime := local.StateChangedAt
			centralTime := remote.StateChangedAt
			conflicts = append(conflicts, &models.Conflict{
				ID:           ulid.Make().String(),
				MAC:          mac,
				Type:         models.ConflictStateMismatch,
				LocalState:   local.State,
				CentralState: remote.State,
				LocalTime:    &localTime,
				CentralTime:  &centralTime,
				DetectedAt:   now,
			})
		}
	}
	for mac, remote := range centralByMAC {
		if _, ok := cachedByMAC[mac]; !ok {
			centralTime := remote.StateChangedAt
			conflicts = append(conflicts, &models.Conflict{
				ID:           ulid.Make().String(),
				MAC:          mac,
				Type:         models.ConflictMissingLocal,
				CentralState: remote.State,
				CentralTime:  &centralTime,
				DetectedAt:   now,
			})
		}
	}

	for _, c := range conflicts {
		if err := s.putConflict(c); err != nil {
			return nil, err
		}
	}
	return conflicts, nil
}

func (s *Store) putConflict(c *models.Conflict) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketConflicts).Put([]byte(c.ID), data)
	})
}

// ListConflicts returns recorded conflicts; unresolvedOnly narrows to the
// ones still awaiting a decision.
func (s *Store) ListConflicts(unresolvedOnly bool) ([]*models.Conflict, error) {
	var conflicts []*models.Conflict
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConflicts).ForEach(func(_, v []byte) error {
			var c models.Conflict
			if err := json.Unmarshal(v, &c); err != nil {
				return nil
			}
			if unresolvedOnly && c.Resolved {
				return nil
			}
			conflicts = append(conflicts, &c)
			return nil
		})
	})
	return conflicts, err
}

// HasUnresolvedConflict reports whether a node has a divergence still
// awaiting a decision. Boot decisions for such a node are held.
func (s *Store) HasUnresolvedConflict(mac string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConflicts).ForEach(func(_, v []byte) error {
			var c models.Conflict
			if err := json.Unmarshal(v, &c); err != nil {
				return nil
			}
			if !c.Resolved && c.MAC == mac {
				found = true
			}
			return nil
		})
	})
	return found, err
}

// Resolver applies the configured conflict strategy.
type Resolver struct {
	store    *Store
	strategy string
}

// NewConflictResolver builds a resolver with the site's strategy.
func NewConflictResolver(store *Store, strategy string) *Resolver {
	return &Resolver{store: store, strategy: strategy}
}

// ResolveAll applies the strategy to every detected conflict. Under the
// manual strategy nothing is touched; conflicts wait for an operator.
func (r *Resolver) ResolveAll(ctx context.Context, conflicts []*models.Conflict, central map[string]*models.Node) error {
	if r.strategy == models.ResolveManual {
		if len(conflicts) > 0 {
			log.Warn().Int("conflicts", len(conflicts)).Msg("Conflicts recorded, awaiting manual resolution")
		}
		return nil
	}
	for _, c := range conflicts {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.resolve(c, central[c.MAC]); err != nil {
			log.Error().Err(err).Str("mac", c.MAC).Str("type", string(c.Type)).Msg("Conflict resolution failed")
			continue
		}
	}
	return nil
}

func (r *Resolver) resolve(c *models.Conflict, remote *models.Node) error {
	winner := r.pickWinner(c)

	switch c.Type {
	case models.ConflictMissingLocal:
		// Central knows a node this site does not; adopt it.
		if remote != nil {
			if err := r.store.PutNode(cachedFromNode(remote)); err != nil {
				return err
			}
		}

	case models.ConflictMissingCentral:
		// The node was registered while offline; replay it to central.
		local, err := r.store.GetNode(c.MAC)
		if err != nil || local == nil {
			return err
		}
		payload, _ := json.Marshal(&models.Node{MACAddress: local.MAC, State: local.State, WorkflowID: local.WorkflowID})
		if _, err := r.store.Enqueue(models.QueueRegistration, local.MAC, payload); err != nil {
			return err
		}

	case models.ConflictStateMismatch:
		if winner == "central" {
			if remote != nil {
				if err := r.store.PutNode(cachedFromNode(remote)); err != nil {
					return err
				}
			}
		} else {
			// The site's view wins; push the local state to central as an
			// event so the transition log stays complete.
			local, err := r.store.GetNode(c.MAC)
			if err != nil || local == nil {
				return err
			}
			payload, _ := json.Marshal(lifecycle.Report{
				MAC:     local.MAC,
				Event:   models.EventHeartbeat,
				Message: "site state " + string(local.State) + " asserted after offline period",
			})
			if _, err := r.store.Enqueue(models.QueueStateUpdate, local.MAC, payload); err != nil {
				return err
			}
		}
	}

	c.Resolved = true
	c.Strategy = r.strategy
	log.Info().Str("mac", c.MAC).Str("type", string(c.Type)).Str("strategy", r.strategy).Msg("Conflict resolved")
	return r.store.putConflict(c)
}

// pickWinner decides which side's state survives a mismatch.
func (r *Resolver) pickWinner(c *models.Conflict) string {
	switch r.strategy {
	case models.ResolveSiteWins:
		return "site"
	case models.ResolveLastWrite:
		if c.LocalTime != nil && c.CentralTime != nil && c.LocalTime.After(*c.CentralTime) {
			return "site"
		}
		return "central"
	default:
		return "central"
	}
}

// cachedFromNode projects a central node record onto the agent's cache form.
func cachedFromNode(n *models.Node) *models.CachedNode {
	return &models.CachedNode{
		MAC:            n.MACAddress,
		NodeID:         n.ID,
		State:          n.State,
		WorkflowID:     n.WorkflowID,
		StateChangedAt: n.StateChangedAt,
		SyncedAt:       time.Now().UTC(),
	}
}

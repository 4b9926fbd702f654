package agent

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pureboot/pureboot/internal/models"
)

// Syncer pulls node and workflow records from central into the local cache
// and prefetches boot artifacts per the cache policy.
type Syncer struct {
	store    *Store
	client   *Client
	content  *ContentCache
	resolver *Resolver
	groupID  string
}

// NewSyncer builds a syncer. groupID narrows the pull to this site's group;
// empty pulls everything.
func NewSyncer(store *Store, client *Client, content *ContentCache, resolver *Resolver, groupID string) *Syncer {
	return &Syncer{store: store, client: client, content: content, resolver: resolver, groupID: groupID}
}

// Sync performs one full pull: detect conflicts against the pre-sync cache,
// resolve them, refresh cached nodes and workflows, then prefetch artifacts.
func (s *Syncer) Sync(ctx context.Context) error {
	nodes, err := s.client.ListNodes(ctx, s.groupID)
	if err != nil {
		return err
	}

	centralByMAC := make(map[string]*models.Node, len(nodes))
	for _, n := range nodes {
		centralByMAC[n.MACAddress] = n
	}

	// Conflicts are judged against the cache as it stood while offline,
	// before the refresh overwrites it.
	conflicts, err := s.store.DetectConflicts(nodes)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		log.Warn().Int("conflicts", len(conflicts)).Msg("State divergence detected on reconnect")
		if err := s.resolver.ResolveAll(ctx, conflicts, centralByMAC); err != nil {
			return err
		}
	}

	// Nodes whose conflict is still awaiting a decision keep their local
	// cache entry; refreshing them would silently apply central_wins.
	unresolved := make(map[string]bool)
	open, err := s.store.ListConflicts(true)
	if err != nil {
		return err
	}
	for _, c := range open {
		unresolved[c.MAC] = true
	}

	workflowIDs := make(map[string]bool)
	for _, n := range nodes {
		if unresolved[n.MACAddress] {
			log.Warn().Str("mac", n.MACAddress).Msg("Cache refresh held, conflict awaiting resolution")
		} else if err := s.store.PutNode(cachedFromNode(n)); err != nil {
			return err
		}
		if n.WorkflowID != "" {
			workflowIDs[n.WorkflowID] = true
		}
	}

	var artifacts []string
	for id := range workflowIDs {
		wf, err := s.client.GetWorkflow(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("workflow", id).Msg("Failed to pull workflow record")
			continue
		}
		if err := s.store.PutWorkflow(wf); err != nil {
			return err
		}
		for _, path := range []string{wf.KernelPath, wf.InitrdPath} {
			if s.content.ShouldCache(path, true) {
				artifacts = append(artifacts, path)
			}
		}
	}
	if len(artifacts) > 0 {
		if err := s.content.Prefetch(ctx, artifacts); err != nil {
			return err
		}
	}

	if err := s.store.SetLastSync(time.Now()); err != nil {
		return err
	}
	log.Info().Int("nodes", len(nodes)).Int("workflows", len(workflowIDs)).Msg("Cache synced from central")
	return nil
}

// Run resyncs on an interval while online, and once immediately.
func (s *Syncer) Run(ctx context.Context, interval time.Duration, online func() bool) {
	if online() {
		if err := s.Sync(ctx); err != nil {
			log.Error().Err(err).Msg("Initial sync failed")
		}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !online() {
				continue
			}
			if err := s.Sync(ctx); err != nil {
				log.Error().Err(err).Msg("Periodic sync failed")
			}
		}
	}
}

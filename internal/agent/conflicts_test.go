package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pureboot/pureboot/internal/lifecycle"
	"github.com/pureboot/pureboot/internal/models"
)

func centralNode(mac string, state models.NodeState, changedAt time.Time) *models.Node {
	return &models.Node{
		ID:             "node-" + mac,
		MACAddress:     mac,
		State:          state,
		StateChangedAt: changedAt,
	}
}

func conflictByType(conflicts []*models.Conflict, ct models.ConflictType) *models.Conflict {
	for _, c := range conflicts {
		if c.Type == ct {
			return c
		}
	}
	return nil
}

func TestDetectConflicts(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()

	// Local: A registered while offline, B diverged in state.
	require.NoError(t, st.PutNode(cachedNode("aa:bb:cc:dd:ee:0a", models.StateDiscovered)))
	require.NoError(t, st.PutNode(cachedNode("aa:bb:cc:dd:ee:0b", models.StateInstalling)))
	// Central: B moved on, C is new to this site.
	central := []*models.Node{
		centralNode("aa:bb:cc:dd:ee:0b", models.StateActive, now),
		centralNode("aa:bb:cc:dd:ee:0c", models.StatePending, now),
	}

	conflicts, err := st.DetectConflicts(central)
	require.NoError(t, err)
	require.Len(t, conflicts, 3)

	missing := conflictByType(conflicts, models.ConflictMissingCentral)
	require.NotNil(t, missing)
	assert.Equal(t, "aa:bb:cc:dd:ee:0a", missing.MAC)

	mismatch := conflictByType(conflicts, models.ConflictStateMismatch)
	require.NotNil(t, mismatch)
	assert.Equal(t, models.StateInstalling, mismatch.LocalState)
	assert.Equal(t, models.StateActive, mismatch.CentralState)

	local := conflictByType(conflicts, models.ConflictMissingLocal)
	require.NotNil(t, local)
	assert.Equal(t, "aa:bb:cc:dd:ee:0c", local.MAC)

	// Conflicts are persisted for the status endpoint.
	stored, err := st.ListConflicts(true)
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestDetectConflictsCleanSite(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.PutNode(cachedNode("aa:bb:cc:dd:ee:0a", models.StateActive)))
	conflicts, err := st.DetectConflicts([]*models.Node{
		centralNode("aa:bb:cc:dd:ee:0a", models.StateActive, time.Now()),
	})
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestResolveCentralWins(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()
	require.NoError(t, st.PutNode(cachedNode("aa:bb:cc:dd:ee:0a", models.StateDiscovered)))
	require.NoError(t, st.PutNode(cachedNode("aa:bb:cc:dd:ee:0b", models.StateInstalling)))
	central := []*models.Node{
		centralNode("aa:bb:cc:dd:ee:0b", models.StateActive, now),
		centralNode("aa:bb:cc:dd:ee:0c", models.StatePending, now),
	}
	centralByMAC := map[string]*models.Node{}
	for _, n := range central {
		centralByMAC[n.MACAddress] = n
	}

	conflicts, err := st.DetectConflicts(central)
	require.NoError(t, err)

	r := NewConflictResolver(st, models.ResolveCentralWins)
	require.NoError(t, r.ResolveAll(context.Background(), conflicts, centralByMAC))

	// Mismatch: central's state overwrites the cache.
	node, err := st.GetNode("aa:bb:cc:dd:ee:0b")
	require.NoError(t, err)
	assert.Equal(t, models.StateActive, node.State)

	// Missing locally: central's node is adopted.
	node, err = st.GetNode("aa:bb:cc:dd:ee:0c")
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, models.StatePending, node.State)

	// Missing centrally: a registration is queued for replay.
	items, err := st.PeekPending(10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.QueueRegistration, items[0].Type)
	assert.Equal(t, "aa:bb:cc:dd:ee:0a", items[0].MAC)

	unresolved, err := st.ListConflicts(true)
	require.NoError(t, err)
	assert.Empty(t, unresolved)
}

func TestResolveSiteWinsQueuesStateAssert(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.PutNode(cachedNode("aa:bb:cc:dd:ee:0b", models.StateInstalled)))
	central := centralNode("aa:bb:cc:dd:ee:0b", models.StateInstalling, time.Now())

	conflicts, err := st.DetectConflicts([]*models.Node{central})
	require.NoError(t, err)
	require.Len(t, conflicts, 1)

	r := NewConflictResolver(st, models.ResolveSiteWins)
	require.NoError(t, r.ResolveAll(context.Background(), conflicts, map[string]*models.Node{central.MACAddress: central}))

	// The cache keeps the site's view.
	node, err := st.GetNode("aa:bb:cc:dd:ee:0b")
	require.NoError(t, err)
	assert.Equal(t, models.StateInstalled, node.State)

	// And the site's state is pushed to central as an event.
	items, err := st.PeekPending(10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.QueueStateUpdate, items[0].Type)
	var report lifecycle.Report
	require.NoError(t, json.Unmarshal(items[0].Payload, &report))
	assert.Equal(t, models.EventHeartbeat, report.Event)
	assert.Contains(t, report.Message, "installed")
}

func TestResolveLastWrite(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()

	// Local change is newer than central's: the site wins.
	local := cachedNode("aa:bb:cc:dd:ee:0b", models.StateInstalled)
	local.StateChangedAt = now
	require.NoError(t, st.PutNode(local))
	central := centralNode("aa:bb:cc:dd:ee:0b", models.StateInstalling, now.Add(-time.Hour))

	conflicts, err := st.DetectConflicts([]*models.Node{central})
	require.NoError(t, err)
	r := NewConflictResolver(st, models.ResolveLastWrite)
	require.NoError(t, r.ResolveAll(context.Background(), conflicts, map[string]*models.Node{central.MACAddress: central}))

	node, err := st.GetNode("aa:bb:cc:dd:ee:0b")
	require.NoError(t, err)
	assert.Equal(t, models.StateInstalled, node.State)
	items, err := st.PeekPending(10)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestResolveManualLeavesConflicts(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.PutNode(cachedNode("aa:bb:cc:dd:ee:0b", models.StateInstalled)))
	central := centralNode("aa:bb:cc:dd:ee:0b", models.StateActive, time.Now())

	conflicts, err := st.DetectConflicts([]*models.Node{central})
	require.NoError(t, err)

	r := NewConflictResolver(st, models.ResolveManual)
	require.NoError(t, r.ResolveAll(context.Background(), conflicts, map[string]*models.Node{central.MACAddress: central}))

	// Nothing moved: the cache is untouched and the conflict stays open.
	node, err := st.GetNode("aa:bb:cc:dd:ee:0b")
	require.NoError(t, err)
	assert.Equal(t, models.StateInstalled, node.State)
	unresolved, err := st.ListConflicts(true)
	require.NoError(t, err)
	assert.Len(t, unresolved, 1)
}

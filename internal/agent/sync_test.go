package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pureboot/pureboot/internal/models"
)

// centralWithNodes fakes the controller's node listing for sync pulls.
func centralWithNodes(t *testing.T, nodes []*models.Node) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/nodes", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"success": true, "data": nodes, "total": len(nodes)})
	}))
}

func newTestSyncer(t *testing.T, st *Store, centralURL, strategy string) *Syncer {
	t.Helper()
	client := NewClient(centralURL, time.Second)
	content := NewContentCache(st, client, t.TempDir(), PolicyMinimal, "")
	resolver := NewConflictResolver(st, strategy)
	return NewSyncer(st, client, content, resolver, "")
}

func TestSyncManualStrategyKeepsLocalState(t *testing.T) {
	st := newTestStore(t)
	local := cachedNode("aa:bb:cc:dd:ee:0a", models.StateInstalling)
	require.NoError(t, st.PutNode(local))

	srv := centralWithNodes(t, []*models.Node{{
		ID:             local.NodeID,
		MACAddress:     local.MAC,
		State:          models.StateInstalled,
		StateChangedAt: time.Now().UTC(),
	}})
	defer srv.Close()

	syncer := newTestSyncer(t, st, srv.URL, models.ResolveManual)
	require.NoError(t, syncer.Sync(context.Background()))

	// The divergence is recorded but the cache is not reconciled; the
	// operator decides which side wins.
	node, err := st.GetNode(local.MAC)
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, models.StateInstalling, node.State)

	open, err := st.ListConflicts(true)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, models.ConflictStateMismatch, open[0].Type)
	assert.False(t, st.LastSync().IsZero())
}

func TestSyncCentralWinsRefreshesCache(t *testing.T) {
	st := newTestStore(t)
	local := cachedNode("aa:bb:cc:dd:ee:0a", models.StateInstalling)
	require.NoError(t, st.PutNode(local))

	srv := centralWithNodes(t, []*models.Node{{
		ID:             local.NodeID,
		MACAddress:     local.MAC,
		State:          models.StateInstalled,
		StateChangedAt: time.Now().UTC(),
	}})
	defer srv.Close()

	syncer := newTestSyncer(t, st, srv.URL, models.ResolveCentralWins)
	require.NoError(t, syncer.Sync(context.Background()))

	node, err := st.GetNode(local.MAC)
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, models.StateInstalled, node.State)

	open, err := st.ListConflicts(true)
	require.NoError(t, err)
	assert.Empty(t, open)
}

package agent

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pureboot/pureboot/internal/ipxe"
	"github.com/pureboot/pureboot/internal/models"
)

func newOfflineDecider(t *testing.T, defaultAction string) (*OfflineDecider, *Store, *ContentCache) {
	t.Helper()
	st := newTestStore(t)
	content := NewContentCache(st, nil, t.TempDir(), PolicyMirror, "")
	d := NewOfflineDecider(st, content, "http://agent:8421", defaultAction)
	return d, st, content
}

func TestOfflineDecideCarriesBanner(t *testing.T) {
	d, st, _ := newOfflineDecider(t, "local")
	require.NoError(t, st.SetLastSync(time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)))

	s := d.Decide("not-a-mac")
	assert.Equal(t, ipxe.KindLocal, s.Kind)
	assert.Contains(t, s.Body, "OFFLINE MODE")
	assert.Contains(t, s.Body, "Last sync: 2026-08-25T09:00:00Z")
}

func TestOfflineDecideUnknownNode(t *testing.T) {
	d, st, _ := newOfflineDecider(t, "local")
	s := d.Decide("aa:bb:cc:dd:ee:ff")
	assert.Equal(t, ipxe.KindLocal, s.Kind)

	// The local default opts out of discovery entirely.
	node, err := st.GetNode("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	assert.Nil(t, node)
	depth, err := st.QueueDepth()
	require.NoError(t, err)
	assert.Zero(t, depth)

	// Without the local default, unknown machines wait for reconnection.
	d, _, _ = newOfflineDecider(t, "discovery")
	s = d.Decide("aa:bb:cc:dd:ee:ff")
	assert.Equal(t, ipxe.KindDiscovery, s.Kind)
}

func TestOfflineDecideQueuesRegistrationForNewMAC(t *testing.T) {
	d, st, _ := newOfflineDecider(t, "discovery")

	s := d.Decide("aa:bb:cc:dd:ee:ff")
	assert.Equal(t, ipxe.KindDiscovery, s.Kind)

	// The sighting is cached so the node is known on subsequent boots.
	node, err := st.GetNode("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, models.StateDiscovered, node.State)

	// A registration waits for the drain to replay it to central.
	items, err := st.PeekPending(10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.QueueRegistration, items[0].Type)
	var queued models.Node
	require.NoError(t, json.Unmarshal(items[0].Payload, &queued))
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", queued.MACAddress)
	assert.Equal(t, models.StateDiscovered, queued.State)

	// Repeat boots do not enqueue duplicates.
	s = d.Decide("aa:bb:cc:dd:ee:ff")
	assert.Equal(t, ipxe.KindDiscovery, s.Kind)
	depth, err := st.QueueDepth()
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestOfflineDecideDiscovered(t *testing.T) {
	d, st, _ := newOfflineDecider(t, "local")
	require.NoError(t, st.PutNode(cachedNode("aa:bb:cc:dd:ee:ff", models.StateDiscovered)))

	s := d.Decide("aa:bb:cc:dd:ee:ff")
	assert.Equal(t, ipxe.KindDiscovery, s.Kind)
}

func TestOfflineDecidePendingNoWorkflow(t *testing.T) {
	d, st, _ := newOfflineDecider(t, "local")
	require.NoError(t, st.PutNode(cachedNode("aa:bb:cc:dd:ee:ff", models.StatePending)))

	s := d.Decide("aa:bb:cc:dd:ee:ff")
	assert.Equal(t, ipxe.KindNoWorkflow, s.Kind)
}

func TestOfflineDecidePendingWorkflowNotCached(t *testing.T) {
	d, st, _ := newOfflineDecider(t, "local")
	node := cachedNode("aa:bb:cc:dd:ee:ff", models.StatePending)
	node.WorkflowID = "ubuntu-22"
	require.NoError(t, st.PutNode(node))

	s := d.Decide("aa:bb:cc:dd:ee:ff")
	assert.Equal(t, ipxe.KindWorkflowError, s.Kind)
}

func TestOfflineDecideServesCachedInstall(t *testing.T) {
	d, st, content := newOfflineDecider(t, "local")
	node := cachedNode("aa:bb:cc:dd:ee:ff", models.StatePending)
	node.WorkflowID = "ubuntu-22"
	require.NoError(t, st.PutNode(node))
	require.NoError(t, st.PutWorkflow(&models.Workflow{
		ID:         "ubuntu-22",
		Name:       "Ubuntu 22.04",
		KernelPath: "/files/ubuntu/vmlinuz",
		InitrdPath: "/files/ubuntu/initrd",
		Cmdline:    "autoinstall url=${server}/seed/${node_id}",
	}))

	// Artifacts missing: the install is deferred.
	s := d.Decide("aa:bb:cc:dd:ee:ff")
	assert.Equal(t, ipxe.KindWorkflowError, s.Kind)

	seedArtifact(t, st, content, "/files/ubuntu/vmlinuz", "kernel")
	seedArtifact(t, st, content, "/files/ubuntu/initrd", "initrd")

	// With the cache complete the agent serves the install itself.
	s = d.Decide("aa:bb:cc:dd:ee:ff")
	assert.Equal(t, ipxe.KindInstall, s.Kind)
	assert.Contains(t, s.Body, "OFFLINE MODE")
	assert.Contains(t, s.Body, "kernel http://agent:8421/files/ubuntu/vmlinuz")
	assert.Contains(t, s.Body, "url=http://agent:8421/seed/"+node.NodeID)
}

func TestOfflineDecideActiveBootsLocal(t *testing.T) {
	d, st, _ := newOfflineDecider(t, "discovery")
	require.NoError(t, st.PutNode(cachedNode("aa:bb:cc:dd:ee:ff", models.StateActive)))

	s := d.Decide("aa:bb:cc:dd:ee:ff")
	assert.Equal(t, ipxe.KindLocal, s.Kind)
}

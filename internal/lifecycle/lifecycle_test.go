package lifecycle

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pureboot/pureboot/internal/config"
	"github.com/pureboot/pureboot/internal/models"
	"github.com/pureboot/pureboot/internal/statemachine"
	"github.com/pureboot/pureboot/internal/store"
)

type recordingHub struct {
	mu     sync.Mutex
	events []string
}

func (h *recordingHub) Broadcast(eventType string, data any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, eventType)
}

func (h *recordingHub) has(eventType string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.events {
		if e == eventType {
			return true
		}
	}
	return false
}

func newTestManager(t *testing.T) (*Manager, *recordingHub) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	hub := &recordingHub{}
	return NewManager(st, config.Defaults(), hub), hub
}

func createDiscovered(t *testing.T, m *Manager, mac string) *models.Node {
	t.Helper()
	node, err := m.CreateNode(&models.Node{MACAddress: mac})
	require.NoError(t, err)
	return node
}

func TestCreateNodeNormalizesMAC(t *testing.T) {
	m, hub := newTestManager(t)
	node, err := m.CreateNode(&models.Node{MACAddress: "AA-BB-CC-DD-EE-FF"})
	require.NoError(t, err)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", node.MACAddress)
	assert.Equal(t, models.StateDiscovered, node.State)
	assert.Equal(t, 100.0, node.HealthScore)
	assert.True(t, hub.has("node.created"))

	_, err = m.CreateNode(&models.Node{MACAddress: "aabb.ccdd.eeff"})
	assert.ErrorIs(t, err, store.ErrDuplicateMAC)
}

func TestTransitionLegalPathAndLog(t *testing.T) {
	m, hub := newTestManager(t)
	node := createDiscovered(t, m, "aa:bb:cc:dd:ee:ff")

	node, err := m.Transition(node.ID, models.StatePending, models.TriggerAdmin, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatePending, node.State)
	assert.True(t, hub.has("node.state_changed"))

	logs, err := m.Store().ListStateLogs(node.ID, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.StateDiscovered, logs[0].FromState)
	assert.Equal(t, models.StatePending, logs[0].ToState)
	assert.Equal(t, models.TriggerAdmin, logs[0].TriggeredBy)
}

func TestTransitionIllegalLeavesNodeUntouched(t *testing.T) {
	m, _ := newTestManager(t)
	node := createDiscovered(t, m, "aa:bb:cc:dd:ee:ff")

	_, err := m.Transition(node.ID, models.StateActive, models.TriggerAdmin, nil)
	var invalid *statemachine.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "discovered→active not allowed; legal: [pending, ignored, retired]", invalid.Error())

	fresh, err := m.Store().GetNode(node.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateDiscovered, fresh.State)
	logs, err := m.Store().ListStateLogs(node.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestRetireFromAnywhere(t *testing.T) {
	m, _ := newTestManager(t)
	node := createDiscovered(t, m, "aa:bb:cc:dd:ee:ff")

	node, err := m.Retire(node.ID, models.TriggerAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.StateRetired, node.State)

	_, err = m.Retire(node.ID, models.TriggerAdmin)
	assert.Error(t, err, "retired nodes cannot be re-retired")
}

func TestProcessReportInstallFlow(t *testing.T) {
	m, _ := newTestManager(t)
	node := createDiscovered(t, m, "aa:bb:cc:dd:ee:ff")
	_, err := m.Transition(node.ID, models.StatePending, models.TriggerAdmin, nil)
	require.NoError(t, err)

	updated, event, err := m.ProcessReport(Report{MAC: "aa:bb:cc:dd:ee:ff", Event: models.EventInstallStarted}, "10.0.0.9")
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, models.StateInstalling, updated.State)
	assert.Equal(t, "10.0.0.9", updated.IPAddress)
	require.NotNil(t, updated.LastSeenAt)

	progress := 60
	updated, _, err = m.ProcessReport(Report{MAC: "aa:bb:cc:dd:ee:ff", Event: models.EventInstallProgress, Progress: &progress}, "10.0.0.9")
	require.NoError(t, err)
	assert.Equal(t, models.StateInstalling, updated.State)

	updated, _, err = m.ProcessReport(Report{MAC: "aa:bb:cc:dd:ee:ff", Event: models.EventInstallComplete}, "10.0.0.9")
	require.NoError(t, err)
	assert.Equal(t, models.StateInstalled, updated.State)

	updated, _, err = m.ProcessReport(Report{MAC: "aa:bb:cc:dd:ee:ff", Event: models.EventFirstBoot, Hostname: "web-01"}, "10.0.0.9")
	require.NoError(t, err)
	assert.Equal(t, models.StateActive, updated.State)
	assert.Equal(t, "web-01", updated.Hostname)

	// Event rows exist for every report, in addition to the state logs.
	events, total, err := m.Store().ListEvents(store.EventFilter{NodeID: updated.ID})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, events, 4)
}

func TestProcessReportLegacyInstallationStatus(t *testing.T) {
	m, _ := newTestManager(t)
	node := createDiscovered(t, m, "aa:bb:cc:dd:ee:ff")
	_, err := m.Transition(node.ID, models.StatePending, models.TriggerAdmin, nil)
	require.NoError(t, err)

	updated, event, err := m.ProcessReport(Report{MAC: "aa:bb:cc:dd:ee:ff", InstallationStatus: "started"}, "10.0.0.9")
	require.NoError(t, err)
	assert.Equal(t, models.StateInstalling, updated.State)
	assert.Equal(t, models.EventInstallStarted, event.Type)

	_, _, err = m.ProcessReport(Report{MAC: "aa:bb:cc:dd:ee:ff", InstallationStatus: "exploded"}, "10.0.0.9")
	assert.ErrorIs(t, err, ErrBadReport)
}

func TestProcessReportReplayIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t)
	node := createDiscovered(t, m, "aa:bb:cc:dd:ee:ff")
	_, err := m.Transition(node.ID, models.StatePending, models.TriggerAdmin, nil)
	require.NoError(t, err)

	report := Report{MAC: "aa:bb:cc:dd:ee:ff", Event: models.EventInstallStarted, EventID: "replay-01"}
	updated, _, err := m.ProcessReport(report, "10.0.0.9")
	require.NoError(t, err)
	assert.Equal(t, models.StateInstalling, updated.State)

	// The same event id a second time is acknowledged without re-applying.
	updated, event, err := m.ProcessReport(report, "10.0.0.9")
	assert.ErrorIs(t, err, ErrDuplicateEvent)
	assert.Nil(t, event)
	require.NotNil(t, updated)
	assert.Equal(t, models.StateInstalling, updated.State)

	_, total, err := m.Store().ListEvents(store.EventFilter{NodeID: node.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestInstallFailureRetriesThenFails(t *testing.T) {
	m, _ := newTestManager(t)
	node := createDiscovered(t, m, "aa:bb:cc:dd:ee:ff")
	_, err := m.Transition(node.ID, models.StatePending, models.TriggerAdmin, nil)
	require.NoError(t, err)
	_, _, err = m.ProcessReport(Report{MAC: "aa:bb:cc:dd:ee:ff", Event: models.EventInstallStarted}, "")
	require.NoError(t, err)

	// Default max attempts is 3: two failures keep the node installing.
	for i := 1; i <= 2; i++ {
		updated, _, err := m.ProcessReport(Report{MAC: "aa:bb:cc:dd:ee:ff", Event: models.EventInstallFailed, Message: "disk error"}, "")
		require.NoError(t, err)
		assert.Equal(t, models.StateInstalling, updated.State, "attempt %d", i)
		assert.Equal(t, i, updated.InstallAttempts)
		assert.Equal(t, "disk error", updated.LastInstallError)
	}

	updated, _, err := m.ProcessReport(Report{MAC: "aa:bb:cc:dd:ee:ff", Event: models.EventInstallFailed, Message: "disk error"}, "")
	require.NoError(t, err)
	assert.Equal(t, models.StateInstallFailed, updated.State)
	assert.Equal(t, 3, updated.InstallAttempts)

	// Requeueing for install resets the attempt counter on pending→installing.
	_, err = m.Transition(updated.ID, models.StatePending, models.TriggerAdmin, nil)
	require.NoError(t, err)
	updated, _, err = m.ProcessReport(Report{MAC: "aa:bb:cc:dd:ee:ff", Event: models.EventInstallStarted}, "")
	require.NoError(t, err)
	assert.Equal(t, models.StateInstalling, updated.State)
	assert.Zero(t, updated.InstallAttempts)
	assert.Empty(t, updated.LastInstallError)
}

func TestCheckInstallTimeout(t *testing.T) {
	m, _ := newTestManager(t)
	node := createDiscovered(t, m, "aa:bb:cc:dd:ee:ff")
	_, err := m.Transition(node.ID, models.StatePending, models.TriggerAdmin, nil)
	require.NoError(t, err)
	_, _, err = m.ProcessReport(Report{MAC: "aa:bb:cc:dd:ee:ff", Event: models.EventInstallStarted}, "")
	require.NoError(t, err)

	// Within the timeout nothing happens.
	updated, err := m.CheckInstallTimeout(node.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateInstalling, updated.State)
	assert.Zero(t, updated.InstallAttempts)

	// Jump the clock past the timeout: one attempt is consumed.
	m.SetClock(func() time.Time { return time.Now().Add(2 * time.Hour) })
	updated, err = m.CheckInstallTimeout(node.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateInstalling, updated.State)
	assert.Equal(t, 1, updated.InstallAttempts)
	assert.Equal(t, "installation timed out", updated.LastInstallError)

	logs, err := m.Store().ListStateLogs(node.ID, 0)
	require.NoError(t, err)
	for _, l := range logs {
		assert.NotEqual(t, models.StateInstallFailed, l.ToState)
	}
}

func TestBootTouchFillsEmptyHardwareOnly(t *testing.T) {
	m, _ := newTestManager(t)
	node, err := m.CreateNode(&models.Node{MACAddress: "aa:bb:cc:dd:ee:ff", Vendor: "Supermicro"})
	require.NoError(t, err)

	updated, err := m.BootTouch(node.ID, "10.1.2.3", models.HardwareHints{Vendor: "Dell", Model: "R640"})
	require.NoError(t, err)
	assert.Equal(t, "Supermicro", updated.Vendor, "existing value not overwritten")
	assert.Equal(t, "R640", updated.Model, "empty field filled")
	assert.Equal(t, "10.1.2.3", updated.IPAddress)
	require.NotNil(t, updated.LastSeenAt)
}

func TestTrackSeenIPChange(t *testing.T) {
	m, _ := newTestManager(t)
	node := createDiscovered(t, m, "aa:bb:cc:dd:ee:ff")

	_, err := m.BootTouch(node.ID, "10.0.0.5", models.HardwareHints{})
	require.NoError(t, err)
	updated, err := m.BootTouch(node.ID, "10.0.0.6", models.HardwareHints{})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.6", updated.IPAddress)
	assert.Equal(t, "10.0.0.5", updated.PreviousIPAddress)
	require.NotNil(t, updated.LastIPChangeAt)
}

func TestAutoRegister(t *testing.T) {
	m, hub := newTestManager(t)
	node, err := m.AutoRegister("aa:bb:cc:dd:ee:ff", "10.0.0.7", models.HardwareHints{Vendor: "HPE"})
	require.NoError(t, err)
	assert.Equal(t, models.StateDiscovered, node.State)
	assert.Equal(t, "HPE", node.Vendor)
	require.NotNil(t, node.LastSeenAt)
	assert.True(t, hub.has("node.created"))
}

func TestReportEventPersistedBeforeStateLog(t *testing.T) {
	m, _ := newTestManager(t)
	node := createDiscovered(t, m, "aa:bb:cc:dd:ee:ff")
	_, err := m.Transition(node.ID, models.StatePending, models.TriggerAdmin, nil)
	require.NoError(t, err)

	before := time.Now()
	_, event, err := m.ProcessReport(Report{MAC: "aa:bb:cc:dd:ee:ff", Event: models.EventInstallStarted}, "")
	require.NoError(t, err)

	logs, err := m.Store().ListStateLogs(node.ID, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.False(t, event.Timestamp.After(logs[0].Timestamp.Add(time.Second)))
	assert.False(t, event.Timestamp.Before(before.Add(-time.Second)))
}

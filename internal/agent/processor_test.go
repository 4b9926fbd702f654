package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pureboot/pureboot/internal/lifecycle"
	"github.com/pureboot/pureboot/internal/models"
)

func reportPayload(t *testing.T, mac string) []byte {
	t.Helper()
	data, err := json.Marshal(lifecycle.Report{MAC: mac, Event: models.EventHeartbeat})
	require.NoError(t, err)
	return data
}

func TestDrainDeliversFIFO(t *testing.T) {
	st := newTestStore(t)
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/nodes/report", r.URL.Path)
		var report lifecycle.Report
		require.NoError(t, json.NewDecoder(r.Body).Decode(&report))
		got = append(got, report.EventID)
		json.NewEncoder(w).Encode(map[string]any{"success": true, "data": map[string]any{}})
	}))
	defer srv.Close()

	first, err := st.Enqueue(models.QueueEvent, "aa:bb:cc:dd:ee:01", reportPayload(t, "aa:bb:cc:dd:ee:01"))
	require.NoError(t, err)
	second, err := st.Enqueue(models.QueueEvent, "aa:bb:cc:dd:ee:01", reportPayload(t, "aa:bb:cc:dd:ee:01"))
	require.NoError(t, err)

	p := NewProcessor(st, NewClient(srv.URL, time.Second), 10, time.Millisecond, 3)
	p.Drain(context.Background())

	// Delivered oldest first, each carrying its queue id as the event id.
	assert.Equal(t, []string{first.ID, second.ID}, got)
	depth, err := st.QueueDepth()
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestDrainMarksExhaustedItemsFailed(t *testing.T) {
	st := newTestStore(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "InternalError"})
	}))
	defer srv.Close()

	item, err := st.Enqueue(models.QueueEvent, "aa:bb:cc:dd:ee:01", reportPayload(t, "aa:bb:cc:dd:ee:01"))
	require.NoError(t, err)

	p := NewProcessor(st, NewClient(srv.URL, time.Second), 10, time.Millisecond, 2)
	p.Drain(context.Background())

	// The item sticks around as failed rather than being retried forever.
	failed, err := st.ListFailed()
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, item.ID, failed[0].ID)
	assert.Equal(t, 2, failed[0].Attempts)

	pending, err := st.PeekPending(10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDrainTreatsDuplicateRegistrationAsDelivered(t *testing.T) {
	st := newTestStore(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "DuplicateMAC", "detail": "node exists"})
	}))
	defer srv.Close()

	node, err := json.Marshal(&models.Node{MACAddress: "aa:bb:cc:dd:ee:01", State: models.StateDiscovered})
	require.NoError(t, err)
	_, err = st.Enqueue(models.QueueRegistration, "aa:bb:cc:dd:ee:01", node)
	require.NoError(t, err)

	p := NewProcessor(st, NewClient(srv.URL, time.Second), 10, time.Millisecond, 3)
	p.Drain(context.Background())

	// Central already knows the node; the replay is considered delivered.
	depth, err := st.QueueDepth()
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestDrainHoldsYoungerItemsBehindTransientFailure(t *testing.T) {
	st := newTestStore(t)
	first, err := st.Enqueue(models.QueueEvent, "aa:bb:cc:dd:ee:01", reportPayload(t, "aa:bb:cc:dd:ee:01"))
	require.NoError(t, err)
	second, err := st.Enqueue(models.QueueEvent, "aa:bb:cc:dd:ee:01", reportPayload(t, "aa:bb:cc:dd:ee:01"))
	require.NoError(t, err)

	var got []string
	var failedOnce bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var report lifecycle.Report
		require.NoError(t, json.NewDecoder(r.Body).Decode(&report))
		if report.EventID == first.ID && !failedOnce {
			failedOnce = true
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "InternalError"})
			return
		}
		got = append(got, report.EventID)
		json.NewEncoder(w).Encode(map[string]any{"success": true, "data": map[string]any{}})
	}))
	defer srv.Close()

	p := NewProcessor(st, NewClient(srv.URL, time.Second), 10, time.Millisecond, 3)
	p.Drain(context.Background())

	// The second item waited behind the retried first one; central saw the
	// node's mutations in submission order.
	assert.Equal(t, []string{first.ID, second.ID}, got)
	depth, err := st.QueueDepth()
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestDrainExhaustedItemUnblocksYoungerSameNode(t *testing.T) {
	st := newTestStore(t)
	first, err := st.Enqueue(models.QueueEvent, "aa:bb:cc:dd:ee:01", reportPayload(t, "aa:bb:cc:dd:ee:01"))
	require.NoError(t, err)
	second, err := st.Enqueue(models.QueueEvent, "aa:bb:cc:dd:ee:01", reportPayload(t, "aa:bb:cc:dd:ee:01"))
	require.NoError(t, err)

	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var report lifecycle.Report
		require.NoError(t, json.NewDecoder(r.Body).Decode(&report))
		if report.EventID == first.ID {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "InternalError"})
			return
		}
		got = append(got, report.EventID)
		json.NewEncoder(w).Encode(map[string]any{"success": true, "data": map[string]any{}})
	}))
	defer srv.Close()

	p := NewProcessor(st, NewClient(srv.URL, time.Second), 10, time.Millisecond, 1)
	p.Drain(context.Background())

	// Once marked failed the dead item stops gating its node's queue.
	assert.Equal(t, []string{second.ID}, got)
	failed, err := st.ListFailed()
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, first.ID, failed[0].ID)
}

func TestDrainStopsOnContextCancel(t *testing.T) {
	st := newTestStore(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "InternalError"})
	}))
	defer srv.Close()

	_, err := st.Enqueue(models.QueueEvent, "aa:bb:cc:dd:ee:01", reportPayload(t, "aa:bb:cc:dd:ee:01"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewProcessor(st, NewClient(srv.URL, time.Second), 10, time.Hour, 100)
	p.Drain(ctx)

	assert.Zero(t, calls.Load())
}

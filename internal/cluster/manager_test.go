package cluster_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crunchdao/model-runner-orchestrator/internal/cluster"
	"github.com/crunchdao/model-runner-orchestrator/internal/control"
	"github.com/crunchdao/model-runner-orchestrator/internal/worker"
	"github.com/crunchdao/model-runner-orchestrator/internal/workerrpc/workerrpctest"
)

// fakeSender records every outbound report_failure event instead of
// talking to a real control channel, per the report-failure suppression
// supplement so these tests don't need a live WebSocket server.
type fakeSender struct {
	mu    sync.Mutex
	sent  []control.OutboundEvent
}

func (f *fakeSender) Send(ev control.OutboundEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, ev)
	return nil
}

func (f *fakeSender) events() []control.OutboundEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]control.OutboundEvent(nil), f.sent...)
}

func testWorkerConfig() worker.Config {
	cfg := worker.DefaultConfig()
	cfg.RetryAttempts = 2
	cfg.RetryBackoffBase = 10 * time.Millisecond
	cfg.MinRetryInterval = 5 * time.Millisecond
	return cfg
}

func TestApplyInitAddsRunningAndSkipsStopped(t *testing.T) {
	srv := workerrpctest.NewServer(t)
	sender := &fakeSender{}

	state := cluster.NewState()
	mgr := cluster.NewManager(state, sender, testWorkerConfig(), true, nil)

	mgr.HandleEvent(control.EventInit, []control.Record{
		{ModelID: "m1", State: control.StateRunning, IP: srv.Host, Port: srv.Port},
		{ModelID: "m2", State: control.StateStopped, IP: "127.0.0.1", Port: 1},
	})

	_, ok := state.Get("m1")
	assert.True(t, ok)
	_, ok = state.Get("m2")
	assert.False(t, ok)
}

func TestApplyUpdateOverwritesInfosWithoutReconnecting(t *testing.T) {
	srv := workerrpctest.NewServer(t)
	sender := &fakeSender{}

	state := cluster.NewState()
	mgr := cluster.NewManager(state, sender, testWorkerConfig(), true, nil)

	mgr.HandleEvent(control.EventInit, []control.Record{
		{ModelID: "m1", State: control.StateRunning, IP: srv.Host, Port: srv.Port, Infos: map[string]string{"v": "1"}},
	})
	h1, ok := state.Get("m1")
	require.True(t, ok)

	mgr.HandleEvent(control.EventUpdate, []control.Record{
		{ModelID: "m1", State: control.StateRunning, IP: srv.Host, Port: srv.Port, Infos: map[string]string{"v": "2"}},
	})
	h2, ok := state.Get("m1")
	require.True(t, ok)

	assert.Same(t, h1, h2)
	assert.Equal(t, "2", h2.Infos()["v"])
}

func TestApplyUpdateStoppedEvictsAndCloses(t *testing.T) {
	srv := workerrpctest.NewServer(t)
	sender := &fakeSender{}

	state := cluster.NewState()
	mgr := cluster.NewManager(state, sender, testWorkerConfig(), true, nil)

	mgr.HandleEvent(control.EventInit, []control.Record{
		{ModelID: "m1", State: control.StateRunning, IP: srv.Host, Port: srv.Port},
	})
	h, ok := state.Get("m1")
	require.True(t, ok)

	mgr.HandleEvent(control.EventUpdate, []control.Record{
		{ModelID: "m1", State: control.StateStopped, IP: srv.Host, Port: srv.Port},
	})

	_, ok = state.Get("m1")
	assert.False(t, ok)
	assert.True(t, h.Closed())
}

func TestInitSnapshotEvictsHandleMissingFromFullSet(t *testing.T) {
	srv := workerrpctest.NewServer(t)
	sender := &fakeSender{}

	state := cluster.NewState()
	mgr := cluster.NewManager(state, sender, testWorkerConfig(), true, nil)

	mgr.HandleEvent(control.EventInit, []control.Record{
		{ModelID: "m1", State: control.StateRunning, IP: srv.Host, Port: srv.Port},
	})
	require.Equal(t, 1, state.Len())

	// A later init snapshot that omits m1 must evict it.
	mgr.HandleEvent(control.EventInit, []control.Record{})
	assert.Equal(t, 0, state.Len())
}

func TestProcessFailureReportsThenEvicts(t *testing.T) {
	srv := workerrpctest.NewServer(t)
	sender := &fakeSender{}

	state := cluster.NewState()
	mgr := cluster.NewManager(state, sender, testWorkerConfig(), true, nil)

	mgr.HandleEvent(control.EventInit, []control.Record{
		{ModelID: "m1", State: control.StateRunning, IP: srv.Host, Port: srv.Port},
	})
	h, ok := state.Get("m1")
	require.True(t, ok)

	mgr.ProcessFailure(h, control.FailureMultipleFailed, "too many failures")

	_, ok = state.Get("m1")
	assert.False(t, ok)
	assert.True(t, h.Closed())

	events := sender.events()
	require.Len(t, events, 1)
	require.Len(t, events[0].Data, 1)
	assert.Equal(t, control.FailureMultipleFailed, events[0].Data[0].FailureCode)
}

func TestProcessFailureSuppressedWhenReportingDisabled(t *testing.T) {
	srv := workerrpctest.NewServer(t)
	sender := &fakeSender{}

	state := cluster.NewState()
	mgr := cluster.NewManager(state, sender, testWorkerConfig(), false, nil)

	mgr.HandleEvent(control.EventInit, []control.Record{
		{ModelID: "m1", State: control.StateRunning, IP: srv.Host, Port: srv.Port},
	})
	h, ok := state.Get("m1")
	require.True(t, ok)

	mgr.ProcessFailure(h, control.FailureMultipleFailed, "too many failures")
	assert.Empty(t, sender.events())
}

func TestReconnectWorkerResetsCountersOnSuccess(t *testing.T) {
	srv := workerrpctest.NewServer(t)
	sender := &fakeSender{}

	state := cluster.NewState()
	mgr := cluster.NewManager(state, sender, testWorkerConfig(), true, nil)

	mgr.HandleEvent(control.EventInit, []control.Record{
		{ModelID: "m1", State: control.StateRunning, IP: srv.Host, Port: srv.Port},
	})
	h, ok := state.Get("m1")
	require.True(t, ok)

	h.RegisterFailure()
	require.Equal(t, 1, h.ConsecutiveFailures())

	require.NoError(t, mgr.ReconnectWorker(context.Background(), h))
	assert.Equal(t, 0, h.ConsecutiveFailures())

	// The handle keeps its place in the live set across a reconnect.
	_, ok = state.Get("m1")
	assert.True(t, ok)
}

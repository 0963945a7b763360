package syncer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-sync/internal/models"
	"github.com/noah-isme/sma-attendance-sync/internal/outbox"
	appErrors "github.com/noah-isme/sma-attendance-sync/pkg/errors"
)

func TestSubmitterWritesDirectlyWhenOnline(t *testing.T) {
	store, _ := newQueuedStore(t)
	remote := &scriptedReconciler{}
	submitter := NewSubmitter(remote, store, &staticSignal{online: true}, zap.NewNop())

	resp, err := submitter.Submit(context.Background(), rowsFor("s1"), models.EnqueueOptions{})
	require.NoError(t, err)
	assert.False(t, resp.Queued)
	require.NotNil(t, resp.Result)
	assert.Len(t, resp.Result.Written, 1)
	assert.Zero(t, store.Count())
}

func TestSubmitterQueuesOnNetworkAndServerFailures(t *testing.T) {
	store, _ := newQueuedStore(t)
	signal := &staticSignal{online: true}
	remote := &scriptedReconciler{failures: map[string]error{
		"net": errors.New("dial tcp 10.0.0.1:443: connect: connection refused"),
		"srv": appErrors.Clone(appErrors.ErrServer, "deadlock detected"),
	}}
	submitter := NewSubmitter(remote, store, signal, zap.NewNop())

	resp, err := submitter.Submit(context.Background(), rowsFor("srv"), models.EnqueueOptions{Meta: map[string]string{"source": "tablet"}})
	require.NoError(t, err)
	assert.True(t, resp.Queued)
	assert.NotEmpty(t, resp.BatchID)
	assert.Equal(t, 1, resp.Pending)
	assert.True(t, signal.online)

	resp, err = submitter.Submit(context.Background(), rowsFor("net"), models.EnqueueOptions{Finalize: true})
	require.NoError(t, err)
	assert.True(t, resp.Queued)
	assert.Equal(t, 2, resp.Pending)
	assert.False(t, signal.online)

	batches := store.Snapshot()
	assert.Equal(t, "tablet", batches[0].Meta["source"])
	assert.True(t, batches[1].Finalize)
}

func TestSubmitterQueuesWithoutCallingWhenOffline(t *testing.T) {
	store, _ := newQueuedStore(t)
	remote := &scriptedReconciler{}
	submitter := NewSubmitter(remote, store, &staticSignal{online: false}, zap.NewNop())

	resp, err := submitter.Submit(context.Background(), rowsFor("s1"), models.EnqueueOptions{})
	require.NoError(t, err)
	assert.True(t, resp.Queued)
	assert.Empty(t, remote.attempted())
}

func TestSubmitterSurfacesValidationErrors(t *testing.T) {
	store, _ := newQueuedStore(t)
	remote := &scriptedReconciler{failures: map[string]error{"bad": appErrors.Clone(appErrors.ErrValidation, "invalid attendance row 0")}}
	submitter := NewSubmitter(remote, store, nil, zap.NewNop())

	_, err := submitter.Submit(context.Background(), rowsFor("bad"), models.EnqueueOptions{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Zero(t, store.Count())

	_, err = submitter.Submit(context.Background(), nil, models.EnqueueOptions{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestMonitorTransitionsTriggerReconnect(t *testing.T) {
	var healthy atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	monitor := NewMonitor(MonitorConfig{ProbeURL: server.URL, Timeout: time.Second}, zap.NewNop())
	var reconnects atomic.Int32
	monitor.OnReconnect(func() { reconnects.Add(1) })

	assert.True(t, monitor.Online(), "unknown state is not offline")
	assert.False(t, monitor.Probe(context.Background()))
	assert.False(t, monitor.Online())

	healthy.Store(true)
	assert.True(t, monitor.Probe(context.Background()))
	assert.True(t, monitor.Probe(context.Background()))
	assert.Equal(t, int32(1), reconnects.Load())

	monitor.MarkOffline(errors.New("connection reset"))
	assert.False(t, monitor.Online())
	monitor.MarkOnline()
	assert.Equal(t, int32(2), reconnects.Load())
}

func TestReconnectDrainsOutbox(t *testing.T) {
	ctx := context.Background()
	store := outbox.Open(ctx, outbox.NewMemoryBackend(), zap.NewNop())
	store.Enqueue(ctx, rowsFor("B1"), models.EnqueueOptions{})

	monitor := NewMonitor(MonitorConfig{}, zap.NewNop())
	monitor.MarkOffline(errors.New("offline"))
	runner := NewRunner(NewEngine(store, &scriptedReconciler{}, zap.NewNop(), WithConnectivity(monitor)), zap.NewNop())
	monitor.OnReconnect(func() { runner.Trigger(ctx, "reconnect") })

	assert.True(t, monitor.Probe(ctx))
	require.Eventually(t, func() bool { return store.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSubmitterCanceledWriteDoesNotMarkOffline(t *testing.T) {
	store, _ := newQueuedStore(t)
	signal := &staticSignal{online: true}
	remote := &scriptedReconciler{failures: map[string]error{
		"s1": appErrors.Wrap(context.Canceled, appErrors.ErrNetwork.Code, appErrors.ErrNetwork.Status, "attendance server unreachable"),
	}}
	submitter := NewSubmitter(remote, store, signal, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := submitter.Submit(ctx, rowsFor("s1"), models.EnqueueOptions{})
	require.NoError(t, err)
	assert.True(t, resp.Queued)
	assert.Equal(t, 1, store.Count())
	assert.True(t, signal.online)
}

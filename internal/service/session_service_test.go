package service

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"repstream/workout-agent/internal/collector"
	"repstream/workout-agent/internal/database"
	"repstream/workout-agent/internal/link"
	"repstream/workout-agent/internal/models"
	"repstream/workout-agent/internal/network"
	"repstream/workout-agent/internal/queue"
	"repstream/workout-agent/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubUploader struct {
	mu   sync.Mutex
	jobs []models.UploadJob
}

func (u *stubUploader) UploadJob(ctx context.Context, job models.UploadJob) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.jobs = append(u.jobs, job)
	return nil
}

func (u *stubUploader) uploaded() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.jobs)
}

type serviceHarness struct {
	svc       *SessionService
	machine   *session.Machine
	monitor   *network.Monitor
	queue     *queue.UploadQueue
	uploader  *stubUploader
	reachable *atomic.Bool
	connects  *atomic.Int32
}

func newServiceHarness(t *testing.T) *serviceHarness {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "agent.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := &serviceHarness{
		reachable: &atomic.Bool{},
		connects:  &atomic.Int32{},
		uploader:  &stubUploader{},
	}
	h.reachable.Store(true)

	h.machine = session.NewMachine(zap.NewNop())
	h.monitor = network.NewMonitor(func(ctx context.Context) bool {
		return h.reachable.Load()
	}, time.Hour, zap.NewNop())
	h.queue = queue.New(db.DB, 10, zap.NewNop())

	h.svc = NewSessionService(
		h.machine,
		h.monitor,
		collector.NewSampleCollector(1000, time.Hour, zap.NewNop()),
		h.queue,
		h.uploader,
		func(ctx context.Context, d link.Device) error {
			h.connects.Add(1)
			return nil
		},
		&link.Device{ID: "dev-1", Name: "sensor"},
		20*time.Millisecond,
		time.Hour,
		2,
		zap.NewNop(),
	)
	t.Cleanup(h.svc.Stop)

	return h
}

func (h *serviceHarness) setOnline(online bool) {
	h.reachable.Store(online)
	h.monitor.CheckNow()
}

func rawPayload() json.RawMessage {
	return json.RawMessage(`{"reps":5}`)
}

func TestStartSessionOnlineGoesActive(t *testing.T) {
	h := newServiceHarness(t)

	id, err := h.svc.StartSession()
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, session.StateActive, h.machine.Current())

	_, err = h.svc.StartSession()
	assert.Error(t, err, "second session must be rejected")
}

func TestStartSessionOfflineGoesActiveOffline(t *testing.T) {
	h := newServiceHarness(t)
	h.setOnline(false)

	_, err := h.svc.StartSession()
	require.NoError(t, err)
	assert.Equal(t, session.StateActiveOffline, h.machine.Current())
}

func TestCleanReconnectScenario(t *testing.T) {
	h := newServiceHarness(t)

	_, err := h.svc.StartSession()
	require.NoError(t, err)
	require.Equal(t, session.StateActive, h.machine.Current())

	// link drops: paused, one reconnect attempt goes out
	h.svc.Watcher().HandleDisconnectSignal()
	assert.Equal(t, session.StateLinkDisconnectedPaused, h.machine.Current())

	assert.Eventually(t, func() bool {
		return h.connects.Load() >= 1
	}, time.Second, 5*time.Millisecond)

	// connectivity returns: countdown, then recording resumes
	h.svc.Watcher().SetConnected(true)
	assert.Equal(t, session.StateResumingCountdown, h.machine.Current())

	assert.Eventually(t, func() bool {
		return h.machine.Is(session.StateActive)
	}, time.Second, 5*time.Millisecond)
	assert.False(t, h.svc.Watcher().IsReconnecting())
}

func TestCancelDuringOfflineScenario(t *testing.T) {
	h := newServiceHarness(t)
	h.setOnline(false)

	sessionID, err := h.svc.StartSession()
	require.NoError(t, err)
	require.Equal(t, session.StateActiveOffline, h.machine.Current())

	_, err = h.svc.RecordRep(rawPayload())
	require.NoError(t, err)
	_, err = h.svc.CompleteSet(rawPayload())
	require.NoError(t, err)

	jobs, err := h.queue.SessionJobs(sessionID)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	require.True(t, h.svc.RequestCancel())
	assert.Equal(t, session.StateCancelConfirm, h.machine.Current())

	require.NoError(t, h.svc.ConfirmCancel())
	assert.Equal(t, session.StateIdle, h.machine.Current())

	jobs, err = h.queue.SessionJobs(sessionID)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestDismissCancelReturnsToInterruptedState(t *testing.T) {
	h := newServiceHarness(t)
	h.setOnline(false)

	_, err := h.svc.StartSession()
	require.NoError(t, err)

	require.True(t, h.svc.RequestCancel())
	require.True(t, h.svc.DismissCancel())
	assert.Equal(t, session.StateActiveOffline, h.machine.Current())
}

func TestCompleteSessionOfflineWaitsForInternet(t *testing.T) {
	h := newServiceHarness(t)
	h.setOnline(false)

	sessionID, err := h.svc.StartSession()
	require.NoError(t, err)
	_, err = h.svc.RecordRep(rawPayload())
	require.NoError(t, err)

	require.NoError(t, h.svc.CompleteSession(rawPayload()))
	assert.Equal(t, session.StateWaitingForInternet, h.machine.Current())

	// nothing uploaded yet
	assert.Equal(t, 0, h.uploader.uploaded())

	// network returns: the held session drains and closes out
	h.setOnline(true)
	h.svc.onNetworkOnline()

	assert.Eventually(t, func() bool {
		return h.machine.Is(session.StateIdle)
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, h.uploader.uploaded())

	jobs, err := h.queue.SessionJobs(sessionID)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestCompleteSessionOnlineClosesOut(t *testing.T) {
	h := newServiceHarness(t)

	_, err := h.svc.StartSession()
	require.NoError(t, err)
	_, err = h.svc.RecordRep(rawPayload())
	require.NoError(t, err)

	require.NoError(t, h.svc.CompleteSession(rawPayload()))
	assert.Equal(t, session.StateIdle, h.machine.Current())

	assert.Eventually(t, func() bool {
		return h.uploader.uploaded() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestNetworkLossKeepsRecording(t *testing.T) {
	h := newServiceHarness(t)

	_, err := h.svc.StartSession()
	require.NoError(t, err)

	h.setOnline(false)
	h.svc.onNetworkOffline()
	assert.Equal(t, session.StateActiveOffline, h.machine.Current())

	// recording continues uninterrupted while offline
	_, err = h.svc.RecordRep(rawPayload())
	assert.NoError(t, err)

	h.setOnline(true)
	h.svc.onNetworkOnline()
	assert.Equal(t, session.StateActive, h.machine.Current())
}

func TestRecordRepRejectedWhilePaused(t *testing.T) {
	h := newServiceHarness(t)

	_, err := h.svc.StartSession()
	require.NoError(t, err)

	h.svc.Watcher().HandleDisconnectSignal()
	require.Equal(t, session.StateLinkDisconnectedPaused, h.machine.Current())

	_, err = h.svc.RecordRep(rawPayload())
	assert.Error(t, err)
}

func TestSetNumbersAdvancePerSet(t *testing.T) {
	h := newServiceHarness(t)
	h.setOnline(false)

	sessionID, err := h.svc.StartSession()
	require.NoError(t, err)

	_, err = h.svc.RecordRep(rawPayload())
	require.NoError(t, err)
	_, err = h.svc.CompleteSet(rawPayload())
	require.NoError(t, err)
	_, err = h.svc.RecordRep(rawPayload())
	require.NoError(t, err)

	jobs, err := h.queue.SessionJobs(sessionID)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, 1, jobs[0].SetNumber)
	assert.Equal(t, 1, jobs[1].SetNumber)
	assert.Equal(t, 2, jobs[2].SetNumber)
	assert.Equal(t, models.JobTypeSet, jobs[1].JobType)
}
